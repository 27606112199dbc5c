package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/aistats/internal/aistats/app"
	"github.com/RobinCoderZhao/aistats/internal/aistats/config"
	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/internal/api"
)

func sourcesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and edit the source registry",
	}
	cmd.AddCommand(sourcesListCmd(opts))
	cmd.AddCommand(sourcesAddCmd(opts))
	cmd.AddCommand(sourcesRemoveCmd(opts))
	cmd.AddCommand(sourcesImportCmd(opts))
	cmd.AddCommand(sourcesRefreshCmd(opts))
	cmd.AddCommand(sourcesHistoryCmd(opts))
	cmd.AddCommand(sourcesDiffCmd(opts))
	return cmd
}

func sourcesListCmd(opts *rootOptions) *cobra.Command {
	var (
		q       registry.Query
		srcType string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sources, optionally narrowed by mode, type or tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Type = sources.Type(srcType)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if q.Mode != "" && !a.Registry.HasMode(q.Mode) {
					return fmt.Errorf("%w: %q", registry.ErrUnknownMode, q.Mode)
				}
				found := a.Registry.Find(q)
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), found)
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Mode", "Type", "Kind", "Name", "URL", "Tags"})
				for _, s := range found {
					t.AppendRow(table.Row{s.Mode, s.Type, s.Kind, s.Name, s.URL, strings.Join(s.Tags, ", ")})
				}
				t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d sources", len(found)), "catalog " + a.Registry.Version()})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&q.Mode, "mode", "m", "", "mode")
	cmd.Flags().StringVar(&srcType, "type", "", "source type: feed, api or html")
	cmd.Flags().StringVar(&q.Tag, "tag", "", "tag")
	return cmd
}

func sourcesAddCmd(opts *rootOptions) *cobra.Command {
	var (
		mode, srcType, kind string
		params              []string
		src                 sources.Source
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a source to a mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			src.Type = sources.Type(srcType)
			src.Kind = sources.Kind(kind)
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("param %q is not key=value", p)
				}
				if src.Params == nil {
					src.Params = make(map[string]string)
				}
				src.Params[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Registry.AddSource(ctx, mode, src); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %q to %s (%d sources)\n", src.Name, mode, len(a.Registry.SourcesForMode(mode)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "mode")
	cmd.Flags().StringVar(&srcType, "type", "", "feed, api or html")
	cmd.Flags().StringVar(&kind, "kind", "", "adapter kind, defaults from type")
	cmd.Flags().StringVar(&src.Name, "name", "", "display name")
	cmd.Flags().StringVar(&src.URL, "url", "", "endpoint URL")
	cmd.Flags().StringSliceVar(&src.Tags, "tags", nil, "tags")
	cmd.Flags().StringVar(&src.UpdateCadence, "cadence", "", "update cadence, e.g. daily")
	cmd.Flags().StringSliceVar(&params, "param", nil, "adapter parameter key=value, repeatable")
	for _, f := range []string{"mode", "type", "name", "url"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func sourcesRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <mode> <index>",
		Short: "Remove the source at a zero-based index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Registry.RemoveSource(ctx, args[0], index); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s[%d]\n", args[0], index)
				return nil
			})
		},
	}
}

func sourcesImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Append sources from a spreadsheet (all rows or none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Registry.ImportXLSX(ctx, f)
				if report != nil {
					for _, e := range report.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "row %d: %s\n", e.Row, e.Error)
					}
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d sources\n", report.Added)
				return nil
			})
		},
	}
}

func sourcesRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Restore the built-in catalog and drop cached fetch results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Registry.Refresh(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "catalog %s restored\n", a.Registry.Version())
				return nil
			})
		},
	}
}

func sourcesHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored catalog snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				history, err := a.Store.History(ctx, limit)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"ID", "Version", "Sources", "Saved"})
				for _, h := range history {
					t.AppendRow(table.Row{h.ID, h.Version, h.SourceCount, h.SavedAt.Format(time.RFC3339)})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "snapshots to show")
	return cmd
}

func sourcesDiffCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from-id> [to-id]",
		Short: "Compare two catalog snapshots, or one snapshot with the live catalog",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("snapshot id %q: %w", a, err)
				}
				ids[i] = id
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				from, err := a.Store.Snapshot(ctx, ids[0])
				if err != nil {
					return err
				}
				to := a.Registry.Snapshot()
				if len(ids) == 2 {
					if to, err = a.Store.Snapshot(ctx, ids[1]); err != nil {
						return err
					}
				}
				d := registry.Diff(from, to)
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), d)
				}
				if d.HasChanges {
					fmt.Fprint(cmd.OutOrStdout(), d.Unified)
				}
				fmt.Fprintln(cmd.OutOrStdout(), d.Summary())
				return nil
			})
		},
	}
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject, role string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret is not set (AISTATS_JWT_SECRET)")
			}
			if ttl <= 0 {
				ttl = cfg.API.TokenTTL
			}
			tok, err := api.IssueToken([]byte(cfg.API.JWTSecret), subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&role, "role", api.RoleReader, "reader or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
