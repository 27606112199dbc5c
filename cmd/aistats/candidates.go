package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/aistats/internal/aistats/app"
	"github.com/RobinCoderZhao/aistats/internal/aistats/generator"
	"github.com/RobinCoderZhao/aistats/internal/aistats/pipeline"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/internal/aistats/warmer"
)

func addQueryFlags(cmd *cobra.Command, q *pipeline.Query) {
	cmd.Flags().StringVarP(&q.Mode, "mode", "m", "", "content mode, e.g. statistics or trends")
	cmd.Flags().StringSliceVarP(&q.Keywords, "keywords", "k", nil, "seed keywords")
	cmd.Flags().StringSliceVarP(&q.Tags, "tags", "t", nil, "only use sources carrying one of these tags")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", pipeline.DefaultLimit, "number of candidates to return")
	_ = cmd.MarkFlagRequired("mode")
}

func candidatesCmd(opts *rootOptions) *cobra.Command {
	var q pipeline.Query
	cmd := &cobra.Command{
		Use:     "candidates",
		Aliases: []string{"fetch"},
		Short:   "Fetch, filter and rank candidates for a mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				cands, err := a.Pipeline.FetchCandidates(ctx, q)
				if err != nil && cands == nil {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), cands)
				}
				renderCandidates(cmd, cands)
				return nil
			})
		},
	}
	addQueryFlags(cmd, &q)
	return cmd
}

func debugCmd(opts *rootOptions) *cobra.Command {
	var q pipeline.Query
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Run the pipeline and print every intermediate stage as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				run, err := a.Pipeline.FetchCandidatesDebug(ctx, q)
				if run == nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), run)
			})
		},
	}
	addQueryFlags(cmd, &q)
	return cmd
}

func rescoreCmd(opts *rootOptions) *cobra.Command {
	var (
		file     string
		keywords []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Re-run filtering and scoring over a saved debug run",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var run pipeline.Run
			if err := json.Unmarshal(data, &run); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if len(keywords) == 0 {
				keywords = run.ExpandedKeywords
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				replay := a.Pipeline.Rescore(run.AllCandidates, keywords, run.Mode, limit)
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), replay)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d filtered, %d ranked, %d returned\n", replay.FilteredCount, replay.RankedCount, replay.FinalCount)
				renderCandidates(cmd, replay.Final)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "debug run JSON written by `aistats debug`")
	cmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "override the run's expanded keywords")
	cmd.Flags().IntVarP(&limit, "limit", "n", pipeline.DefaultLimit, "number of candidates to return")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func expandCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <keyword>...",
		Short: "Expand seed keywords with the configured LLM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				exp := a.Expander.Expand(ctx, args)
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), exp)
				}
				for _, kw := range exp.Expanded {
					fmt.Fprintln(cmd.OutOrStdout(), kw)
				}
				if !exp.Success {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", exp.Error)
				}
				return nil
			})
		},
	}
}

func warmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Refetch every mode once and purge expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return warmer.New(a.Registry, a.Fetcher, a.Cache, a.Logger).RunOnce(ctx)
			})
		},
	}
}

func generateCmd(opts *rootOptions) *cobra.Command {
	var req generator.Request
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write marketing copy from the top candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				content, err := a.Generate(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), content)
				}
				fmt.Fprintln(cmd.OutOrStdout(), content.Text)
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%s/%s | tokens %d in / %d out | cost $%.4f | cached %v\n",
					content.Provider, content.Model, content.TokensIn, content.TokensOut, content.Cost, content.FromCache)
				if content.Warning != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", content.Warning)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&req.Mode, "mode", "m", "", "content mode")
	cmd.Flags().StringSliceVarP(&req.Keywords, "keywords", "k", nil, "focus keywords")
	cmd.Flags().StringSliceVarP(&req.Tags, "tags", "t", nil, "source tags")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", generator.DefaultLimit, "candidates placed in the prompt")
	cmd.Flags().StringVar(&req.ModuleID, "module", "", "cache the result under this content module id")
	cmd.Flags().IntVar(&req.Words, "words", 60, "approximate word budget")
	cmd.Flags().BoolVar(&req.Refresh, "refresh", false, "ignore cached content for --module")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

func renderCandidates(cmd *cobra.Command, cands []sources.Candidate) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Score", "Title", "Source", "Published"})
	for i, c := range cands {
		score := "-"
		if c.Score != nil {
			score = fmt.Sprintf("%.1f", *c.Score)
		}
		t.AppendRow(table.Row{i + 1, score, sources.Truncate(c.Title, 80), c.Source, published(c.PublishedAt)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d candidates", len(cands))})
	t.Render()
}

func published(s string) string {
	if ts, ok := sources.ParsePublished(s); ok {
		return ts.Format(time.DateOnly)
	}
	return s
}
