// aistats finds, filters and ranks statistic and trend candidates for
// marketing content.
//
// Usage:
//
//	aistats candidates --mode statistics --keywords inflation
//	aistats debug --mode tech --keywords seo > run.json
//	aistats sources list --mode tech
//	aistats generate --mode trends --keywords ecommerce
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/aistats/internal/aistats/app"
	"github.com/RobinCoderZhao/aistats/internal/aistats/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
	jsonOut    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "aistats",
		Short:         "Statistic and trend candidates for marketing content",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./aistats.yaml or ~/.aistats.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(candidatesCmd(opts))
	rootCmd.AddCommand(debugCmd(opts))
	rootCmd.AddCommand(rescoreCmd(opts))
	rootCmd.AddCommand(expandCmd(opts))
	rootCmd.AddCommand(generateCmd(opts))
	rootCmd.AddCommand(sourcesCmd(opts))
	rootCmd.AddCommand(warmCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aistats %s\n", version)
		},
	}
}

// withApp loads config, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
