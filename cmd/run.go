package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JakeFAU/warc-langfilter/internal/app"
	"github.com/JakeFAU/warc-langfilter/internal/config"
)

// flagKeys maps run flags onto their config keys.
var flagKeys = map[string]string{
	"paths":      "input.paths_file",
	"offset":     "input.offset",
	"limit":      "input.limit",
	"batch-size": "pipeline.batch_size",
	"target":     "pipeline.target_label",
	"output-dir": "output.dir",
	"work-dir":   "work_dir",
	"serve":      "server.enabled",
}

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a list of WARC shards",
		Long: `Reads shard ids from the paths file, processes them in batches of
--batch-size concurrent shards, and prints one line per shard outcome.
SIGINT or SIGTERM stops the run after the current batch.`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}
	f := cmd.Flags()
	f.String("paths", "", "shard list, one id per line (plain or .gz)")
	f.Int("offset", 0, "skip this many shard ids from the start of the list")
	f.Int("limit", 0, "process at most this many shard ids (0 means all)")
	f.Int("batch-size", 0, "shards processed concurrently per batch")
	f.String("target", "", "language label to keep, e.g. vie_Latn")
	f.String("output-dir", "", "directory for batch output files")
	f.String("work-dir", "", "directory for downloaded shards")
	f.Bool("serve", false, "serve /metrics and /v1/progress while running")
	return cmd
}

func runCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}
	cfg, err := config.Load(cfgPath, flagOverrides(cmd.Flags()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	report, err := a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	if err != nil || report.HasFailures() {
		return errIncomplete
	}
	return nil
}

// flagOverrides returns config overrides for flags the user set explicitly.
func flagOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := map[string]any{}
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		overrides[key] = f.Value.String()
	})
	return overrides
}
