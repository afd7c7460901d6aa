// Package cmd defines and implements the CLI commands for the langfilter executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errIncomplete marks a run in which at least one shard failed or was canceled.
// The per-shard lines have already been printed, so Execute only sets the exit code.
var errIncomplete = errors.New("run did not complete every shard")

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "langfilter",
		Short: "Filters Common Crawl WARC shards down to pages in one language.",
		Long: `langfilter downloads Common Crawl WARC shards, extracts the readable text of
every captured HTML response, identifies its language, and appends matching
pages as {"url","content"} JSON lines to one output file per batch of shards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newRunCmd())
	return cmd
}

// Execute is the main entry point. It exits non-zero when the command fails
// or any shard did not complete.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errIncomplete) {
			fmt.Fprintf(os.Stderr, "langfilter: %v\n", err)
		}
		os.Exit(1)
	}
}
