// Package main provides the entry point for the dispatcher CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LumiOpen/translation-dispatcher/cmd/dispatcher/commands"
	"github.com/LumiOpen/translation-dispatcher/pkg/version"
)

// Exit codes: 0 clean completion, 1 fatal I/O or checkpoint
// inconsistency, 2 bad arguments.
const (
	exitFatal   = 1
	exitBadArgs = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Work dispatcher for line-oriented batch processing",
		Long: `Dispatcher hands out rows of a line-oriented input file to distributed
workers and persists their results so that output line i corresponds to
input line i. Progress is checkpointed; interrupted runs resume.

Commands:
  serve     Run the dispatcher server
  status    Query a running dispatcher server`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", commands.ErrBadArguments, err)
	})

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if errors.Is(err, commands.ErrBadArguments) {
			os.Exit(exitBadArgs)
		}

		os.Exit(exitFatal)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "dispatcher %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
