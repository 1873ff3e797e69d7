// Package cmd provides the CLI commands for edgeone-purge.
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/gmkits/edgeone-purge/internal/teo"
)

// version is overridden at build time with -ldflags "-X ...cmd.version=...".
var version = "0.1.0"

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "edgeone-purge",
		Short: "Purge Tencent Cloud EdgeOne caches",
		Long: `edgeone-purge creates EdgeOne CreatePurgeTask jobs signed with TC3-HMAC-SHA256.

It is meant to run as a GitHub Actions step after a deploy, and can skip the
purge when the same workflow already completed successfully within a
minimum interval.

Examples:
  edgeone-purge purge --zone-id zone-2o0i41pv2h8c --targets www.example.com
  edgeone-purge purge --type url --targets https://www.example.com/index.html
  edgeone-purge purge --min-interval-hours 1 --dry-run`,
		SilenceUsage: true,
	}

	// Subcommands inherit this, so malformed or unknown flags anywhere
	// exit with ExitConfigError.
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &teo.ConfigError{Field: "flags", Message: err.Error()}
	})

	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// configArgs reports positional argument errors as configuration errors.
func configArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &teo.ConfigError{Field: "arguments", Message: err.Error()}
		}
		return nil
	}
}

// Execute runs the CLI with args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *teo.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitFailure
}
