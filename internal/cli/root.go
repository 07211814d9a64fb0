// Package cli implements the runbook command line: loading workspaces,
// executing runbooks, and the terminal approval front-end.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Manifest    string
	Environment string
	LogLevel    string
	LogFormat   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "runbook",
		Short: "Declarative execution of operational runbooks",
		Long: `Runbook executes declarative automation: constructs declared in .tx files
are ordered by their data dependencies and driven through check, signing,
and execution phases, with progress persisted for resumption.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Manifest, "manifest", "m", "runbooks.yml", "path to the workspace manifest")
	cmd.PersistentFlags().StringVarP(&opts.Environment, "env", "e", "", "environment to resolve env.* inputs from")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "logging level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewLsCommand(opts))

	return cmd
}

func configureLogging(opts *RootOptions) error {
	var level slog.Level
	switch strings.ToLower(opts.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log-level %q: must be debug, info, warn, or error", opts.LogLevel)
	}

	var handler slog.Handler
	switch strings.ToLower(opts.LogFormat) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return fmt.Errorf("invalid log-format %q: must be text or json", opts.LogFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
