package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/txtx/runbook/internal/engine"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Workers int
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <runbook>",
		Short: "Probe a runbook's feasibility without executing it",
		Long: `Run every construct's feasibility probe in dependency order. Nothing is
executed or signed; actions and signers report whether they could proceed.

Example:
  runbook check deploy --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkRunbook(opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of concurrent evaluation workers (0 for default)")

	return cmd
}

func checkRunbook(opts *CheckOptions, target string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	constructs, env, err := loadConstructs(ctx, opts.RootOptions, target)
	if err != nil {
		return err
	}

	eng := engine.New(newRegistry(), nil, nil)
	report, err := eng.Check(ctx, constructs, engine.Options{Env: env, Workers: opts.Workers})
	if report != nil {
		report.Write(os.Stdout)
	}
	if err != nil {
		return err
	}
	if !report.Successful() {
		return fmt.Errorf("feasibility check found blocking problems")
	}
	return nil
}
