package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/txtx/runbook/internal/engine"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/state"
	"github.com/txtx/runbook/internal/supervisor"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database        string
	RunID           string
	Workers         int
	AutoApprove     bool
	Rerun           []string
	ApprovalTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <runbook>",
		Short: "Execute a runbook",
		Long: `Execute a runbook to completion. The argument is either a runbook name
from the workspace manifest or a direct path to .tx files.

Progress persists in the state database; re-running with --run-id resumes a
previous run, skipping constructs that already completed.

Example:
  runbook run deploy --env staging --db ./state.db
  runbook run ./runbooks/deploy --auto-approve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunbook(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite state database (empty keeps state in memory)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "resume a previous run by its identifier")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of concurrent evaluation workers (0 for default)")
	cmd.Flags().BoolVar(&opts.AutoApprove, "auto-approve", false, "approve all signing requests without prompting")
	cmd.Flags().StringSliceVar(&opts.Rerun, "rerun", nil, "construct addresses to re-execute, with their dependents")
	cmd.Flags().DurationVar(&opts.ApprovalTimeout, "approval-timeout", 0, "deadline for each signing approval (0 waits forever)")

	return cmd
}

func runRunbook(opts *RunOptions, target string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	constructs, env, err := loadConstructs(ctx, opts.RootOptions, target)
	if err != nil {
		return err
	}

	store, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Error closing state store.", "error", closeErr)
		}
	}()

	var sup supervisor.Supervisor
	if opts.AutoApprove {
		sup = supervisor.NewAutoApprover()
	} else {
		hub := supervisor.NewHub(len(constructs))
		defer hub.Close()
		prompter := NewPrompter(hub, os.Stdin, os.Stderr)
		go prompter.Serve(ctx)
		sup = hub
	}

	eng := engine.New(newRegistry(), store, sup)

	rerun := make([]runbook.ConstructID, 0, len(opts.Rerun))
	for _, addr := range opts.Rerun {
		rerun = append(rerun, runbook.ConstructID(addr))
	}

	report, err := eng.Run(ctx, constructs, engine.Options{
		RunID:           opts.RunID,
		Env:             env,
		Workers:         opts.Workers,
		Rerun:           rerun,
		ApprovalTimeout: opts.ApprovalTimeout,
	})
	if report != nil {
		report.Write(os.Stdout)
	}
	if err != nil {
		return err
	}
	if !report.Successful() {
		return fmt.Errorf("run %s finished with failures", report.RunID)
	}
	return nil
}

func openStore(path string) (state.Store, error) {
	if path == "" {
		return state.NewMemory(), nil
	}
	return state.OpenSQLite(path)
}
