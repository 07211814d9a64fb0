package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/txtx/runbook/internal/manifest"
)

// NewLsCommand creates the ls command.
func NewLsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the runbooks and environments in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listWorkspace(rootOpts)
		},
	}
}

func listWorkspace(opts *RootOptions) error {
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "workspace: %s\n\n", m.Name)
	fmt.Fprintln(w, "RUNBOOK\tLOCATION\tDESCRIPTION")
	for _, rb := range m.Runbooks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rb.Name, rb.Location, rb.Description)
	}

	if len(m.Environments) > 0 {
		envs := make([]string, 0, len(m.Environments))
		for name := range m.Environments {
			envs = append(envs, name)
		}
		sort.Strings(envs)
		fmt.Fprintln(w, "\nENVIRONMENT\tINPUTS")
		for _, name := range envs {
			fmt.Fprintf(w, "%s\t%d\n", name, len(m.Environments[name]))
		}
	}
	return w.Flush()
}
