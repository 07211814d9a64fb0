package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/txtx/runbook/addons/std"
	"github.com/txtx/runbook/internal/manifest"
	"github.com/txtx/runbook/internal/parse"
	"github.com/txtx/runbook/internal/registry"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// loadConstructs resolves a runbook by name through the manifest, or treats
// the argument as a direct path to runbook files, and returns the parsed
// constructs along with the selected environment's values.
func loadConstructs(ctx context.Context, opts *RootOptions, target string) ([]*runbook.Construct, map[string]cty.Value, error) {
	loader := parse.NewLoader()

	if _, err := os.Stat(target); err == nil {
		constructs, err := loader.Load(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		env, err := environmentValues(opts)
		if err != nil {
			return nil, nil, err
		}
		return constructs, env, nil
	}

	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, nil, err
	}
	ref, err := m.Runbook(target)
	if err != nil {
		return nil, nil, err
	}
	constructs, err := loader.Load(ctx, m.Location(ref))
	if err != nil {
		return nil, nil, err
	}
	env, err := m.Environment(opts.Environment)
	if err != nil {
		return nil, nil, err
	}
	return constructs, env, nil
}

// environmentValues resolves env.* values when the target bypassed the
// manifest. A selected environment still needs a loadable manifest.
func environmentValues(opts *RootOptions) (map[string]cty.Value, error) {
	if opts.Environment == "" {
		return map[string]cty.Value{}, nil
	}
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, fmt.Errorf("environment %q needs a manifest: %w", opts.Environment, err)
	}
	return m.Environment(opts.Environment)
}

// newRegistry assembles the addon registry available to the CLI.
func newRegistry() *registry.Registry {
	return registry.New(std.New())
}
