// Package manifest loads the workspace manifest: the list of runbooks a
// workspace ships and the named environments whose values feed expressions
// as env.<name>.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is looked up when no manifest path is given.
const DefaultFilename = "runbooks.yml"

// RunbookRef names one runbook and where its files live, relative to the
// manifest.
type RunbookRef struct {
	Name        string `yaml:"name"`
	Location    string `yaml:"location"`
	Description string `yaml:"description,omitempty"`
}

// Manifest is the decoded workspace manifest.
type Manifest struct {
	Name         string                       `yaml:"name"`
	Runbooks     []RunbookRef                 `yaml:"runbooks"`
	Environments map[string]map[string]string `yaml:"environments,omitempty"`

	// dir is the manifest's directory, used to resolve runbook locations.
	dir string
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes manifest bytes. Locations resolve relative to the process
// working directory until the manifest is loaded from a file.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(m.Runbooks) == 0 {
		return nil, fmt.Errorf("manifest declares no runbooks")
	}
	seen := make(map[string]bool)
	for i, rb := range m.Runbooks {
		if rb.Name == "" {
			return nil, fmt.Errorf("runbook entry %d has no name", i)
		}
		if rb.Location == "" {
			return nil, fmt.Errorf("runbook %q has no location", rb.Name)
		}
		if seen[rb.Name] {
			return nil, fmt.Errorf("duplicate runbook name %q", rb.Name)
		}
		seen[rb.Name] = true
	}
	return &m, nil
}

// Runbook returns the named runbook reference.
func (m *Manifest) Runbook(name string) (RunbookRef, error) {
	for _, rb := range m.Runbooks {
		if rb.Name == name {
			return rb, nil
		}
	}
	return RunbookRef{}, fmt.Errorf("runbook %q is not in the manifest", name)
}

// Location resolves a runbook's files path relative to the manifest.
func (m *Manifest) Location(rb RunbookRef) string {
	if filepath.IsAbs(rb.Location) || m.dir == "" {
		return rb.Location
	}
	return filepath.Join(m.dir, rb.Location)
}

// Environment resolves a named environment into env.* values. The empty name
// selects no environment and yields no values; an unknown name is an error.
func (m *Manifest) Environment(name string) (map[string]cty.Value, error) {
	if name == "" {
		return map[string]cty.Value{}, nil
	}
	raw, ok := m.Environments[name]
	if !ok {
		names := make([]string, 0, len(m.Environments))
		for n := range m.Environments {
			names = append(names, n)
		}
		return nil, fmt.Errorf("environment %q is not defined (have %v)", name, names)
	}
	env := make(map[string]cty.Value, len(raw))
	for k, v := range raw {
		env[k] = cty.StringVal(v)
	}
	return env, nil
}
