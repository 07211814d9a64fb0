package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
name: payments
runbooks:
  - name: deploy
    location: runbooks/deploy
    description: Deploy the contracts
  - name: rotate-keys
    location: runbooks/rotate.tx
environments:
  staging:
    rpc_url: https://staging.example
    chain_id: "11155111"
  production:
    rpc_url: https://mainnet.example
    chain_id: "1"
`

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "payments", m.Name)
	require.Len(t, m.Runbooks, 2)

	rb, err := m.Runbook("deploy")
	require.NoError(t, err)
	assert.Equal(t, "runbooks/deploy", rb.Location)

	_, err = m.Runbook("missing")
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		src  string
	}{
		{"empty", `name: x`},
		{"unnamed runbook", "runbooks:\n  - location: foo\n"},
		{"missing location", "runbooks:\n  - name: foo\n"},
		{"duplicate name", "runbooks:\n  - name: a\n    location: x\n  - name: a\n    location: y\n"},
		{"bad yaml", `{{{`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.src))
			assert.Error(t, err)
		})
	}
}

func TestEnvironment(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	env, err := m.Environment("staging")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example", env["rpc_url"].AsString())
	assert.Equal(t, "11155111", env["chain_id"].AsString())

	env, err = m.Environment("")
	require.NoError(t, err)
	assert.Empty(t, env)

	_, err = m.Environment("qa")
	assert.Error(t, err)
}

func TestLoad_ResolvesLocations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "runbooks.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)

	rb, err := m.Runbook("deploy")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "runbooks/deploy"), m.Location(rb))

	_, err = Load(filepath.Join(dir, "absent.yml"))
	assert.Error(t, err)
}
