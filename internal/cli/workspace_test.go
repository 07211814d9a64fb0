package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	manifestPath := filepath.Join(dir, "runbooks.yml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
name: payments
runbooks:
  - name: deploy
    location: deploy.tx
    description: Deploy the contracts
environments:
  staging:
    network: testnet
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.tx"), []byte(`
variable "amount" {
  value = 100
}

output "double" {
  value = variable.amount * 2
}
`), 0o644))

	return dir
}

func TestLoadConstructs_ByManifestName(t *testing.T) {
	t.Parallel()

	dir := writeWorkspace(t)
	opts := &RootOptions{Manifest: filepath.Join(dir, "runbooks.yml"), Environment: "staging"}

	constructs, env, err := loadConstructs(context.Background(), opts, "deploy")
	require.NoError(t, err)
	assert.Len(t, constructs, 2)
	assert.Equal(t, "testnet", env["network"].AsString())
}

func TestLoadConstructs_ByDirectPath(t *testing.T) {
	t.Parallel()

	dir := writeWorkspace(t)
	opts := &RootOptions{Manifest: filepath.Join(dir, "runbooks.yml")}

	constructs, env, err := loadConstructs(context.Background(), opts, filepath.Join(dir, "deploy.tx"))
	require.NoError(t, err)
	assert.Len(t, constructs, 2)
	assert.Empty(t, env)
}

func TestLoadConstructs_DirectPathWithEnvironment(t *testing.T) {
	t.Parallel()

	dir := writeWorkspace(t)
	opts := &RootOptions{Manifest: filepath.Join(dir, "runbooks.yml"), Environment: "staging"}

	_, env, err := loadConstructs(context.Background(), opts, filepath.Join(dir, "deploy.tx"))
	require.NoError(t, err)
	assert.Equal(t, "testnet", env["network"].AsString())
}

func TestLoadConstructs_UnknownRunbook(t *testing.T) {
	t.Parallel()

	dir := writeWorkspace(t)
	opts := &RootOptions{Manifest: filepath.Join(dir, "runbooks.yml")}

	_, _, err := loadConstructs(context.Background(), opts, "missing")
	assert.ErrorContains(t, err, "missing")
}

func TestNewRegistry_HasStandardAddon(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	_, err := reg.Action("std::print")
	assert.NoError(t, err)
}
