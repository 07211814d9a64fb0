package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txtx/runbook/internal/runbook"
)

const sampleRunbook = `
variable "amount" {
  value = 100
}

signer "ops" "std::secret_key" {
  secret_key = "aa"
}

action "transfer" "chain::transfer" {
  amount = variable.amount
  signer = signer.ops
}

output "receipt" {
  value = action.transfer.tx_hash
}
`

func TestParseSource_AllConstructKinds(t *testing.T) {
	t.Parallel()

	constructs, err := NewLoader().ParseSource([]byte(sampleRunbook), "sample.tx")
	require.NoError(t, err)
	require.Len(t, constructs, 4)

	byID := make(map[runbook.ConstructID]*runbook.Construct)
	for _, c := range constructs {
		byID[c.ID] = c
	}

	v := byID["variable.amount"]
	require.NotNil(t, v)
	assert.Equal(t, runbook.KindVariable, v.Kind)
	assert.Contains(t, v.Inputs, "value")

	s := byID["signer.ops"]
	require.NotNil(t, s)
	assert.Equal(t, "std::secret_key", s.CommandType)

	a := byID["action.transfer"]
	require.NotNil(t, a)
	assert.Equal(t, "chain::transfer", a.CommandType)
	assert.Contains(t, a.Inputs, "amount")
	assert.Contains(t, a.Inputs, "signer")

	o := byID["output.receipt"]
	require.NotNil(t, o)
	assert.Equal(t, runbook.KindOutput, o.Kind)
}

func TestParseSource_DependsOn(t *testing.T) {
	t.Parallel()

	src := `
action "first" "chain::deploy" {
}

action "second" "chain::deploy" {
  depends_on = [action.first]
}

action "third" "chain::deploy" {
  depends_on = ["action.second"]
}
`
	constructs, err := NewLoader().ParseSource([]byte(src), "deps.tx")
	require.NoError(t, err)
	require.Len(t, constructs, 3)

	byID := make(map[runbook.ConstructID]*runbook.Construct)
	for _, c := range constructs {
		byID[c.ID] = c
	}

	assert.Equal(t, []string{"action.first"}, byID["action.second"].DependsOn)
	assert.Equal(t, []string{"action.second"}, byID["action.third"].DependsOn)
	// depends_on is lifted out of the input expressions.
	assert.NotContains(t, byID["action.second"].Inputs, "depends_on")
}

func TestParseSource_InvalidDependsOn(t *testing.T) {
	t.Parallel()

	src := `
action "a" "chain::deploy" {
  depends_on = [42]
}
`
	_, err := NewLoader().ParseSource([]byte(src), "bad.tx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends_on")
}

func TestParseSource_InvalidHCL(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().ParseSource([]byte(`variable "x" {`), "broken.tx")
	require.Error(t, err)
}

func TestLoad_DirectoryAndDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.tx"), `variable "a" { value = 1 }`)
	writeFile(t, filepath.Join(dir, "two.tx"), `variable "b" { value = variable.a }`)
	writeFile(t, filepath.Join(dir, "ignored.txt"), `not hcl at all`)

	constructs, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, constructs, 2)

	writeFile(t, filepath.Join(dir, "three.tx"), `variable "a" { value = 3 }`)
	_, err = NewLoader().Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate construct variable.a")
}

func TestLoad_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
