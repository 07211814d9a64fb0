package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txtx/runbook/internal/testutil"
)

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewChainAddon())

	impl, err := r.Action("chain::transfer")
	require.NoError(t, err)
	assert.True(t, impl.RequiresSignature())

	factory, err := r.SignerFactory("chain::key")
	require.NoError(t, err)
	assert.NotNil(t, factory())
}

func TestRegistry_NotFound(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewChainAddon())

	_, err := r.Action("chain::missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "chain::missing", nf.CommandType)
	assert.Equal(t, "action", nf.Want)

	_, err = r.SignerFactory("other::key")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "signer", nf.Want)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewChainAddon())
	assert.Panics(t, func() {
		r.Register(testutil.NewChainAddon())
	})
}

func TestRegistry_CommandTypes(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewChainAddon())
	types := r.CommandTypes()
	assert.Contains(t, types, "chain::transfer")
	assert.Contains(t, types, "chain::key")
	assert.IsNonDecreasing(t, types)
}
