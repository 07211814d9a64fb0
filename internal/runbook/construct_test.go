package runbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructID_Roundtrip(t *testing.T) {
	t.Parallel()

	id := NewConstructID(KindAction, "deploy")
	assert.Equal(t, ConstructID("action.deploy"), id)
	assert.Equal(t, "deploy", id.Name())

	kind, ok := id.Kind()
	require.True(t, ok)
	assert.Equal(t, KindAction, kind)
}

func TestConstructID_InvalidKind(t *testing.T) {
	t.Parallel()

	_, ok := ConstructID("widget.deploy").Kind()
	assert.False(t, ok)

	_, ok = ConstructID("noseparator").Kind()
	assert.False(t, ok)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []ConstructKind{KindVariable, KindSigner, KindAction, KindOutput} {
		parsed, ok := ParseKind(kind.String())
		require.True(t, ok, "kind %s should parse", kind)
		assert.Equal(t, kind, parsed)
	}

	_, ok := ParseKind("step")
	assert.False(t, ok)
}

func TestNewConstruct_CanonicalAddress(t *testing.T) {
	t.Parallel()

	c := NewConstruct(KindSigner, "ops", "std::secret_key", nil, nil)
	assert.Equal(t, ConstructID("signer.ops"), c.ID)
	assert.Equal(t, "std::secret_key", c.CommandType)
	assert.NotNil(t, c.Inputs)
}
