package std

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// secretKeySigner implements std::secret_key: an in-process ed25519 identity
// derived from a hex-encoded seed input. Approval of each signing request is
// still routed through the supervisor; only the key material lives here.
type secretKeySigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func (s *secretKeySigner) CheckActivability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	seed, err := decodeSeed(in)
	if err != nil {
		return runbook.BlockedResult(runbook.Diag("", "invalid secret key", "%v", err)), nil
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return runbook.ReadyResult(cty.ObjectVal(map[string]cty.Value{
		"public_key": cty.StringVal(hex.EncodeToString(pub)),
	})), nil
}

func (s *secretKeySigner) Activate(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (cty.Value, error) {
	seed, err := decodeSeed(in)
	if err != nil {
		return cty.NilVal, err
	}
	s.priv = ed25519.NewKeyFromSeed(seed)
	s.pub = s.priv.Public().(ed25519.PublicKey)
	return cty.ObjectVal(map[string]cty.Value{
		"public_key": cty.StringVal(hex.EncodeToString(s.pub)),
	}), nil
}

func (s *secretKeySigner) Sign(ctx context.Context, payload []byte, approval *runbook.Approval) (*runbook.Signature, error) {
	if s.priv == nil {
		return nil, fmt.Errorf("signer is not activated")
	}
	return &runbook.Signature{
		Payload: payload,
		Bytes:   ed25519.Sign(s.priv, payload),
	}, nil
}

func decodeSeed(in *runbook.Inputs) ([]byte, error) {
	raw, err := in.String("secret_key")
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("secret_key must be hex encoded: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("secret_key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}
