package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// StubSigner is a deterministic signer implementation for tests. Zero value
// activates and signs successfully.
type StubSigner struct {
	Public string

	// NotReady makes CheckActivability report Blocked.
	NotReady bool
	// ActivateErr fails Activate.
	ActivateErr error
	// SignErr fails Sign.
	SignErr error

	signCount atomic.Int32
}

func (s *StubSigner) CheckActivability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	if s.NotReady {
		return runbook.BlockedResult(runbook.Diag("", "signer unavailable", "stub configured as not ready")), nil
	}
	return runbook.ReadyResult(cty.NilVal), nil
}

func (s *StubSigner) Activate(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (cty.Value, error) {
	if s.ActivateErr != nil {
		return cty.NilVal, s.ActivateErr
	}
	public := s.Public
	if public == "" {
		public = "stub"
	}
	return cty.ObjectVal(map[string]cty.Value{
		"address": cty.StringVal("addr-" + public),
	}), nil
}

func (s *StubSigner) Sign(ctx context.Context, payload []byte, approval *runbook.Approval) (*runbook.Signature, error) {
	if s.SignErr != nil {
		return nil, s.SignErr
	}
	n := s.signCount.Add(1)
	return &runbook.Signature{
		Payload: payload,
		Bytes:   []byte(fmt.Sprintf("sig(%s,%s,%d)", s.Public, payload, n)),
	}, nil
}

// SignCount returns how many signatures the stub produced.
func (s *StubSigner) SignCount() int {
	return int(s.signCount.Load())
}
