// Package runbook defines the construct model shared by every engine
// component: construct identities, lifecycle statuses, execution results,
// the error taxonomy, and the capability interfaces implemented by addons.
package runbook

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// ConstructKind distinguishes the four construct families of a runbook.
type ConstructKind int

const (
	KindVariable ConstructKind = iota
	KindSigner
	KindAction
	KindOutput
)

// String returns the lowercase kind label used in construct addresses.
func (k ConstructKind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindSigner:
		return "signer"
	case KindAction:
		return "action"
	case KindOutput:
		return "output"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind maps an address root label back to its kind.
func ParseKind(s string) (ConstructKind, bool) {
	switch s {
	case "variable":
		return KindVariable, true
	case "signer":
		return KindSigner, true
	case "action":
		return KindAction, true
	case "output":
		return KindOutput, true
	default:
		return 0, false
	}
}

// ConstructID is the stable address of a construct, of the form
// "<kind>.<name>" (e.g. "action.deploy"). It is unique within a runbook and
// stable across runs, which is what makes resume-from-state safe.
type ConstructID string

// NewConstructID builds the canonical address for a kind and name.
func NewConstructID(kind ConstructKind, name string) ConstructID {
	return ConstructID(kind.String() + "." + name)
}

// Kind returns the construct kind encoded in the address, if valid.
func (id ConstructID) Kind() (ConstructKind, bool) {
	root, _, ok := strings.Cut(string(id), ".")
	if !ok {
		return 0, false
	}
	return ParseKind(root)
}

// Name returns the construct name portion of the address.
func (id ConstructID) Name() string {
	_, name, _ := strings.Cut(string(id), ".")
	return name
}

func (id ConstructID) String() string { return string(id) }

// Construct is one named unit of a runbook as handed over by the parser
// front-end: a definition only, carrying no evaluation state. The engine owns
// constructs exclusively for the lifetime of a run.
type Construct struct {
	ID   ConstructID
	Kind ConstructKind
	Name string

	// CommandType is the namespaced implementation selector for actions and
	// signers (e.g. "evm::send_transaction"). Empty for variables and outputs.
	CommandType string

	// Inputs holds the construct's attribute expressions, unevaluated. They
	// may reference other constructs' outputs; those references become
	// implicit graph edges.
	Inputs map[string]hcl.Expression

	// DependsOn lists explicit dependency addresses ("action.deploy").
	DependsOn []string
}

// NewConstruct assembles a construct definition with its canonical address.
func NewConstruct(kind ConstructKind, name, commandType string, inputs map[string]hcl.Expression, dependsOn []string) *Construct {
	if inputs == nil {
		inputs = map[string]hcl.Expression{}
	}
	return &Construct{
		ID:          NewConstructID(kind, name),
		Kind:        kind,
		Name:        name,
		CommandType: commandType,
		Inputs:      inputs,
		DependsOn:   dependsOn,
	}
}
