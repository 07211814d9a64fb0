// Package registry holds the Action and Signer implementations contributed
// by addons, keyed by namespaced command type ("namespace::name").
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/txtx/runbook/internal/runbook"
)

// Addon is the unit of registration: a domain package (one blockchain, or the
// standard library of commands) contributing actions and signer factories
// under a single namespace.
type Addon interface {
	Namespace() string
	Actions() map[string]runbook.Action
	Signers() map[string]runbook.SignerFactory
}

// NotFoundError reports a construct referencing a command type that no
// registered addon provides.
type NotFoundError struct {
	CommandType string
	Want        string // "action" or "signer"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no registered %s implementation for %q", e.Want, e.CommandType)
}

// Registry is the per-run lookup table of capability implementations.
type Registry struct {
	actions map[string]runbook.Action
	signers map[string]runbook.SignerFactory
}

// New creates an empty registry and registers the given addons. Duplicate
// command types are a programmer error and panic.
func New(addons ...Addon) *Registry {
	r := &Registry{
		actions: make(map[string]runbook.Action),
		signers: make(map[string]runbook.SignerFactory),
	}
	for _, a := range addons {
		r.Register(a)
	}
	return r
}

// Register adds one addon's contributions under its namespace.
func (r *Registry) Register(a Addon) {
	ns := a.Namespace()
	for name, impl := range a.Actions() {
		key := ns + "::" + name
		if _, exists := r.actions[key]; exists {
			panic(fmt.Sprintf("action %q already registered", key))
		}
		slog.Debug("Registering action implementation.", "command_type", key)
		r.actions[key] = impl
	}
	for name, factory := range a.Signers() {
		key := ns + "::" + name
		if _, exists := r.signers[key]; exists {
			panic(fmt.Sprintf("signer %q already registered", key))
		}
		slog.Debug("Registering signer implementation.", "command_type", key)
		r.signers[key] = factory
	}
}

// Action resolves an action implementation by command type.
func (r *Registry) Action(commandType string) (runbook.Action, error) {
	impl, ok := r.actions[commandType]
	if !ok {
		return nil, &NotFoundError{CommandType: commandType, Want: "action"}
	}
	return impl, nil
}

// SignerFactory resolves a signer factory by command type.
func (r *Registry) SignerFactory(commandType string) (runbook.SignerFactory, error) {
	factory, ok := r.signers[commandType]
	if !ok {
		return nil, &NotFoundError{CommandType: commandType, Want: "signer"}
	}
	return factory, nil
}

// CommandTypes returns every registered command type, sorted, for reporting.
func (r *Registry) CommandTypes() []string {
	keys := make([]string, 0, len(r.actions)+len(r.signers))
	for k := range r.actions {
		keys = append(keys, k)
	}
	for k := range r.signers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
