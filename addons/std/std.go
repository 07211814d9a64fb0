// Package std is the standard addon: domain-neutral actions and signers
// available to every runbook under the "std" namespace.
package std

import "github.com/txtx/runbook/internal/runbook"

// Addon implements the registry.Addon interface for this package.
type Addon struct{}

// New creates the standard addon.
func New() *Addon {
	return &Addon{}
}

// Namespace returns the command type prefix for this addon.
func (a *Addon) Namespace() string { return "std" }

// Actions returns the addon's action implementations.
func (a *Addon) Actions() map[string]runbook.Action {
	return map[string]runbook.Action{
		"http_request": &httpRequestAction{},
		"print":        &printAction{},
	}
}

// Signers returns the addon's signer factories.
func (a *Addon) Signers() map[string]runbook.SignerFactory {
	return map[string]runbook.SignerFactory{
		"secret_key": func() runbook.Signer { return &secretKeySigner{} },
	}
}
