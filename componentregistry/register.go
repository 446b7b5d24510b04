// Package componentregistry provides component registration for the
// streaming evaluation service.
package componentregistry

import (
	"errors"

	"github.com/jmrinaldi/atlas/component"
	pkgerrors "github.com/jmrinaldi/atlas/errors"
	"github.com/jmrinaldi/atlas/evaluator"
	"github.com/jmrinaldi/atlas/output/websocket"
)

// Register registers all built-in components with the provided registry:
//
//   - Evaluator processor (subscription-driven time series evaluation)
//   - WebSocket output (per-subscriber result streaming)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := evaluator.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "evaluator component registration")
	}

	if err := websocket.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "websocket output component registration")
	}

	return nil
}
