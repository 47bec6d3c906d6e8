package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/resolver"
)

var (
	// ErrNodeBusy is returned when a run is requested for a node that already
	// has an invocation in flight. The in-flight run is left untouched.
	ErrNodeBusy = errors.New("node already running")
	// ErrNoInvoker is returned when no capability module is registered for a
	// node's type.
	ErrNoInvoker = errors.New("no capability registered")
	// ErrEmptyRun is returned when a batch run would cover zero nodes.
	ErrEmptyRun = errors.New("no nodes to run")
)

// ValidationError aggregates the field-level problems that stopped a node
// from being invoked. The external capability is never called when one of
// these is raised.
type ValidationError struct {
	NodeID string
	Fields []resolver.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("node '%s' inputs invalid: %s", e.NodeID, strings.Join(msgs, "; "))
}
