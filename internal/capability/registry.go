package capability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Module is the interface all capability modules implement to be wired into
// an application instance.
type Module interface {
	// Name identifies the module in logs.
	Name() string
	// Register installs the module's invokers.
	Register(r *Registry)
}

// Registry maps node types to the invokers that run them.
type Registry struct {
	mu       sync.RWMutex
	invokers map[workflow.NodeType]Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		invokers: make(map[workflow.NodeType]Invoker),
	}
}

// RegisterInvoker installs the invoker for a node type. Registering the same
// node type twice is a wiring bug and panics.
func (r *Registry) RegisterInvoker(t workflow.NodeType, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.invokers[t]; exists {
		panic(fmt.Sprintf("invoker for node type '%s' already registered", t))
	}
	slog.Debug("Registering invoker.", "nodeType", t)
	r.invokers[t] = inv
}

// Invoker returns the invoker registered for a node type.
func (r *Registry) Invoker(t workflow.NodeType) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[t]
	return inv, ok
}

// Use registers each module in order.
func (r *Registry) Use(modules ...Module) {
	for _, m := range modules {
		slog.Debug("Installing capability module.", "module", m.Name())
		m.Register(r)
	}
}
