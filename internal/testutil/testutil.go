// Package testutil holds shared test helpers: a thread-safe log buffer, a
// scripted capability invoker, and graph fixture builders.
package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// AddNode inserts a node with a fixed id into the graph and returns it.
func AddNode(t *testing.T, g *graphstore.Store, id string, typ workflow.NodeType) *workflow.Node {
	t.Helper()
	n := workflow.NewNode(typ)
	n.ID = id
	require.NoError(t, g.AddNode(n))
	return n
}

// Connect wires a source node's output into a target handle.
func Connect(t *testing.T, g *graphstore.Store, sourceID, targetID, handle string) *workflow.Edge {
	t.Helper()
	e, err := g.Connect(sourceID, targetID, handle)
	require.NoError(t, err)
	return e
}
