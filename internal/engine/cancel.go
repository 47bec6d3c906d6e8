package engine

// CancelNode aborts a node's in-flight run. The node returns to idle, the
// external operation is asked to stop, and a late settlement is discarded.
// Returns false when the node has no run in flight.
func (e *Engine) CancelNode(nodeID string) bool {
	v, ok := e.running.Load(nodeID)
	if !ok {
		return false
	}
	v.(*run).cancel()
	return true
}

// CancelAll aborts every active session and every in-flight node run,
// including runs started individually outside a session. Best-effort and
// non-blocking: statuses revert as each run observes its cancelled context.
func (e *Engine) CancelAll() {
	for _, s := range e.sessions.Active() {
		e.sessions.Cancel(s.ID)
	}
	e.running.Range(func(_, v any) bool {
		v.(*run).cancel()
		return true
	})
}

// CancelSession aborts one run session. Its in-flight nodes stop through
// the session context; unstarted nodes keep their prior status. Returns
// false for unknown or already finished sessions.
func (e *Engine) CancelSession(sessionID string) bool {
	return e.sessions.Cancel(sessionID)
}
