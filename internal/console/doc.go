// Package console provides an interactive shell for driving a session
// against the in-memory bus. Commands inspect the engine (status, handlers,
// nodes, metrics, history) or drive it (emit, remove-app, reconcile,
// reload).
//
// Commands are registered in a Registry by name and alias; the REPL adds
// readline history and tab completion on top.
package console
