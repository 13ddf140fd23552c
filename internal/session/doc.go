// Package session wires the engine together. A Session owns the node
// cache, focus tracker, active-handler selector, handler registry,
// dispatcher and event queue of one client, and manages their lifecycle:
//
//	s, err := session.New(session.Options{Bus: bus, Config: cfg})
//	if err != nil { ... }
//	if err := s.Init(ctx); err != nil { ... }
//	defer s.Shutdown()
//
// Profile files are watched when configured, and changes are reapplied to
// live handlers on the consumer path.
package session
