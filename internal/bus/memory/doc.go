// Package memory provides an in-memory accessibility bus.
//
// The Bus keeps a small object tree (desktop, applications and their nodes),
// fans emitted events out to subscribed listeners and answers every
// NodeResolver call from the tree. It exists for two reasons: the replay and
// console commands drive a Session against a scenario file without a real
// desktop, and tests use it as the shared fake.
//
// Failure injection (FailNext, FailApplications) and per-field call counters
// make cache and retry behaviour observable:
//
//	b := memory.New(api.NilRef)
//	_ = b.AddApplication(app, "gedit", "GTK")
//	b.FailNext(app, api.FieldName, 1, nil)
//
// Scenarios are YAML documents; see Scenario for the format.
package memory
