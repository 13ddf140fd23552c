// Package app provides application bootstrap and lifecycle management for
// axdispatch.
//
// # Architecture Overview
//
//  1. **Configuration (`config.go`)**: runtime settings taken from the
//     command line (debug, config path, scenario, run mode)
//  2. **Bootstrap (`bootstrap.go`)**: logging, config.yaml loading, scenario
//     loading and session construction
//  3. **Modes (`modes.go`)**: the replay and console run modes plus signal
//     handling
//
// # Bootstrap Sequence
//
//  1. Logging is initialised for CLI output at info level, or debug with
//     --debug
//  2. config.yaml is loaded from --config-path or ~/.config/axdispatch; a
//     missing file yields the defaults
//  3. Logging is reconfigured from the logging section
//  4. The scenario is parsed and built into an in-memory bus
//  5. A session is created; nothing runs until Run
//
// # Run Modes
//
// **Replay** plays every scenario event, waits for the queue to drain and
// prints handler, session, dispatch and presentation tables.
//
// **Console** opens an interactive shell on the scenario's tree, see
// package console.
//
// Both modes stop on SIGINT or SIGTERM; the session is always shut down
// before Run returns.
package app
