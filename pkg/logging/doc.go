// Package logging provides subsystem-tagged structured logging for axdispatch.
//
// The package wraps Go's standard slog package with a small, package-level
// API so that every component logs the same way without carrying a logger
// around.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Session %s started", id)
//	logging.Debug("NodeCache", "Resolved %s for %s", field, ref)
//	logging.Warn("EventQueue", "Queue full, dropping oldest item")
//	logging.Error("Dispatcher", err, "Dropping %s after %d attempts", ev.Type, n)
//
// JSON output can be selected with Init:
//
//	logging.Init(logging.Options{Level: logging.LevelDebug, Format: logging.FormatJSON})
//
// # Subsystems
//
// Every entry carries a "subsystem" attribute. The engine uses:
//
//   - NodeCache, EventQueue, Scheduler, Dispatcher
//   - Registry, Selector, Handler
//   - Session, Profiles, ConfigLoader, Bootstrap, Console
//
// Before Init is called, debug and info messages are discarded and warnings
// and errors go to the slog default logger.
package logging
