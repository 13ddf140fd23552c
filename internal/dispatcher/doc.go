// Package dispatcher implements the queue consumer.
//
// For every item it:
//
//   - runs internal tasks inline;
//   - applies lifecycle invalidation to the node cache;
//   - stops for cache-only events;
//   - reconciles the registry when applications leave the desktop;
//   - routes the event to a handler and lets the selector react;
//   - delivers it if the handler is interested, retrying transient failures.
//
// Events are never re-queued. Failures are logged, counted and dropped.
package dispatcher
