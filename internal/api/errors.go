package api

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfParent is reported when the Bus claims a node is its own parent.
	ErrSelfParent = errors.New("node is its own parent")

	// ErrNoHandler is returned when no handler could be resolved for an event.
	ErrNoHandler = errors.New("no handler available")

	// ErrQueueFull is returned when an event is rejected by the queue's
	// overflow policy.
	ErrQueueFull = errors.New("event queue full")

	// ErrQueueShutdown is returned when enqueueing after shutdown.
	ErrQueueShutdown = errors.New("event queue shut down")
)

// NodeUnavailableError reports that a remote field lookup failed. The node
// has been marked invalid by the time the caller sees this error.
type NodeUnavailableError struct {
	Ref   Ref
	Field Field
	Err   error
}

func (e *NodeUnavailableError) Error() string {
	return fmt.Sprintf("node %s unavailable resolving %s: %v", e.Ref, e.Field, e.Err)
}

func (e *NodeUnavailableError) Unwrap() error {
	return e.Err
}

// NewNodeUnavailableError wraps err for the given ref and field.
func NewNodeUnavailableError(ref Ref, field Field, err error) *NodeUnavailableError {
	return &NodeUnavailableError{Ref: ref, Field: field, Err: err}
}

// IsNodeUnavailable checks if err is or wraps a NodeUnavailableError.
func IsNodeUnavailable(err error) bool {
	var target *NodeUnavailableError
	return errors.As(err, &target)
}

// TransientDispatchError marks a handler failure caused by a remote object
// vanishing mid-call. The dispatcher retries these up to the handler's
// MaxRetries.
type TransientDispatchError struct {
	EventType string
	Err       error
}

func (e *TransientDispatchError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("transient dispatch failure: %v", e.Err)
	}
	return fmt.Sprintf("transient dispatch failure for %s: %v", e.EventType, e.Err)
}

func (e *TransientDispatchError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(eventType string, err error) *TransientDispatchError {
	return &TransientDispatchError{EventType: eventType, Err: err}
}

// IsTransient checks if err is or wraps a TransientDispatchError.
func IsTransient(err error) bool {
	var target *TransientDispatchError
	return errors.As(err, &target)
}

// HandlerConstructionError reports a failed handler constructor. It is
// always absorbed by the registry's resolution chain.
type HandlerConstructionError struct {
	App  Ref
	Step string
	Err  error
}

func (e *HandlerConstructionError) Error() string {
	return fmt.Sprintf("constructing %s handler for %s: %v", e.Step, e.App, e.Err)
}

func (e *HandlerConstructionError) Unwrap() error {
	return e.Err
}

// IsHandlerConstruction checks if err is or wraps a HandlerConstructionError.
func IsHandlerConstruction(err error) bool {
	var target *HandlerConstructionError
	return errors.As(err, &target)
}
