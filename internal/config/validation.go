package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"axdispatch/internal/eventqueue"
	"axdispatch/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateNonNegative checks that a count is not negative
func ValidateNonNegative(field string, value int) error {
	if value < 0 {
		return ValidationError{Field: field, Value: value, Message: "must not be negative"}
	}
	return nil
}

// ValidateDuration checks that a duration is not negative
func ValidateDuration(field string, value time.Duration) error {
	if value < 0 {
		return ValidationError{Field: field, Value: value, Message: "must not be negative"}
	}
	return nil
}

// Validate checks every section and returns a ConfigurationErrorCollection
// listing all problems, or nil. filePath is only used for reporting.
func (c Config) Validate(filePath string) error {
	errs := NewConfigurationErrorCollection()
	add := func(category string, err error, suggestions ...string) {
		if err == nil {
			return
		}
		errs.Add(ConfigurationError{
			FilePath:    filePath,
			FileName:    filepath.Base(filePath),
			Category:    category,
			ErrorType:   "validation",
			Message:     err.Error(),
			Suggestions: suggestions,
		})
	}

	add("scheduler", ValidateOneOf("scheduler.mode", c.Scheduler.Mode,
		[]string{string(eventqueue.Async), string(eventqueue.Sync)}))

	if c.Queue.Capacity <= 0 {
		add("queue", ValidationError{Field: "queue.capacity", Value: c.Queue.Capacity, Message: "must be positive"},
			fmt.Sprintf("use the default of %d", DefaultQueueCapacity))
	}
	add("queue", ValidateOneOf("queue.overflow", c.Queue.Overflow,
		[]string{string(eventqueue.DropOldest), string(eventqueue.DropNewest), string(eventqueue.Block)}))
	add("queue", ValidateDuration("queue.blockTimeout", c.Queue.BlockTimeout))

	add("dispatch", ValidateNonNegative("dispatch.maxRetries", c.Dispatch.MaxRetries))
	add("dispatch", ValidateDuration("dispatch.retryWait", c.Dispatch.RetryWait))

	add("registry", ValidateDuration("registry.reconcileInterval", c.Registry.ReconcileInterval),
		"set 0 to disable periodic reconciliation")

	add("profiles", ValidateDuration("profiles.debounce", c.Profiles.Debounce))
	if c.Profiles.Watch && c.Profiles.Dir == "" {
		add("profiles", ValidationError{Field: "profiles.dir", Message: "is required when profiles.watch is enabled"})
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging", ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: err.Error()})
	}
	add("logging", ValidateOneOf("logging.format", c.Logging.Format,
		[]string{string(logging.FormatText), string(logging.FormatJSON)}))

	if errs.HasErrors() {
		return *errs
	}
	return nil
}
