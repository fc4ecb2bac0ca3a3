package core

import (
	"errors"
	"fmt"
)

// Runtime error taxonomy. Evaluation itself never returns these for a
// single event except ErrStoreContention (and wrapped store backend errors);
// the rest are seen by producers and loaders.
var (
	// ErrDatasetUnavailable means a kind is not visible in the registry subset
	ErrDatasetUnavailable = errors.New("dataset unavailable")
	// ErrQueueFull is returned by lossy enqueues when the queue is at capacity
	ErrQueueFull = errors.New("dataset command queue full")
	// ErrQueueTimeout is returned by blocking enqueues that did not fit in time
	ErrQueueTimeout = errors.New("dataset command queue enqueue timeout")
	// ErrQueueClosed is returned after a handle has been closed
	ErrQueueClosed = errors.New("dataset command queue closed")
	// ErrStoreContention means a correlation family lock could not be acquired in time
	ErrStoreContention = errors.New("correlation store contention")
	// ErrDatasetTypeMismatch means a snapshot was requested with the wrong type
	ErrDatasetTypeMismatch = errors.New("dataset type mismatch")
)

// ConfigurationError reports a malformed rule or dataset definition found at
// load time. The affected rule or dataset is rejected; others still load.
type ConfigurationError struct {
	RuleID string
	Field  string
	Reason string
	Err    error
}

// Error implements error
func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.RuleID != "" {
		msg += fmt.Sprintf(" in rule %q", e.RuleID)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" at %s", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError
func NewConfigurationError(ruleID, field, reason string, err error) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Field: field, Reason: reason, Err: err}
}

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
