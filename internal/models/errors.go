package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfiguration is matched by every ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports malformed or missing configuration. It is fatal
// to the whole batch and is raised before any run starts.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

// NewConfigurationError builds a ConfigurationError for key.
func NewConfigurationError(key, message string) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message}
}

// WrapConfigurationError builds a ConfigurationError carrying an underlying cause.
func WrapConfigurationError(key, message string, err error) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message, Err: err}
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration")
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConfiguration) true for every ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// StageExecutionError wraps a failure raised by one stage of one run. It is
// isolated to that run and never propagates to sibling runs.
type StageExecutionError struct {
	Stage Stage
	Seed  int64
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed for seed %d: %v", e.Stage, e.Seed, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// TimeoutWarning reports that the batch wait ceiling elapsed while runs were
// still outstanding. It is non-fatal; the pending runs are left as they are.
type TimeoutWarning struct {
	Ceiling time.Duration
	Pending []int64
}

func (w *TimeoutWarning) Error() string {
	return fmt.Sprintf("batch timed out after %s with %d run(s) outstanding", w.Ceiling, len(w.Pending))
}
