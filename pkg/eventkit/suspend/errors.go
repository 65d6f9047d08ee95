package suspend

import (
	"fmt"
	"time"
)

// TimeoutError indicates no matching response arrived in time.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("suspension %s timed out after %s", e.CorrelationID, e.Timeout)
}

// CancelledError indicates the suspension was cancelled before a
// response arrived.
type CancelledError struct {
	CorrelationID string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("suspension %s was cancelled", e.CorrelationID)
}

// AlreadyPendingError indicates a SuspendForResponse call reused a
// correlation id that is still in flight.
type AlreadyPendingError struct {
	CorrelationID string
}

// Error implements the error interface.
func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("suspension already pending for correlation id %s", e.CorrelationID)
}

// ConfigError indicates the manager or a suspension was misconfigured.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("suspend: %s", e.Reason)
}
