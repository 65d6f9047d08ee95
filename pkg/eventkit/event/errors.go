package event

import "fmt"

// UnknownTypeError indicates an event type with no registered deserializer.
// Loading a stored event of such a type is a hard failure, not a skip.
type UnknownTypeError struct {
	EventType string
}

// Error implements the error interface.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no deserializer registered for event type %q", e.EventType)
}
