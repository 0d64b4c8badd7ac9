package events

import (
	"fmt"

	"conductor/core/errors"

	"github.com/google/uuid"
)

// Callback event types
const (
	SessionErrorEventType        = "session.error"
	OperationErrorEventType      = "operation.error"
	OperationStartedEventType    = "operation.started"
	OperationProcessingEventType = "operation.processing"
	OperationDoneEventType       = "operation.done"
	SessionDestroyedEventType    = "session.destroyed"
)

// CallbackEvent is an entry of the session event stream. Every variant
// reports a stable type identifier.
type CallbackEvent interface {
	EventType() string
	fmt.Stringer
}

// SessionError is triggered on an error in the scope of the session.
type SessionError struct {
	Error *errors.NativeError `json:"error"`
}

func (e SessionError) EventType() string { return SessionErrorEventType }
func (e SessionError) String() string    { return fmt.Sprintf("SessionError: %v", e.Error) }

// OperationError is triggered when an async operation fails.
type OperationError struct {
	UUID  uuid.UUID           `json:"uuid"`
	Error *errors.NativeError `json:"error"`
}

func (e OperationError) EventType() string { return OperationErrorEventType }
func (e OperationError) String() string {
	return fmt.Sprintf("OperationError: %s: %v", e.UUID, e.Error)
}

// OperationStarted is emitted once the operation task is spawned.
type OperationStarted struct {
	UUID uuid.UUID `json:"uuid"`
}

func (e OperationStarted) EventType() string { return OperationStartedEventType }
func (e OperationStarted) String() string    { return fmt.Sprintf("OperationStarted: %s", e.UUID) }

// OperationProcessing may be emitted any number of times while an operation
// works; whether it is emitted at all depends on the handler.
type OperationProcessing struct {
	UUID uuid.UUID `json:"uuid"`
}

func (e OperationProcessing) EventType() string { return OperationProcessingEventType }
func (e OperationProcessing) String() string {
	return fmt.Sprintf("OperationProcessing: %s", e.UUID)
}

// OperationDone carries the JSON encoded result of a finished operation.
type OperationDone struct {
	UUID   uuid.UUID `json:"uuid"`
	Result *string   `json:"result"`
}

func (e OperationDone) EventType() string { return OperationDoneEventType }
func (e OperationDone) String() string    { return fmt.Sprintf("OperationDone: %s", e.UUID) }

// SessionDestroyed is emitted exactly once, as the last event of a session.
type SessionDestroyed struct{}

func (e SessionDestroyed) EventType() string { return SessionDestroyedEventType }
func (e SessionDestroyed) String() string    { return "SessionDestroyed" }

// OperationID returns the operation an event refers to, if any.
func OperationID(ev CallbackEvent) (uuid.UUID, bool) {
	switch e := ev.(type) {
	case OperationError:
		return e.UUID, true
	case OperationStarted:
		return e.UUID, true
	case OperationProcessing:
		return e.UUID, true
	case OperationDone:
		return e.UUID, true
	default:
		return uuid.Nil, false
	}
}

// IsTerminal reports whether ev ends the life of its operation.
func IsTerminal(ev CallbackEvent) bool {
	switch ev.(type) {
	case OperationDone, OperationError:
		return true
	default:
		return false
	}
}
