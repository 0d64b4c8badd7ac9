// Package operations schedules and runs session operations. Each accepted
// operation runs in its own goroutine and reports through an *API handle.
package operations

import (
	"fmt"

	"conductor/core/errors"

	"github.com/google/uuid"
)

// Kind is the payload of an operation. Name is used for tracker stats,
// handler lookup and logging.
type Kind interface {
	Name() string
}

// Sleep waits Ms milliseconds or until cancelled.
type Sleep struct {
	Ms uint64
}

// ExternalLibCall loads the library at Path and calls its exported functions.
type ExternalLibCall struct {
	Path  string
	A, B  uint64
	Lines []string
}

// Cancel asks the tracker to cancel Target.
type Cancel struct {
	Target uuid.UUID
}

// End stops the dispatcher. It is never tracked or executed.
type End struct{}

const (
	SleepName           = "Sleeping"
	ExternalLibCallName = "ExternalLibCall"
	CancelName          = "Canceling"
	EndName             = "End"
)

func (Sleep) Name() string           { return SleepName }
func (ExternalLibCall) Name() string { return ExternalLibCallName }
func (Cancel) Name() string          { return CancelName }
func (End) Name() string             { return EndName }

// Operation is a single request submitted to a session.
type Operation struct {
	ID   uuid.UUID
	Kind Kind
}

// New builds an operation.
func New(id uuid.UUID, kind Kind) Operation {
	return Operation{ID: id, Kind: kind}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.Kind.Name(), o.ID)
}

// ParseID parses an operation id supplied by a caller.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.NewComputation(errors.Process, "Fail to parse operation uuid from %s. Error: %v", s, err)
	}
	return id, nil
}
