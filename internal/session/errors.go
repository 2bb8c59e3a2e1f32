package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is wrapped by every StateError.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrNotAuthority reports a room operation reserved to the authority.
	ErrNotAuthority = errors.New("session: not the room authority")

	// ErrEmptyRoomID reports a join without a room id.
	ErrEmptyRoomID = errors.New("session: empty room id")
)

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
