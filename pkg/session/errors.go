package session

import (
	"errors"
	"fmt"
)

// Common errors returned by the session engine.
var (
	// ErrNotStarted is returned when the session has not been started yet.
	ErrNotStarted = errors.New("session: not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrNotIdle is returned when a keep/unfollow selection arrives while a
	// decision is already pending or committing.
	ErrNotIdle = errors.New("session: item not idle")

	// ErrNothingPending is returned when Confirm or Undo arrives with no
	// pending decision.
	ErrNothingPending = errors.New("session: no pending decision")

	// ErrNoCurrent is returned when an operation needs a current item and the
	// lookahead slot is empty.
	ErrNoCurrent = errors.New("session: no current item")
)

// RemoteUnfollowError reports that the remote unfollow call failed after the
// local decision was already recorded. The review workflow treats the local
// intent as authoritative, so this is a report, not a rollback.
type RemoteUnfollowError struct {
	AccountID string
	Err       error
}

// Error implements the error interface.
func (e *RemoteUnfollowError) Error() string {
	return fmt.Sprintf("remote unfollow of %s failed (decision recorded locally): %v", e.AccountID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteUnfollowError) Unwrap() error {
	return e.Err
}
