package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateParticipant - the same player was listed more than once in a run
	ErrDuplicateParticipant = errors.New("a run can't have a single player added to it more than once")
	// ErrNonPositivePoints - a run must be worth at least one point
	ErrNonPositivePoints = errors.New("a run can't have 0 or less points")
	// ErrRunNotFound - the run was already removed or never existed
	ErrRunNotFound = errors.New("run not found")
	// ErrPlayerNotFound - the player has never taken part in a run
	ErrPlayerNotFound = errors.New("player not found")
	// ErrInvariantViolation - persisted state contradicts the ledger rules, e.g. a run without players
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// StorageError wraps a failed store operation. The cause is meant for logs, not for users.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
