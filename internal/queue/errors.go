package queue

import "errors"

var (
	// ErrValidation rejects malformed input (empty init list, bad schedule fields).
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate rejects adding a handle that is already enrolled.
	ErrDuplicate = errors.New("already in the queue")
	// ErrNotFound rejects removing a handle that is not enrolled.
	ErrNotFound = errors.New("not in the queue")
	// ErrNoReminder rejects /skip when the caller holds no active reminder.
	ErrNoReminder = errors.New("no active reminder")
)

// History action tags (append-only audit trail).
const (
	ActionJoined     = "joined"
	ActionLeft       = "left"
	ActionReminded   = "reminded"
	ActionSkipped    = "skipped"
	ActionAutoPopped = "auto_popped"
	ActionNoReview   = "no_review"
)
