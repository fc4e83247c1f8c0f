package history

import (
	"errors"
	"fmt"
	"slices"
)

// Status is the lifecycle state of a query run.
type Status string

const (
	StatusSubmitted Status = "Submitted"
	StatusScheduled Status = "Scheduled"
	StatusRunning   Status = "Running"
	StatusComplete  Status = "Complete"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimedOut  Status = "TimedOut"
)

// ErrInvalidTransition is returned for moves the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

var allStatuses = []Status{
	StatusSubmitted,
	StatusScheduled,
	StatusRunning,
	StatusComplete,
	StatusFailed,
	StatusCancelled,
	StatusTimedOut,
}

// transitions lists the allowed targets for every non-terminal status.
// Scheduled and Running may repeat so that refreshing a live run is a valid
// transition. Terminal statuses have no entry.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusScheduled, StatusRunning, StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusScheduled: {StatusScheduled, StatusRunning, StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusRunning, StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a stored status string.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(allStatuses, s)
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Transition validates a move and returns the new status.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// MustTransition is Transition for moves the caller has already decided are
// legal. An illegal move is a programming error and panics.
func MustTransition(from, to Status) Status {
	next, err := Transition(from, to)
	if err != nil {
		panic(err)
	}
	return next
}
