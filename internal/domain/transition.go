package domain

import "fmt"

// statusRank orders statuses; an incident may only move to an equal or higher rank.
var statusRank = map[Status]int{
	StatusPending:  0,
	StatusActive:   1,
	StatusResolved: 2,
}

// CheckTransition validates a status change. Moving to the same status is
// allowed and is a no-op for callers.
func CheckTransition(from, to Status) error {
	fromRank, ok := statusRank[from]
	if !ok {
		return &ValidationError{Field: "status", Reason: "unknown current status " + quote(string(from))}
	}
	toRank, ok := statusRank[to]
	if !ok {
		return &ValidationError{Field: "status", Reason: "unknown status " + quote(string(to))}
	}
	if toRank < fromRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
