package engine

import (
	"fmt"
	"time"
)

// Status is the time-derived lifecycle state of a booking. It is never
// persisted; every consumer calls DeriveStatus.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// DeriveStatus computes the status of b at now.
//
//	cancelled    CancelledAt is set
//	scheduled    now < Start
//	in_progress  Start <= now <= End
//	completed    now > End
func DeriveStatus(b Booking, now time.Time) Status {
	switch {
	case b.IsCancelled():
		return StatusCancelled
	case now.Before(b.Start):
		return StatusScheduled
	case now.After(b.End):
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

func statusIn(st Status, set []Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}
