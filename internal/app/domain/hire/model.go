// Package hire models a service engagement between a customer and a business.
package hire

import (
	"errors"
	"time"
)

// Status is the hire lifecycle state. The transition table is closed:
// pending -> confirmed, pending -> cancelled, confirmed -> completed.
// completed and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned for any status change outside the table.
var ErrInvalidTransition = errors.New("hire: invalid status transition")

// ErrUnknownStatus is returned when a requested status is not a hire status.
var ErrUnknownStatus = errors.New("hire: unknown status")

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return Status(raw), nil
	}
	return "", ErrUnknownStatus
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Hire is one engagement request. It references, but does not own, the
// business and the customer profile. ScoreApplied records that the completion
// side effects landed on the business; a replayed completion event checks it
// before touching the score again.
type Hire struct {
	ID              string
	BusinessID      string
	CustomerEmail   string
	CustomerName    string
	ServiceCategory string
	Notes           string
	Status          Status
	HireDate        time.Time
	ScoreApplied    bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
