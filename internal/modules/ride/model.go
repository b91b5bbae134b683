// README: Ride aggregate, lifecycle table and the shared compare-and-swap transition rule.
package ride

import (
	"errors"
	"strings"
	"time"

	"ridehail/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrValidation        = errors.New("pickup and destination are required")
	ErrNotFound          = errors.New("ride not found")
	ErrStaleState        = errors.New("ride status changed concurrently")
	ErrInvalidTransition = errors.New("invalid ride state transition")
)

type Ride struct {
	ID            types.ID   `json:"id"`
	RiderID       types.ID   `json:"riderId"`
	DriverID      *types.ID  `json:"driverId"`
	Pickup        string     `json:"pickup"`
	Destination   string     `json:"destination"`
	Status        Status     `json:"status"`
	StatusVersion int        `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	AcceptedAt    *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CancelReason  *string    `json:"cancelReason,omitempty"`
}

// AllowedTransitions is the ride lifecycle. Completed and cancelled are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Mutation edits a copy of the ride inside TryTransition.
type Mutation func(r *Ride)

func AssignDriver(driverID types.ID) Mutation {
	return func(r *Ride) {
		d := driverID
		r.DriverID = &d
		r.Status = StatusAccepted
	}
}

func MarkCompleted() Mutation {
	return func(r *Ride) {
		r.Status = StatusCompleted
	}
}

func MarkCancelled(reason string) Mutation {
	return func(r *Ride) {
		r.Status = StatusCancelled
		if reason != "" {
			r.CancelReason = &reason
		}
	}
}

func (r *Ride) Clone() *Ride {
	c := *r
	if r.DriverID != nil {
		d := *r.DriverID
		c.DriverID = &d
	}
	if r.CancelReason != nil {
		s := *r.CancelReason
		c.CancelReason = &s
	}
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func newRide(riderID types.ID, pickup, destination string, now time.Time) (*Ride, error) {
	pickup = strings.TrimSpace(pickup)
	destination = strings.TrimSpace(destination)
	if riderID == "" || pickup == "" || destination == "" {
		return nil, ErrValidation
	}
	return &Ride{
		ID:          types.NewID(),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
	}, nil
}

// applyTransition checks expected against cur and returns the mutated successor.
// Identity fields stay fixed and the driver is bound exactly once, on pending -> accepted.
func applyTransition(cur *Ride, expected Status, mutate Mutation, now time.Time) (*Ride, error) {
	if cur.Status != expected {
		return nil, ErrStaleState
	}
	next := cur.Clone()
	mutate(next)

	if next.ID != cur.ID || next.RiderID != cur.RiderID || next.Pickup != cur.Pickup ||
		next.Destination != cur.Destination || !next.CreatedAt.Equal(cur.CreatedAt) {
		return nil, ErrInvalidTransition
	}
	if !CanTransition(cur.Status, next.Status) {
		return nil, ErrInvalidTransition
	}
	switch {
	case cur.DriverID != nil:
		if next.DriverID == nil || *next.DriverID != *cur.DriverID {
			return nil, ErrInvalidTransition
		}
	case next.DriverID != nil:
		if next.Status != StatusAccepted || *next.DriverID == "" {
			return nil, ErrInvalidTransition
		}
	case next.Status == StatusAccepted:
		return nil, ErrInvalidTransition
	}

	next.StatusVersion = cur.StatusVersion + 1
	switch next.Status {
	case StatusAccepted:
		next.AcceptedAt = &now
	case StatusCompleted:
		next.CompletedAt = &now
	case StatusCancelled:
		next.CancelledAt = &now
	}
	return next, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
