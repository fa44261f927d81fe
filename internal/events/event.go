// Package events carries the domain events that drive matching, cascades
// and rating recomputation from the write that caused them.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TripCreated           Type = "trip.created"
	TripCancelled         Type = "trip.cancelled"
	TripCapacityIncreased Type = "trip.capacity_increased"
	RequestCreated        Type = "request.created"
	RequestCancelled      Type = "request.cancelled"
	ReviewCreated         Type = "review.created"
)

// Event references documents by id only. Handlers read the current state,
// so a redelivered event acts on fresh data.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	TripID    string    `json:"trip_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ReviewID  string    `json:"review_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, At: time.Now().UTC()}
}

// Key groups events about the same document onto one partition.
func (e Event) Key() string {
	switch {
	case e.TripID != "":
		return e.TripID
	case e.RequestID != "":
		return e.RequestID
	case e.UserID != "":
		return e.UserID
	}
	return e.ID
}
