package models

import "time"

// Transition is a conditional match status change. It is applied only when
// the match's current status is in From, and every side effect below is
// written in the same atomic unit as the status change.
type Transition struct {
	MatchID string
	From    []MatchStatus
	To      MatchStatus
	Actor   string
	At      time.Time

	// RequestStatus, when set, is written to the linked request.
	RequestStatus RequestStatus
	// RequestFrom, when set with RequestStatus, requires the linked request
	// to be in one of these statuses; otherwise the whole transition fails
	// with ErrInvalidState.
	RequestFrom []RequestStatus
	// CompleteDelivery increments completedDeliveries for both participants.
	CompleteDelivery bool
	CancelReason     string
	// PaymentIntentID, when set, is recorded on the match.
	PaymentIntentID string
}

// MatchRef names which side of a match a document is: the trip or the
// request. Cascades filter matches on it.
type MatchRef string

const (
	RefTrip    MatchRef = "trip"
	RefRequest MatchRef = "request"
)

type MatchFilter struct {
	ParticipantID string
	TripID        string
	RequestID     string
	Statuses      []MatchStatus
	Limit         int
}
