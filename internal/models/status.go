package models

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
	TripExpired   TripStatus = "expired"
)

type RequestStatus string

const (
	RequestActive    RequestStatus = "active"
	RequestMatched   RequestStatus = "matched"
	RequestInTransit RequestStatus = "in_transit"
	RequestDelivered RequestStatus = "delivered"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchAccepted  MatchStatus = "accepted"
	MatchConfirmed MatchStatus = "confirmed"
	MatchPickedUp  MatchStatus = "picked_up"
	MatchInTransit MatchStatus = "in_transit"
	MatchDelivered MatchStatus = "delivered"
	MatchCompleted MatchStatus = "completed"
	MatchRejected  MatchStatus = "rejected"
	MatchCancelled MatchStatus = "cancelled"
	MatchExpired   MatchStatus = "expired"
)

// EngagedStatuses is the open ladder between acceptance and completion.
// Any of them may move to completed or cancelled.
var EngagedStatuses = []MatchStatus{
	MatchAccepted,
	MatchConfirmed,
	MatchPickedUp,
	MatchInTransit,
	MatchDelivered,
}

// ladderRank orders the engaged statuses; moves along the ladder only go up.
var ladderRank = map[MatchStatus]int{
	MatchAccepted:  1,
	MatchConfirmed: 2,
	MatchPickedUp:  3,
	MatchInTransit: 4,
	MatchDelivered: 5,
}

// Valid reports whether s is a known match status.
func (s MatchStatus) Valid() bool {
	return s == MatchPending || s.Engaged() || s.Terminal()
}

func (s MatchStatus) Terminal() bool {
	switch s {
	case MatchCompleted, MatchRejected, MatchCancelled, MatchExpired:
		return true
	}
	return false
}

func (s MatchStatus) Engaged() bool {
	_, ok := ladderRank[s]
	return ok
}

// LadderBelow returns the engaged statuses strictly below to, or nil if to
// is not a ladder step past accepted.
func LadderBelow(to MatchStatus) []MatchStatus {
	rank, ok := ladderRank[to]
	if !ok || to == MatchAccepted {
		return nil
	}
	out := make([]MatchStatus, 0, rank-1)
	for _, s := range EngagedStatuses {
		if ladderRank[s] < rank {
			out = append(out, s)
		}
	}
	return out
}

// RequestStatusFor is the request status that mirrors a ladder step, or ""
// when the step does not move the request.
func RequestStatusFor(s MatchStatus) RequestStatus {
	switch s {
	case MatchAccepted:
		return RequestMatched
	case MatchPickedUp, MatchInTransit:
		return RequestInTransit
	case MatchDelivered:
		return RequestDelivered
	case MatchCompleted:
		return RequestCompleted
	}
	return ""
}

func StatusStrings[S ~string](ss []S) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
