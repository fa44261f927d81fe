package models

import "time"

// CurrentSchemaVersion is the document layout written by this service.
// Documents with a lower version are upgraded by Normalize at the store boundary.
const CurrentSchemaVersion = 1

type Trip struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schema_version"`

	TravelerID     string  `json:"traveler_id"`
	TravelerName   string  `json:"traveler_name"`
	TravelerPhoto  string  `json:"traveler_photo,omitempty"`
	TravelerRating float64 `json:"traveler_rating"`

	OriginCity         string     `json:"origin_city"`
	OriginCountry      string     `json:"origin_country"`
	DestinationCity    string     `json:"destination_city"`
	DestinationCountry string     `json:"destination_country"`
	DepartureDate      time.Time  `json:"departure_date"`
	ArrivalDate        *time.Time `json:"arrival_date,omitempty"`

	AvailableCapacityKg float64 `json:"available_capacity_kg"`
	// LegacyAvailableWeight is the v0 name of AvailableCapacityKg.
	LegacyAvailableWeight *float64 `json:"available_weight,omitempty"`
	PricePerKg            float64  `json:"price_per_kg"`

	Status       TripStatus `json:"status"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Request struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schema_version"`

	RequesterID     string  `json:"requester_id"`
	RequesterName   string  `json:"requester_name"`
	RequesterPhoto  string  `json:"requester_photo,omitempty"`
	RequesterRating float64 `json:"requester_rating"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`

	WeightKg float64 `json:"weight_kg"`
	// LegacyWeight is the v0 name of WeightKg.
	LegacyWeight *float64 `json:"weight,omitempty"`

	PickupCity      string     `json:"pickup_city"`
	PickupCountry   string     `json:"pickup_country"`
	DeliveryCity    string     `json:"delivery_city"`
	DeliveryCountry string     `json:"delivery_country"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	OfferedPrice    float64    `json:"offered_price"`

	Status       RequestStatus `json:"status"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Match pairs one Trip with one Request. Display fields are snapshotted
// from the trip and request when the match is proposed.
type Match struct {
	ID           string      `json:"id"`
	TripID       string      `json:"trip_id"`
	RequestID    string      `json:"request_id"`
	TravelerID   string      `json:"traveler_id"`
	RequesterID  string      `json:"requester_id"`
	Participants []string    `json:"participants"`
	Status       MatchStatus `json:"status"`

	TravelerName    string    `json:"traveler_name"`
	TravelerPhoto   string    `json:"traveler_photo,omitempty"`
	TravelerRating  float64   `json:"traveler_rating"`
	RequesterName   string    `json:"requester_name"`
	RequesterPhoto  string    `json:"requester_photo,omitempty"`
	RequesterRating float64   `json:"requester_rating"`
	ItemTitle       string    `json:"item_title"`
	Route           string    `json:"route"`
	AgreedPrice     float64   `json:"agreed_price"`
	TripDate        time.Time `json:"trip_date"`

	LastMessage         string     `json:"last_message,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastMessageSenderID string     `json:"last_message_sender_id,omitempty"`

	AcceptedBy   string     `json:"accepted_by,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	RejectedBy   string     `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	CompletedBy  string     `json:"completed_by,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether uid is one of the two match participants.
func (m Match) HasParticipant(uid string) bool {
	if uid == "" {
		return false
	}
	for _, p := range m.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not uid.
func (m Match) OtherParticipant(uid string) string {
	for _, p := range m.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

type Review struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"match_id"`
	ReviewerID string    `json:"reviewer_id"`
	RevieweeID string    `json:"reviewee_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// User holds the profile subset the engine maintains. Counters and the
// aggregate rating are never edited directly by the user.
type User struct {
	UID                 string    `json:"uid"`
	DisplayName         string    `json:"display_name"`
	PhotoURL            string    `json:"photo_url,omitempty"`
	Rating              float64   `json:"rating"`
	ReviewCount         int       `json:"review_count"`
	TripsCount          int       `json:"trips_count"`
	RequestsCount       int       `json:"requests_count"`
	CompletedDeliveries int       `json:"completed_deliveries"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

const (
	NotifyMatchCreated      = "match_created"
	NotifyMatchAccepted     = "match_accepted"
	NotifyMatchRejected     = "match_rejected"
	NotifyMatchUpdated      = "match_updated"
	NotifyMatchCancelled    = "match_cancelled"
	NotifyDeliveryCompleted = "delivery_completed"
	NotifyReviewReceived    = "review"
)
