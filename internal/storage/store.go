// Package storage holds the document store contract and its Postgres and
// in-memory implementations. No business logic lives here.
package storage

import (
	"context"
	"time"

	"github.com/example/delivery-matching/internal/models"
)

// MaxBatch is the largest number of documents a single atomic batch write
// may touch.
const MaxBatch = 500

// Store is the full persistence contract. Consumers depend on the narrower
// interfaces they declare; both implementations satisfy all of them.
type Store interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, uid string) (models.User, error)
	// CountCreation bumps the owner's tripsCount or requestsCount for the
	// document once. Later calls for the same document return false.
	CountCreation(ctx context.Context, ref models.MatchRef, id string) (bool, error)
	SetUserRating(ctx context.Context, uid string, rating float64, count int) error

	CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error)
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	ActiveTripsTo(ctx context.Context, country string) ([]models.Trip, error)
	UpdateTripStatus(ctx context.Context, id string, from, to models.TripStatus, reason string, at time.Time) error
	UpdateTripCapacity(ctx context.Context, id string, kg float64, at time.Time) (models.Trip, error)

	CreateRequest(ctx context.Context, r models.Request) (models.Request, error)
	GetRequest(ctx context.Context, id string) (models.Request, error)
	ActiveRequestsTo(ctx context.Context, country string) ([]models.Request, error)
	UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus, reason string, at time.Time) error

	MatchExists(ctx context.Context, tripID, requestID string) (bool, error)
	InsertMatch(ctx context.Context, m models.Match) (models.Match, error)
	GetMatch(ctx context.Context, id string) (models.Match, error)
	ListMatches(ctx context.Context, f models.MatchFilter) ([]models.Match, error)
	TransitionMatch(ctx context.Context, tr models.Transition) (models.Match, error)
	CountMatches(ctx context.Context, f models.MatchFilter) (int, error)
	CancelPendingMatches(ctx context.Context, ref models.MatchRef, id, reason string, at time.Time, limit int) (int, error)

	InsertReview(ctx context.Context, r models.Review) (models.Review, error)
	RatingsFor(ctx context.Context, revieweeID string) ([]int, error)
	ListReviewsFor(ctx context.Context, revieweeID string, limit int) ([]models.Review, error)

	ExpireTrips(ctx context.Context, now time.Time, limit int) (int, error)
	ExpireRequests(ctx context.Context, now time.Time, limit int) (int, error)

	InsertNotification(ctx context.Context, n models.Notification) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxBatch {
		return MaxBatch
	}
	return limit
}
