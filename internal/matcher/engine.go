// Package matcher scores trip/request pairs and turns the best candidates
// into pending match proposals.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/normalize"
	"github.com/example/delivery-matching/internal/observability"
)

const defaultTopN = 5

// Store is the slice of the document store the engine reads and writes.
type Store interface {
	ActiveTripsTo(ctx context.Context, country string) ([]models.Trip, error)
	ActiveRequestsTo(ctx context.Context, country string) ([]models.Request, error)
	MatchExists(ctx context.Context, tripID, requestID string) (bool, error)
	// InsertMatch must reject a second match for the same (trip, request)
	// pair with models.ErrAlreadyExists.
	InsertMatch(ctx context.Context, m models.Match) (models.Match, error)
	// CountCreation must count each document at most once, however often
	// it is called.
	CountCreation(ctx context.Context, ref models.MatchRef, id string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

// Engine proposes matches for newly posted trips and requests. It holds no
// mutable state; all coordination goes through Store.
type Engine struct {
	Store    Store
	Notifier Notifier
	Logger   *slog.Logger
	TopN     int
	MinScore int
	Now      func() time.Time
}

type scoredTrip struct {
	trip  models.Trip
	score int
}

type scoredRequest struct {
	req   models.Request
	score int
}

// OnNewRequest bumps the requester's requestsCount and proposes matches
// against active trips. It returns the matches it created. Calling it again
// for the same request, as a retried event does, re-runs matching only.
func (e *Engine) OnNewRequest(ctx context.Context, req models.Request) ([]models.Match, error) {
	counted, err := e.Store.CountCreation(ctx, models.RefRequest, req.ID)
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.OnNewRequest: %w", err)
	}
	if !counted {
		e.logger().Debug("request already counted", "request_id", req.ID)
	}
	return e.MatchRequest(ctx, req)
}

// OnNewTrip bumps the traveler's tripsCount and proposes matches against
// active requests.
func (e *Engine) OnNewTrip(ctx context.Context, trip models.Trip) ([]models.Match, error) {
	counted, err := e.Store.CountCreation(ctx, models.RefTrip, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.OnNewTrip: %w", err)
	}
	if !counted {
		e.logger().Debug("trip already counted", "trip_id", trip.ID)
	}
	return e.MatchTrip(ctx, trip)
}

// MatchRequest finds compatible active trips for req and creates up to TopN
// pending matches, best score first.
func (e *Engine) MatchRequest(ctx context.Context, req models.Request) ([]models.Match, error) {
	if req.Status != models.RequestActive {
		return nil, nil
	}
	start := time.Now()
	now := e.now()
	if req.Deadline != nil && req.Deadline.Before(now) {
		return nil, nil
	}

	trips, err := e.Store.ActiveTripsTo(ctx, req.DeliveryCountry)
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.MatchRequest: %w", err)
	}

	city := normalize.City(req.DeliveryCity)
	cands := make([]scoredTrip, 0, len(trips))
	for _, t := range trips {
		if t.TravelerID == req.RequesterID {
			continue
		}
		if normalize.City(t.DestinationCity) != city {
			continue
		}
		if t.AvailableCapacityKg < req.WeightKg {
			continue
		}
		if t.DepartureDate.Before(now) {
			continue
		}
		if s := Score(t, req, now); s >= e.minScore() {
			cands = append(cands, scoredTrip{t, s})
		}
	}
	// stable: equal scores keep the store's query order
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > e.topN() {
		cands = cands[:e.topN()]
	}
	observability.MatchScanSeconds.Observe(time.Since(start).Seconds())

	e.logger().Info("matching trips found", "request_id", req.ID, "candidates", len(cands))

	created := make([]models.Match, 0, len(cands))
	for _, c := range cands {
		m, err := e.CreateMatch(ctx, c.trip, req)
		if err != nil {
			return created, fmt.Errorf("matcher.Engine.MatchRequest: %w", err)
		}
		if m != nil {
			created = append(created, *m)
		}
	}
	return created, nil
}

// MatchTrip is the mirror of MatchRequest over active requests.
func (e *Engine) MatchTrip(ctx context.Context, trip models.Trip) ([]models.Match, error) {
	if trip.Status != models.TripActive {
		return nil, nil
	}
	start := time.Now()
	now := e.now()
	if trip.DepartureDate.Before(now) {
		return nil, nil
	}

	reqs, err := e.Store.ActiveRequestsTo(ctx, trip.DestinationCountry)
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.MatchTrip: %w", err)
	}

	city := normalize.City(trip.DestinationCity)
	cands := make([]scoredRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.RequesterID == trip.TravelerID {
			continue
		}
		if normalize.City(r.DeliveryCity) != city {
			continue
		}
		if trip.AvailableCapacityKg < r.WeightKg {
			continue
		}
		if r.Deadline != nil && r.Deadline.Before(now) {
			continue
		}
		if s := Score(trip, r, now); s >= e.minScore() {
			cands = append(cands, scoredRequest{r, s})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > e.topN() {
		cands = cands[:e.topN()]
	}
	observability.MatchScanSeconds.Observe(time.Since(start).Seconds())

	e.logger().Info("matching requests found", "trip_id", trip.ID, "candidates", len(cands))

	created := make([]models.Match, 0, len(cands))
	for _, c := range cands {
		m, err := e.CreateMatch(ctx, trip, c.req)
		if err != nil {
			return created, fmt.Errorf("matcher.Engine.MatchTrip: %w", err)
		}
		if m != nil {
			created = append(created, *m)
		}
	}
	return created, nil
}

// CreateMatch records a pending match for the pair and notifies both
// participants. It returns nil without error when the pair already has a
// match, including when a concurrent caller wins the insert.
func (e *Engine) CreateMatch(ctx context.Context, trip models.Trip, req models.Request) (*models.Match, error) {
	exists, err := e.Store.MatchExists(ctx, trip.ID, req.ID)
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.CreateMatch: %w", err)
	}
	if exists {
		observability.MatchDuplicatesTotal.Inc()
		return nil, nil
	}

	now := e.now()
	m := models.Match{
		ID:              uuid.NewString(),
		TripID:          trip.ID,
		RequestID:       req.ID,
		TravelerID:      trip.TravelerID,
		RequesterID:     req.RequesterID,
		Participants:    []string{trip.TravelerID, req.RequesterID},
		Status:          models.MatchPending,
		TravelerName:    trip.TravelerName,
		TravelerPhoto:   trip.TravelerPhoto,
		TravelerRating:  trip.TravelerRating,
		RequesterName:   req.RequesterName,
		RequesterPhoto:  req.RequesterPhoto,
		RequesterRating: req.RequesterRating,
		ItemTitle:       req.Title,
		Route:           strings.TrimSpace(trip.OriginCity + " → " + trip.DestinationCity),
		AgreedPrice:     req.OfferedPrice,
		TripDate:        trip.DepartureDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := e.Store.InsertMatch(ctx, m)
	if errors.Is(err, models.ErrAlreadyExists) {
		observability.MatchDuplicatesTotal.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher.Engine.CreateMatch: %w", err)
	}
	observability.MatchesCreatedTotal.Inc()

	n := models.Notification{
		Type:  models.NotifyMatchCreated,
		Title: "New match found",
		Body:  fmt.Sprintf("Trip to %s matches request: %s", trip.DestinationCity, req.Title),
		Data: map[string]string{
			"match_id":   created.ID,
			"trip_id":    created.TripID,
			"request_id": created.RequestID,
		},
	}
	for _, uid := range created.Participants {
		e.notify(ctx, uid, n)
	}
	return &created, nil
}

// notify is best-effort: a failed delivery is logged, never returned. The
// dispatcher counts failures per channel.
func (e *Engine) notify(ctx context.Context, userID string, n models.Notification) {
	if e.Notifier == nil || userID == "" {
		return
	}
	if err := e.Notifier.Notify(ctx, userID, n); err != nil {
		e.logger().Warn("notification failed", "user_id", userID, "type", n.Type, "error", err)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) topN() int {
	if e.TopN <= 0 {
		return defaultTopN
	}
	return e.TopN
}

func (e *Engine) minScore() int {
	if e.MinScore < CandidateScore {
		return CandidateScore
	}
	return e.MinScore
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
