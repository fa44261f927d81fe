package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/delivery-matching/internal/models"
)

type Store interface {
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	GetRequest(ctx context.Context, id string) (models.Request, error)
}

type Matcher interface {
	OnNewTrip(ctx context.Context, t models.Trip) ([]models.Match, error)
	OnNewRequest(ctx context.Context, r models.Request) ([]models.Match, error)
	MatchTrip(ctx context.Context, t models.Trip) ([]models.Match, error)
}

type Canceller interface {
	OnTripCancelled(ctx context.Context, tripID string) (int, error)
	OnRequestCancelled(ctx context.Context, requestID string) (int, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, uid string) (float64, int, error)
}

// Router maps each event to the core call that owns it.
type Router struct {
	Store     Store
	Matcher   Matcher
	Canceller Canceller
	Ratings   Recomputer
	Logger    *slog.Logger
}

func (r *Router) Handle(ctx context.Context, e Event) error {
	var err error
	switch e.Type {
	case TripCreated:
		var t models.Trip
		if t, err = r.Store.GetTrip(ctx, e.TripID); err == nil {
			_, err = r.Matcher.OnNewTrip(ctx, t)
		}
	case TripCapacityIncreased:
		var t models.Trip
		if t, err = r.Store.GetTrip(ctx, e.TripID); err == nil {
			_, err = r.Matcher.MatchTrip(ctx, t)
		}
	case RequestCreated:
		var req models.Request
		if req, err = r.Store.GetRequest(ctx, e.RequestID); err == nil {
			_, err = r.Matcher.OnNewRequest(ctx, req)
		}
	case TripCancelled:
		_, err = r.Canceller.OnTripCancelled(ctx, e.TripID)
	case RequestCancelled:
		_, err = r.Canceller.OnRequestCancelled(ctx, e.RequestID)
	case ReviewCreated:
		_, _, err = r.Ratings.Recompute(ctx, e.UserID)
	default:
		return fmt.Errorf("events.Router.Handle: unknown event type %q: %w", e.Type, models.ErrInvalidArgument)
	}
	if err != nil {
		return fmt.Errorf("events.Router.Handle: %s: %w", e.Type, err)
	}
	r.logger().Debug("event handled", "event_id", e.ID, "type", e.Type)
	return nil
}

func (r *Router) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
