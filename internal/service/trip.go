package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/models"
)

type TripStore interface {
	UserReader
	CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error)
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	UpdateTripStatus(ctx context.Context, id string, from, to models.TripStatus, reason string, at time.Time) error
	UpdateTripCapacity(ctx context.Context, id string, kg float64, at time.Time) (models.Trip, error)
}

// NewTrip is what a traveler submits. Traveler display fields are taken
// from their profile, not from the client.
type NewTrip struct {
	OriginCity          string     `json:"origin_city"`
	OriginCountry       string     `json:"origin_country"`
	DestinationCity     string     `json:"destination_city"`
	DestinationCountry  string     `json:"destination_country"`
	DepartureDate       time.Time  `json:"departure_date"`
	ArrivalDate         *time.Time `json:"arrival_date,omitempty"`
	AvailableCapacityKg float64    `json:"available_capacity_kg"`
	PricePerKg          float64    `json:"price_per_kg"`
}

func (n NewTrip) validate(now time.Time) error {
	missing := blank(
		"origin_city", n.OriginCity,
		"origin_country", n.OriginCountry,
		"destination_city", n.DestinationCity,
		"destination_country", n.DestinationCountry,
	)
	switch {
	case len(missing) > 0:
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), models.ErrInvalidArgument)
	case n.DepartureDate.IsZero():
		return fmt.Errorf("departure_date is required: %w", models.ErrInvalidArgument)
	case n.DepartureDate.Before(now):
		return fmt.Errorf("departure_date is in the past: %w", models.ErrInvalidArgument)
	case n.ArrivalDate != nil && n.ArrivalDate.Before(n.DepartureDate):
		return fmt.Errorf("arrival_date is before departure_date: %w", models.ErrInvalidArgument)
	case n.AvailableCapacityKg <= 0:
		return fmt.Errorf("available_capacity_kg must be positive: %w", models.ErrInvalidArgument)
	case n.PricePerKg < 0:
		return fmt.Errorf("price_per_kg must not be negative: %w", models.ErrInvalidArgument)
	}
	return nil
}

type TripService struct {
	Store     TripStore
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Create stores an active trip for travelerID and announces it.
func (s *TripService) Create(ctx context.Context, travelerID string, in NewTrip) (models.Trip, error) {
	now := nowOr(s.Now)
	if err := in.validate(now); err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	u, err := s.Store.GetUser(ctx, travelerID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.Create: traveler profile: %w", err)
	}

	t := models.Trip{
		ID:                  uuid.NewString(),
		SchemaVersion:       models.CurrentSchemaVersion,
		TravelerID:          u.UID,
		TravelerName:        u.DisplayName,
		TravelerPhoto:       u.PhotoURL,
		TravelerRating:      u.Rating,
		OriginCity:          in.OriginCity,
		OriginCountry:       in.OriginCountry,
		DestinationCity:     in.DestinationCity,
		DestinationCountry:  in.DestinationCountry,
		DepartureDate:       in.DepartureDate.UTC(),
		ArrivalDate:         in.ArrivalDate,
		AvailableCapacityKg: in.AvailableCapacityKg,
		PricePerKg:          in.PricePerKg,
		Status:              models.TripActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	t.Normalize()
	created, err := s.Store.CreateTrip(ctx, t)
	if err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}

	e := events.New(events.TripCreated)
	e.TripID, e.UserID = created.ID, created.TravelerID
	publish(ctx, s.Publisher, s.Logger, e)
	return created, nil
}

func (s *TripService) Get(ctx context.Context, id string) (models.Trip, error) {
	t, err := s.Store.GetTrip(ctx, id)
	if err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.Get: %w", err)
	}
	return t, nil
}

// Cancel moves an active trip to cancelled. Only the traveler may cancel.
func (s *TripService) Cancel(ctx context.Context, tripID, userID, reason string) error {
	t, err := s.owned(ctx, tripID, userID)
	if err != nil {
		return fmt.Errorf("service.TripService.Cancel: %w", err)
	}
	if err := s.Store.UpdateTripStatus(ctx, t.ID, models.TripActive, models.TripCancelled, strings.TrimSpace(reason), nowOr(s.Now)); err != nil {
		return fmt.Errorf("service.TripService.Cancel: %w", err)
	}

	e := events.New(events.TripCancelled)
	e.TripID, e.UserID = t.ID, t.TravelerID
	publish(ctx, s.Publisher, s.Logger, e)
	return nil
}

// UpdateCapacity sets the trip's available capacity. An increase re-runs
// matching for the trip; a decrease does not touch existing matches.
func (s *TripService) UpdateCapacity(ctx context.Context, tripID, userID string, kg float64) (models.Trip, error) {
	if kg <= 0 {
		return models.Trip{}, fmt.Errorf("service.TripService.UpdateCapacity: capacity must be positive: %w", models.ErrInvalidArgument)
	}
	before, err := s.owned(ctx, tripID, userID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.UpdateCapacity: %w", err)
	}
	after, err := s.Store.UpdateTripCapacity(ctx, tripID, kg, nowOr(s.Now))
	if err != nil {
		return models.Trip{}, fmt.Errorf("service.TripService.UpdateCapacity: %w", err)
	}
	if after.AvailableCapacityKg > before.AvailableCapacityKg {
		e := events.New(events.TripCapacityIncreased)
		e.TripID, e.UserID = after.ID, after.TravelerID
		publish(ctx, s.Publisher, s.Logger, e)
	}
	return after, nil
}

func (s *TripService) owned(ctx context.Context, tripID, userID string) (models.Trip, error) {
	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	if t.TravelerID != userID {
		return models.Trip{}, fmt.Errorf("trip %s belongs to another traveler: %w", tripID, models.ErrPermissionDenied)
	}
	return t, nil
}
