package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/models"
)

const (
	DefaultMaxItemWeightKg = 30
	MaxTitleLength         = 120
	MaxDescriptionLength   = 2000
)

type RequestStore interface {
	UserReader
	CreateRequest(ctx context.Context, r models.Request) (models.Request, error)
	GetRequest(ctx context.Context, id string) (models.Request, error)
	UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus, reason string, at time.Time) error
}

type NewRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	WeightKg        float64    `json:"weight_kg"`
	PickupCity      string     `json:"pickup_city"`
	PickupCountry   string     `json:"pickup_country"`
	DeliveryCity    string     `json:"delivery_city"`
	DeliveryCountry string     `json:"delivery_country"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	OfferedPrice    float64    `json:"offered_price"`
}

func (n NewRequest) validate(now time.Time, maxWeight float64) error {
	missing := blank(
		"title", n.Title,
		"pickup_city", n.PickupCity,
		"pickup_country", n.PickupCountry,
		"delivery_city", n.DeliveryCity,
		"delivery_country", n.DeliveryCountry,
	)
	switch {
	case len(missing) > 0:
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), models.ErrInvalidArgument)
	case utf8.RuneCountInString(n.Title) > MaxTitleLength:
		return fmt.Errorf("title longer than %d characters: %w", MaxTitleLength, models.ErrInvalidArgument)
	case utf8.RuneCountInString(n.Description) > MaxDescriptionLength:
		return fmt.Errorf("description longer than %d characters: %w", MaxDescriptionLength, models.ErrInvalidArgument)
	case n.WeightKg <= 0:
		return fmt.Errorf("weight_kg must be positive: %w", models.ErrInvalidArgument)
	case n.WeightKg > maxWeight:
		return fmt.Errorf("weight_kg exceeds %g: %w", maxWeight, models.ErrInvalidArgument)
	case n.Deadline != nil && n.Deadline.Before(now):
		return fmt.Errorf("deadline is in the past: %w", models.ErrInvalidArgument)
	case n.OfferedPrice < 0:
		return fmt.Errorf("offered_price must not be negative: %w", models.ErrInvalidArgument)
	}
	return nil
}

type RequestService struct {
	Store     RequestStore
	Publisher Publisher
	// MaxItemWeightKg caps a single item. Zero means DefaultMaxItemWeightKg.
	MaxItemWeightKg float64
	Logger          *slog.Logger
	Now             func() time.Time
}

// Create stores an active request for requesterID and announces it.
func (s *RequestService) Create(ctx context.Context, requesterID string, in NewRequest) (models.Request, error) {
	now := nowOr(s.Now)
	if err := in.validate(now, s.maxWeight()); err != nil {
		return models.Request{}, fmt.Errorf("service.RequestService.Create: %w", err)
	}
	u, err := s.Store.GetUser(ctx, requesterID)
	if err != nil {
		return models.Request{}, fmt.Errorf("service.RequestService.Create: requester profile: %w", err)
	}

	r := models.Request{
		ID:              uuid.NewString(),
		SchemaVersion:   models.CurrentSchemaVersion,
		RequesterID:     u.UID,
		RequesterName:   u.DisplayName,
		RequesterPhoto:  u.PhotoURL,
		RequesterRating: u.Rating,
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		WeightKg:        in.WeightKg,
		PickupCity:      in.PickupCity,
		PickupCountry:   in.PickupCountry,
		DeliveryCity:    in.DeliveryCity,
		DeliveryCountry: in.DeliveryCountry,
		Deadline:        in.Deadline,
		OfferedPrice:    in.OfferedPrice,
		Status:          models.RequestActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.Normalize()
	created, err := s.Store.CreateRequest(ctx, r)
	if err != nil {
		return models.Request{}, fmt.Errorf("service.RequestService.Create: %w", err)
	}

	e := events.New(events.RequestCreated)
	e.RequestID, e.UserID = created.ID, created.RequesterID
	publish(ctx, s.Publisher, s.Logger, e)
	return created, nil
}

func (s *RequestService) Get(ctx context.Context, id string) (models.Request, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return models.Request{}, fmt.Errorf("service.RequestService.Get: %w", err)
	}
	return r, nil
}

// Cancel moves an active request to cancelled. Only the requester may cancel.
func (s *RequestService) Cancel(ctx context.Context, requestID, userID, reason string) error {
	r, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("service.RequestService.Cancel: %w", err)
	}
	if r.RequesterID != userID {
		return fmt.Errorf("service.RequestService.Cancel: request %s belongs to another user: %w", requestID, models.ErrPermissionDenied)
	}
	if err := s.Store.UpdateRequestStatus(ctx, r.ID, models.RequestActive, models.RequestCancelled, strings.TrimSpace(reason), nowOr(s.Now)); err != nil {
		return fmt.Errorf("service.RequestService.Cancel: %w", err)
	}

	e := events.New(events.RequestCancelled)
	e.RequestID, e.UserID = r.ID, r.RequesterID
	publish(ctx, s.Publisher, s.Logger, e)
	return nil
}

func (s *RequestService) maxWeight() float64 {
	if s.MaxItemWeightKg <= 0 {
		return DefaultMaxItemWeightKg
	}
	return s.MaxItemWeightKg
}
