// Package lifecycle enforces the match state machine. Every status change is
// a conditional store transition, so racing callers cannot both succeed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/observability"
	"github.com/example/delivery-matching/internal/payments"
)

const (
	defaultBatchSize = 500

	ReasonTripCancelled    = "Trip cancelled"
	ReasonRequestCancelled = "Request cancelled"
)

type Store interface {
	GetMatch(ctx context.Context, id string) (models.Match, error)
	GetUser(ctx context.Context, uid string) (models.User, error)
	ListMatches(ctx context.Context, f models.MatchFilter) ([]models.Match, error)
	CountMatches(ctx context.Context, f models.MatchFilter) (int, error)
	TransitionMatch(ctx context.Context, tr models.Transition) (models.Match, error)
	CancelPendingMatches(ctx context.Context, ref models.MatchRef, id, reason string, at time.Time, limit int) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

// Escrow is optional. When set, accepting a match holds its agreed price.
type Escrow interface {
	Hold(ctx context.Context, amount int64, ref string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Release(ctx context.Context, paymentIntentID string) error
}

type Manager struct {
	Store     Store
	Notifier  Notifier
	Escrow    Escrow
	Logger    *slog.Logger
	Now       func() time.Time
	BatchSize int
}

// Accept moves a pending match to accepted and marks its request matched.
func (m *Manager) Accept(ctx context.Context, matchID, userID string) (models.Match, error) {
	match, err := m.authorize(ctx, matchID, userID)
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Accept: %w", err)
	}
	if match.Status != models.MatchPending {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Accept: match is %s: %w", match.Status, models.ErrInvalidState)
	}

	var intentID string
	if m.Escrow != nil && match.AgreedPrice > 0 {
		intentID, err = m.Escrow.Hold(ctx, payments.MinorUnits(match.AgreedPrice), match.ID)
		if err != nil {
			return models.Match{}, fmt.Errorf("lifecycle.Manager.Accept: escrow: %w", err)
		}
	}

	updated, err := m.Store.TransitionMatch(ctx, models.Transition{
		MatchID:         match.ID,
		From:            []models.MatchStatus{models.MatchPending},
		To:              models.MatchAccepted,
		Actor:           userID,
		At:              m.now(),
		RequestStatus:   models.RequestMatched,
		RequestFrom:     []models.RequestStatus{models.RequestActive},
		PaymentIntentID: intentID,
	})
	if err != nil {
		if intentID != "" {
			m.release(ctx, match.ID, intentID)
		}
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Accept: %w", err)
	}
	observability.MatchTransitionsTotal.WithLabelValues(string(models.MatchAccepted)).Inc()

	name := m.displayName(ctx, match, userID)
	m.notify(ctx, match.OtherParticipant(userID), models.Notification{
		Type:  models.NotifyMatchAccepted,
		Title: "Match accepted",
		Body:  fmt.Sprintf("%s accepted the match.", name),
		Data:  map[string]string{"match_id": match.ID},
	})
	return updated, nil
}

// Reject declines a pending proposal. Matches past pending are resolved
// through Complete or Cancel instead.
func (m *Manager) Reject(ctx context.Context, matchID, userID string) (models.Match, error) {
	match, err := m.authorize(ctx, matchID, userID)
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Reject: %w", err)
	}
	if match.Status != models.MatchPending {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Reject: match is %s: %w", match.Status, models.ErrInvalidState)
	}

	updated, err := m.Store.TransitionMatch(ctx, models.Transition{
		MatchID: match.ID,
		From:    []models.MatchStatus{models.MatchPending},
		To:      models.MatchRejected,
		Actor:   userID,
		At:      m.now(),
	})
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Reject: %w", err)
	}
	observability.MatchTransitionsTotal.WithLabelValues(string(models.MatchRejected)).Inc()

	m.notify(ctx, match.OtherParticipant(userID), models.Notification{
		Type:  models.NotifyMatchRejected,
		Title: "Match declined",
		Body:  fmt.Sprintf("%s declined the match for %s.", m.displayName(ctx, match, userID), match.ItemTitle),
		Data:  map[string]string{"match_id": match.ID},
	})
	return updated, nil
}

// Complete closes an engaged match. The store increments completedDeliveries
// for both participants in the same atomic unit, so a repeat call fails the
// status precondition instead of counting twice.
func (m *Manager) Complete(ctx context.Context, matchID, userID string) (models.Match, error) {
	match, err := m.authorize(ctx, matchID, userID)
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Complete: %w", err)
	}
	if !match.Status.Engaged() {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Complete: match is %s: %w", match.Status, models.ErrInvalidState)
	}

	updated, err := m.Store.TransitionMatch(ctx, models.Transition{
		MatchID:          match.ID,
		From:             models.EngagedStatuses,
		To:               models.MatchCompleted,
		Actor:            userID,
		At:               m.now(),
		RequestStatus:    models.RequestCompleted,
		CompleteDelivery: true,
	})
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Complete: %w", err)
	}
	observability.MatchTransitionsTotal.WithLabelValues(string(models.MatchCompleted)).Inc()

	if m.Escrow != nil && updated.PaymentIntentID != "" {
		if err := m.Escrow.Capture(ctx, updated.PaymentIntentID); err != nil {
			m.logger().Error("escrow capture failed", "match_id", updated.ID, "payment_intent_id", updated.PaymentIntentID, "error", err)
		}
	}

	m.notify(ctx, match.OtherParticipant(userID), models.Notification{
		Type:  models.NotifyDeliveryCompleted,
		Title: "Delivery completed",
		Body:  "The delivery has been marked as completed.",
		Data:  map[string]string{"match_id": match.ID},
	})
	return updated, nil
}

// Advance moves an engaged match forward along
// accepted → confirmed → picked_up → in_transit → delivered.
func (m *Manager) Advance(ctx context.Context, matchID, userID string, to models.MatchStatus) (models.Match, error) {
	from := models.LadderBelow(to)
	if from == nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Advance: %q is not a ladder step: %w", to, models.ErrInvalidArgument)
	}
	match, err := m.authorize(ctx, matchID, userID)
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Advance: %w", err)
	}

	updated, err := m.Store.TransitionMatch(ctx, models.Transition{
		MatchID:       match.ID,
		From:          from,
		To:            to,
		Actor:         userID,
		At:            m.now(),
		RequestStatus: models.RequestStatusFor(to),
	})
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Advance: %w", err)
	}
	observability.MatchTransitionsTotal.WithLabelValues(string(to)).Inc()

	m.notify(ctx, match.OtherParticipant(userID), models.Notification{
		Type:  models.NotifyMatchUpdated,
		Title: "Delivery update",
		Body:  fmt.Sprintf("%s is now %s.", match.ItemTitle, statusLabel(to)),
		Data:  map[string]string{"match_id": match.ID, "status": string(to)},
	})
	return updated, nil
}

// Cancel ends a live engagement at a participant's request. The linked
// request keeps its status; its owner decides whether to cancel it too.
func (m *Manager) Cancel(ctx context.Context, matchID, userID, reason string) (models.Match, error) {
	match, err := m.authorize(ctx, matchID, userID)
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Cancel: %w", err)
	}
	if !match.Status.Engaged() {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Cancel: match is %s: %w", match.Status, models.ErrInvalidState)
	}

	updated, err := m.Store.TransitionMatch(ctx, models.Transition{
		MatchID:      match.ID,
		From:         models.EngagedStatuses,
		To:           models.MatchCancelled,
		Actor:        userID,
		At:           m.now(),
		CancelReason: reason,
	})
	if err != nil {
		return models.Match{}, fmt.Errorf("lifecycle.Manager.Cancel: %w", err)
	}
	observability.MatchTransitionsTotal.WithLabelValues(string(models.MatchCancelled)).Inc()

	if m.Escrow != nil && updated.PaymentIntentID != "" {
		m.release(ctx, updated.ID, updated.PaymentIntentID)
	}

	m.notify(ctx, match.OtherParticipant(userID), models.Notification{
		Type:  models.NotifyMatchCancelled,
		Title: "Match cancelled",
		Body:  fmt.Sprintf("%s cancelled the delivery of %s.", m.displayName(ctx, match, userID), match.ItemTitle),
		Data:  map[string]string{"match_id": match.ID, "reason": reason},
	})
	return updated, nil
}

// OnTripCancelled withdraws every pending match of the trip.
func (m *Manager) OnTripCancelled(ctx context.Context, tripID string) (int, error) {
	n, err := m.cascade(ctx, models.RefTrip, tripID, ReasonTripCancelled)
	if err != nil {
		return n, fmt.Errorf("lifecycle.Manager.OnTripCancelled: %w", err)
	}
	return n, nil
}

// OnRequestCancelled withdraws every pending match of the request.
func (m *Manager) OnRequestCancelled(ctx context.Context, requestID string) (int, error) {
	n, err := m.cascade(ctx, models.RefRequest, requestID, ReasonRequestCancelled)
	if err != nil {
		return n, fmt.Errorf("lifecycle.Manager.OnRequestCancelled: %w", err)
	}
	return n, nil
}

// cascade cancels pending matches in atomic batches until none remain.
// Engaged matches are left alone and only reported.
func (m *Manager) cascade(ctx context.Context, ref models.MatchRef, id, reason string) (int, error) {
	total := 0
	for {
		n, err := m.Store.CancelPendingMatches(ctx, ref, id, reason, m.now(), m.batchSize())
		if err != nil {
			return total, err
		}
		total += n
		if n < m.batchSize() {
			break
		}
	}
	observability.CascadeCancelledTotal.WithLabelValues(string(ref)).Add(float64(total))

	f := models.MatchFilter{Statuses: models.EngagedStatuses}
	if ref == models.RefTrip {
		f.TripID = id
	} else {
		f.RequestID = id
	}
	engaged, err := m.Store.CountMatches(ctx, f)
	if err != nil {
		m.logger().Warn("count engaged matches failed", "ref", ref, "id", id, "error", err)
	} else if engaged > 0 {
		m.logger().Warn("cancelled document has engaged matches", "ref", ref, "id", id, "engaged", engaged)
	}

	m.logger().Info("pending matches cancelled", "ref", ref, "id", id, "count", total)
	return total, nil
}

// ListForUser returns the caller's matches newest first, optionally filtered
// by status.
func (m *Manager) ListForUser(ctx context.Context, userID string, status models.MatchStatus, limit int) ([]models.Match, error) {
	f := models.MatchFilter{ParticipantID: userID, Limit: limit}
	if status != "" {
		f.Statuses = []models.MatchStatus{status}
	}
	out, err := m.Store.ListMatches(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.Manager.ListForUser: %w", err)
	}
	return out, nil
}

func (m *Manager) authorize(ctx context.Context, matchID, userID string) (models.Match, error) {
	match, err := m.Store.GetMatch(ctx, matchID)
	if err != nil {
		return models.Match{}, err
	}
	if !match.HasParticipant(userID) {
		return models.Match{}, fmt.Errorf("user %s: %w", userID, models.ErrPermissionDenied)
	}
	return match, nil
}

func (m *Manager) displayName(ctx context.Context, match models.Match, uid string) string {
	if u, err := m.Store.GetUser(ctx, uid); err == nil && u.DisplayName != "" {
		return u.DisplayName
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		m.logger().Warn("user lookup failed", "user_id", uid, "error", err)
	}
	switch uid {
	case match.TravelerID:
		if match.TravelerName != "" {
			return match.TravelerName
		}
	case match.RequesterID:
		if match.RequesterName != "" {
			return match.RequesterName
		}
	}
	return "Someone"
}

func (m *Manager) release(ctx context.Context, matchID, intentID string) {
	if err := m.Escrow.Release(ctx, intentID); err != nil {
		m.logger().Error("escrow release failed", "match_id", matchID, "payment_intent_id", intentID, "error", err)
	}
}

func (m *Manager) notify(ctx context.Context, userID string, n models.Notification) {
	if m.Notifier == nil || userID == "" {
		return
	}
	if err := m.Notifier.Notify(ctx, userID, n); err != nil {
		m.logger().Warn("notification failed", "user_id", userID, "type", n.Type, "error", err)
	}
}

func statusLabel(s models.MatchStatus) string {
	switch s {
	case models.MatchPickedUp:
		return "picked up"
	case models.MatchInTransit:
		return "in transit"
	}
	return string(s)
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Manager) batchSize() int {
	if m.BatchSize <= 0 || m.BatchSize > defaultBatchSize {
		return defaultBatchSize
	}
	return m.BatchSize
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
