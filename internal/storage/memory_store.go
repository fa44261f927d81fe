package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/delivery-matching/internal/models"
)

type pairKey struct{ tripID, requestID string }

type reviewKey struct{ matchID, reviewerID string }

// MemoryStore is an in-process Store. A single mutex makes every method one
// atomic unit, which gives the same conditional-update and uniqueness
// guarantees as the Postgres implementation.
type MemoryStore struct {
	mu sync.RWMutex

	users map[string]models.User

	trips     map[string]models.Trip
	tripOrder []string

	requests     map[string]models.Request
	requestOrder []string

	counted map[string]struct{}

	matches    map[string]models.Match
	matchOrder []string
	pairs      map[pairKey]string

	reviews     []models.Review
	reviewPairs map[reviewKey]struct{}

	notifications []models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		trips:       make(map[string]models.Trip),
		requests:    make(map[string]models.Request),
		counted:     make(map[string]struct{}),
		matches:     make(map[string]models.Match),
		pairs:       make(map[pairKey]string),
		reviewPairs: make(map[reviewKey]struct{}),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.UID]; ok {
		return models.User{}, fmt.Errorf("storage.MemoryStore.CreateUser: %w", models.ErrAlreadyExists)
	}
	m.users[u.UID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(_ context.Context, uid string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[uid]
	if !ok {
		return models.User{}, fmt.Errorf("storage.MemoryStore.GetUser: %w", models.ErrNotFound)
	}
	return u, nil
}

// CountCreation creates the owner's user record when it does not exist yet.
func (m *MemoryStore) CountCreation(_ context.Context, ref models.MatchRef, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var uid string
	switch ref {
	case models.RefTrip:
		t, ok := m.trips[id]
		if !ok {
			return false, fmt.Errorf("storage.MemoryStore.CountCreation: trip %s: %w", id, models.ErrNotFound)
		}
		uid = t.TravelerID
	case models.RefRequest:
		r, ok := m.requests[id]
		if !ok {
			return false, fmt.Errorf("storage.MemoryStore.CountCreation: request %s: %w", id, models.ErrNotFound)
		}
		uid = r.RequesterID
	default:
		return false, fmt.Errorf("storage.MemoryStore.CountCreation: unknown ref %q: %w", ref, models.ErrInvalidArgument)
	}

	key := string(ref) + ":" + id
	if _, done := m.counted[key]; done {
		return false, nil
	}
	m.counted[key] = struct{}{}

	u := m.userLocked(uid)
	if ref == models.RefTrip {
		u.TripsCount++
	} else {
		u.RequestsCount++
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[uid] = u
	return true, nil
}

func (m *MemoryStore) SetUserRating(_ context.Context, uid string, rating float64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userLocked(uid)
	u.Rating = rating
	u.ReviewCount = count
	u.UpdatedAt = time.Now().UTC()
	m.users[uid] = u
	return nil
}

func (m *MemoryStore) userLocked(uid string) models.User {
	u, ok := m.users[uid]
	if !ok {
		u = models.User{UID: uid, CreatedAt: time.Now().UTC()}
	}
	return u
}

func (m *MemoryStore) CreateTrip(_ context.Context, t models.Trip) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return models.Trip{}, fmt.Errorf("storage.MemoryStore.CreateTrip: %w", models.ErrAlreadyExists)
	}
	t.Normalize()
	m.trips[t.ID] = t
	m.tripOrder = append(m.tripOrder, t.ID)
	return t, nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, fmt.Errorf("storage.MemoryStore.GetTrip: %w", models.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) ActiveTripsTo(_ context.Context, country string) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, id := range m.tripOrder {
		t := m.trips[id]
		if t.Status == models.TripActive && t.DestinationCountry == country {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateTripStatus(_ context.Context, id string, from, to models.TripStatus, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return fmt.Errorf("storage.MemoryStore.UpdateTripStatus: %w", models.ErrNotFound)
	}
	if t.Status != from {
		return fmt.Errorf("storage.MemoryStore.UpdateTripStatus: trip is %s: %w", t.Status, models.ErrInvalidState)
	}
	t.Status = to
	if reason != "" {
		t.CancelReason = reason
	}
	t.UpdatedAt = at
	m.trips[id] = t
	return nil
}

func (m *MemoryStore) UpdateTripCapacity(_ context.Context, id string, kg float64, at time.Time) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, fmt.Errorf("storage.MemoryStore.UpdateTripCapacity: %w", models.ErrNotFound)
	}
	if t.Status != models.TripActive {
		return models.Trip{}, fmt.Errorf("storage.MemoryStore.UpdateTripCapacity: trip is %s: %w", t.Status, models.ErrInvalidState)
	}
	t.AvailableCapacityKg = kg
	t.UpdatedAt = at
	m.trips[id] = t
	return t, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r models.Request) (models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return models.Request{}, fmt.Errorf("storage.MemoryStore.CreateRequest: %w", models.ErrAlreadyExists)
	}
	r.Normalize()
	m.requests[r.ID] = r
	m.requestOrder = append(m.requestOrder, r.ID)
	return r, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.Request{}, fmt.Errorf("storage.MemoryStore.GetRequest: %w", models.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) ActiveRequestsTo(_ context.Context, country string) ([]models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Request
	for _, id := range m.requestOrder {
		r := m.requests[id]
		if r.Status == models.RequestActive && r.DeliveryCountry == country {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateRequestStatus(_ context.Context, id string, from, to models.RequestStatus, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("storage.MemoryStore.UpdateRequestStatus: %w", models.ErrNotFound)
	}
	if r.Status != from {
		return fmt.Errorf("storage.MemoryStore.UpdateRequestStatus: request is %s: %w", r.Status, models.ErrInvalidState)
	}
	r.Status = to
	if reason != "" {
		r.CancelReason = reason
	}
	r.UpdatedAt = at
	m.requests[id] = r
	return nil
}

func (m *MemoryStore) MatchExists(_ context.Context, tripID, requestID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pairs[pairKey{tripID, requestID}]
	return ok, nil
}

func (m *MemoryStore) InsertMatch(_ context.Context, match models.Match) (models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{match.TripID, match.RequestID}
	if _, ok := m.pairs[key]; ok {
		return models.Match{}, fmt.Errorf("storage.MemoryStore.InsertMatch: pair %s/%s: %w", match.TripID, match.RequestID, models.ErrAlreadyExists)
	}
	if _, ok := m.matches[match.ID]; ok {
		return models.Match{}, fmt.Errorf("storage.MemoryStore.InsertMatch: id %s: %w", match.ID, models.ErrAlreadyExists)
	}
	match = cloneMatch(match)
	m.matches[match.ID] = match
	m.matchOrder = append(m.matchOrder, match.ID)
	m.pairs[key] = match.ID
	return cloneMatch(match), nil
}

func (m *MemoryStore) GetMatch(_ context.Context, id string) (models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return models.Match{}, fmt.Errorf("storage.MemoryStore.GetMatch: %w", models.ErrNotFound)
	}
	return cloneMatch(match), nil
}

// ListMatches returns matches newest first.
func (m *MemoryStore) ListMatches(_ context.Context, f models.MatchFilter) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Match
	for i := len(m.matchOrder) - 1; i >= 0; i-- {
		match := m.matches[m.matchOrder[i]]
		if !matchesFilter(match, f) {
			continue
		}
		out = append(out, cloneMatch(match))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountMatches(_ context.Context, f models.MatchFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, match := range m.matches {
		if matchesFilter(match, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) TransitionMatch(_ context.Context, tr models.Transition) (models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[tr.MatchID]
	if !ok {
		return models.Match{}, fmt.Errorf("storage.MemoryStore.TransitionMatch: %w", models.ErrNotFound)
	}
	if !statusIn(match.Status, tr.From) {
		return models.Match{}, fmt.Errorf("storage.MemoryStore.TransitionMatch: match is %s: %w", match.Status, models.ErrInvalidState)
	}
	if tr.RequestStatus != "" && len(tr.RequestFrom) > 0 {
		r, ok := m.requests[match.RequestID]
		if !ok || !statusIn(r.Status, tr.RequestFrom) {
			return models.Match{}, fmt.Errorf("storage.MemoryStore.TransitionMatch: request is %s: %w", r.Status, models.ErrInvalidState)
		}
	}

	applyTransition(&match, tr)
	m.matches[match.ID] = match

	if tr.RequestStatus != "" {
		if r, ok := m.requests[match.RequestID]; ok {
			r.Status = tr.RequestStatus
			r.UpdatedAt = tr.At
			m.requests[r.ID] = r
		}
	}
	if tr.CompleteDelivery {
		for _, uid := range match.Participants {
			u := m.userLocked(uid)
			u.CompletedDeliveries++
			u.UpdatedAt = tr.At
			m.users[uid] = u
		}
	}
	return cloneMatch(match), nil
}

func (m *MemoryStore) CancelPendingMatches(_ context.Context, ref models.MatchRef, id, reason string, at time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	n := 0
	for _, mid := range m.matchOrder {
		if n == limit {
			break
		}
		match := m.matches[mid]
		if match.Status != models.MatchPending || !refersTo(match, ref, id) {
			continue
		}
		applyTransition(&match, models.Transition{
			MatchID:      mid,
			To:           models.MatchCancelled,
			At:           at,
			CancelReason: reason,
		})
		m.matches[mid] = match
		n++
	}
	return n, nil
}

func (m *MemoryStore) InsertReview(_ context.Context, r models.Review) (models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reviewKey{r.MatchID, r.ReviewerID}
	if _, ok := m.reviewPairs[key]; ok {
		return models.Review{}, fmt.Errorf("storage.MemoryStore.InsertReview: %w", models.ErrAlreadyExists)
	}
	m.reviewPairs[key] = struct{}{}
	m.reviews = append(m.reviews, r)
	return r, nil
}

func (m *MemoryStore) RatingsFor(_ context.Context, revieweeID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for _, r := range m.reviews {
		if r.RevieweeID == revieweeID {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListReviewsFor(_ context.Context, revieweeID string, limit int) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Review
	for i := len(m.reviews) - 1; i >= 0; i-- {
		if m.reviews[i].RevieweeID != revieweeID {
			continue
		}
		out = append(out, m.reviews[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ExpireTrips(_ context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	n := 0
	for _, id := range m.tripOrder {
		if n == limit {
			break
		}
		t := m.trips[id]
		if t.Status != models.TripActive || !t.DepartureDate.Before(now) {
			continue
		}
		t.Status = models.TripExpired
		t.UpdatedAt = now
		m.trips[id] = t
		n++
	}
	return n, nil
}

func (m *MemoryStore) ExpireRequests(_ context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	n := 0
	for _, id := range m.requestOrder {
		if n == limit {
			break
		}
		r := m.requests[id]
		if r.Status != models.RequestActive || r.Deadline == nil || !r.Deadline.Before(now) {
			continue
		}
		r.Status = models.RequestExpired
		r.UpdatedAt = now
		m.requests[id] = r
		n++
	}
	return n, nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.Data = copyData(n.Data)
	m.notifications = append(m.notifications, n)
	return nil
}

// Notifications returns the in-app notifications recorded for uid, oldest first.
func (m *MemoryStore) Notifications(uid string) []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == uid {
			n.Data = copyData(n.Data)
			out = append(out, n)
		}
	}
	return out
}

// applyTransition writes the status change and its audit fields onto match.
func applyTransition(match *models.Match, tr models.Transition) {
	at := tr.At
	match.Status = tr.To
	match.UpdatedAt = at
	switch tr.To {
	case models.MatchAccepted:
		match.AcceptedBy, match.AcceptedAt = tr.Actor, &at
	case models.MatchRejected:
		match.RejectedBy, match.RejectedAt = tr.Actor, &at
	case models.MatchCompleted:
		match.CompletedBy, match.CompletedAt = tr.Actor, &at
	case models.MatchCancelled:
		match.CancelledBy, match.CancelledAt = tr.Actor, &at
		match.CancelReason = tr.CancelReason
	}
	if tr.PaymentIntentID != "" {
		match.PaymentIntentID = tr.PaymentIntentID
	}
}

func matchesFilter(m models.Match, f models.MatchFilter) bool {
	if f.ParticipantID != "" && !m.HasParticipant(f.ParticipantID) {
		return false
	}
	if f.TripID != "" && m.TripID != f.TripID {
		return false
	}
	if f.RequestID != "" && m.RequestID != f.RequestID {
		return false
	}
	if len(f.Statuses) > 0 && !statusIn(m.Status, f.Statuses) {
		return false
	}
	return true
}

func refersTo(m models.Match, ref models.MatchRef, id string) bool {
	switch ref {
	case models.RefTrip:
		return m.TripID == id
	case models.RefRequest:
		return m.RequestID == id
	}
	return false
}

func statusIn[S comparable](s S, set []S) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneMatch(m models.Match) models.Match {
	m.Participants = append([]string(nil), m.Participants...)
	return m
}

func copyData(d map[string]string) map[string]string {
	if d == nil {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
