package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/lifecycle"
	"github.com/example/delivery-matching/internal/matcher"
	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/rating"
	"github.com/example/delivery-matching/internal/service"
	"github.com/example/delivery-matching/internal/storage"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Event
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.sent))
	for i, e := range p.sent {
		out[i] = e.Type
	}
	return out
}

func validTrip() service.NewTrip {
	return service.NewTrip{
		OriginCity:          "Washington",
		OriginCountry:       "USA",
		DestinationCity:     "Addis Ababa",
		DestinationCountry:  "Ethiopia",
		DepartureDate:       now.Add(72 * time.Hour),
		AvailableCapacityKg: 20,
		PricePerKg:          8,
	}
}

func validRequest() service.NewRequest {
	return service.NewRequest{
		Title:           "Laptop",
		WeightKg:        3,
		PickupCity:      "Washington",
		PickupCountry:   "USA",
		DeliveryCity:    "addis ababa ",
		DeliveryCountry: "Ethiopia",
		OfferedPrice:    40,
	}
}

func registered(t *testing.T, s *storage.MemoryStore, uids ...string) {
	t.Helper()
	users := &service.UserService{Store: s, Now: clock}
	for _, uid := range uids {
		_, err := users.Register(context.Background(), uid, "User "+uid, "")
		require.NoError(t, err)
	}
}

func TestTripService_Create(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	registered(t, s, "traveler")
	pub := &recordingPublisher{}
	svc := &service.TripService{Store: s, Publisher: pub, Now: clock}

	trip, err := svc.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)

	assert.NotEmpty(t, trip.ID)
	assert.Equal(t, models.TripActive, trip.Status)
	assert.Equal(t, "User traveler", trip.TravelerName)
	assert.Equal(t, models.CurrentSchemaVersion, trip.SchemaVersion)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, events.TripCreated, pub.sent[0].Type)
	assert.Equal(t, trip.ID, pub.sent[0].TripID)

	stored, err := s.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.ID, stored.ID)
}

func TestTripService_Create_Validation(t *testing.T) {
	s := storage.NewMemoryStore()
	registered(t, s, "traveler")
	svc := &service.TripService{Store: s, Now: clock}

	tests := []struct {
		name   string
		mutate func(*service.NewTrip)
	}{
		{"missing destination city", func(n *service.NewTrip) { n.DestinationCity = "  " }},
		{"missing departure", func(n *service.NewTrip) { n.DepartureDate = time.Time{} }},
		{"departure in the past", func(n *service.NewTrip) { n.DepartureDate = now.Add(-time.Hour) }},
		{"arrival before departure", func(n *service.NewTrip) {
			a := n.DepartureDate.Add(-time.Hour)
			n.ArrivalDate = &a
		}},
		{"zero capacity", func(n *service.NewTrip) { n.AvailableCapacityKg = 0 }},
		{"negative price", func(n *service.NewTrip) { n.PricePerKg = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validTrip()
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), "traveler", in)
			assert.True(t, errors.Is(err, models.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestTripService_Create_UnregisteredTraveler(t *testing.T) {
	svc := &service.TripService{Store: storage.NewMemoryStore(), Now: clock}
	_, err := svc.Create(context.Background(), "ghost", validTrip())
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTripService_PublishFailureDoesNotFailCreate(t *testing.T) {
	s := storage.NewMemoryStore()
	registered(t, s, "traveler")
	svc := &service.TripService{Store: s, Publisher: &recordingPublisher{err: errors.New("broker down")}, Now: clock}

	trip, err := svc.Create(context.Background(), "traveler", validTrip())
	require.NoError(t, err)
	assert.NotEmpty(t, trip.ID)
}

func TestTripService_Cancel(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	registered(t, s, "traveler", "other")
	pub := &recordingPublisher{}
	svc := &service.TripService{Store: s, Publisher: pub, Now: clock}
	trip, err := svc.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)

	err = svc.Cancel(ctx, trip.ID, "other", "")
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))

	require.NoError(t, svc.Cancel(ctx, trip.ID, "traveler", " plans changed "))
	stored, err := s.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, stored.Status)
	assert.Equal(t, "plans changed", stored.CancelReason)
	assert.Equal(t, []events.Type{events.TripCreated, events.TripCancelled}, pub.types())

	err = svc.Cancel(ctx, trip.ID, "traveler", "")
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestTripService_UpdateCapacity(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	registered(t, s, "traveler")
	pub := &recordingPublisher{}
	svc := &service.TripService{Store: s, Publisher: pub, Now: clock}
	trip, err := svc.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)

	updated, err := svc.UpdateCapacity(ctx, trip.ID, "traveler", 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, updated.AvailableCapacityKg)
	assert.Equal(t, []events.Type{events.TripCreated}, pub.types(), "a decrease publishes nothing")

	_, err = svc.UpdateCapacity(ctx, trip.ID, "traveler", 25)
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TripCreated, events.TripCapacityIncreased}, pub.types())

	_, err = svc.UpdateCapacity(ctx, trip.ID, "traveler", 0)
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
	_, err = svc.UpdateCapacity(ctx, trip.ID, "someone", 30)
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
}

func TestRequestService_Create(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	registered(t, s, "requester")
	pub := &recordingPublisher{}
	svc := &service.RequestService{Store: s, Publisher: pub, Now: clock}

	req, err := svc.Create(ctx, "requester", validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.RequestActive, req.Status)
	assert.Equal(t, "addis ababa", req.DeliveryCity)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, events.RequestCreated, pub.sent[0].Type)
	assert.Equal(t, req.ID, pub.sent[0].RequestID)
}

func TestRequestService_Create_Validation(t *testing.T) {
	s := storage.NewMemoryStore()
	registered(t, s, "requester")
	svc := &service.RequestService{Store: s, MaxItemWeightKg: 10, Now: clock}

	tests := []struct {
		name   string
		mutate func(*service.NewRequest)
	}{
		{"missing title", func(n *service.NewRequest) { n.Title = "" }},
		{"missing delivery country", func(n *service.NewRequest) { n.DeliveryCountry = "" }},
		{"zero weight", func(n *service.NewRequest) { n.WeightKg = 0 }},
		{"over max weight", func(n *service.NewRequest) { n.WeightKg = 10.5 }},
		{"deadline in the past", func(n *service.NewRequest) {
			d := now.Add(-24 * time.Hour)
			n.Deadline = &d
		}},
		{"negative price", func(n *service.NewRequest) { n.OfferedPrice = -5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validRequest()
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), "requester", in)
			assert.True(t, errors.Is(err, models.ErrInvalidArgument), "got %v", err)
		})
	}

	in := validRequest()
	in.WeightKg = 10
	_, err := svc.Create(context.Background(), "requester", in)
	assert.NoError(t, err, "weight equal to the cap is allowed")
}

func TestRequestService_Cancel(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	registered(t, s, "requester", "other")
	pub := &recordingPublisher{}
	svc := &service.RequestService{Store: s, Publisher: pub, Now: clock}
	req, err := svc.Create(ctx, "requester", validRequest())
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.Cancel(ctx, req.ID, "other", ""), models.ErrPermissionDenied))
	require.NoError(t, svc.Cancel(ctx, req.ID, "requester", "found another way"))

	stored, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, stored.Status)
	assert.Equal(t, []events.Type{events.RequestCreated, events.RequestCancelled}, pub.types())
	assert.True(t, errors.Is(svc.Cancel(ctx, "missing", "requester", ""), models.ErrNotFound))
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()
	svc := &service.UserService{Store: storage.NewMemoryStore(), Now: clock}

	u, err := svc.Register(ctx, "u1", "  Hana ", "https://example.com/p.png")
	require.NoError(t, err)
	assert.Equal(t, "Hana", u.DisplayName)
	assert.Zero(t, u.Rating)
	assert.Zero(t, u.TripsCount)

	_, err = svc.Register(ctx, "u1", "Hana", "")
	assert.True(t, errors.Is(err, models.ErrAlreadyExists))
	_, err = svc.Register(ctx, "u2", "", "")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
	_, err = svc.Register(ctx, "", "Nobody", "")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u.UID, got.UID)
}

// pipeline wires the services to the core through an in-process router,
// the same way cmd/server does without Kafka.
type pipeline struct {
	store    *storage.MemoryStore
	trips    *service.TripService
	requests *service.RequestService
	reviews  *service.ReviewService
	manager  *lifecycle.Manager
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	s := storage.NewMemoryStore()
	registered(t, s, "traveler", "requester")
	engine := &matcher.Engine{Store: s, Now: clock}
	manager := &lifecycle.Manager{Store: s, Now: clock}
	ratings := &rating.Aggregator{Store: s, Now: clock}
	pub := events.Direct{Handler: &events.Router{Store: s, Matcher: engine, Canceller: manager, Ratings: ratings}}

	return &pipeline{
		store:    s,
		trips:    &service.TripService{Store: s, Publisher: pub, Now: clock},
		requests: &service.RequestService{Store: s, Publisher: pub, Now: clock},
		reviews:  &service.ReviewService{Matches: s, Ratings: ratings, Publisher: pub},
		manager:  manager,
	}
}

func TestPipeline_CreateMatchCancelAndReview(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	trip, err := p.trips.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)
	req, err := p.requests.Create(ctx, "requester", validRequest())
	require.NoError(t, err)

	matches, err := p.store.ListMatches(ctx, models.MatchFilter{TripID: trip.ID})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, req.ID, matches[0].RequestID)
	assert.Equal(t, models.MatchPending, matches[0].Status)

	traveler, err := p.store.GetUser(ctx, "traveler")
	require.NoError(t, err)
	assert.Equal(t, 1, traveler.TripsCount)

	_, err = p.manager.Accept(ctx, matches[0].ID, "traveler")
	require.NoError(t, err)
	_, err = p.manager.Complete(ctx, matches[0].ID, "requester")
	require.NoError(t, err)

	rev, err := p.reviews.Submit(ctx, matches[0].ID, "requester", 4, "on time")
	require.NoError(t, err)
	assert.Equal(t, "traveler", rev.RevieweeID)

	traveler, err = p.store.GetUser(ctx, "traveler")
	require.NoError(t, err)
	assert.Equal(t, 4.0, traveler.Rating)
	assert.Equal(t, 1, traveler.ReviewCount)
	assert.Equal(t, 1, traveler.CompletedDeliveries)
}

func TestPipeline_TripCancelCascadesToPendingMatches(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	_, err := p.requests.Create(ctx, "requester", validRequest())
	require.NoError(t, err)
	trip, err := p.trips.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)

	require.NoError(t, p.trips.Cancel(ctx, trip.ID, "traveler", ""))

	matches, err := p.store.ListMatches(ctx, models.MatchFilter{TripID: trip.ID})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchCancelled, matches[0].Status)
	assert.Equal(t, lifecycle.ReasonTripCancelled, matches[0].CancelReason)
}

func TestPipeline_CapacityIncreaseRematches(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	in := validTrip()
	in.AvailableCapacityKg = 2
	trip, err := p.trips.Create(ctx, "traveler", in)
	require.NoError(t, err)
	_, err = p.requests.Create(ctx, "requester", validRequest())
	require.NoError(t, err)

	n, err := p.store.CountMatches(ctx, models.MatchFilter{TripID: trip.ID})
	require.NoError(t, err)
	require.Zero(t, n, "3kg item does not fit in 2kg")

	_, err = p.trips.UpdateCapacity(ctx, trip.ID, "traveler", 5)
	require.NoError(t, err)

	n, err = p.store.CountMatches(ctx, models.MatchFilter{TripID: trip.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	traveler, err := p.store.GetUser(ctx, "traveler")
	require.NoError(t, err)
	assert.Equal(t, 1, traveler.TripsCount, "re-matching does not count a new trip")
}

func TestReviewService_Submit_NotParticipant(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	_, err := p.trips.Create(ctx, "traveler", validTrip())
	require.NoError(t, err)
	req, err := p.requests.Create(ctx, "requester", validRequest())
	require.NoError(t, err)
	matches, err := p.store.ListMatches(ctx, models.MatchFilter{RequestID: req.ID})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = p.reviews.Submit(ctx, matches[0].ID, "stranger", 5, "")
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
	_, err = p.reviews.Submit(ctx, matches[0].ID, "requester", 5, "")
	assert.True(t, errors.Is(err, models.ErrInvalidState), "match is still pending")
}
