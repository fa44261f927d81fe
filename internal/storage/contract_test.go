package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/storage"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tripFixture(traveler string) models.Trip {
	return models.Trip{
		ID:                  uuid.NewString(),
		TravelerID:          traveler,
		TravelerName:        "Abebe",
		OriginCity:          "Nairobi",
		OriginCountry:       "Kenya",
		DestinationCity:     "Addis Ababa",
		DestinationCountry:  "Ethiopia-" + traveler,
		DepartureDate:       now.Add(72 * time.Hour),
		AvailableCapacityKg: 20,
		Status:              models.TripActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func requestFixture(requester, country string) models.Request {
	deadline := now.Add(10 * 24 * time.Hour)
	return models.Request{
		ID:              uuid.NewString(),
		RequesterID:     requester,
		RequesterName:   "Sara",
		Title:           "Books",
		WeightKg:        10,
		PickupCity:      "Nairobi",
		PickupCountry:   "Kenya",
		DeliveryCity:    "addis ababa",
		DeliveryCountry: country,
		Deadline:        &deadline,
		OfferedPrice:    40,
		Status:          models.RequestActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func matchFixture(t models.Trip, r models.Request) models.Match {
	return models.Match{
		ID:           uuid.NewString(),
		TripID:       t.ID,
		RequestID:    r.ID,
		TravelerID:   t.TravelerID,
		RequesterID:  r.RequesterID,
		Participants: []string{t.TravelerID, r.RequesterID},
		Status:       models.MatchPending,
		Route:        "Nairobi → Addis Ababa",
		AgreedPrice:  r.OfferedPrice,
		TripDate:     t.DepartureDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type seeded struct {
	trip  models.Trip
	req   models.Request
	match models.Match
}

// seed writes one trip, one request and a pending match between them.
func seed(t *testing.T, s storage.Store) seeded {
	t.Helper()
	ctx := context.Background()
	traveler, requester := uuid.NewString(), uuid.NewString()

	trip, err := s.CreateTrip(ctx, tripFixture(traveler))
	require.NoError(t, err)
	req, err := s.CreateRequest(ctx, requestFixture(requester, trip.DestinationCountry))
	require.NoError(t, err)
	m, err := s.InsertMatch(ctx, matchFixture(trip, req))
	require.NoError(t, err)
	return seeded{trip, req, m}
}

// runContract exercises the behaviour every Store must share.
func runContract(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.GetTrip(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.GetMatch(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ActiveTripsToFiltersByCountryAndStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		traveler := uuid.NewString()
		a, err := s.CreateTrip(ctx, tripFixture(traveler))
		require.NoError(t, err)
		b, err := s.CreateTrip(ctx, tripFixture(traveler))
		require.NoError(t, err)
		require.NoError(t, s.UpdateTripStatus(ctx, b.ID, models.TripActive, models.TripCancelled, "changed plans", now))

		got, err := s.ActiveTripsTo(ctx, a.DestinationCountry)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)
		assert.Equal(t, 20.0, got[0].AvailableCapacityKg)

		cancelled, err := s.GetTrip(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TripCancelled, cancelled.Status)
		assert.Equal(t, "changed plans", cancelled.CancelReason)
	})

	t.Run("LegacyWeightIsNormalized", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		legacy := 12.5
		tr := tripFixture(uuid.NewString())
		tr.AvailableCapacityKg = 0
		tr.LegacyAvailableWeight = &legacy

		created, err := s.CreateTrip(ctx, tr)
		require.NoError(t, err)
		got, err := s.GetTrip(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 12.5, got.AvailableCapacityKg)
		assert.Nil(t, got.LegacyAvailableWeight)
		assert.Equal(t, models.CurrentSchemaVersion, got.SchemaVersion)
	})

	t.Run("UpdateTripStatusPrecondition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tr, err := s.CreateTrip(ctx, tripFixture(uuid.NewString()))
		require.NoError(t, err)

		require.NoError(t, s.UpdateTripStatus(ctx, tr.ID, models.TripActive, models.TripCancelled, "", now))
		err = s.UpdateTripStatus(ctx, tr.ID, models.TripActive, models.TripCancelled, "", now)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		err = s.UpdateTripStatus(ctx, uuid.NewString(), models.TripActive, models.TripCancelled, "", now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("UpdateTripCapacityRequiresActive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tr, err := s.CreateTrip(ctx, tripFixture(uuid.NewString()))
		require.NoError(t, err)

		got, err := s.UpdateTripCapacity(ctx, tr.ID, 35, now)
		require.NoError(t, err)
		assert.Equal(t, 35.0, got.AvailableCapacityKg)

		require.NoError(t, s.UpdateTripStatus(ctx, tr.ID, models.TripActive, models.TripExpired, "", now))
		_, err = s.UpdateTripCapacity(ctx, tr.ID, 40, now)
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("InsertMatchRejectsSecondPair", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		ok, err := s.MatchExists(ctx, sd.trip.ID, sd.req.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.InsertMatch(ctx, matchFixture(sd.trip, sd.req))
		assert.ErrorIs(t, err, models.ErrAlreadyExists)

		got, err := s.ListMatches(ctx, models.MatchFilter{TripID: sd.trip.ID})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("TransitionAcceptSetsRequestStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		m, err := s.TransitionMatch(ctx, models.Transition{
			MatchID:       sd.match.ID,
			From:          []models.MatchStatus{models.MatchPending},
			To:            models.MatchAccepted,
			Actor:         sd.req.RequesterID,
			At:            now,
			RequestStatus: models.RequestMatched,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MatchAccepted, m.Status)
		assert.Equal(t, sd.req.RequesterID, m.AcceptedBy)
		require.NotNil(t, m.AcceptedAt)

		req, err := s.GetRequest(ctx, sd.req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestMatched, req.Status)

		_, err = s.TransitionMatch(ctx, models.Transition{
			MatchID: sd.match.ID,
			From:    []models.MatchStatus{models.MatchPending},
			To:      models.MatchAccepted,
			At:      now,
		})
		assert.ErrorIs(t, err, models.ErrInvalidState)

		_, err = s.TransitionMatch(ctx, models.Transition{
			MatchID: uuid.NewString(),
			From:    []models.MatchStatus{models.MatchPending},
			To:      models.MatchAccepted,
			At:      now,
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("TransitionRequestPreconditionRollsBack", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)
		require.NoError(t, s.UpdateRequestStatus(ctx, sd.req.ID, models.RequestActive, models.RequestExpired, "", now))

		_, err := s.TransitionMatch(ctx, models.Transition{
			MatchID:       sd.match.ID,
			From:          []models.MatchStatus{models.MatchPending},
			To:            models.MatchAccepted,
			Actor:         sd.req.RequesterID,
			At:            now,
			RequestStatus: models.RequestMatched,
			RequestFrom:   []models.RequestStatus{models.RequestActive},
		})
		assert.ErrorIs(t, err, models.ErrInvalidState)

		m, err := s.GetMatch(ctx, sd.match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchPending, m.Status)
		assert.Empty(t, m.AcceptedBy)
		req, err := s.GetRequest(ctx, sd.req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestExpired, req.Status)
	})

	t.Run("CompleteIncrementsBothParticipantsOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		_, err := s.TransitionMatch(ctx, models.Transition{
			MatchID: sd.match.ID, From: []models.MatchStatus{models.MatchPending}, To: models.MatchAccepted, At: now,
		})
		require.NoError(t, err)

		complete := models.Transition{
			MatchID:          sd.match.ID,
			From:             models.EngagedStatuses,
			To:               models.MatchCompleted,
			Actor:            sd.trip.TravelerID,
			At:               now,
			RequestStatus:    models.RequestCompleted,
			CompleteDelivery: true,
		}
		_, err = s.TransitionMatch(ctx, complete)
		require.NoError(t, err)
		_, err = s.TransitionMatch(ctx, complete)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		for _, uid := range []string{sd.trip.TravelerID, sd.req.RequesterID} {
			u, err := s.GetUser(ctx, uid)
			require.NoError(t, err)
			assert.Equal(t, 1, u.CompletedDeliveries, uid)
		}
	})

	t.Run("CancelPendingLeavesEngagedMatches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		other, err := s.CreateRequest(ctx, requestFixture(uuid.NewString(), sd.trip.DestinationCountry))
		require.NoError(t, err)
		engaged, err := s.InsertMatch(ctx, matchFixture(sd.trip, other))
		require.NoError(t, err)
		_, err = s.TransitionMatch(ctx, models.Transition{
			MatchID: engaged.ID, From: []models.MatchStatus{models.MatchPending}, To: models.MatchAccepted, At: now,
		})
		require.NoError(t, err)

		n, err := s.CancelPendingMatches(ctx, models.RefTrip, sd.trip.ID, "Trip cancelled", now, storage.MaxBatch)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetMatch(ctx, sd.match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchCancelled, got.Status)
		assert.Equal(t, "Trip cancelled", got.CancelReason)

		got, err = s.GetMatch(ctx, engaged.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchAccepted, got.Status)

		n, err = s.CancelPendingMatches(ctx, models.RefTrip, sd.trip.ID, "Trip cancelled", now, storage.MaxBatch)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ListMatchesByParticipantAndStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		got, err := s.ListMatches(ctx, models.MatchFilter{ParticipantID: sd.req.RequesterID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.ElementsMatch(t, []string{sd.trip.TravelerID, sd.req.RequesterID}, got[0].Participants)

		got, err = s.ListMatches(ctx, models.MatchFilter{
			ParticipantID: sd.req.RequesterID,
			Statuses:      []models.MatchStatus{models.MatchCompleted},
		})
		require.NoError(t, err)
		assert.Empty(t, got)

		n, err := s.CountMatches(ctx, models.MatchFilter{TripID: sd.trip.ID, Statuses: models.EngagedStatuses})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ReviewsAreUniquePerReviewer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sd := seed(t, s)

		r := models.Review{
			ID: uuid.NewString(), MatchID: sd.match.ID, ReviewerID: sd.req.RequesterID,
			RevieweeID: sd.trip.TravelerID, Rating: 5, Comment: "on time", CreatedAt: now,
		}
		_, err := s.InsertReview(ctx, r)
		require.NoError(t, err)

		r.ID = uuid.NewString()
		_, err = s.InsertReview(ctx, r)
		assert.ErrorIs(t, err, models.ErrAlreadyExists)

		ratings, err := s.RatingsFor(ctx, sd.trip.TravelerID)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, ratings)

		list, err := s.ListReviewsFor(ctx, sd.trip.TravelerID, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "on time", list[0].Comment)
	})

	t.Run("CountCreationOncePerDocument", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		uid := uuid.NewString()

		a, err := s.CreateTrip(ctx, tripFixture(uid))
		require.NoError(t, err)
		b, err := s.CreateTrip(ctx, tripFixture(uid))
		require.NoError(t, err)
		r, err := s.CreateRequest(ctx, requestFixture(uid, a.DestinationCountry))
		require.NoError(t, err)

		counted, err := s.CountCreation(ctx, models.RefTrip, a.ID)
		require.NoError(t, err)
		assert.True(t, counted)
		counted, err = s.CountCreation(ctx, models.RefTrip, a.ID)
		require.NoError(t, err)
		assert.False(t, counted)

		counted, err = s.CountCreation(ctx, models.RefTrip, b.ID)
		require.NoError(t, err)
		assert.True(t, counted)
		counted, err = s.CountCreation(ctx, models.RefRequest, r.ID)
		require.NoError(t, err)
		assert.True(t, counted)

		u, err := s.GetUser(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, 2, u.TripsCount)
		assert.Equal(t, 1, u.RequestsCount)

		_, err = s.CountCreation(ctx, models.RefTrip, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.CountCreation(ctx, models.MatchRef("match"), a.ID)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	})

	t.Run("RatingUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		uid := uuid.NewString()

		require.NoError(t, s.SetUserRating(ctx, uid, 4.3, 3))

		u, err := s.GetUser(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, 4.3, u.Rating)
		assert.Equal(t, 3, u.ReviewCount)

		_, err = s.CreateUser(ctx, models.User{UID: uid, CreatedAt: now})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("ExpireIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		stale := tripFixture(uuid.NewString())
		stale.DepartureDate = now.Add(-time.Hour)
		_, err := s.CreateTrip(ctx, stale)
		require.NoError(t, err)

		staleReq := requestFixture(uuid.NewString(), stale.DestinationCountry)
		past := now.Add(-time.Hour)
		staleReq.Deadline = &past
		_, err = s.CreateRequest(ctx, staleReq)
		require.NoError(t, err)

		openReq := requestFixture(uuid.NewString(), stale.DestinationCountry)
		openReq.Deadline = nil
		_, err = s.CreateRequest(ctx, openReq)
		require.NoError(t, err)

		n, err := s.ExpireTrips(ctx, now, storage.MaxBatch)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
		n, err = s.ExpireRequests(ctx, now, storage.MaxBatch)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		n, err = s.ExpireTrips(ctx, now, storage.MaxBatch)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = s.ExpireRequests(ctx, now, storage.MaxBatch)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.GetTrip(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TripExpired, got.Status)
		gotReq, err := s.GetRequest(ctx, openReq.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestActive, gotReq.Status)
	})
}

// raceInsert has many goroutines insert the same pair and counts winners.
func raceInsert(t *testing.T, s storage.Store, trip models.Trip, req models.Request) int {
	t.Helper()
	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertMatch(context.Background(), matchFixture(trip, req))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrAlreadyExists)
		}()
	}
	wg.Wait()
	return wins
}
