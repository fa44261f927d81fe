package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/matcher"
	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeHandler fails the first failN calls with err.
type fakeHandler struct {
	mu    sync.Mutex
	failN int
	err   error
	calls int
	seen  []string
}

func (f *fakeHandler) Handle(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return f.err
	}
	f.seen = append(f.seen, e.ID)
	return nil
}

func TestHandleWithRetry_SucceedsAfterRetries(t *testing.T) {
	h := &fakeHandler{failN: 2, err: errors.New("store timeout")}
	start := time.Now()

	err := handleWithRetry(context.Background(), h, events.New(events.TripCreated), 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, h.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "10ms then 20ms backoff")
}

func TestHandleWithRetry_FailsWhenExhausted(t *testing.T) {
	h := &fakeHandler{failN: 5, err: errors.New("store timeout")}

	err := handleWithRetry(context.Background(), h, events.New(events.TripCreated), 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, h.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestHandleWithRetry_PermanentErrorsAreNotRetried(t *testing.T) {
	for _, perm := range []error{models.ErrInvalidArgument, models.ErrNotFound, errDuplicate} {
		h := &fakeHandler{failN: 5, err: perm}
		err := handleWithRetry(context.Background(), h, events.New(events.TripCreated), 3, time.Millisecond)
		assert.ErrorIs(t, err, perm)
		assert.Equal(t, 1, h.calls, perm.Error())
	}
}

func TestHandleWithRetry_StopsOnCancel(t *testing.T) {
	h := &fakeHandler{failN: 5, err: errors.New("down")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handleWithRetry(ctx, h, events.New(events.TripCreated), 5, time.Hour)
	require.Error(t, err)
	assert.Equal(t, 1, h.calls)
}

// memMarks is an in-memory processedMarks.
type memMarks struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemMarks() *memMarks { return &memMarks{seen: make(map[string]bool)} }

func (m *memMarks) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.seen[id], nil
}

func (m *memMarks) Mark(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
	return nil
}

func TestDedup_SkipsRedeliveredEvent(t *testing.T) {
	h := &fakeHandler{}
	d := &dedup{next: h, marks: newMemMarks(), ttl: time.Hour, logger: discard}
	e := events.New(events.RequestCreated)

	require.NoError(t, d.Handle(context.Background(), e))
	assert.ErrorIs(t, d.Handle(context.Background(), e), errDuplicate)
	assert.Equal(t, 1, h.calls)

	require.NoError(t, d.Handle(context.Background(), events.New(events.RequestCreated)))
	assert.Equal(t, 2, h.calls)
}

func TestDedup_FailedEventCanBeRetried(t *testing.T) {
	h := &fakeHandler{failN: 1, err: errors.New("down")}
	d := &dedup{next: h, marks: newMemMarks(), ttl: time.Hour, logger: discard}
	e := events.New(events.TripCancelled)

	err := handleWithRetry(context.Background(), d, e, 2, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, h.seen)
}

// ctxHandler fails while its context is cancelled, like a process shutting
// down in the middle of handling.
type ctxHandler struct{ fakeHandler }

func (c *ctxHandler) Handle(ctx context.Context, e events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeHandler.Handle(ctx, e)
}

func TestDedup_InterruptedEventIsHandledOnRedelivery(t *testing.T) {
	h := &ctxHandler{}
	marks := newMemMarks()
	d := &dedup{next: h, marks: marks, ttl: time.Hour, logger: discard}
	e := events.New(events.TripCreated)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, d.Handle(ctx, e))
	assert.False(t, marks.seen[e.ID])

	require.NoError(t, d.Handle(context.Background(), e))
	assert.Equal(t, []string{e.ID}, h.seen)
	assert.True(t, marks.seen[e.ID])
}

func TestDedup_HandlesWhenMarksUnavailable(t *testing.T) {
	h := &fakeHandler{}
	marks := newMemMarks()
	marks.err = errors.New("connection refused")
	d := &dedup{next: h, marks: marks, ttl: time.Hour, logger: discard}

	require.NoError(t, d.Handle(context.Background(), events.New(events.TripCreated)))
	assert.Equal(t, 1, h.calls)
}

type fakeMarkClient struct {
	keys map[string]time.Duration
}

func (f *fakeMarkClient) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeMarkClient) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.StatusCmd {
	f.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisMarks(t *testing.T) {
	fc := &fakeMarkClient{keys: make(map[string]time.Duration)}
	m := redisMarks{client: fc, prefix: "event:"}
	ctx := context.Background()

	seen, err := m.Seen(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, m.Mark(ctx, "e1", time.Hour))
	assert.Equal(t, time.Hour, fc.keys["event:e1"])

	seen, err = m.Seen(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, seen)
}

// flakyStore fails ActiveRequestsTo a fixed number of times.
type flakyStore struct {
	*storage.MemoryStore
	failures int
}

func (f *flakyStore) ActiveRequestsTo(ctx context.Context, country string) ([]models.Request, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("store timeout")
	}
	return f.MemoryStore.ActiveRequestsTo(ctx, country)
}

func TestTripCreated_RetriedMatchingCountsTripOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := &flakyStore{MemoryStore: storage.NewMemoryStore(), failures: 2}

	_, err := s.CreateRequest(ctx, models.Request{
		ID: "r1", RequesterID: "requester", Title: "Laptop",
		DeliveryCity: "Addis Ababa", DeliveryCountry: "Ethiopia", WeightKg: 5,
	})
	require.NoError(t, err)
	trip, err := s.CreateTrip(ctx, models.Trip{
		ID: "t1", TravelerID: "traveler",
		DestinationCity: "addis ababa", DestinationCountry: "Ethiopia",
		DepartureDate: now.Add(72 * time.Hour), AvailableCapacityKg: 20,
	})
	require.NoError(t, err)

	router := &events.Router{
		Store:   s,
		Matcher: &matcher.Engine{Store: s, Now: func() time.Time { return now }},
		Logger:  discard,
	}
	e := events.New(events.TripCreated)
	e.TripID = trip.ID

	require.NoError(t, handleWithRetry(ctx, router, e, 3, time.Millisecond))

	u, err := s.GetUser(ctx, "traveler")
	require.NoError(t, err)
	assert.Equal(t, 1, u.TripsCount)

	matches, err := s.ListMatches(ctx, models.MatchFilter{TripID: trip.ID})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

// fakeReader serves msgs then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs int
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.fetchErrs > 0 {
		f.fetchErrs--
		f.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func message(t *testing.T, offset int64, e events.Event) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumer_HandlesAndCommitsEveryMessage(t *testing.T) {
	first, second := events.New(events.TripCreated), events.New(events.ReviewCreated)
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, 1, first),
		{Offset: 2, Value: []byte("not json")},
		message(t, 3, second),
	}}
	h := &fakeHandler{}
	c := &consumer{reader: reader, handler: h, attempts: 2, delay: time.Millisecond, logger: discard}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2, 3}, reader.commits(), "invalid messages are committed too")
	assert.Equal(t, []string{first.ID, second.ID}, h.seen)
}
