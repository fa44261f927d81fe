package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/observability"
)

const maxBackoff = 30 * time.Second

var errDuplicate = errors.New("event already processed")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type consumer struct {
	reader   messageReader
	handler  events.Handler
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// run reads until ctx is done. A message is committed once it was handled,
// found to be a duplicate, or failed permanently, so a crash mid-handling
// redelivers it.
func (c *consumer) run(ctx context.Context) {
	backoff := time.Second
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("shutting down consumer")
				return
			}
			c.logger.Warn("kafka fetch failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		c.process(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "offset", m.Offset, "partition", m.Partition, "error", err)
		}
	}
}

func (c *consumer) process(ctx context.Context, m kafka.Message) {
	e, err := events.Decode(m.Value)
	if err != nil {
		observability.EventsConsumedTotal.WithLabelValues("unknown", "invalid").Inc()
		c.logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return
	}

	err = handleWithRetry(ctx, c.handler, e, c.attempts, c.delay)
	switch {
	case err == nil:
		observability.EventsConsumedTotal.WithLabelValues(string(e.Type), "ok").Inc()
	case errors.Is(err, errDuplicate):
		observability.EventsConsumedTotal.WithLabelValues(string(e.Type), "duplicate").Inc()
		c.logger.Debug("duplicate event skipped", "event_id", e.ID, "type", e.Type)
	default:
		observability.EventsConsumedTotal.WithLabelValues(string(e.Type), "failed").Inc()
		c.logger.Error("event handling failed",
			"event_id", e.ID,
			"type", e.Type,
			"trip_id", e.TripID,
			"request_id", e.RequestID,
			"error", err,
		)
	}
}

// handleWithRetry retries transient failures with doubling delay. Bad input,
// missing documents and duplicates are not retried.
func handleWithRetry(ctx context.Context, h events.Handler, e events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = h.Handle(ctx, e); err == nil || permanent(err) {
			return err
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func permanent(err error) bool {
	return errors.Is(err, errDuplicate) ||
		errors.Is(err, models.ErrInvalidArgument) ||
		errors.Is(err, models.ErrNotFound)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processedMarks records the ids of events that were handled to completion.
type processedMarks interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string, ttl time.Duration) error
}

type markClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type redisMarks struct {
	client markClient
	prefix string
}

func (r redisMarks) Seen(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("consumer.redisMarks.Seen: %w", err)
	}
	return n > 0, nil
}

func (r redisMarks) Mark(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+id, 1, ttl).Err(); err != nil {
		return fmt.Errorf("consumer.redisMarks.Mark: %w", err)
	}
	return nil
}

// dedup skips events that were already handled to completion. The mark is
// written only after the handler returns nil, so an event interrupted
// mid-handling is handled again when Kafka redelivers it.
type dedup struct {
	next   events.Handler
	marks  processedMarks
	ttl    time.Duration
	logger *slog.Logger
}

func (d *dedup) Handle(ctx context.Context, e events.Event) error {
	seen, err := d.marks.Seen(ctx, e.ID)
	switch {
	case err != nil:
		d.logger.Warn("dedup unavailable; handling anyway", "event_id", e.ID, "error", err)
	case seen:
		return errDuplicate
	}
	if err := d.next.Handle(ctx, e); err != nil {
		return err
	}
	if err := d.marks.Mark(context.WithoutCancel(ctx), e.ID, d.ttl); err != nil {
		d.logger.Warn("dedup mark failed", "event_id", e.ID, "error", err)
	}
	return nil
}
