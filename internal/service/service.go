// Package service owns the writes a client makes to trips, requests, users
// and reviews. Each write validates its input, persists through the store
// and publishes the event that drives matching, cascades and ratings.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

type UserReader interface {
	GetUser(ctx context.Context, uid string) (models.User, error)
}

// publish logs a failed publish instead of returning it: the document is
// already committed and the caller's write succeeded.
// TODO: write events to an outbox table in the same transaction as the document
// so a failed publish is retried by a relay instead of being dropped.
func publish(ctx context.Context, p Publisher, log *slog.Logger, e events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		orDefault(log).Error("publish event",
			"event_id", e.ID,
			"type", e.Type,
			"trip_id", e.TripID,
			"request_id", e.RequestID,
			"error", err,
		)
	}
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now()
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// blank takes name/value pairs and returns the names whose value is empty
// after trimming.
func blank(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}
