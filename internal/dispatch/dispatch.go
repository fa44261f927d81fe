// Package dispatch delivers notifications to users over every configured
// channel. Delivery is best-effort: callers log failures and move on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/observability"
)

type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

type Channel struct {
	Name     string
	Notifier Notifier
}

// Fanout sends each notification to every channel in order. An offline
// WebSocket user is not a failure.
type Fanout struct {
	Channels []Channel
	Logger   *slog.Logger
}

func (f *Fanout) Notify(ctx context.Context, userID string, n models.Notification) error {
	var errs []error
	for _, ch := range f.Channels {
		err := ch.Notifier.Notify(ctx, userID, n)
		if err == nil || errors.Is(err, ErrNoSession) {
			continue
		}
		observability.NotificationsFailedTotal.WithLabelValues(ch.Name).Inc()
		if f.Logger != nil {
			f.Logger.Warn("notification channel failed", "channel", ch.Name, "user_id", userID, "type", n.Type, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
	}
	return errors.Join(errs...)
}
