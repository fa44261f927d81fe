package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-matching/internal/models"
)

type NotificationStore interface {
	InsertNotification(ctx context.Context, n models.Notification) error
}

// InApp persists the notification so clients can list it later.
type InApp struct {
	Store NotificationStore
}

func (a InApp) Notify(ctx context.Context, userID string, n models.Notification) error {
	n.ID = uuid.NewString()
	n.UserID = userID
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	if err := a.Store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("dispatch.InApp.Notify: %w", err)
	}
	return nil
}
