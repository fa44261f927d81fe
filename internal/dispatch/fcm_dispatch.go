package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/delivery-matching/internal/models"
)

// FCMDispatcher posts to the FCM HTTP v1 send endpoint. Devices subscribe to
// the topic "user-<uid>", so no token registry is needed here.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type fcmMessage struct {
	Message fcmBody `json:"message"`
}

type fcmBody struct {
	Topic        string            `json:"topic"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (f *FCMDispatcher) Notify(ctx context.Context, userID string, n models.Notification) error {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = n.Type

	b, err := json.Marshal(fcmMessage{Message: fcmBody{
		Topic:        "user-" + userID,
		Notification: fcmNotification{Title: n.Title, Body: n.Body},
		Data:         data,
	}})
	if err != nil {
		return fmt.Errorf("dispatch.FCMDispatcher.Notify: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("dispatch.FCMDispatcher.Notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch.FCMDispatcher.Notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("dispatch.FCMDispatcher.Notify: status %d", resp.StatusCode)
	}
	return nil
}
