package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-matching/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession is one connected client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(n)
}

// WSRegistry holds the live session of each connected user. A new
// connection replaces the previous one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops s if it is still the user's current session.
func (r *WSRegistry) Remove(userID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Notify(_ context.Context, userID string, n models.Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		r.Remove(userID, s)
		return err
	}
	return nil
}

// Attach registers conn as the user's session. The returned func removes
// it and closes the connection.
func (r *WSRegistry) Attach(userID string, conn *websocket.Conn) func() {
	s := r.Add(userID, conn)
	return func() {
		r.Remove(userID, s)
		_ = conn.Close()
	}
}
