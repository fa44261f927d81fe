// Package httpapi exposes the delivery-matching operations as a JSON API.
// Caller identity arrives in the X-User-ID header, set by the gateway after
// it verifies the session.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/service"
	"github.com/example/delivery-matching/internal/sweep"
)

type Users interface {
	Register(ctx context.Context, uid, displayName, photoURL string) (models.User, error)
	Get(ctx context.Context, uid string) (models.User, error)
}

type Trips interface {
	Create(ctx context.Context, travelerID string, in service.NewTrip) (models.Trip, error)
	Get(ctx context.Context, id string) (models.Trip, error)
	Cancel(ctx context.Context, tripID, userID, reason string) error
	UpdateCapacity(ctx context.Context, tripID, userID string, kg float64) (models.Trip, error)
}

type Requests interface {
	Create(ctx context.Context, requesterID string, in service.NewRequest) (models.Request, error)
	Get(ctx context.Context, id string) (models.Request, error)
	Cancel(ctx context.Context, requestID, userID, reason string) error
}

type Matches interface {
	Accept(ctx context.Context, matchID, userID string) (models.Match, error)
	Reject(ctx context.Context, matchID, userID string) (models.Match, error)
	Complete(ctx context.Context, matchID, userID string) (models.Match, error)
	Advance(ctx context.Context, matchID, userID string, to models.MatchStatus) (models.Match, error)
	Cancel(ctx context.Context, matchID, userID, reason string) (models.Match, error)
	ListForUser(ctx context.Context, userID string, status models.MatchStatus, limit int) ([]models.Match, error)
}

type Reviews interface {
	Submit(ctx context.Context, matchID, reviewerID string, rating int, comment string) (models.Review, error)
}

type ReviewLister interface {
	ListReviews(ctx context.Context, uid string, limit int) ([]models.Review, error)
}

type Sweeper interface {
	Run(ctx context.Context) (sweep.Result, error)
}

// Sessions attaches a live WebSocket connection to a user.
type Sessions interface {
	Attach(userID string, conn *websocket.Conn) (detach func())
}

type Server struct {
	Users        Users
	Trips        Trips
	Requests     Requests
	Matches      Matches
	Reviews      Reviews
	ReviewLister ReviewLister
	Sweeper      Sweeper
	Sessions     Sessions

	mux      *mux.Router
	handler  http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithCORS restricts cross-origin browser access to origins. "*" allows any.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", headerUserID, headerRequestID},
		}).Handler(s.mux)
	}
}

// NewServer wires s's routes. Fields must be set before the first request.
func NewServer(s *Server, opts ...Option) *Server {
	s.mux = mux.NewRouter()
	s.logger = slog.Default()
	s.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	s.handler = s.mux
	s.registerMiddleware()
	s.routes()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.mux.HandleFunc("/internal/sweep", s.handleSweep).Methods(http.MethodPost)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(requireUser)
	api.HandleFunc("/users", s.handleRegisterUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/reviews", s.handleListReviews).Methods(http.MethodGet)

	api.HandleFunc("/trips", s.handleCreateTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}/cancel", s.handleCancelTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}/capacity", s.handleUpdateCapacity).Methods(http.MethodPatch)

	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods(http.MethodPost)

	api.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/reject", s.handleReject).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/advance", s.handleAdvance).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/cancel", s.handleCancelMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/reviews", s.handleSubmitReview).Methods(http.MethodPost)

	s.mux.Handle("/ws", requireUser(http.HandlerFunc(s.handleWS))).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }
