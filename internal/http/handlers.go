package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("malformed body: %v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d: %w", maxListLimit, models.ErrInvalidArgument)
	}
	return n, nil
}

type registerBody struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.Users.Register(r.Context(), callerID(r.Context()), body.DisplayName, body.PhotoURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reviews, err := s.ReviewLister.ListReviews(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": nonNil(reviews)})
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var in service.NewTrip
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Trips.Create(r.Context(), callerID(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Trips.Cancel(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capacityBody struct {
	AvailableCapacityKg float64 `json:"available_capacity_kg"`
}

func (s *Server) handleUpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var body capacityBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Trips.UpdateCapacity(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.AvailableCapacityKg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in service.NewRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.Requests.Create(r.Context(), callerID(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Requests.Cancel(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := models.MatchStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, fmt.Errorf("unknown status %q: %w", status, models.ErrInvalidArgument))
		return
	}
	matches, err := s.Matches.ListForUser(r.Context(), callerID(r.Context()), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": nonNil(matches)})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	m, err := s.Matches.Accept(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	s.writeMatch(w, r, m, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	m, err := s.Matches.Reject(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	s.writeMatch(w, r, m, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	m, err := s.Matches.Complete(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	s.writeMatch(w, r, m, err)
}

type advanceBody struct {
	Status models.MatchStatus `json:"status"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body advanceBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Matches.Advance(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.Status)
	s.writeMatch(w, r, m, err)
}

func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Matches.Cancel(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.Reason)
	s.writeMatch(w, r, m, err)
}

func (s *Server) writeMatch(w http.ResponseWriter, r *http.Request, m models.Match, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type reviewBody struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	rev, err := s.Reviews.Submit(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), body.Rating, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.Sweeper.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleWS holds the connection open until the client goes away. Inbound
// frames are read only to notice the close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := callerID(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", uid, "error", err)
		return
	}
	detach := s.Sessions.Attach(uid, conn)
	defer detach()
	s.logger.Debug("ws connected", "user_id", uid)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
