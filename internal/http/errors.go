package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/delivery-matching/internal/models"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

// writeError maps the shared error taxonomy onto HTTP statuses. Internal
// errors are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", message(err))
	case errors.Is(err, models.ErrPermissionDenied):
		writeErrorCode(w, http.StatusForbidden, "permission_denied", message(err))
	case errors.Is(err, models.ErrInvalidState):
		writeErrorCode(w, http.StatusConflict, "invalid_state", message(err))
	case errors.Is(err, models.ErrAlreadyExists):
		writeErrorCode(w, http.StatusConflict, "already_exists", message(err))
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorCode(w, http.StatusUnprocessableEntity, "invalid_argument", message(err))
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"route", routeTemplate(r),
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// message drops the "pkg.Type.Method: " prefixes layers add when wrapping,
// leaving the part meant for the caller.
func message(err error) string {
	msg := err.Error()
	for {
		i := strings.Index(msg, ": ")
		if i < 0 || strings.ContainsAny(msg[:i], " ") || !strings.Contains(msg[:i], ".") {
			return msg
		}
		msg = msg[i+2:]
	}
}
