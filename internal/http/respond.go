package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ticklist/api/internal/repository"
	"github.com/ticklist/api/internal/service/auth"
	"github.com/ticklist/api/internal/service/token"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// headerConflict marks version-guard rejections so clients can tell them
// apart from duplicate-email conflicts without parsing the message.
const headerConflict = "X-Conflict"

// respondServiceError maps service and repository failures to transport
// statuses. Messages stay generic: they never say whether a login factor or
// a record's ownership was the problem, and they never echo credentials.
func (r *Router) respondServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrVersionMismatch):
		w.Header().Set(headerConflict, "version-mismatch")
		writeError(w, http.StatusConflict, "version mismatch")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, token.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, http.StatusForbidden, "account inactive")
	case errors.Is(err, repository.ErrUnavailable):
		r.logger.Warn("store unavailable", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
