package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ticklist/api/internal/repository"
)

type authContextKey string

type authInfo struct {
	UserID string
}

const contextKeyAuth authContextKey = "ticklist-auth-info"

// auditActor is planted in the context by the audit middleware and filled in
// by requireAuth once the caller is known, so access logs can name the user
// even though authentication happens further down the chain.
type auditActor struct {
	userID string
}

const contextKeyActor authContextKey = "ticklist-audit-actor"

// requireAuth validates the bearer token and enriches the request context
// with the authenticated user before invoking the next handler.
func (r *Router) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := r.auth.Authorize(req.Context(), raw)
		if err != nil {
			if errors.Is(err, repository.ErrUnavailable) {
				r.respondServiceError(w, req, err)
				return
			}
			r.logger.Warn("token validation failed", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if actor, ok := req.Context().Value(contextKeyActor).(*auditActor); ok {
			actor.userID = user.ID
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{UserID: user.ID})
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
