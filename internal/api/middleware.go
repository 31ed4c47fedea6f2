// Package api implements the galleria HTTP API using chi.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/galleria/internal/apperr"
)

// ServiceSessionID is the session used by requests carrying the service token.
const ServiceSessionID = "service"

type ctxKey int

const (
	sessionKey ctxKey = iota
	serviceKey
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// SessionID returns the session id attached by SessionMiddleware.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

func isService(ctx context.Context) bool {
	v, _ := ctx.Value(serviceKey).(bool)
	return v
}

// SessionMiddleware attaches a session id to every request.
//
// A request with "Authorization: Bearer <service token>" runs in the service
// session; a bearer header with any other token is rejected. Otherwise the id
// comes from the session cookie, which is issued when missing or malformed.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			if h.deps.ServiceToken == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.ServiceToken)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, ServiceSessionID)
			ctx = context.WithValue(ctx, serviceKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		id := ""
		if c, err := r.Cookie(h.deps.Cookie.Name); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     h.deps.Cookie.Name,
				Value:    id,
				Path:     "/",
				MaxAge:   int(h.deps.Cookie.MaxAge.Seconds()),
				HttpOnly: true,
				Secure:   h.deps.Cookie.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, id)))
	})
}

// RequireAuthorized rejects requests whose session is not signed in (401) or
// not on the allow-list (403). The service session always passes.
func (h *Handler) RequireAuthorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isService(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		state := h.session(r).Bridge.Current()
		switch {
		case !state.IsAuthenticated:
			writeError(w, r, "authorize", apperr.ErrUnauthenticated)
			return
		case !state.IsAuthorized:
			writeError(w, r, "authorize", apperr.ErrAuthorizationDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}
