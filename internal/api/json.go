package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/identity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps a classified error to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "not signed in"
	case errors.Is(err, apperr.ErrAuthentication):
		return http.StatusUnauthorized, identity.MsgAuthenticationFailed
	case errors.Is(err, apperr.ErrAuthorizationDenied):
		return http.StatusForbidden, identity.MsgAccessDenied
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrInitialization):
		return http.StatusServiceUnavailable, "identity provider unavailable"
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "metadata store unavailable"
	case errors.Is(err, apperr.ErrManifestBuild):
		return http.StatusInternalServerError, "manifest build failed"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError logs err and writes the mapped error response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	} else {
		slog.Debug(op+" rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(msg))
}
