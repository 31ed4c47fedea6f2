package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes, meant to be mounted at /api.
// Auth routes only need a session; everything else requires an authorized
// session or the service token.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(h.SessionMiddleware)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/config", h.AuthConfig)
		r.Post("/credential", h.HandleCredential)
		r.Get("/state", h.AuthState)
		r.Post("/signout", h.SignOut)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuthorized)

		r.Get("/photos", h.ListPhotos)
		r.Post("/photos/refresh", h.RefreshPhotos)
		r.Get("/photos/item/*", h.GetPhoto)
		r.Put("/photos/item/*", h.UpdatePhoto)
		r.Post("/photos/favorite/*", h.ToggleFavorite)
		r.Post("/photos/loaded/*", h.MarkLoaded)

		r.Get("/events", h.Events)
		r.Get("/ws", h.WebSocket)
	})

	return r
}

// NewContentRouter serves image bytes; mount it at the content prefix.
func NewContentRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(h.SessionMiddleware, h.RequireAuthorized)
	r.Get("/*", h.ServeContent)
	return r
}

// NewThumbnailRouter serves JPEG previews; mount it at /thumbnails.
func NewThumbnailRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(h.SessionMiddleware, h.RequireAuthorized)
	r.Get("/*", h.ServeThumbnail)
	return r
}
