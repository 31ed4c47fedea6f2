package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/checksum"
	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/identity"
	"github.com/starford/galleria/internal/sse"
)

const maxBodyBytes = 64 << 10

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Sessions     *gallery.Sessions
	Provider     *identity.Provider
	ClientID     string
	Content      content.Source
	Thumbnails   *content.Thumbnailer
	Events       *sse.Broker
	Cookie       CookieConfig
	ServiceToken string
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Cookie.Name == "" {
		deps.Cookie.Name = "galleria_session"
	}
	return &Handler{deps: deps}
}

func (h *Handler) session(r *http.Request) *gallery.Session {
	return h.deps.Sessions.Get(r.Context(), SessionID(r.Context()))
}

// wildcard extracts the decoded remainder of the URL matched by "*".
// Supports encoded slashes (e.g. %2Fcontent%2Fa.jpg).
func wildcard(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// photoPath returns the public photo path addressed by the request. Photo
// paths are absolute, so a missing leading slash is restored.
func photoPath(r *http.Request) string {
	p := wildcard(r)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// AuthConfig handles GET /api/auth/config.
//
//	@Summary		Identity provider settings for the sign-in button
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	AuthConfigResponse
//	@Failure		503	{object}	errResponse
//	@Router			/auth/config [get]
func (h *Handler) AuthConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Provider.Ready(); err != nil {
		if err := h.deps.Provider.Initialize(r.Context(), h.deps.ClientID); err != nil {
			writeError(w, r, "identity initialize", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, AuthConfigResponse{
		ClientID: h.deps.Provider.ClientID(),
		Issuer:   h.deps.Provider.Issuer(),
		Ready:    true,
	})
}

// HandleCredential handles POST /api/auth/credential.
//
// Authentication and authorization failures still answer with the published
// state so the client can render the error message.
//
//	@Summary		Submit a provider credential
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CredentialRequest	true	"Credential"
//	@Success		200		{object}	AuthState
//	@Failure		401		{object}	AuthState
//	@Failure		403		{object}	AuthState
//	@Router			/auth/credential [post]
func (h *Handler) HandleCredential(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("credential is required"))
		return
	}

	state, err := h.session(r).Bridge.HandleCredential(r.Context(), req.Credential)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			writeError(w, r, "handle credential", err)
			return
		}
		writeJSON(w, status, state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// AuthState handles GET /api/auth/state.
//
//	@Summary		Current authentication state
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	AuthState
//	@Router			/auth/state [get]
func (h *Handler) AuthState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Bridge.Current())
}

// SignOut handles POST /api/auth/signout.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	state := sess.Bridge.SignOut(r.Context())
	sess.Gallery.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, state)
}

// ListPhotos handles GET /api/photos.
//
//	@Summary		One page of the filtered gallery
//	@Tags			photos
//	@Produce		json
//	@Param			q			query		string	false	"Search term"
//	@Param			page		query		int		false	"Zero-based page"
//	@Param			per_page	query		int		false	"Page size"
//	@Success		200			{object}	PhotoPage
//	@Failure		401			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Router			/photos [get]
func (h *Handler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q, "page")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid page"))
		return
	}
	perPage, err := queryInt(q, "per_page")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid per_page"))
		return
	}

	result, err := h.session(r).Gallery.Page(r.Context(), gallery.PageQuery{
		Term:    q.Get("q"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		writeError(w, r, "list photos", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

// RefreshPhotos handles POST /api/photos/refresh.
//
//	@Summary		Rebuild the manifest from content and metadata
//	@Tags			photos
//	@Produce		json
//	@Success		200	{object}	PhotoManifest
//	@Failure		503	{object}	errResponse
//	@Router			/photos/refresh [post]
func (h *Handler) RefreshPhotos(w http.ResponseWriter, r *http.Request) {
	m, err := h.session(r).Gallery.Refresh(r.Context())
	if err != nil {
		writeError(w, r, "refresh photos", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPhoto handles GET /api/photos/item/*.
func (h *Handler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	p := photoPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	photo, err := h.session(r).Gallery.Photo(r.Context(), p)
	if err != nil {
		writeError(w, r, "get photo", err)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// UpdatePhoto handles PUT /api/photos/item/*.
//
//	@Summary		Update a photo's name, favorite flag or description
//	@Tags			photos
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Photo path"
//	@Param			body	body		UpdatePhotoRequest	true	"Fields to change"
//	@Success		200		{object}	Photo
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Router			/photos/item/{path} [put]
func (h *Handler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	p := photoPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req UpdatePhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	photo, err := h.session(r).Gallery.SavePhoto(r.Context(), p, req.patch())
	if err != nil {
		writeError(w, r, "update photo", err)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// ToggleFavorite handles POST /api/photos/favorite/*.
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	p := photoPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	photo, err := h.session(r).Gallery.ToggleFavorite(r.Context(), p)
	if err != nil {
		writeError(w, r, "toggle favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// MarkLoaded handles POST /api/photos/loaded/*.
func (h *Handler) MarkLoaded(w http.ResponseWriter, r *http.Request) {
	p := photoPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	photo, err := h.session(r).Gallery.MarkLoaded(r.Context(), p)
	if err != nil {
		writeError(w, r, "mark loaded", err)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// Events handles GET /api/events as a server-sent event stream.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.deps.Events.Serve(w, r, SessionID(r.Context()))
}

// ServeContent handles GET {prefix}/*, streaming an image from the content source.
func (h *Handler) ServeContent(w http.ResponseWriter, r *http.Request) {
	rel := wildcard(r)
	if !content.IsSupported(rel) {
		http.NotFound(w, r)
		return
	}
	rc, err := h.deps.Content.Open(r.Context(), rel)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("serve content failed", slog.String("path", rel), slog.String("error", err.Error()))
		http.Error(w, "content unavailable", http.StatusBadGateway)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", content.ContentType(rel))
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(rel), time.Time{}, rs)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("serve content interrupted", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// ServeThumbnail handles GET /thumbnails/*, answering with a JPEG preview.
func (h *Handler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	rel := wildcard(r)
	if !content.IsSupported(rel) {
		http.NotFound(w, r)
		return
	}
	thumb, err := h.deps.Thumbnails.Get(r.Context(), rel)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("thumbnail failed", slog.String("path", rel), slog.String("error", err.Error()))
		http.Error(w, "thumbnail unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("ETag", thumb.ETag)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if checksum.Match(r.Header.Get("If-None-Match"), thumb.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(thumb.Data)))
	_, _ = w.Write(thumb.Data)
}
