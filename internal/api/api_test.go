package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/identity"
	"github.com/starford/galleria/internal/metadata"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/session"
	"github.com/starford/galleria/internal/sse"
	"github.com/starford/galleria/internal/testutil"
)

const (
	testServiceToken = "svc-token"
	cookieName       = "galleria_session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeToken(t *testing.T, email string) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, err := json.Marshal(map[string]any{"email": email, "name": "Test User", "sub": "42"})
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".c2lnbmF0dXJl"
}

type offlineStore struct{}

func (offlineStore) FetchAll(context.Context) ([]models.PhotoMetadataRow, error) {
	return nil, fmt.Errorf("fetch: %w", apperr.ErrStoreUnavailable)
}

func (offlineStore) Upsert(context.Context, models.PhotoMetadataRow) error {
	return fmt.Errorf("upsert: %w", apperr.ErrStoreUnavailable)
}

type testEnv struct {
	router   http.Handler
	store    *metadata.SQLite
	broker   *sse.Broker
	provider *identity.Provider
	root     string
}

type envOptions struct {
	store  metadata.Store
	issuer string
}

// newTestEnv sets up a content dir with two PNGs, a SQLite metadata store,
// and the routes mounted the way the server mounts them.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	root := testutil.ContentDir(t, map[string][]byte{
		"a.png": testutil.PNG(t, 40, 20),
		"b.png": testutil.PNG(t, 40, 20),
	})
	src, err := content.NewFSSource(root, content.DefaultPrefix)
	if err != nil {
		t.Fatalf("NewFSSource: %v", err)
	}

	db := testutil.MetadataDB(t)

	var store metadata.Store = db
	if opts.store != nil {
		store = opts.store
	}
	issuer := opts.issuer
	if issuer == "" {
		issuer = "http://127.0.0.1:1"
	}

	broker := sse.NewBroker(10 * time.Millisecond)
	t.Cleanup(broker.Close)

	provider := identity.NewProvider(issuer, false, quietLogger())
	sessions := gallery.NewSessions(gallery.Deps{
		Store:     session.NewMemory(time.Hour),
		Provider:  provider,
		AllowList: identity.NewStaticAllowList([]string{"alice@example.com"}),
		Metadata:  store,
		Content:   src,
		Prefix:    content.DefaultPrefix,
		Events:    broker,
		Logger:    quietLogger(),
	}, time.Hour)

	h := NewHandler(Deps{
		Sessions:     sessions,
		Provider:     provider,
		ClientID:     "client-1",
		Content:      src,
		Thumbnails:   content.NewThumbnailer(src, content.DefaultThumbnailSize),
		Events:       broker,
		ServiceToken: testServiceToken,
	})

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(h))
	r.Mount(content.DefaultPrefix, NewContentRouter(h))
	r.Mount("/thumbnails", NewThumbnailRouter(h))

	return &testEnv{router: r, store: db, broker: broker, provider: provider, root: root}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// signIn posts a credential for email and returns the issued session cookie.
func (e *testEnv) signIn(t *testing.T, email string) (*http.Cookie, *httptest.ResponseRecorder) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/credential", CredentialRequest{Credential: makeToken(t, email)}, nil)
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c, w
		}
	}
	t.Fatalf("no session cookie issued")
	return nil, nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestSessionCookie_Attributes(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, http.MethodGet, "/api/auth/state", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Errorf("cookie attributes = %+v", c)
	}

	state := decode[models.AuthState](t, w)
	if state.IsAuthenticated || state.IsAuthorized || state.Identity != nil {
		t.Errorf("fresh session state = %+v", state)
	}

	// A valid cookie is reused, not reissued.
	w = env.do(t, http.MethodGet, "/api/auth/state", nil, c)
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie reissued for a known session")
	}
}

func TestPhotos_RequireSignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, http.MethodGet, "/api/photos", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decode[errResponse](t, w); body.Error == "" {
		t.Error("missing error message")
	}
}

func TestCredential_Authorized(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, w := env.signIn(t, "Alice@Example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	state := decode[models.AuthState](t, w)
	if !state.IsAuthenticated || !state.IsAuthorized || state.Error != nil {
		t.Fatalf("state = %+v", state)
	}
	if state.Identity.Email != "Alice@Example.com" {
		t.Errorf("email = %q", state.Identity.Email)
	}

	w = env.do(t, http.MethodGet, "/api/auth/state", nil, cookie)
	if got := decode[models.AuthState](t, w); !got.IsAuthorized {
		t.Errorf("state not kept for session: %+v", got)
	}
}

func TestCredential_Denied(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, w := env.signIn(t, "bob@example.com")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	state := decode[models.AuthState](t, w)
	if !state.IsAuthenticated || state.IsAuthorized {
		t.Fatalf("state = %+v", state)
	}
	if state.ErrorMessage() != identity.MsgAccessDenied {
		t.Errorf("error = %q", state.ErrorMessage())
	}

	w = env.do(t, http.MethodGet, "/api/photos", nil, cookie)
	if w.Code != http.StatusForbidden {
		t.Fatalf("photos status = %d, want 403", w.Code)
	}
	if body := decode[errResponse](t, w); body.Error != identity.MsgAccessDenied {
		t.Errorf("error = %q", body.Error)
	}
}

func TestCredential_Malformed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, http.MethodPost, "/api/auth/credential", CredentialRequest{Credential: "not-a-token"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	state := decode[models.AuthState](t, w)
	if state.IsAuthenticated || state.ErrorMessage() != identity.MsgAuthenticationFailed {
		t.Errorf("state = %+v", state)
	}

	w = env.do(t, http.MethodPost, "/api/auth/credential", CredentialRequest{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty credential status = %d, want 400", w.Code)
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, _ := env.signIn(t, "alice@example.com")

	w := env.do(t, http.MethodPost, "/api/auth/signout", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if state := decode[models.AuthState](t, w); state.IsAuthenticated {
		t.Errorf("state after sign-out = %+v", state)
	}
	if w := env.do(t, http.MethodGet, "/api/photos", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Errorf("photos after sign-out = %d, want 401", w.Code)
	}
}

func TestListPhotos(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if err := env.store.Upsert(context.Background(), models.PhotoMetadataRow{
		Path: "/content/b.png", Name: "Harbour", Favorite: true,
	}); err != nil {
		t.Fatal(err)
	}
	cookie, _ := env.signIn(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/api/photos", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	page := decode[gallery.PageResult](t, w)
	if page.TotalCount != 2 || len(page.Photos) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if p := page.Photos[0]; p.Path != "/content/a.png" || p.Name != "a.png" || p.URL != "/content/a.png" {
		t.Errorf("photos[0] = %+v", p)
	}
	if p := page.Photos[1]; p.Name != "Harbour" || !p.Favorite {
		t.Errorf("photos[1] = %+v", p)
	}

	w = env.do(t, http.MethodGet, "/api/photos?q=harb", nil, cookie)
	page = decode[gallery.PageResult](t, w)
	if page.Matches != 1 || page.Photos[0].Path != "/content/b.png" {
		t.Errorf("search page = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/api/photos?page=-1", nil, cookie)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative page status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/photos?page=4611686018427387904&per_page=4", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("huge page status = %d: %s", w.Code, w.Body.String())
	}
	if page = decode[gallery.PageResult](t, w); len(page.Photos) != 0 || page.TotalPages != 1 {
		t.Errorf("huge page = %+v", page)
	}
}

func TestToggleFavorite(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, _ := env.signIn(t, "alice@example.com")

	w := env.do(t, http.MethodPost, "/api/photos/favorite/content/a.png", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if p := decode[models.Photo](t, w); !p.Favorite || p.Path != "/content/a.png" {
		t.Errorf("photo = %+v", p)
	}

	rows, err := env.store.FetchAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Path != "/content/a.png" || !rows[0].Favorite {
		t.Errorf("rows = %+v", rows)
	}

	// Encoded slashes address the same photo.
	w = env.do(t, http.MethodGet, "/api/photos/item/%2Fcontent%2Fa.png", nil, cookie)
	if p := decode[models.Photo](t, w); !p.Favorite {
		t.Errorf("photo after toggle = %+v", p)
	}

	w = env.do(t, http.MethodPost, "/api/photos/favorite/content/missing.png", nil, cookie)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing photo status = %d, want 404", w.Code)
	}
}

func TestUpdatePhoto(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, _ := env.signIn(t, "alice@example.com")

	name, desc := "Pier", "Evening light"
	w := env.do(t, http.MethodPut, "/api/photos/item/content/b.png",
		UpdatePhotoRequest{Name: &name, Description: &desc}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	p := decode[models.Photo](t, w)
	if p.Name != "Pier" || p.Description != "Evening light" || p.Favorite {
		t.Errorf("photo = %+v", p)
	}
}

func TestPhotos_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t, envOptions{store: offlineStore{}})
	cookie, _ := env.signIn(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/api/photos", nil, cookie)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := decode[errResponse](t, w); body.Error != "metadata store unavailable" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestServiceToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/photos", nil)
	req.Header.Set("Authorization", "Bearer "+testServiceToken)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("service requests must not get a session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/photos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
}

func TestAuthConfig(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/certs",
		})
	}))
	defer srv.Close()

	env := newTestEnv(t, envOptions{issuer: srv.URL})
	w := env.do(t, http.MethodGet, "/api/auth/config", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	cfg := decode[AuthConfigResponse](t, w)
	if cfg.ClientID != "client-1" || cfg.Issuer != srv.URL || !cfg.Ready {
		t.Errorf("config = %+v", cfg)
	}
}

func TestAuthConfig_ProviderUnreachable(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, http.MethodGet, "/api/auth/config", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestServeContent(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	if w := env.do(t, http.MethodGet, "/content/a.png", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", w.Code)
	}

	cookie, _ := env.signIn(t, "alice@example.com")
	w := env.do(t, http.MethodGet, "/content/a.png", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	want, _ := os.ReadFile(filepath.Join(env.root, "a.png"))
	if !bytes.Equal(w.Body.Bytes(), want) {
		t.Error("body differs from file")
	}

	if w := env.do(t, http.MethodGet, "/content/missing.png", nil, cookie); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/content/notes.txt", nil, cookie); w.Code != http.StatusNotFound {
		t.Errorf("unsupported status = %d, want 404", w.Code)
	}
}

func TestServeThumbnail(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, _ := env.signIn(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/thumbnails/a.png", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/thumbnails/a.png", nil)
	req.AddCookie(cookie)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", w.Code)
	}
}

func TestWebSocket_ReceivesSessionEvents(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie, _ := env.signIn(t, "alice@example.com")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.broker.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.broker.PublishTo("someone-else", sse.Event{Type: sse.TypePhotoUpdated, Data: "x"})
	env.broker.PublishTo(cookie.Value, sse.Event{Type: sse.TypeManifestBuilt, Data: map[string]int{"totalCount": 2}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame sse.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	if frame.Type != sse.TypeManifestBuilt {
		t.Errorf("type = %q, want %q", frame.Type, sse.TypeManifestBuilt)
	}
}
