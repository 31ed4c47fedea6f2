package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// makeToken builds an unsigned header.payload.signature credential.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".c2lnbmF0dXJl"
}

func aliceToken(t *testing.T) string {
	return makeToken(t, map[string]any{
		"email":   "Alice@Example.com",
		"name":    "Alice",
		"picture": "https://example.com/alice.png",
		"sub":     "1234567890",
	})
}

type testEnv struct {
	bridge *Bridge
	store  *session.Memory
	slot   *session.Scope
}

func newTestBridge(t *testing.T, allow AllowList) testEnv {
	t.Helper()
	store := session.NewMemory(time.Hour)
	slot := session.NewScope(store, "sid")
	p := NewProvider("", false, quietLogger())
	return testEnv{bridge: NewBridge(p, allow, slot, quietLogger()), store: store, slot: slot}
}

func TestCheckAuthorization_CaseInsensitive(t *testing.T) {
	env := newTestBridge(t, NewStaticAllowList([]string{"a@x.com"}))
	ctx := context.Background()

	if !env.bridge.CheckAuthorization(ctx, "A@X.COM") {
		t.Error("A@X.COM should be authorized")
	}
	if env.bridge.CheckAuthorization(ctx, "b@x.com") {
		t.Error("b@x.com should not be authorized")
	}
}

type failingAllowList struct{ panics bool }

func (f failingAllowList) Contains(context.Context, string) (bool, error) {
	if f.panics {
		panic("boom")
	}
	return false, errors.New("sheet unreachable")
}

func TestCheckAuthorization_FailsClosed(t *testing.T) {
	ctx := context.Background()
	for _, allow := range []AllowList{failingAllowList{}, failingAllowList{panics: true}, nil} {
		env := newTestBridge(t, allow)
		if env.bridge.CheckAuthorization(ctx, "a@x.com") {
			t.Errorf("allow-list %#v should fail closed", allow)
		}
	}
}

func TestHandleCredential_Authorized(t *testing.T) {
	env := newTestBridge(t, NewStaticAllowList([]string{"alice@example.com"}))
	ctx := context.Background()

	var got []models.AuthState
	unsub := env.bridge.Subscribe(func(s models.AuthState) { got = append(got, s) })
	defer unsub()

	state, err := env.bridge.HandleCredential(ctx, aliceToken(t))
	if err != nil {
		t.Fatalf("HandleCredential: %v", err)
	}
	if !state.IsAuthenticated || !state.IsAuthorized || state.Error != nil {
		t.Fatalf("state = %+v", state)
	}
	if state.Identity.Email != "Alice@Example.com" || state.Identity.Subject != "1234567890" ||
		state.Identity.DisplayName != "Alice" || state.Identity.PictureURL != "https://example.com/alice.png" {
		t.Errorf("identity = %+v", state.Identity)
	}
	if env.bridge.Phase() != PhaseAuthorized {
		t.Errorf("phase = %v", env.bridge.Phase())
	}
	if len(got) != 1 || !got[0].IsAuthorized {
		t.Errorf("notifications = %+v", got)
	}

	raw, err := env.slot.Get(ctx, session.KeyAuthState)
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	var persisted models.AuthState
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		t.Fatal(err)
	}
	if !persisted.IsAuthorized || persisted.Identity.Email != "Alice@Example.com" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestHandleCredential_Denied(t *testing.T) {
	env := newTestBridge(t, NewStaticAllowList([]string{"bob@example.com"}))

	state, err := env.bridge.HandleCredential(context.Background(), aliceToken(t))
	if !errors.Is(err, apperr.ErrAuthorizationDenied) {
		t.Fatalf("err = %v, want ErrAuthorizationDenied", err)
	}
	if !state.IsAuthenticated || state.IsAuthorized {
		t.Errorf("state = %+v", state)
	}
	if state.ErrorMessage() != MsgAccessDenied {
		t.Errorf("error = %q", state.ErrorMessage())
	}
	if env.bridge.Phase() != PhaseDenied {
		t.Errorf("phase = %v", env.bridge.Phase())
	}
}

func TestHandleCredential_Malformed(t *testing.T) {
	cases := map[string]string{
		"not a token":   "garbage",
		"two segments":  "abc.def",
		"bad base64":    "e30.!!!.sig",
		"payload !json": "e30." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".sig",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestBridge(t, NewStaticAllowList([]string{"alice@example.com"}))
			ctx := context.Background()

			// A previous good session must not survive a failed exchange.
			if _, err := env.bridge.HandleCredential(ctx, aliceToken(t)); err != nil {
				t.Fatal(err)
			}

			var got []models.AuthState
			env.bridge.Subscribe(func(s models.AuthState) { got = append(got, s) })

			state, err := env.bridge.HandleCredential(ctx, raw)
			if !errors.Is(err, apperr.ErrAuthentication) {
				t.Fatalf("err = %v, want ErrAuthentication", err)
			}
			if state.IsAuthenticated || state.IsAuthorized || state.Identity != nil {
				t.Errorf("partial state published: %+v", state)
			}
			if state.ErrorMessage() != MsgAuthenticationFailed {
				t.Errorf("error = %q", state.ErrorMessage())
			}
			if env.bridge.Phase() != PhaseError {
				t.Errorf("phase = %v", env.bridge.Phase())
			}
			if len(got) != 1 {
				t.Errorf("notifications = %d, want 1", len(got))
			}
			if _, err := env.slot.Get(ctx, session.KeyAuthState); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("persisted state survived failed exchange: %v", err)
			}
		})
	}
}

func TestHandleCredential_MissingEmail(t *testing.T) {
	env := newTestBridge(t, NewStaticAllowList([]string{"alice@example.com"}))
	raw := makeToken(t, map[string]any{"sub": "1", "name": "No Mail"})
	if _, err := env.bridge.HandleCredential(context.Background(), raw); !errors.Is(err, apperr.ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
}

func TestDecodeUnverified_HeaderWithoutAlg(t *testing.T) {
	enc := base64.RawURLEncoding
	payload, _ := json.Marshal(map[string]any{"email": "alice@example.com", "name": "Alice", "sub": "42"})
	for name, header := range map[string]string{
		"no alg":      `{"typ":"JWT"}`,
		"unknown alg": `{"alg":"XX999","typ":"JWT"}`,
	} {
		t.Run(name, func(t *testing.T) {
			raw := enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString(payload) + ".sig"
			id, err := DecodeUnverified(raw)
			if err != nil {
				t.Fatalf("DecodeUnverified: %v", err)
			}
			if id.Email != "alice@example.com" || id.Subject != "42" {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

func TestSignOut(t *testing.T) {
	env := newTestBridge(t, NewStaticAllowList([]string{"alice@example.com"}))
	ctx := context.Background()
	_, _ = env.bridge.HandleCredential(ctx, aliceToken(t))

	var got []models.AuthState
	env.bridge.Subscribe(func(s models.AuthState) { got = append(got, s) })

	state := env.bridge.SignOut(ctx)
	if state != models.SignedOutState() {
		t.Errorf("state = %+v", state)
	}
	if env.bridge.Phase() != PhaseSignedOut {
		t.Errorf("phase = %v", env.bridge.Phase())
	}
	if len(got) != 1 || got[0].IsAuthenticated {
		t.Errorf("notifications = %+v", got)
	}
	if _, err := env.slot.Get(ctx, session.KeyAuthState); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("persisted state not cleared: %v", err)
	}
}

func TestRestoreSession(t *testing.T) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		env := newTestBridge(t, nil)
		if got := env.bridge.RestoreSession(ctx); got != models.SignedOutState() {
			t.Errorf("state = %+v", got)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		env := newTestBridge(t, nil)
		_ = env.slot.Set(ctx, session.KeyAuthState, "{not json")
		if got := env.bridge.RestoreSession(ctx); got != models.SignedOutState() {
			t.Errorf("state = %+v", got)
		}
	})

	t.Run("violates invariant", func(t *testing.T) {
		env := newTestBridge(t, nil)
		_ = env.slot.Set(ctx, session.KeyAuthState, `{"isAuthenticated":false,"isAuthorized":true}`)
		if got := env.bridge.RestoreSession(ctx); got.IsAuthorized {
			t.Errorf("state = %+v", got)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		env := newTestBridge(t, NewStaticAllowList([]string{"alice@example.com"}))
		_, _ = env.bridge.HandleCredential(ctx, aliceToken(t))

		fresh := NewBridge(NewProvider("", false, quietLogger()), nil, env.slot, quietLogger())
		got := fresh.RestoreSession(ctx)
		if !got.IsAuthorized || got.Identity == nil || got.Identity.Subject != "1234567890" {
			t.Errorf("state = %+v", got)
		}
		if fresh.Phase() != PhaseAuthorized {
			t.Errorf("phase = %v", fresh.Phase())
		}
	})
}

func TestEmitter(t *testing.T) {
	var e Emitter
	var a, b int
	unsubA := e.Subscribe(func(models.AuthState) { a++ })
	e.Subscribe(func(models.AuthState) { b++ })

	e.Notify(models.SignedOutState())
	unsubA()
	unsubA()
	e.Notify(models.SignedOutState())

	if a != 1 || b != 2 {
		t.Errorf("a = %d, b = %d", a, b)
	}
	if e.Len() != 1 {
		t.Errorf("Len = %d", e.Len())
	}
}

func TestEmitter_UnsubscribeDuringNotify(t *testing.T) {
	var e Emitter
	var unsub func()
	calls := 0
	unsub = e.Subscribe(func(models.AuthState) {
		calls++
		unsub()
	})
	e.Notify(models.SignedOutState())
	e.Notify(models.SignedOutState())
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

// blockingAllowList holds Contains until released.
type blockingAllowList struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAllowList) Contains(context.Context, string) (bool, error) {
	b.entered <- struct{}{}
	<-b.release
	return true, nil
}

func TestHandleCredential_StaleResultDiscarded(t *testing.T) {
	allow := &blockingAllowList{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestBridge(t, allow)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = env.bridge.HandleCredential(ctx, aliceToken(t))
	}()
	<-allow.entered

	// Sign-out lands while the credential check is still in flight.
	env.bridge.SignOut(ctx)
	close(allow.release)
	wg.Wait()

	if env.bridge.Current().IsAuthenticated {
		t.Errorf("stale credential result overwrote sign-out: %+v", env.bridge.Current())
	}
	if _, err := env.slot.Get(ctx, session.KeyAuthState); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale state persisted: %v", err)
	}
}

// discoveryServer serves a minimal OpenID configuration and counts revocations.
func discoveryServer(t *testing.T, revoked *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/auth",
			"token_endpoint":                        srv.URL + "/token",
			"jwks_uri":                              srv.URL + "/certs",
			"revocation_endpoint":                   srv.URL + "/revoke",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) > 0 {
			revoked.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderInitialize(t *testing.T) {
	var revoked atomic.Int32
	srv := discoveryServer(t, &revoked)
	p := NewProvider(srv.URL, false, quietLogger()).WithHTTPClient(srv.Client())
	ctx := context.Background()

	if err := p.Ready(); !errors.Is(err, apperr.ErrInitialization) {
		t.Errorf("Ready before init = %v", err)
	}
	if err := p.Initialize(ctx, "client-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Initialize(ctx, "client-1"); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if err := p.Ready(); err != nil {
		t.Errorf("Ready = %v", err)
	}
	if p.ClientID() != "client-1" {
		t.Errorf("ClientID = %q", p.ClientID())
	}

	// Sign-out revokes the last credential.
	slot := session.NewScope(session.NewMemory(time.Hour), "sid")
	b := NewBridge(p, NewStaticAllowList([]string{"alice@example.com"}), slot, quietLogger())
	_, _ = b.HandleCredential(ctx, aliceToken(t))
	b.SignOut(ctx)
	if revoked.Load() != 1 {
		t.Errorf("revocations = %d, want 1", revoked.Load())
	}
}

func TestProviderInitialize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := NewProvider(srv.URL, false, quietLogger())
	err := p.Initialize(context.Background(), "client-1")
	if !errors.Is(err, apperr.ErrInitialization) {
		t.Fatalf("err = %v, want ErrInitialization", err)
	}
	if !errors.Is(p.Ready(), apperr.ErrInitialization) {
		t.Errorf("Ready = %v", p.Ready())
	}
}

func TestSignOut_RevokeFailureIsNonFatal(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":              srv.URL,
			"jwks_uri":            srv.URL + "/certs",
			"revocation_endpoint": srv.URL + "/revoke",
		})
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	p := NewProvider(srv.URL, false, quietLogger()).WithHTTPClient(srv.Client())
	if err := p.Initialize(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	slot := session.NewScope(session.NewMemory(time.Hour), "sid")
	b := NewBridge(p, NewStaticAllowList([]string{"alice@example.com"}), slot, quietLogger())
	_, _ = b.HandleCredential(context.Background(), aliceToken(t))

	if state := b.SignOut(context.Background()); state.IsAuthenticated {
		t.Errorf("state = %+v", state)
	}
}

type staticEmails []string

func (s staticEmails) AuthorizedEmails(context.Context) ([]string, error) { return s, nil }

func TestSourceAllowList(t *testing.T) {
	l := NewSourceAllowList(staticEmails{" Carol@Example.com ", ""})
	ok, err := l.Contains(context.Background(), "carol@example.COM")
	if err != nil || !ok {
		t.Errorf("Contains = %v, %v", ok, err)
	}
}
