package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/session"
)

// User-visible messages carried in AuthState.Error.
const (
	MsgAuthenticationFailed = "Authentication failed"
	MsgAccessDenied         = "Access denied. Your email is not authorized."
)

// Phase is the position of a Bridge in the sign-in state machine.
type Phase int

const (
	PhaseSignedOut Phase = iota
	PhaseCredentialReceived
	PhaseAuthorized
	PhaseDenied
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseSignedOut:
		return "signed_out"
	case PhaseCredentialReceived:
		return "credential_received"
	case PhaseAuthorized:
		return "authorized"
	case PhaseDenied:
		return "denied"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Bridge owns the authentication state of one session: it decodes
// credentials, checks them against the allow-list, persists the result and
// notifies subscribers.
type Bridge struct {
	provider *Provider
	allow    AllowList
	slot     session.KV
	logger   *slog.Logger
	events   Emitter

	mu         sync.Mutex
	seq        uint64
	phase      Phase
	state      models.AuthState
	credential string
}

// NewBridge creates a bridge persisting into slot.
func NewBridge(provider *Provider, allow AllowList, slot session.KV, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		provider: provider,
		allow:    allow,
		slot:     slot,
		logger:   logger,
		state:    models.SignedOutState(),
	}
}

// Initialize configures the shared provider with clientID. It is idempotent.
func (b *Bridge) Initialize(ctx context.Context, clientID string) error {
	return b.provider.Initialize(ctx, clientID)
}

// HandleCredential decodes rawToken, checks the identity against the
// allow-list and publishes the resulting state.
//
// A token that cannot be decoded publishes an unauthenticated error state and
// returns apperr.ErrAuthentication. A decoded identity that is not on the
// allow-list publishes an authenticated but unauthorized state and returns
// apperr.ErrAuthorizationDenied.
func (b *Bridge) HandleCredential(ctx context.Context, rawToken string) (models.AuthState, error) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.phase = PhaseCredentialReceived
	b.mu.Unlock()

	ident, err := b.provider.Decode(ctx, rawToken)
	if err != nil {
		b.logger.Warn("identity: credential rejected", slog.String("error", err.Error()))
		msg := MsgAuthenticationFailed
		state := models.AuthState{Error: &msg}
		if !b.commit(ctx, seq, PhaseError, state, "") {
			return b.Current(), context.Cause(ctx)
		}
		if errors.Is(err, apperr.ErrInitialization) {
			return state, err
		}
		return state, fmt.Errorf("%w: %w", apperr.ErrAuthentication, err)
	}

	authorized := b.CheckAuthorization(ctx, ident.Email)

	state := models.AuthState{
		IsAuthenticated: true,
		IsAuthorized:    authorized,
		Identity:        &ident,
	}
	phase := PhaseAuthorized
	if !authorized {
		msg := MsgAccessDenied
		state.Error = &msg
		phase = PhaseDenied
	}
	if !b.commit(ctx, seq, phase, state, rawToken) {
		return b.Current(), context.Cause(ctx)
	}

	b.logger.Info("identity: credential accepted",
		slog.String("email", ident.Email),
		slog.Bool("authorized", authorized))
	if !authorized {
		return state, apperr.ErrAuthorizationDenied
	}
	return state, nil
}

// CheckAuthorization reports whether email is on the allow-list, ignoring
// case. Any failure counts as not authorized.
func (b *Bridge) CheckAuthorization(ctx context.Context, email string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("identity: allow-list check panicked", slog.Any("panic", r))
			ok = false
		}
	}()
	if b.allow == nil {
		return false
	}
	ok, err := b.allow.Contains(ctx, email)
	if err != nil {
		b.logger.Warn("identity: allow-list check failed", slog.String("error", err.Error()))
		return false
	}
	return ok
}

// SignOut clears the persisted state, publishes the signed-out state and
// revokes the last credential with the provider. Revocation failures are
// logged and otherwise ignored.
func (b *Bridge) SignOut(ctx context.Context) models.AuthState {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	credential := b.credential
	b.mu.Unlock()

	state := models.SignedOutState()
	b.commit(context.WithoutCancel(ctx), seq, PhaseSignedOut, state, "")

	if err := b.provider.Revoke(ctx, credential); err != nil {
		b.logger.Warn("identity: revoke failed", slog.String("error", err.Error()))
	}
	return state
}

// RestoreSession loads the persisted state. Missing or malformed data yields
// the signed-out state. Subscribers are not notified.
func (b *Bridge) RestoreSession(ctx context.Context) models.AuthState {
	state := b.readPersisted(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.phase = phaseOf(state)
	return state
}

func (b *Bridge) readPersisted(ctx context.Context) models.AuthState {
	raw, err := b.slot.Get(ctx, session.KeyAuthState)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			b.logger.Warn("identity: read persisted state failed", slog.String("error", err.Error()))
		}
		return models.SignedOutState()
	}
	var state models.AuthState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || !state.Valid() {
		b.logger.Debug("identity: ignoring malformed persisted state")
		return models.SignedOutState()
	}
	return state
}

// Subscribe registers fn for future state changes.
func (b *Bridge) Subscribe(fn Listener) (unsubscribe func()) {
	return b.events.Subscribe(fn)
}

// Current returns the last published state.
func (b *Bridge) Current() models.AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Phase returns the current state machine phase.
func (b *Bridge) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// commit publishes state if no newer credential event or sign-out started
// after seq and ctx is still live. It reports whether the state was published.
func (b *Bridge) commit(ctx context.Context, seq uint64, phase Phase, state models.AuthState, credential string) bool {
	b.mu.Lock()
	if ctx.Err() != nil {
		if seq == b.seq {
			b.phase = phaseOf(b.state)
		}
		b.mu.Unlock()
		return false
	}
	if seq != b.seq {
		b.mu.Unlock()
		b.logger.Debug("identity: discarding stale result", slog.String("phase", phase.String()))
		return false
	}
	b.phase = phase
	b.state = state
	b.credential = credential
	b.mu.Unlock()

	b.persist(ctx, state)
	b.events.Notify(state)
	return true
}

func (b *Bridge) persist(ctx context.Context, state models.AuthState) {
	if !state.IsAuthenticated {
		if err := b.slot.Delete(ctx, session.KeyAuthState); err != nil {
			b.logger.Warn("identity: clear persisted state failed", slog.String("error", err.Error()))
		}
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		b.logger.Error("identity: encode state failed", slog.String("error", err.Error()))
		return
	}
	if err := b.slot.Set(ctx, session.KeyAuthState, string(data)); err != nil {
		b.logger.Error("identity: persist state failed", slog.String("error", err.Error()))
	}
}

func phaseOf(state models.AuthState) Phase {
	switch {
	case state.IsAuthorized:
		return PhaseAuthorized
	case state.IsAuthenticated:
		return PhaseDenied
	default:
		return PhaseSignedOut
	}
}
