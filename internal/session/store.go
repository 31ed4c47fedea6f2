// Package session provides per-browser-session key/value storage for
// authentication state and cached manifests.
package session

import (
	"context"
	"time"
)

// Well-known keys held for every session.
const (
	KeyAuthState     = "authState"
	KeyPhotoManifest = "photoManifest"
)

// DefaultTTL is how long an idle session's entries survive.
const DefaultTTL = 24 * time.Hour

// Store is a durable key/value store partitioned by session id.
// Get returns apperr.ErrNotFound when the entry is missing or expired.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// KV is a store bound to a single session.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Scope binds a Store to one session id.
type Scope struct {
	store Store
	id    string
}

// NewScope returns a KV view of store for sessionID.
func NewScope(store Store, sessionID string) *Scope {
	return &Scope{store: store, id: sessionID}
}

// ID returns the session id of the scope.
func (s *Scope) ID() string { return s.id }

func (s *Scope) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.id, key)
}

func (s *Scope) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.id, key, value)
}

func (s *Scope) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.id, key)
}

var _ KV = (*Scope)(nil)
