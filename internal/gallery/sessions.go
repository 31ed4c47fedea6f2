package gallery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/identity"
	"github.com/starford/galleria/internal/manifest"
	"github.com/starford/galleria/internal/metadata"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/session"
	"github.com/starford/galleria/internal/sse"
)

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Store     session.Store
	Provider  *identity.Provider
	AllowList identity.AllowList
	Metadata  metadata.Store
	Content   content.Source
	Prefix    string
	Freshness time.Duration
	PageSize  int
	Events    Publisher
	Logger    *slog.Logger
}

// Session is the live state of one browser session.
type Session struct {
	ID      string
	Bridge  *identity.Bridge
	Gallery *ViewModel

	unsubscribe func()
	lastSeen    time.Time
}

// Sessions creates sessions on first use and evicts them once idle. Evicted
// sessions are restored from the session store on their next request.
type Sessions struct {
	deps Deps
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a registry evicting sessions idle for longer than idle.
func NewSessions(deps Deps, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = session.DefaultTTL
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Sessions{
		deps:     deps,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating and restoring it when needed.
func (s *Sessions) Get(ctx context.Context, id string) *Session {
	if sess := s.touch(id); sess != nil {
		return sess
	}

	// Restoring reads the session store, so it runs without holding mu.
	sess := s.open(ctx, id)

	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		existing.lastSeen = s.now()
		s.mu.Unlock()
		if sess.unsubscribe != nil {
			sess.unsubscribe()
		}
		return existing
	}
	sess.lastSeen = s.now()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Sessions) touch(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.lastSeen = s.now()
	return sess
}

func (s *Sessions) open(ctx context.Context, id string) *Session {
	logger := s.deps.Logger.With(slog.String("session", shortID(id)))
	slot := session.NewScope(s.deps.Store, id)

	bridge := identity.NewBridge(s.deps.Provider, s.deps.AllowList, slot, logger)
	bridge.RestoreSession(ctx)

	builder := manifest.NewBuilder(s.deps.Content, slot, s.deps.Freshness, logger)
	vm := NewViewModel(ViewModelConfig{
		SessionID: id,
		Builder:   builder,
		Store:     s.deps.Metadata,
		Content:   s.deps.Content,
		Prefix:    s.deps.Prefix,
		PageSize:  s.deps.PageSize,
		Events:    s.deps.Events,
		Logger:    logger,
	})

	sess := &Session{ID: id, Bridge: bridge, Gallery: vm}
	if s.deps.Events != nil {
		events := s.deps.Events
		sess.unsubscribe = bridge.Subscribe(func(state models.AuthState) {
			events.PublishTo(id, sse.Event{Type: sse.TypeAuthChanged, Data: state})
		})
	}
	logger.Debug("sessions: opened")
	return sess
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the idle timeout and returns
// how many were removed.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	var evicted []*Session
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			evicted = append(evicted, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range evicted {
		if sess.unsubscribe != nil {
			sess.unsubscribe()
		}
	}
	if len(evicted) > 0 {
		s.deps.Logger.Debug("sessions: evicted idle", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// purger is implemented by session stores that keep expired rows on disk.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Run sweeps idle sessions every interval until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
			if p, ok := s.deps.Store.(purger); ok {
				if _, err := p.Purge(ctx); err != nil {
					s.deps.Logger.Warn("sessions: purge failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
