// Package manifest builds, caches and edits the per-session photo manifest.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/session"
)

// DefaultFreshness is how long a built manifest may be served from cache.
const DefaultFreshness = 5 * time.Minute

// ErrSuperseded is returned by Build when a newer build started before it
// finished. The manifest returned alongside it is the current one, if any.
var ErrSuperseded = errors.New("manifest: build superseded")

// Builder owns one session's manifest. All mutation goes through its methods.
type Builder struct {
	src       content.Source
	slot      session.KV
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	gen     uint64
	current *models.PhotoManifest

	saveMu sync.Mutex
}

// NewBuilder creates a builder discovering from src and caching in slot.
// A nil src discovers nothing.
func NewBuilder(src content.Source, slot session.KV, freshness time.Duration, logger *slog.Logger) *Builder {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		src:       src,
		slot:      slot,
		freshness: freshness,
		logger:    logger,
		now:       time.Now,
	}
}

// DiscoverPaths lists candidate photo paths. Discovery failures are logged
// and yield an empty list.
func (b *Builder) DiscoverPaths(ctx context.Context) []string {
	if b.src == nil {
		return []string{}
	}
	paths, err := b.src.Discover(ctx)
	if err != nil {
		b.logger.Warn("manifest: discovery failed", slog.String("error", err.Error()))
		return []string{}
	}
	if paths == nil {
		return []string{}
	}
	return paths
}

// Build discovers paths, merges them with rows, then caches and returns the
// new manifest. A build that is superseded by a newer one, or whose ctx ends
// first, is discarded.
func (b *Builder) Build(ctx context.Context, rows []models.PhotoMetadataRow) (*models.PhotoManifest, error) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	paths := b.DiscoverPaths(ctx)
	photos, err := safeMerge(paths, rows)
	if err != nil {
		return nil, err
	}
	m := &models.PhotoManifest{
		Photos:     photos,
		TotalCount: len(photos),
		BuiltAt:    b.now().UTC(),
	}

	b.mu.Lock()
	if err := ctx.Err(); err != nil {
		cur := b.current.Clone()
		b.mu.Unlock()
		return cur, err
	}
	if gen != b.gen {
		cur := b.current.Clone()
		b.mu.Unlock()
		b.logger.Debug("manifest: discarding superseded build", slog.Uint64("generation", gen))
		return cur, ErrSuperseded
	}
	b.current = m
	b.mu.Unlock()

	b.save(ctx)
	b.logger.Info("manifest: built", slog.Int("photos", m.TotalCount))
	return m.Clone(), nil
}

func safeMerge(paths []string, rows []models.PhotoMetadataRow) (photos []models.Photo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: merge: %v", apperr.ErrManifestBuild, r)
		}
	}()
	return Merge(paths, rows), nil
}

// GetCached returns the current manifest, or the persisted one, while it is
// within the freshness window. Missing, corrupt or expired data yields nil.
func (b *Builder) GetCached(ctx context.Context) *models.PhotoManifest {
	b.mu.Lock()
	if b.current != nil {
		if b.fresh(b.current) {
			cur := b.current.Clone()
			b.mu.Unlock()
			return cur
		}
		b.current = nil
	}
	b.mu.Unlock()

	m := b.load(ctx)
	if m == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		b.current = m
	}
	return b.current.Clone()
}

func (b *Builder) load(ctx context.Context) *models.PhotoManifest {
	if b.slot == nil {
		return nil
	}
	raw, err := b.slot.Get(ctx, session.KeyPhotoManifest)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			b.logger.Warn("manifest: cache read failed", slog.String("error", err.Error()))
		}
		return nil
	}
	var m models.PhotoManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.TotalCount != len(m.Photos) {
		b.logger.Debug("manifest: ignoring corrupt cache entry")
		return nil
	}
	if m.Photos == nil {
		m.Photos = []models.Photo{}
	}
	if !b.fresh(&m) {
		return nil
	}
	return &m
}

func (b *Builder) fresh(m *models.PhotoManifest) bool {
	return !m.BuiltAt.IsZero() && b.now().Sub(m.BuiltAt) < b.freshness
}

// ApplyUpdate replaces the provided fields of the photo at path and
// re-persists the manifest. It reports whether a photo was updated; a
// missing manifest or path is a no-op.
func (b *Builder) ApplyUpdate(ctx context.Context, path string, patch models.PhotoPatch) (models.Photo, bool) {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return models.Photo{}, false
	}
	idx := -1
	for i := range b.current.Photos {
		if b.current.Photos[i].Path == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return models.Photo{}, false
	}
	updated := patch.Apply(b.current.Photos[idx])
	b.current.Photos[idx] = updated
	b.mu.Unlock()

	b.save(ctx)
	return updated, true
}

// Invalidate drops the in-memory and persisted manifest.
func (b *Builder) Invalidate(ctx context.Context) {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()

	if b.slot == nil {
		return
	}
	if err := b.slot.Delete(ctx, session.KeyPhotoManifest); err != nil {
		b.logger.Warn("manifest: cache clear failed", slog.String("error", err.Error()))
	}
}

// save persists the latest manifest. Failures are logged.
func (b *Builder) save(ctx context.Context) {
	if b.slot == nil {
		return
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return
	}
	data, err := json.Marshal(b.current)
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("manifest: encode failed", slog.String("error", err.Error()))
		return
	}
	if err := b.slot.Set(context.WithoutCancel(ctx), session.KeyPhotoManifest, string(data)); err != nil {
		b.logger.Warn("manifest: cache write failed", slog.String("error", err.Error()))
	}
}
