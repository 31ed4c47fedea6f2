// Package gallery coordinates the per-session gallery: loading the manifest,
// paging through it and writing edits back to the metadata store.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/manifest"
	"github.com/starford/galleria/internal/metadata"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/sse"
)

// DefaultPageSize is the number of photos per page.
const DefaultPageSize = 12

// Publisher delivers events to one session's subscribers.
type Publisher interface {
	PublishTo(sessionID string, event sse.Event)
}

// PageQuery selects a page of the filtered manifest.
type PageQuery struct {
	Term    string
	Page    int // 0-based
	PerPage int
}

// PageResult is one page of the filtered manifest.
type PageResult struct {
	Photos     []models.Photo `json:"photos"`
	Page       int            `json:"page"`
	PerPage    int            `json:"perPage"`
	TotalPages int            `json:"totalPages"`
	Matches    int            `json:"matches"`
	TotalCount int            `json:"totalCount"`
	BuiltAt    time.Time      `json:"builtAt"`
}

// ViewModel is one session's gallery.
type ViewModel struct {
	sessionID string
	builder   *manifest.Builder
	store     metadata.Store
	src       content.Source
	prefix    string
	pageSize  int
	events    Publisher
	logger    *slog.Logger

	buildMu sync.Mutex
	locks   pathLocks
}

// ViewModelConfig wires a ViewModel.
type ViewModelConfig struct {
	SessionID string
	Builder   *manifest.Builder
	Store     metadata.Store
	Content   content.Source
	Prefix    string
	PageSize  int
	Events    Publisher
	Logger    *slog.Logger
}

// NewViewModel creates a view model from cfg.
func NewViewModel(cfg ViewModelConfig) *ViewModel {
	vm := &ViewModel{
		sessionID: cfg.SessionID,
		builder:   cfg.Builder,
		store:     cfg.Store,
		src:       cfg.Content,
		prefix:    cfg.Prefix,
		pageSize:  cfg.PageSize,
		events:    cfg.Events,
		logger:    cfg.Logger,
	}
	if vm.prefix == "" {
		vm.prefix = content.DefaultPrefix
	}
	if vm.pageSize <= 0 {
		vm.pageSize = DefaultPageSize
	}
	if vm.logger == nil {
		vm.logger = slog.Default()
	}
	return vm
}

// Load returns the cached manifest, building a new one on a miss.
func (vm *ViewModel) Load(ctx context.Context) (*models.PhotoManifest, error) {
	if m := vm.builder.GetCached(ctx); m != nil {
		return m, nil
	}
	return vm.Refresh(ctx)
}

// Refresh fetches metadata rows and rebuilds the manifest. Store failures
// are returned and leave the current manifest untouched.
func (vm *ViewModel) Refresh(ctx context.Context) (*models.PhotoManifest, error) {
	vm.buildMu.Lock()
	defer vm.buildMu.Unlock()

	rows, err := vm.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("gallery: load metadata: %w", err)
	}
	m, err := vm.builder.Build(ctx, rows)
	if errors.Is(err, manifest.ErrSuperseded) && m != nil {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gallery: build manifest: %w", err)
	}

	vm.publish(sse.TypeManifestBuilt, map[string]any{
		"totalCount": m.TotalCount,
		"builtAt":    m.BuiltAt,
	})
	return m, nil
}

// Page filters the manifest by q.Term and returns page q.Page.
func (vm *ViewModel) Page(ctx context.Context, q PageQuery) (PageResult, error) {
	m, err := vm.Load(ctx)
	if err != nil {
		return PageResult{}, err
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = vm.pageSize
	}
	filtered := manifest.Filter(m.Photos, q.Term)
	return PageResult{
		Photos:     manifest.Paginate(filtered, q.Page, perPage),
		Page:       q.Page,
		PerPage:    perPage,
		TotalPages: manifest.TotalPages(len(filtered), perPage),
		Matches:    len(filtered),
		TotalCount: m.TotalCount,
		BuiltAt:    m.BuiltAt,
	}, nil
}

// Photo returns the photo at path.
func (vm *ViewModel) Photo(ctx context.Context, path string) (models.Photo, error) {
	m, err := vm.Load(ctx)
	if err != nil {
		return models.Photo{}, err
	}
	for _, p := range m.Photos {
		if p.Path == path {
			return p, nil
		}
	}
	return models.Photo{}, fmt.Errorf("gallery: photo %s: %w", path, apperr.ErrNotFound)
}

// ToggleFavorite flips the favorite flag of the photo at path.
func (vm *ViewModel) ToggleFavorite(ctx context.Context, path string) (models.Photo, error) {
	unlock := vm.locks.lock(path)
	defer unlock()

	current, err := vm.Photo(ctx, path)
	if err != nil {
		return models.Photo{}, err
	}
	fav := !current.Favorite
	return vm.save(ctx, current, models.PhotoPatch{Favorite: &fav})
}

// SavePhoto writes the edited fields of the photo at path to the metadata
// store, then to the manifest. On a store failure the manifest keeps its
// previous value. Loaded is ignored.
func (vm *ViewModel) SavePhoto(ctx context.Context, path string, patch models.PhotoPatch) (models.Photo, error) {
	unlock := vm.locks.lock(path)
	defer unlock()

	current, err := vm.Photo(ctx, path)
	if err != nil {
		return models.Photo{}, err
	}
	patch.Loaded = nil
	if patch.Empty() {
		return current, nil
	}
	return vm.save(ctx, current, patch)
}

func (vm *ViewModel) save(ctx context.Context, current models.Photo, patch models.PhotoPatch) (models.Photo, error) {
	next := patch.Apply(current)
	if err := vm.store.Upsert(ctx, next.Row()); err != nil {
		vm.logger.Warn("gallery: metadata write failed",
			slog.String("path", current.Path),
			slog.String("error", err.Error()))
		return current, fmt.Errorf("gallery: save %s: %w", current.Path, err)
	}

	if updated, ok := vm.builder.ApplyUpdate(ctx, current.Path, patch); ok {
		next = updated
	}
	vm.publish(sse.TypePhotoUpdated, next)
	return next, nil
}

// MarkLoaded confirms the photo at path is renderable and sets loaded.
// Loaded never reverts.
func (vm *ViewModel) MarkLoaded(ctx context.Context, path string) (models.Photo, error) {
	unlock := vm.locks.lock(path)
	defer unlock()

	current, err := vm.Photo(ctx, path)
	if err != nil {
		return models.Photo{}, err
	}
	if current.Loaded {
		return current, nil
	}
	if vm.src == nil {
		return current, fmt.Errorf("gallery: no content source: %w", apperr.ErrNotFound)
	}
	rel, ok := content.RelPath(vm.prefix, current.URL)
	if !ok {
		return current, fmt.Errorf("gallery: %s is outside %s: %w", current.URL, vm.prefix, apperr.ErrNotFound)
	}
	if _, err := content.Probe(ctx, vm.src, rel); err != nil {
		return current, fmt.Errorf("gallery: load %s: %w", path, err)
	}

	loaded := true
	updated, ok := vm.builder.ApplyUpdate(ctx, path, models.PhotoPatch{Loaded: &loaded})
	if !ok {
		current.Loaded = true
		return current, nil
	}
	vm.publish(sse.TypePhotoUpdated, updated)
	return updated, nil
}

// Invalidate drops the cached manifest so the next Load rebuilds it.
func (vm *ViewModel) Invalidate(ctx context.Context) {
	vm.builder.Invalidate(ctx)
}

func (vm *ViewModel) publish(eventType string, data any) {
	if vm.events == nil {
		return
	}
	vm.events.PublishTo(vm.sessionID, sse.Event{Type: eventType, Data: data})
}
