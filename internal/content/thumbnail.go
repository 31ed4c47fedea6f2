package content

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/nfnt/resize"
	"golang.org/x/sync/singleflight"

	"github.com/starford/galleria/internal/checksum"
)

// DefaultThumbnailSize bounds both thumbnail dimensions.
const DefaultThumbnailSize = 300

const maxCachedThumbnails = 512

// Thumbnail is an encoded JPEG preview.
type Thumbnail struct {
	Data []byte
	ETag string
}

// Thumbnailer renders and caches thumbnails for a Source.
type Thumbnailer struct {
	src   Source
	size  uint
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Thumbnail
}

// NewThumbnailer creates a thumbnailer bounding images to size x size.
func NewThumbnailer(src Source, size int) *Thumbnailer {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	return &Thumbnailer{src: src, size: uint(size), cache: make(map[string]*Thumbnail)}
}

// Get returns the thumbnail for rel, rendering it on first use.
func (t *Thumbnailer) Get(ctx context.Context, rel string) (*Thumbnail, error) {
	t.mu.RLock()
	th, ok := t.cache[rel]
	t.mu.RUnlock()
	if ok {
		return th, nil
	}

	v, err, _ := t.group.Do(rel, func() (any, error) {
		th, err := t.render(ctx, rel)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		if len(t.cache) >= maxCachedThumbnails {
			for k := range t.cache {
				delete(t.cache, k)
				break
			}
		}
		t.cache[rel] = th
		t.mu.Unlock()
		return th, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Thumbnail), nil
}

func (t *Thumbnailer) render(ctx context.Context, rel string) (*Thumbnail, error) {
	rc, err := t.src.Open(ctx, rel)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("content: decode %s: %w", rel, err)
	}
	thumb := resize.Thumbnail(t.size, t.size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("content: encode thumbnail %s: %w", rel, err)
	}
	data := buf.Bytes()
	return &Thumbnail{Data: data, ETag: checksum.ETag(data)}, nil
}

// Invalidate drops the cached thumbnail for rel.
func (t *Thumbnailer) Invalidate(rel string) {
	t.mu.Lock()
	delete(t.cache, rel)
	t.mu.Unlock()
}

// Len returns the number of cached thumbnails.
func (t *Thumbnailer) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}
