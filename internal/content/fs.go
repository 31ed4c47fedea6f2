package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starford/galleria/internal/apperr"
)

// FSSource serves images from a local directory.
type FSSource struct {
	root   string // absolute path to the content directory
	prefix string

	mu sync.Mutex // serializes Put
}

// NewFSSource creates a source rooted at dir. The directory must exist.
func NewFSSource(dir, prefix string) (*FSSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("content: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("content: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content: root is not a directory: %s", abs)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &FSSource{root: abs, prefix: prefix}, nil
}

// Root returns the absolute content directory.
func (f *FSSource) Root() string { return f.root }

// safePath resolves rel against the root and rejects anything escaping it.
func (f *FSSource) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("content: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("content: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("content: path escapes root: %s", rel)
	}
	return abs, nil
}

// Discover returns the paths listed in index.json when the root has one,
// otherwise every supported image under the root in lexical order.
func (f *FSSource) Discover(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(f.root, IndexFile))
	switch {
	case err == nil:
		return decodeIndex(data)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("content: read index: %w", err)
	}
	return f.walk(ctx)
}

func (f *FSSource) walk(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != f.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSupported(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, PublicPath(f.prefix, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("content: walk: %w", err)
	}
	return out, nil
}

// Open opens the image at rel.
func (f *FSSource) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	abs, err := f.safePath(rel)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("content: %s: %w", rel, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", rel, err)
	}
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("content: %s: %w", rel, apperr.ErrNotFound)
	}
	return file, nil
}

// WriteIndex walks the root and atomically writes index.json listing every
// supported image. It returns the written paths.
func (f *FSSource) WriteIndex(ctx context.Context) ([]string, error) {
	paths, err := f.walk(ctx)
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("content: encode index: %w", err)
	}
	if err := f.writeAtomic(IndexFile, append(data, '\n')); err != nil {
		return nil, err
	}
	return paths, nil
}

// Put stores a new image at rel. Existing files are never replaced. When the
// root carries index.json the new public path is appended to it.
func (f *FSSource) Put(_ context.Context, rel string, data []byte) (string, error) {
	if !IsSupported(rel) {
		return "", fmt.Errorf("content: unsupported format: %s", rel)
	}
	abs, err := f.safePath(rel)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Lstat(abs); err == nil {
		return "", fmt.Errorf("content: %s: %w", rel, apperr.ErrConflict)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("content: mkdir: %w", err)
	}
	if err := f.writeAtomic(rel, data); err != nil {
		return "", err
	}

	public := PublicPath(f.prefix, filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel))))
	index, err := os.ReadFile(filepath.Join(f.root, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return public, nil
	}
	if err != nil {
		return "", fmt.Errorf("content: read index: %w", err)
	}
	paths, err := decodeIndex(index)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(append(paths, public), "", "  ")
	if err != nil {
		return "", fmt.Errorf("content: encode index: %w", err)
	}
	if err := f.writeAtomic(IndexFile, append(out, '\n')); err != nil {
		return "", err
	}
	return public, nil
}

// writeAtomic writes content via tmp file, fsync and rename.
func (f *FSSource) writeAtomic(rel string, content []byte) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	tmp, err := os.CreateTemp(dir, ".galleria-tmp-*")
	if err != nil {
		return fmt.Errorf("content: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("content: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("content: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("content: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("content: rename: %w", err)
	}
	success = true
	return nil
}

// decodeIndex parses an index document. Anything but a JSON array of strings
// lists nothing.
func decodeIndex(data []byte) ([]string, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("content: decode index: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

var _ Source = (*FSSource)(nil)
