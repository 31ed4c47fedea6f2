package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/starford/galleria/internal/apperr"
)

// HTTPSource reads content published by a static web host.
type HTTPSource struct {
	baseURL    string
	prefix     string
	candidates []string
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPSource creates a source for the site at baseURL. Empty candidates
// fall back to DefaultCandidates.
func NewHTTPSource(baseURL, prefix string, candidates []string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		prefix:     prefix,
		candidates: candidates,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Discover fetches <prefix>/index.json. When the index is not served it
// HEAD-probes the candidate names in order and keeps those that exist.
func (h *HTTPSource) Discover(ctx context.Context) ([]string, error) {
	paths, err := h.fetchIndex(ctx)
	if err == nil {
		return paths, nil
	}
	// A served index that cannot be read is an error, not a reason to probe.
	if !errors.Is(err, errIndexAbsent) {
		return nil, err
	}
	h.logger.Debug("content: index unavailable, probing candidates", slog.String("error", err.Error()))

	var out []string
	for _, name := range h.candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		public := PublicPath(h.prefix, name)
		if h.exists(ctx, public) {
			out = append(out, public)
		}
	}
	return out, nil
}

var errIndexAbsent = errors.New("content: index not served")

func (h *HTTPSource) fetchIndex(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+PublicPath(h.prefix, IndexFile), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errIndexAbsent, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errIndexAbsent, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("content: read index: %w", err)
	}
	return decodeIndex(data)
}

func (h *HTTPSource) exists(ctx context.Context, public string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.baseURL+public, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Open fetches the image at rel.
func (h *HTTPSource) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+PublicPath(h.prefix, rel), nil)
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", rel, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", rel, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("content: %s: %w", rel, apperr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("content: open %s: status %d", rel, resp.StatusCode)
	}
	return resp.Body, nil
}

var _ Source = (*HTTPSource)(nil)
