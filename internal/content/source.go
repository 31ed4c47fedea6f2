// Package content discovers gallery images and serves their bytes.
//
// Discovered paths are public URL paths (for example "/content/a.jpg"); Open
// takes the path relative to the content root ("a.jpg").
package content

import (
	"context"
	"io"
	"path"
	"strings"
)

// DefaultPrefix is the URL prefix under which content is published.
const DefaultPrefix = "/content"

// IndexFile is the optional listing of public paths in the content root.
const IndexFile = "index.json"

// SupportedFormats lists the image extensions the gallery shows.
var SupportedFormats = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// DefaultCandidates are probed, in order, when a source has no index.
var DefaultCandidates = []string{
	"sample1.jpg",
	"sample2.jpg",
	"sample3.png",
	"photo1.jpg",
	"photo2.jpg",
	"image1.png",
	"image2.png",
	"gallery1.jpg",
	"gallery2.jpg",
	"gallery3.jpg",
}

// Source lists and opens gallery images.
type Source interface {
	// Discover returns public paths in source order.
	Discover(ctx context.Context) ([]string, error)
	// Open returns the bytes of the image at rel. Missing images yield
	// an error wrapping apperr.ErrNotFound.
	Open(ctx context.Context, rel string) (io.ReadCloser, error)
}

// IsSupported reports whether name has a supported image extension.
func IsSupported(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, f := range SupportedFormats {
		if ext == f {
			return true
		}
	}
	return false
}

// PublicPath joins prefix and a slash-separated relative path.
func PublicPath(prefix, rel string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// RelPath strips prefix from a public path. ok is false when public is not
// under prefix.
func RelPath(prefix, public string) (rel string, ok bool) {
	p := strings.TrimSuffix(prefix, "/") + "/"
	if !strings.HasPrefix(public, p) {
		return "", false
	}
	return strings.TrimPrefix(public, p), true
}

// ContentType returns the MIME type for an image name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	}
	return "application/octet-stream"
}
