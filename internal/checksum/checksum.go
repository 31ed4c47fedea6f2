// Package checksum derives content digests for cache validation.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// etagLen is the number of hex digits kept in an entity tag.
const etagLen = 16

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag returns a strong HTTP entity tag for data.
func ETag(data []byte) string {
	return `"` + Sum(data)[:etagLen] + `"`
}

// Match reports whether an If-None-Match header value matches etag.
// It accepts a comma-separated list, weak validators and "*".
func Match(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag || candidate == "W/"+etag {
			return true
		}
	}
	return false
}
