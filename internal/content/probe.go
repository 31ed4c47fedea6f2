package content

import (
	"context"
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Probe confirms that the image at rel decodes and returns its format name.
func Probe(ctx context.Context, src Source, rel string) (string, error) {
	rc, err := src.Open(ctx, rel)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return probeReader(rc)
}

func probeReader(r io.Reader) (string, error) {
	_, format, err := image.DecodeConfig(r)
	if err != nil {
		return "", fmt.Errorf("content: not a renderable image: %w", err)
	}
	return format, nil
}
