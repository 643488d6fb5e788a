package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	previewMaxEdge = 480
	previewQuality = 80
)

// Preview is a downscaled JPEG rendition of an uploaded image.
type Preview struct {
	Data   []byte
	Width  int
	Height int
}

// GeneratePreview decodes src and scales it so neither edge exceeds
// maxEdge, re-encoded as JPEG. Images already small enough keep their
// dimensions. Out-of-range arguments fall back to the defaults.
func GeneratePreview(src io.Reader, maxEdge, quality int) (*Preview, error) {
	if maxEdge <= 0 {
		maxEdge = previewMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = previewQuality
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("empty image")
	}

	width, height := scaleToFit(bounds.Dx(), bounds.Dy(), maxEdge)
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}

	return &Preview{Data: buf.Bytes(), Width: width, Height: height}, nil
}

func scaleToFit(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}

	if width >= height {
		h := int(float64(height)*float64(maxEdge)/float64(width) + 0.5)
		if h < 1 {
			h = 1
		}
		return maxEdge, h
	}

	w := int(float64(width)*float64(maxEdge)/float64(height) + 0.5)
	if w < 1 {
		w = 1
	}
	return w, maxEdge
}
