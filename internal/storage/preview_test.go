package storage

import (
	"bytes"
	"image"
	"testing"
)

func TestScaleToFit(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxEdge       int
		wantW, wantH  int
	}{
		{"landscape", 600, 400, 480, 480, 320},
		{"portrait", 400, 600, 480, 320, 480},
		{"square", 1000, 1000, 480, 480, 480},
		{"already small", 100, 50, 480, 100, 50},
		{"extreme ratio floors at one", 5000, 2, 480, 480, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := scaleToFit(tt.width, tt.height, tt.maxEdge)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("scaleToFit(%d, %d, %d) = %d, %d, want %d, %d",
					tt.width, tt.height, tt.maxEdge, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestGeneratePreview(t *testing.T) {
	data := encodePNG(t, 600, 400)

	preview, err := GeneratePreview(bytes.NewReader(data), 480, 80)
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if preview.Width != 480 || preview.Height != 320 {
		t.Fatalf("dimensions = %dx%d, want 480x320", preview.Width, preview.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(preview.Data))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q, want jpeg", format)
	}
	if img.Bounds().Dx() != 480 || img.Bounds().Dy() != 320 {
		t.Fatalf("decoded bounds = %v, want 480x320", img.Bounds())
	}
}

func TestGeneratePreviewKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 100, 60)

	preview, err := GeneratePreview(bytes.NewReader(data), 480, 80)
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if preview.Width != 100 || preview.Height != 60 {
		t.Fatalf("dimensions = %dx%d, want the original 100x60", preview.Width, preview.Height)
	}
}

func TestGeneratePreviewDefaultsBadArguments(t *testing.T) {
	data := encodePNG(t, 10, 10)

	preview, err := GeneratePreview(bytes.NewReader(data), 0, 500)
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if preview.Width != 10 || preview.Height != 10 {
		t.Fatalf("dimensions = %dx%d, want 10x10", preview.Width, preview.Height)
	}
}

func TestGeneratePreviewRejectsGarbage(t *testing.T) {
	if _, err := GeneratePreview(bytes.NewReader([]byte("not an image")), 480, 80); err == nil {
		t.Fatal("garbage input must fail to decode")
	}
}
