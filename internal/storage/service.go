// Package storage persists uploaded files in a flat directory and serves
// them back by key. Keys have the form "<unixMillis>-<sanitizedName>" and
// files are written atomically via a temp file and rename. Only image
// content is accepted, checked by extension and by magic bytes
// independently.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

var (
	ErrFileTooLarge    = errors.New("storage: file too large")
	ErrUnsupportedType = errors.New("storage: unsupported file type")
	ErrInvalidKey      = errors.New("storage: invalid file key")
)

// StoredFile describes a successfully persisted upload.
type StoredFile struct {
	Key       string
	MimeType  string
	SizeBytes int64
}

type Service struct {
	dir      string
	maxBytes int64
}

func NewService(dir string, maxBytes int64) (*Service, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &Service{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Save persists one upload and returns its key. The original filename must
// carry an accepted image extension and the content one of the accepted
// image signatures; either check failing reports ErrUnsupportedType.
// Content over the configured cap reports ErrFileTooLarge. A downscaled
// JPEG preview is written alongside as "<key>.preview.jpg" when the image
// decodes; preview failures only log.
func (s *Service) Save(originalName string, src io.Reader) (*StoredFile, error) {
	name := sanitizeFilename(originalName)
	if !allowedExtension(name) {
		return nil, ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	mimeType := detectImageType(data)
	if mimeType == "" {
		return nil, ErrUnsupportedType
	}

	key := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), name)
	if err := s.write(key, data); err != nil {
		return nil, err
	}

	if err := s.writePreview(key, data); err != nil {
		slog.Warn("preview generation failed", "component", "storage", "key", key, "error", err)
	}

	return &StoredFile{
		Key:       key,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}, nil
}

// Open returns the stored file for a key as served under /files. Keys can
// never address anything outside the upload directory.
func (s *Service) Open(key string) (*os.File, error) {
	absPath, err := s.resolveKey(key)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

func (s *Service) write(key string, data []byte) error {
	absPath, err := s.resolveKey(key)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary upload file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing upload file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing upload file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return fmt.Errorf("finalizing upload file: %w", err)
	}

	return nil
}

func (s *Service) writePreview(key string, data []byte) error {
	preview, err := GeneratePreview(bytes.NewReader(data), previewMaxEdge, previewQuality)
	if err != nil {
		return err
	}
	return s.write(key+".preview.jpg", preview.Data)
}

func (s *Service) resolveKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return "", ErrInvalidKey
	}
	if key != filepath.Base(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

// sanitizeFilename reduces a client-supplied filename to its base name with
// path separators and control characters stripped. Empty results fall back
// to "upload".
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		if unicode.IsControl(r) || r == '/' || r == '\\' {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := b.String()
	if cleaned == "" {
		return "upload"
	}
	if len(cleaned) > 255 {
		cleaned = cleaned[:255]
	}
	return cleaned
}

// allowedExtension checks the segment after the last dot; a name without a
// dot is judged whole.
func allowedExtension(name string) bool {
	ext := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i+1:]
	}
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return true
	}
	return false
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// detectImageType sniffs the accepted image signatures independently of the
// filename. Returns "" when the content matches none of them.
func detectImageType(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], pngSignature):
		return "image/png"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	return ""
}
