package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Tenosiey/Murmer/internal/storage"
)

type FileHandler struct {
	files *storage.Service
}

func NewFileHandler(files *storage.Service) *FileHandler {
	return &FileHandler{files: files}
}

// GET /files/{key}. Uploaded content is immutable, so responses carry a
// year-long cache lifetime and a strong validator.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		notFound(w, "File not found")
		return
	}

	file, err := h.files.Open(key)
	if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, os.ErrNotExist) {
		notFound(w, "File not found")
		return
	}
	if err != nil {
		internalError(w)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		notFound(w, "File not found")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", fmt.Sprintf("\"%x-%x\"", info.Size(), info.ModTime().UnixNano()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", key))

	http.ServeContent(w, r, key, info.ModTime(), file)
}
