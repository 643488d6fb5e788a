package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tenosiey/Murmer/internal/storage"
	"github.com/Tenosiey/Murmer/internal/telemetry"
)

// uploadOverheadBytes leaves room for multipart framing on top of the
// configured file cap.
const uploadOverheadBytes = 1 << 20

type UploadHandler struct {
	files *storage.Service
}

func NewUploadHandler(files *storage.Service) *UploadHandler {
	return &UploadHandler{files: files}
}

type UploadResponse struct {
	URL string `json:"url"`
}

// POST /upload. The first multipart part is taken as the file regardless
// of its field name.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.files.MaxBytes()+uploadOverheadBytes)

	reader, err := r.MultipartReader()
	if err != nil {
		badRequest(w, "Multipart form data required")
		return
	}

	part, err := reader.NextPart()
	if err != nil {
		badRequest(w, "Upload field is required")
		return
	}
	defer part.Close()

	stored, err := h.files.Save(part.FileName(), part)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrUnsupportedType):
		unsupportedMedia(w, "Unsupported file type")
		return
	case errors.Is(err, storage.ErrFileTooLarge) || isBodyTooLargeError(err):
		payloadTooLarge(w)
		return
	default:
		slog.Error("upload failed", "component", "api", "error", err)
		internalError(w)
		return
	}

	telemetry.Global().UploadStored()
	slog.Info("file stored", "component", "api", "key", stored.Key, "bytes", stored.SizeBytes, "mime", stored.MimeType)

	writeJSON(w, http.StatusOK, UploadResponse{URL: "/files/" + stored.Key})
}

// isBodyTooLargeError reports whether err originates from
// http.MaxBytesReader cutting the request body off.
func isBodyTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
