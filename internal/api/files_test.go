package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Tenosiey/Murmer/internal/storage"
)

func serveFileRequest(t *testing.T, handler *FileHandler, key string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/files/"+key, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", key)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rr := httptest.NewRecorder()
	handler.Serve(rr, req)
	return rr
}

func TestServeStoredFile(t *testing.T) {
	files, err := storage.NewService(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("storage.NewService() error = %v", err)
	}

	stored, err := files.Save("pic.png", bytes.NewReader(pngStub))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rr := serveFileRequest(t, NewFileHandler(files), stored.Key)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !bytes.Equal(rr.Body.Bytes(), pngStub) {
		t.Fatalf("body length = %d, want %d", rr.Body.Len(), len(pngStub))
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if rr.Header().Get("ETag") == "" {
		t.Fatal("expected an ETag header")
	}
}

func TestServeUnknownKeyIs404(t *testing.T) {
	files, err := storage.NewService(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("storage.NewService() error = %v", err)
	}

	rr := serveFileRequest(t, NewFileHandler(files), "12345-missing.png")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestServeRejectsTraversalKeys(t *testing.T) {
	files, err := storage.NewService(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("storage.NewService() error = %v", err)
	}
	handler := NewFileHandler(files)

	for _, key := range []string{"../secret", "..", ".hidden", `a\b.png`} {
		t.Run(key, func(t *testing.T) {
			rr := serveFileRequest(t, handler, key)
			if rr.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
			}
		})
	}
}
