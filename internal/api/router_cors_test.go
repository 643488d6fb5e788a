package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		allow           []string
		origin          string
		wantCode        int
		wantNext        bool
		wantAllowOrigin string
	}{
		{
			name:            "configured origin",
			allow:           []string{"https://app.murmer.dev"},
			origin:          "https://app.murmer.dev",
			wantCode:        http.StatusOK,
			wantNext:        true,
			wantAllowOrigin: "https://app.murmer.dev",
		},
		{
			name:            "loopback ip always allowed",
			origin:          "http://127.0.0.1:5173",
			wantCode:        http.StatusOK,
			wantNext:        true,
			wantAllowOrigin: "http://127.0.0.1:5173",
		},
		{
			name:            "localhost always allowed",
			allow:           []string{"https://app.murmer.dev"},
			origin:          "http://localhost:8080",
			wantCode:        http.StatusOK,
			wantNext:        true,
			wantAllowOrigin: "http://localhost:8080",
		},
		{
			name:            "ipv6 loopback always allowed",
			origin:          "http://[::1]:5173",
			wantCode:        http.StatusOK,
			wantNext:        true,
			wantAllowOrigin: "http://[::1]:5173",
		},
		{
			name:     "no origin header passes through untouched",
			allow:    []string{"https://app.murmer.dev"},
			wantCode: http.StatusOK,
			wantNext: true,
		},
		{
			name:     "unlisted origin rejected",
			allow:    []string{"https://app.murmer.dev"},
			origin:   "https://evil.example",
			wantCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := corsMiddleware(tt.allow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called != tt.wantNext {
				t.Fatalf("next handler called = %v, want %v", called, tt.wantNext)
			}
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if tt.wantCode == http.StatusForbidden {
				var resp ErrorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
					t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
				}
				if resp.Error.Code != ErrCodeInvalidRequest {
					t.Fatalf("error.code = %q, want %q", resp.Error.Code, ErrCodeInvalidRequest)
				}
			}
		})
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	called := false
	handler := corsMiddleware([]string{"https://app.murmer.dev"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/role", nil)
	req.Header.Set("Origin", "https://app.murmer.dev")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Fatal("preflight must not reach the next handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.murmer.dev" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, "https://app.murmer.dev")
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods = %q, want %q", got, "GET, POST, OPTIONS")
	}
}
