package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tenosiey/Murmer/internal/config"
	"github.com/Tenosiey/Murmer/internal/db"
	"github.com/Tenosiey/Murmer/internal/storage"
	"github.com/Tenosiey/Murmer/internal/ws"
)

type Server struct {
	router *chi.Mux
	config *config.Config
	hub    *ws.Hub
}

func NewServer(cfg *config.Config, store *db.Store, hub *ws.Hub, files *storage.Service) (*Server, error) {
	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	wsHandler := NewWebSocketHandler(hub, resolver)
	uploadHandler := NewUploadHandler(files)
	fileHandler := NewFileHandler(files)
	roleHandler := NewRoleHandler(cfg.Server.AdminToken, store, hub)
	healthHandler := NewHealthHandler(store)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	if len(cfg.CORS.AllowOrigins) > 0 {
		r.Use(corsMiddleware(cfg.CORS.AllowOrigins))
	}
	r.Use(securityHeadersMiddleware)

	r.Get("/", liveness)
	r.Head("/", liveness)
	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	clientKey := func(req *http.Request) (string, error) {
		return resolver.Resolve(req), nil
	}
	uploadLimit := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(clientKey))
	roleLimit := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(clientKey))
	r.With(uploadLimit).Post("/upload", uploadHandler.Upload)
	r.Get("/files/{key}", fileHandler.Serve)
	r.With(roleLimit, maxBodySizeMiddleware(1<<20)).Post("/role", roleHandler.Assign)

	wsUpgradeLimiter := NewRateLimiter(10, time.Minute)
	r.With(RateLimitMiddleware(wsUpgradeLimiter, resolver)).Get("/ws", wsHandler.ServeWS)

	return &Server{
		router: r,
		config: cfg,
		hub:    hub,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Shutdown closes every connected client through the hub.
func (s *Server) Shutdown() {
	s.hub.Shutdown()
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("OK"))
}

// corsMiddleware enforces an exact-match origin allowlist. Loopback
// origins always pass so local clients work against a configured server.
// Requests without an Origin header pass through untouched.
func corsMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !originAllowed(origin, allowOrigins) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if isLoopbackOrigin(origin) {
		return true
	}
	for _, candidate := range allowed {
		if origin == candidate {
			return true
		}
	}
	return false
}

func isLoopbackOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
