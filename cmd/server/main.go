package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tenosiey/Murmer/internal/api"
	"github.com/Tenosiey/Murmer/internal/config"
	"github.com/Tenosiey/Murmer/internal/db"
	"github.com/Tenosiey/Murmer/internal/storage"
	"github.com/Tenosiey/Murmer/internal/telemetry"
	"github.com/Tenosiey/Murmer/internal/ws"
)

const serverVersion = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitProvider(ctx, "murmer", serverVersion)
	if err != nil {
		slog.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	store, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database ready", "component", "db")

	files, err := storage.NewService(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		slog.Error("failed to initialize upload storage", "error", err)
		os.Exit(1)
	}
	slog.Info("upload storage ready", "dir", cfg.Uploads.Dir, "max_bytes", cfg.Uploads.MaxBytes)

	hub := ws.NewHub(store, cfg)
	if err := hub.LoadVoiceChannels(ctx); err != nil {
		slog.Error("failed to load voice channels", "error", err)
		os.Exit(1)
	}

	sweeper := db.NewSweepService(store, func(channel string, id int64) {
		hub.BroadcastMessageDeleted(channel, id)
		telemetry.Global().MessageSwept()
	})
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sweeper.Start(sweepCtx)

	server, err := api.NewServer(cfg, store, hub, files)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Bind,
		Handler: server,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Server.Bind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	sweepCancel()
	server.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Error("metrics shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
