package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultSweepInterval = 1 * time.Minute
)

// SweepService deletes ephemeral messages whose expiry passed without the
// per-message deletion timer firing, which happens when the process
// restarts. Deletions are announced through onDeleted so connected clients
// hear about them.
type SweepService struct {
	store     *Store
	onDeleted func(channel string, id int64)
	interval  time.Duration
}

func NewSweepService(store *Store, onDeleted func(channel string, id int64)) *SweepService {
	return &SweepService{
		store:     store,
		onDeleted: onDeleted,
		interval:  DefaultSweepInterval,
	}
}

func (s *SweepService) Start(ctx context.Context) {
	slog.Info("starting ephemeral sweep service", "component", "sweep", "interval", s.interval)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping ephemeral sweep service", "component", "sweep")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *SweepService) runSweep(ctx context.Context) {
	expired, err := s.store.ExpiredEphemeral(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("error listing expired ephemeral messages", "component", "sweep", "error", err)
		return
	}

	removed := 0
	for _, rec := range expired {
		deleted, err := s.store.DeleteMessage(ctx, rec.ID)
		if err != nil {
			slog.Error("error deleting expired ephemeral message", "component", "sweep", "error", err, "id", rec.ID)
			continue
		}
		if deleted {
			removed++
			if s.onDeleted != nil {
				s.onDeleted(rec.Channel, rec.ID)
			}
		}
	}
	if removed > 0 {
		slog.Info("deleted expired ephemeral messages", "component", "sweep", "count", removed)
	}
}
