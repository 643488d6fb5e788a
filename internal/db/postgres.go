package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// Store is the Postgres persistence gateway. All methods are safe for
// concurrent use; the pool serializes nothing beyond what Postgres does.
type Store struct {
	pool *pgxpool.Pool
}

// migrations is the schema for a fresh database. Statements run in order
// and any failure aborts startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id SERIAL PRIMARY KEY,
		channel TEXT NOT NULL,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		message_id INTEGER REFERENCES messages(id) ON DELETE CASCADE,
		user_name TEXT NOT NULL,
		emoji TEXT NOT NULL,
		PRIMARY KEY (message_id, user_name, emoji)
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		public_key TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		color TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS channels (name TEXT PRIMARY KEY)`,
	`INSERT INTO channels (name) VALUES ('general') ON CONFLICT DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS voice_channels (
		name TEXT PRIMARY KEY,
		quality TEXT NOT NULL DEFAULT 'standard',
		bitrate INTEGER DEFAULT 64000
	)`,
}

// additiveMigrations upgrade databases created before the voice channel
// columns existed. Failures are logged and ignored.
var additiveMigrations = []string{
	`ALTER TABLE voice_channels ADD COLUMN IF NOT EXISTS quality TEXT NOT NULL DEFAULT 'standard'`,
	`ALTER TABLE voice_channels ADD COLUMN IF NOT EXISTS bitrate INTEGER DEFAULT 64000`,
	`UPDATE voice_channels SET quality = 'standard' WHERE quality IS NULL`,
}

// Open connects to the database at url, waiting up to ~30 seconds for it to
// accept connections, then runs migrations.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// The database container often comes up after the server does.
	backoff := retry.WithMaxRetries(30, retry.NewConstant(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready", "component", "db", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running migration %d: %w", i, err)
		}
	}
	for _, stmt := range additiveMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			slog.Debug("additive migration skipped", "component", "db", "error", err)
		}
	}
	return nil
}

// Ping checks database reachability for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
