package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddChannel creates a text channel. Creating a name that already exists
// is an error; callers surface it as a failed creation.
func (s *Store) AddChannel(ctx context.Context, name string) error {
	const q = `INSERT INTO channels (name) VALUES ($1)`

	if _, err := s.pool.Exec(ctx, q, name); err != nil {
		return fmt.Errorf("adding channel: %w", err)
	}
	return nil
}

// DeleteChannel removes a text channel row. Message history for the
// channel is kept.
func (s *Store) DeleteChannel(ctx context.Context, name string) error {
	const q = `DELETE FROM channels WHERE name = $1`

	if _, err := s.pool.Exec(ctx, q, name); err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

// Channels lists all text channel names in alphabetical order.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	const q = `SELECT name FROM channels ORDER BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	names, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name string
		err := row.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning channels: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
