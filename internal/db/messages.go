package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Tenosiey/Murmer/internal/models"
)

// InsertMessage persists a stamped envelope and returns the assigned id.
func (s *Store) InsertMessage(ctx context.Context, channel, content string) (int64, error) {
	const q = `INSERT INTO messages (channel, content) VALUES ($1, $2) RETURNING id::bigint`

	var id int64
	if err := s.pool.QueryRow(ctx, q, channel, content).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return id, nil
}

// History returns up to limit messages of a channel, newest first. When
// before is set only ids below the cursor are returned. Ids are 32-bit in
// the schema, so a cursor outside that range cannot address a row and
// would not even bind as int4.
func (s *Store) History(ctx context.Context, channel string, before *int64, limit int) ([]models.MessageRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		if *before > math.MaxInt32 || *before < math.MinInt32 {
			return []models.MessageRecord{}, nil
		}
		const q = `
			SELECT id::bigint, channel, content
			FROM   messages
			WHERE  channel = $1 AND id < $2
			ORDER  BY id DESC
			LIMIT  $3`
		rows, err = s.pool.Query(ctx, q, channel, *before, limit)
	} else {
		const q = `
			SELECT id::bigint, channel, content
			FROM   messages
			WHERE  channel = $1
			ORDER  BY id DESC
			LIMIT  $2`
		rows, err = s.pool.Query(ctx, q, channel, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return collectMessages(rows)
}

// SearchMessages performs a case-insensitive substring search across message
// envelopes, newest first. An empty channel searches every channel.
func (s *Store) SearchMessages(ctx context.Context, channel, query string, limit int) ([]models.MessageRecord, error) {
	pattern := "%" + escapeLike(query) + "%"

	args := []any{pattern}
	q := `SELECT id::bigint, channel, content FROM messages WHERE content ILIKE $1`
	if channel != "" {
		args = append(args, channel)
		q += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return collectMessages(rows)
}

// DeleteMessage removes a message and reports whether a row existed.
// Reactions go with it via the foreign key cascade.
func (s *Store) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM messages WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("deleting message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MessageChannel resolves the channel a message belongs to. The second
// return is false when no such message exists.
func (s *Store) MessageChannel(ctx context.Context, id int64) (string, bool, error) {
	const q = `SELECT channel FROM messages WHERE id = $1`

	var channel string
	err := s.pool.QueryRow(ctx, q, id).Scan(&channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading message channel: %w", err)
	}
	return channel, true, nil
}

// MessageByID loads a full message record, or nil when it does not exist.
func (s *Store) MessageByID(ctx context.Context, id int64) (*models.MessageRecord, error) {
	const q = `SELECT id::bigint, channel, content FROM messages WHERE id = $1`

	var rec models.MessageRecord
	err := s.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.Channel, &rec.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	return &rec, nil
}

// ExpiredEphemeral returns ephemeral messages whose expiry is at or before
// now. Used by the sweeper to catch deletions lost to a restart.
func (s *Store) ExpiredEphemeral(ctx context.Context, now time.Time) ([]models.MessageRecord, error) {
	const q = `
		SELECT id::bigint, channel, content
		FROM   messages
		WHERE  content::jsonb @> '{"ephemeral": true}'
		  AND  content::jsonb ->> 'expiresAt' IS NOT NULL
		  AND  (content::jsonb ->> 'expiresAt')::timestamptz <= $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]models.MessageRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MessageRecord, error) {
		var rec models.MessageRecord
		err := row.Scan(&rec.ID, &rec.Channel, &rec.Content)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	if records == nil {
		records = []models.MessageRecord{}
	}
	return records, nil
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
