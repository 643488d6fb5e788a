package db

import (
	"context"
	"fmt"
)

// AddReaction records a reaction. Adding the same reaction twice is a no-op.
func (s *Store) AddReaction(ctx context.Context, messageID int64, user, emoji string) error {
	const q = `
		INSERT INTO reactions (message_id, user_name, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, messageID, user, emoji); err != nil {
		return fmt.Errorf("adding reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes a reaction. Removing a reaction that was never
// added is a no-op.
func (s *Store) RemoveReaction(ctx context.Context, messageID int64, user, emoji string) error {
	const q = `DELETE FROM reactions WHERE message_id = $1 AND user_name = $2 AND emoji = $3`

	if _, err := s.pool.Exec(ctx, q, messageID, user, emoji); err != nil {
		return fmt.Errorf("removing reaction: %w", err)
	}
	return nil
}

// ReactionSummary returns the emoji to users projection for one message.
// Users come back sorted; the primary key keeps them unique.
func (s *Store) ReactionSummary(ctx context.Context, messageID int64) (map[string][]string, error) {
	const q = `
		SELECT emoji, user_name
		FROM   reactions
		WHERE  message_id = $1
		ORDER  BY emoji, user_name`

	rows, err := s.pool.Query(ctx, q, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading reaction summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string][]string)
	for rows.Next() {
		var emoji, user string
		if err := rows.Scan(&emoji, &user); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		summary[emoji] = append(summary[emoji], user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reactions: %w", err)
	}
	return summary, nil
}

// ReactionsForMessages returns reaction projections for a batch of message
// ids. Messages without reactions are absent from the result.
func (s *Store) ReactionsForMessages(ctx context.Context, ids []int64) (map[int64]map[string][]string, error) {
	result := make(map[int64]map[string][]string)
	if len(ids) == 0 {
		return result, nil
	}

	const q = `
		SELECT message_id::bigint, emoji, user_name
		FROM   reactions
		WHERE  message_id = ANY($1)
		ORDER  BY message_id, emoji, user_name`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("loading reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			emoji string
			user  string
		)
		if err := rows.Scan(&id, &emoji, &user); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		if result[id] == nil {
			result[id] = make(map[string][]string)
		}
		result[id][emoji] = append(result[id][emoji], user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reactions: %w", err)
	}
	return result, nil
}
