package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Tenosiey/Murmer/internal/models"
)

// Role looks up the role assigned to a public key, or nil when the key has
// none.
func (s *Store) Role(ctx context.Context, publicKey string) (*models.RoleInfo, error) {
	const q = `SELECT role, color FROM roles WHERE public_key = $1`

	var info models.RoleInfo
	err := s.pool.QueryRow(ctx, q, publicKey).Scan(&info.Role, &info.Color)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading role: %w", err)
	}
	return &info, nil
}

// SetRole assigns or replaces the role for a public key.
func (s *Store) SetRole(ctx context.Context, publicKey, role string, color *string) error {
	const q = `
		INSERT INTO roles (public_key, role, color)
		VALUES ($1, $2, $3)
		ON CONFLICT (public_key) DO UPDATE SET role = EXCLUDED.role, color = EXCLUDED.color`

	if _, err := s.pool.Exec(ctx, q, publicKey, role, color); err != nil {
		return fmt.Errorf("setting role: %w", err)
	}
	return nil
}
