package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Tenosiey/Murmer/internal/models"
)

// AddVoiceChannel persists a voice channel's configuration. Re-adding an
// existing name is a no-op.
func (s *Store) AddVoiceChannel(ctx context.Context, vc models.VoiceChannel) error {
	const q = `
		INSERT INTO voice_channels (name, quality, bitrate)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, vc.Name, vc.Quality, vc.Bitrate); err != nil {
		return fmt.Errorf("adding voice channel: %w", err)
	}
	return nil
}

// UpdateVoiceChannel rewrites quality and bitrate, reporting whether the
// channel existed.
func (s *Store) UpdateVoiceChannel(ctx context.Context, vc models.VoiceChannel) (bool, error) {
	const q = `UPDATE voice_channels SET quality = $2, bitrate = $3 WHERE name = $1`

	tag, err := s.pool.Exec(ctx, q, vc.Name, vc.Quality, vc.Bitrate)
	if err != nil {
		return false, fmt.Errorf("updating voice channel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteVoiceChannel removes a voice channel row.
func (s *Store) DeleteVoiceChannel(ctx context.Context, name string) error {
	const q = `DELETE FROM voice_channels WHERE name = $1`

	if _, err := s.pool.Exec(ctx, q, name); err != nil {
		return fmt.Errorf("deleting voice channel: %w", err)
	}
	return nil
}

// VoiceChannels lists persisted voice channels in alphabetical order.
func (s *Store) VoiceChannels(ctx context.Context) ([]models.VoiceChannel, error) {
	const q = `SELECT name, quality, bitrate FROM voice_channels ORDER BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing voice channels: %w", err)
	}

	channels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.VoiceChannel, error) {
		var vc models.VoiceChannel
		err := row.Scan(&vc.Name, &vc.Quality, &vc.Bitrate)
		return vc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning voice channels: %w", err)
	}
	if channels == nil {
		channels = []models.VoiceChannel{}
	}
	return channels, nil
}
