package ws

import (
	"context"

	"github.com/Tenosiey/Murmer/internal/models"
)

// Store is the persistence surface the hub and its clients depend on.
// *db.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	InsertMessage(ctx context.Context, channel, content string) (int64, error)
	History(ctx context.Context, channel string, before *int64, limit int) ([]models.MessageRecord, error)
	SearchMessages(ctx context.Context, channel, query string, limit int) ([]models.MessageRecord, error)
	DeleteMessage(ctx context.Context, id int64) (bool, error)
	MessageChannel(ctx context.Context, id int64) (string, bool, error)
	MessageByID(ctx context.Context, id int64) (*models.MessageRecord, error)

	AddReaction(ctx context.Context, messageID int64, user, emoji string) error
	RemoveReaction(ctx context.Context, messageID int64, user, emoji string) error
	ReactionSummary(ctx context.Context, messageID int64) (map[string][]string, error)
	ReactionsForMessages(ctx context.Context, ids []int64) (map[int64]map[string][]string, error)

	AddChannel(ctx context.Context, name string) error
	DeleteChannel(ctx context.Context, name string) error
	Channels(ctx context.Context) ([]string, error)

	AddVoiceChannel(ctx context.Context, vc models.VoiceChannel) error
	UpdateVoiceChannel(ctx context.Context, vc models.VoiceChannel) (bool, error)
	DeleteVoiceChannel(ctx context.Context, name string) error
	VoiceChannels(ctx context.Context) ([]models.VoiceChannel, error)

	Role(ctx context.Context, publicKey string) (*models.RoleInfo, error)
}
