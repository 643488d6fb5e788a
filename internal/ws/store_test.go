package ws

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Tenosiey/Murmer/internal/config"
	"github.com/Tenosiey/Murmer/internal/models"
)

// fakeStore is an in-memory Store. Tests preload its fields directly and set
// the error fields to force failure paths.
type fakeStore struct {
	mu sync.Mutex

	nextID  int64
	records []models.MessageRecord

	reactions map[int64]map[string][]string

	channels []string
	voice    []models.VoiceChannel

	roles map[string]models.RoleInfo

	insertErr      error
	channelErr     error
	updateVoiceErr error

	insertCalls       int
	lastHistoryLimit  int
	lastHistoryBefore *int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reactions: make(map[int64]map[string][]string),
		roles:     make(map[string]models.RoleInfo),
	}
}

func (s *fakeStore) InsertMessage(_ context.Context, channel, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	s.records = append(s.records, models.MessageRecord{ID: s.nextID, Channel: channel, Content: content})
	return s.nextID, nil
}

func (s *fakeStore) History(_ context.Context, channel string, before *int64, limit int) ([]models.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHistoryLimit = limit
	s.lastHistoryBefore = before
	var out []models.MessageRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.Channel != channel {
			continue
		}
		if before != nil && r.ID >= *before {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) SearchMessages(_ context.Context, channel, query string, limit int) ([]models.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	var out []models.MessageRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.Channel != channel {
			continue
		}
		if !strings.Contains(strings.ToLower(r.Content), needle) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) DeleteMessage(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MessageChannel(_ context.Context, id int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r.Channel, true, nil
		}
	}
	return "", false, nil
}

func (s *fakeStore) MessageByID(_ context.Context, id int64) (*models.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			record := r
			return &record, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) AddReaction(_ context.Context, messageID int64, user, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEmoji, ok := s.reactions[messageID]
	if !ok {
		byEmoji = make(map[string][]string)
		s.reactions[messageID] = byEmoji
	}
	for _, u := range byEmoji[emoji] {
		if u == user {
			return nil
		}
	}
	byEmoji[emoji] = append(byEmoji[emoji], user)
	return nil
}

func (s *fakeStore) RemoveReaction(_ context.Context, messageID int64, user, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.reactions[messageID][emoji]
	for i, u := range users {
		if u == user {
			users = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(users) == 0 {
		delete(s.reactions[messageID], emoji)
	} else {
		s.reactions[messageID][emoji] = users
	}
	return nil
}

func (s *fakeStore) ReactionSummary(_ context.Context, messageID int64) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := make(map[string][]string)
	for emoji, users := range s.reactions[messageID] {
		summary[emoji] = append([]string(nil), users...)
	}
	return summary, nil
}

func (s *fakeStore) ReactionsForMessages(_ context.Context, ids []int64) (map[int64]map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]map[string][]string)
	for _, id := range ids {
		byEmoji, ok := s.reactions[id]
		if !ok || len(byEmoji) == 0 {
			continue
		}
		copied := make(map[string][]string, len(byEmoji))
		for emoji, users := range byEmoji {
			copied[emoji] = append([]string(nil), users...)
		}
		out[id] = copied
	}
	return out, nil
}

func (s *fakeStore) AddChannel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelErr != nil {
		return s.channelErr
	}
	for _, c := range s.channels {
		if c == name {
			return nil
		}
	}
	s.channels = append(s.channels, name)
	return nil
}

func (s *fakeStore) DeleteChannel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.channels {
		if c == name {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) Channels(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...), nil
}

func (s *fakeStore) AddVoiceChannel(_ context.Context, vc models.VoiceChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = append(s.voice, vc)
	return nil
}

func (s *fakeStore) UpdateVoiceChannel(_ context.Context, vc models.VoiceChannel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateVoiceErr != nil {
		return false, s.updateVoiceErr
	}
	for i, existing := range s.voice {
		if existing.Name == vc.Name {
			s.voice[i] = vc
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) DeleteVoiceChannel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, vc := range s.voice {
		if vc.Name == name {
			s.voice = append(s.voice[:i], s.voice[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) VoiceChannels(_ context.Context) ([]models.VoiceChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.VoiceChannel(nil), s.voice...), nil
}

func (s *fakeStore) Role(_ context.Context, publicKey string) (*models.RoleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.roles[publicKey]
	if !ok {
		return nil, nil
	}
	copied := info
	return &copied, nil
}

// testConfig returns a config with the limits Load would normally default.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Limits.MessagesPerMinute = 30
	cfg.Limits.AuthAttemptsPerMinute = 5
	cfg.Limits.NonceExpirySeconds = 300
	return cfg
}

func testHub(t *testing.T, store Store) *Hub {
	t.Helper()
	return NewHub(store, testConfig())
}
