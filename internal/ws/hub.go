package ws

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tenosiey/Murmer/internal/config"
	"github.com/Tenosiey/Murmer/internal/ice"
	"github.com/Tenosiey/Murmer/internal/models"
	"github.com/Tenosiey/Murmer/internal/telemetry"
)

// Roles that may create or delete channels once an admin token is configured.
var channelManageRoles = [...]string{"Admin", "Mod", "Owner"}

// voiceRoom tracks the members and audio settings of one voice channel.
// The bitrate pointer is replaced on update, never written through.
type voiceRoom struct {
	members map[string]struct{}
	quality string
	bitrate *int32
}

func (r *voiceRoom) info(name string) models.VoiceChannel {
	return models.VoiceChannel{Name: name, Quality: r.quality, Bitrate: r.bitrate}
}

// Hub owns all state shared across connections: the fan-out buses, presence
// and role registries, voice rooms and the abuse limiters. Every container has
// its own mutex; methods take at most one of them at a time, in the fixed
// order online, known, statuses, roles, keys, voice, and never hold a lock
// across I/O or a bus publish.
type Hub struct {
	store Store

	password   string
	adminToken string
	turn       config.TURNConfig

	global   *Bus
	channels *Registry

	msgLimiter  *SlidingWindowLimiter
	authLimiter *SlidingWindowLimiter
	nonces      *NonceStore

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	onlineMu sync.Mutex
	online   map[string]struct{}

	knownMu sync.Mutex
	known   map[string]struct{}

	statusMu sync.Mutex
	statuses map[string]string

	roleMu sync.Mutex
	roles  map[string]models.RoleInfo

	keyMu sync.Mutex
	keys  map[string]string

	voiceMu sync.Mutex
	voice   map[string]*voiceRoom
}

func NewHub(store Store, cfg *config.Config) *Hub {
	return &Hub{
		store:       store,
		password:    cfg.Server.Password,
		adminToken:  cfg.Server.AdminToken,
		turn:        cfg.TURN,
		global:      NewBus(),
		channels:    NewRegistry(),
		msgLimiter:  NewSlidingWindowLimiter(cfg.Limits.MessagesPerMinute, time.Minute),
		authLimiter: NewSlidingWindowLimiter(cfg.Limits.AuthAttemptsPerMinute, time.Minute),
		nonces:      NewNonceStore(cfg.NonceExpiry()),
		clients:     make(map[*Client]struct{}),
		online:      make(map[string]struct{}),
		known:       make(map[string]struct{}),
		statuses:    make(map[string]string),
		roles:       make(map[string]models.RoleInfo),
		keys:        make(map[string]string),
		voice:       make(map[string]*voiceRoom),
	}
}

// LoadVoiceChannels seeds the voice room map from the database. Called once
// before the hub starts accepting connections.
func (h *Hub) LoadVoiceChannels(ctx context.Context) error {
	rooms, err := h.store.VoiceChannels(ctx)
	if err != nil {
		return err
	}
	h.voiceMu.Lock()
	for _, vc := range rooms {
		h.voice[vc.Name] = &voiceRoom{
			members: make(map[string]struct{}),
			quality: vc.Quality,
			bitrate: vc.Bitrate,
		}
	}
	h.voiceMu.Unlock()
	slog.Info("voice channels loaded", "component", "hub", "count", len(rooms))
	return nil
}

// Shutdown closes every tracked connection. The pumps notice the closed
// sockets and run their usual cleanup.
func (h *Hub) Shutdown() {
	h.clientsMu.Lock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	h.clientsMu.Unlock()
	slog.Info("shutdown complete", "component", "hub")
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
	telemetry.Global().ConnectionOpened()
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
	telemetry.Global().ConnectionClosed()
}

// Global returns the bus carrying presence, role, voice and channel
// lifecycle events for every connection.
func (h *Hub) Global() *Bus {
	return h.global
}

// ChannelBus returns the fan-out bus for a text channel, creating it lazily.
func (h *Hub) ChannelBus(name string) *Bus {
	return h.channels.Get(name)
}

func (h *Hub) hasChannelBus(name string) bool {
	return h.channels.Has(name)
}

func (h *Hub) removeChannelBus(name string) {
	h.channels.Remove(name)
}

// RegisterUser marks a user online. The known set only ever grows, so late
// joiners can render users that have since gone offline.
func (h *Hub) RegisterUser(user string) {
	h.onlineMu.Lock()
	h.online[user] = struct{}{}
	h.onlineMu.Unlock()

	h.knownMu.Lock()
	h.known[user] = struct{}{}
	h.knownMu.Unlock()

	h.statusMu.Lock()
	h.statuses[user] = "online"
	h.statusMu.Unlock()
}

func (h *Hub) removeOnline(user string) {
	h.onlineMu.Lock()
	delete(h.online, user)
	h.onlineMu.Unlock()
}

// SetStatus records a presence status the caller has already validated.
func (h *Hub) SetStatus(user, status string) {
	h.statusMu.Lock()
	h.statuses[user] = status
	h.statusMu.Unlock()
}

func (h *Hub) statusSnapshot() map[string]string {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	snapshot := make(map[string]string, len(h.statuses))
	for user, status := range h.statuses {
		snapshot[user] = status
	}
	return snapshot
}

func (h *Hub) userLists() (online, all []string) {
	h.onlineMu.Lock()
	online = make([]string, 0, len(h.online))
	for user := range h.online {
		online = append(online, user)
	}
	h.onlineMu.Unlock()

	h.knownMu.Lock()
	all = make([]string, 0, len(h.known))
	for user := range h.known {
		all = append(all, user)
	}
	h.knownMu.Unlock()

	sort.Strings(online)
	sort.Strings(all)
	return online, all
}

// SetUserRole caches a role for broadcast and permission checks.
func (h *Hub) SetUserRole(user string, info models.RoleInfo) {
	h.roleMu.Lock()
	h.roles[user] = info
	h.roleMu.Unlock()
}

func (h *Hub) roleSnapshot() map[string]models.RoleInfo {
	h.roleMu.Lock()
	defer h.roleMu.Unlock()
	snapshot := make(map[string]models.RoleInfo, len(h.roles))
	for user, info := range h.roles {
		snapshot[user] = info
	}
	return snapshot
}

func (h *Hub) setUserKey(user, key string) {
	h.keyMu.Lock()
	h.keys[user] = key
	h.keyMu.Unlock()
}

func (h *Hub) usersWithKey(key string) []string {
	h.keyMu.Lock()
	defer h.keyMu.Unlock()
	var users []string
	for user, k := range h.keys {
		if k == key {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

// CanManage reports whether user may create, update or delete channels. With
// no admin token configured every authenticated user qualifies; otherwise the
// cached role must be one of the privileged ones.
func (h *Hub) CanManage(user string) bool {
	if h.adminToken == "" {
		return true
	}
	h.roleMu.Lock()
	info, ok := h.roles[user]
	h.roleMu.Unlock()
	if !ok {
		return false
	}
	for _, allowed := range channelManageRoles {
		if strings.EqualFold(info.Role, allowed) {
			return true
		}
	}
	return false
}

// ApplyRole updates the cached role for every user whose presence carried key
// and broadcasts the change. The database row is the caller's business.
func (h *Hub) ApplyRole(key, role string, color *string) {
	users := h.usersWithKey(key)
	info := models.RoleInfo{Role: role, Color: color}
	h.roleMu.Lock()
	for _, user := range users {
		h.roles[user] = info
	}
	h.roleMu.Unlock()
	for _, user := range users {
		h.BroadcastRole(user, role, color)
	}
}

// JoinVoice moves user into the named room, creating it with defaults when
// absent. Returns the rooms the user vacated, whether the target room is new,
// and the target's descriptor for the creation broadcast.
func (h *Hub) JoinVoice(user, channel string) (vacated []string, created bool, info models.VoiceChannel) {
	h.voiceMu.Lock()
	for name, room := range h.voice {
		if _, ok := room.members[user]; ok && name != channel {
			delete(room.members, user)
			vacated = append(vacated, name)
		}
	}
	room, ok := h.voice[channel]
	if !ok {
		bitrate := defaultVoiceBitrate
		room = &voiceRoom{
			members: make(map[string]struct{}),
			quality: defaultVoiceQuality,
			bitrate: &bitrate,
		}
		h.voice[channel] = room
		created = true
	}
	room.members[user] = struct{}{}
	info = room.info(channel)
	h.voiceMu.Unlock()

	sort.Strings(vacated)
	return vacated, created, info
}

// LeaveVoice removes user from the named room if it exists.
func (h *Hub) LeaveVoice(user, channel string) {
	h.voiceMu.Lock()
	if room, ok := h.voice[channel]; ok {
		delete(room.members, user)
	}
	h.voiceMu.Unlock()
}

// removeFromVoice drops user from whichever room holds it. At most one room
// can, because JoinVoice clears all others.
func (h *Hub) removeFromVoice(user string) (string, bool) {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	for name, room := range h.voice {
		if _, ok := room.members[user]; ok {
			delete(room.members, user)
			return name, true
		}
	}
	return "", false
}

func (h *Hub) voiceUsers(channel string) []string {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	users := make([]string, 0)
	if room, ok := h.voice[channel]; ok {
		for user := range room.members {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

// voiceMemberships snapshots every room's member list, including empty rooms.
func (h *Hub) voiceMemberships() map[string][]string {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	snapshot := make(map[string][]string, len(h.voice))
	for name, room := range h.voice {
		users := make([]string, 0, len(room.members))
		for user := range room.members {
			users = append(users, user)
		}
		sort.Strings(users)
		snapshot[name] = users
	}
	return snapshot
}

// voiceRoomList returns every room's descriptor sorted by name.
func (h *Hub) voiceRoomList() []models.VoiceChannel {
	h.voiceMu.Lock()
	rooms := make([]models.VoiceChannel, 0, len(h.voice))
	for name, room := range h.voice {
		rooms = append(rooms, room.info(name))
	}
	h.voiceMu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// voiceRoomInfo returns one room's descriptor.
func (h *Hub) voiceRoomInfo(name string) (models.VoiceChannel, bool) {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	room, ok := h.voice[name]
	if !ok {
		return models.VoiceChannel{}, false
	}
	return room.info(name), true
}

// createVoiceRoom inserts an empty room. Reports false when the name is taken.
func (h *Hub) createVoiceRoom(name, quality string, bitrate *int32) bool {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	if _, ok := h.voice[name]; ok {
		return false
	}
	h.voice[name] = &voiceRoom{
		members: make(map[string]struct{}),
		quality: quality,
		bitrate: bitrate,
	}
	return true
}

// updateVoiceRoom applies new settings and reports whether the room existed.
func (h *Hub) updateVoiceRoom(name, quality string, bitrate *int32) (models.VoiceChannel, bool) {
	h.voiceMu.Lock()
	defer h.voiceMu.Unlock()
	room, ok := h.voice[name]
	if !ok {
		return models.VoiceChannel{}, false
	}
	room.quality = quality
	room.bitrate = bitrate
	return room.info(name), true
}

func (h *Hub) removeVoiceRoom(name string) {
	h.voiceMu.Lock()
	delete(h.voice, name)
	h.voiceMu.Unlock()
}

// BroadcastOnlineUsers publishes the online and known user lists globally.
func (h *Hub) BroadcastOnlineUsers() {
	online, all := h.userLists()
	h.global.Publish(OnlineUsersFrame{Type: EventOnlineUsers, Users: online, All: all})
}

func (h *Hub) BroadcastStatus(user, status string) {
	h.global.Publish(StatusUpdateFrame{Type: EventStatusUpdate, User: user, Status: status})
	slog.Debug("status changed", "component", "hub", "user", user, "status", status)
}

func (h *Hub) BroadcastRole(user, role string, color *string) {
	h.global.Publish(RoleUpdateFrame{Type: EventRoleUpdate, User: user, Role: role, Color: color})
}

// BroadcastVoiceUsers publishes a room's member list. Unknown rooms yield an
// empty list rather than nothing, so clients can clear stale state.
func (h *Hub) BroadcastVoiceUsers(channel string) {
	h.global.Publish(VoiceUsersFrame{Type: EventVoiceUsers, Channel: channel, Users: h.voiceUsers(channel)})
}

func (h *Hub) BroadcastChannelAdd(name string) {
	h.global.Publish(ChannelEventFrame{Type: EventChannelAdd, Channel: name})
}

func (h *Hub) BroadcastChannelRemove(name string) {
	h.global.Publish(ChannelEventFrame{Type: EventChannelRemove, Channel: name})
}

func (h *Hub) BroadcastVoiceChannelAdd(vc models.VoiceChannel) {
	h.global.Publish(VoiceChannelEventFrame{Type: EventVoiceChannelAdd, Channel: vc.Name, Quality: vc.Quality, Bitrate: vc.Bitrate})
}

func (h *Hub) BroadcastVoiceChannelUpdate(vc models.VoiceChannel) {
	h.global.Publish(VoiceChannelEventFrame{Type: EventVoiceChannelUpdate, Channel: vc.Name, Quality: vc.Quality, Bitrate: vc.Bitrate})
}

func (h *Hub) BroadcastVoiceChannelRemove(name string) {
	h.global.Publish(ChannelEventFrame{Type: EventVoiceChannelRemove, Channel: name})
}

// BroadcastMessageDeleted tells a channel's subscribers that a message id is
// gone. Also invoked by the ephemeral sweep service.
func (h *Hub) BroadcastMessageDeleted(channel string, id int64) {
	h.ChannelBus(channel).Publish(MessageDeletedFrame{Type: EventMessageDeleted, ID: id, Channel: channel})
}

// scheduleEphemeralDelete sleeps until the message expires, deletes it and
// announces the deletion. Runs detached so it survives the sender's session.
func (h *Hub) scheduleEphemeralDelete(channel string, id int64, expiry time.Time) {
	delay := time.Until(expiry)
	if delay < 0 {
		delay = 0
	}
	if max := maxEphemeralSeconds * time.Second; delay > max {
		delay = max
	}
	time.Sleep(delay)

	deleted, err := h.store.DeleteMessage(context.Background(), id)
	if err != nil {
		slog.Error("failed to delete ephemeral message", "component", "hub", "id", id, "error", err)
		return
	}
	if deleted {
		h.BroadcastMessageDeleted(channel, id)
	}
}

// iceServers builds per-user TURN credentials, or nil when TURN is not
// configured.
func (h *Hub) iceServers(user string) []ice.Server {
	return ice.BuildServers(h.turn, user)
}
