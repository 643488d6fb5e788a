package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tenosiey/Murmer/internal/constants"
	"github.com/Tenosiey/Murmer/internal/models"
	"github.com/Tenosiey/Murmer/internal/telemetry"
)

// ClientState is the lifecycle state of a WebSocket session.
type ClientState int32

const (
	ClientStateConnected  ClientState = iota // connected, awaiting presence
	ClientStateIdentified                    // presence accepted, processing events
	ClientStateClosing                       // shutdown initiated
	ClientStateClosed                        // terminal
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 10 * time.Second

	// Maximum frame size allowed from peer
	maxMessageSize = 65536

	// Outbound queue capacity per connection
	sendBufferSize = 100
)

// Client is a single WebSocket session. The session fields below the
// subscription handles are owned by the ReadPump goroutine and must not be
// touched from anywhere else.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan any
	connCloseOnce sync.Once
	state         atomic.Int32

	id       string
	remoteIP string

	dropped atomic.Int64

	// Owned by the ReadPump goroutine.
	user         string
	verified     bool
	channel      string
	voiceChannel string
	channelSub   *Subscription
	globalSub    *Subscription
}

// NewClient wires a fresh connection into the hub: it registers for
// shutdown tracking and subscribes to the global bus and the general
// channel. Servers without a password skip the session gate entirely.
func NewClient(hub *Hub, conn *websocket.Conn, remoteIP string) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan any, sendBufferSize),
		id:       uuid.NewString(),
		remoteIP: remoteIP,
		channel:  "general",
	}
	c.state.Store(int32(ClientStateConnected))
	if hub.password == "" {
		c.state.Store(int32(ClientStateIdentified))
	}
	hub.registerClient(c)
	c.globalSub = hub.Global().Subscribe(c.send, c.recordDrop)
	c.channelSub = hub.ChannelBus(c.channel).Subscribe(c.send, c.recordDrop)
	slog.Info("client connected", "component", "ws", "conn_id", c.id, "ip", remoteIP)
	return c
}

func isValidClientTransition(from, to ClientState) bool {
	switch from {
	case ClientStateConnected:
		return to == ClientStateIdentified || to == ClientStateClosing
	case ClientStateIdentified:
		return to == ClientStateClosing
	case ClientStateClosing:
		return to == ClientStateClosed
	default:
		return false
	}
}

func (c *Client) transitionTo(next ClientState) bool {
	for {
		current := ClientState(c.state.Load())
		if current == next || !isValidClientTransition(current, next) {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(next)) {
			return true
		}
	}
}

// IsIdentified reports whether the session has passed the presence gate.
func (c *Client) IsIdentified() bool {
	return ClientState(c.state.Load()) == ClientStateIdentified
}

func (c *Client) isClosed() bool {
	s := ClientState(c.state.Load())
	return s == ClientStateClosing || s == ClientStateClosed
}

// Close tears the connection down, at most once.
func (c *Client) Close() {
	if !c.transitionTo(ClientStateClosing) {
		c.connCloseOnce.Do(func() { c.conn.Close() })
		return
	}
	c.connCloseOnce.Do(func() { c.conn.Close() })
	c.transitionTo(ClientStateClosed)
}

// trySend queues a frame for this session without blocking. A full queue
// drops the frame and counts it, same as a bus publish would.
func (c *Client) trySend(frame any) {
	select {
	case c.send <- frame:
	default:
		c.recordDrop()
	}
}

func (c *Client) recordDrop() {
	dropped := c.dropped.Add(1)
	if dropped%10 == 1 {
		slog.Warn("dropped frames for slow client", "component", "ws", "conn_id", c.id, "dropped", dropped)
	}
	telemetry.Global().EventDropped()
}

// ReadPump consumes inbound frames until the connection dies or a terminal
// protocol error occurs, then runs the disconnect sequence.
func (c *Client) ReadPump() {
	defer func() {
		c.disconnect()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected close", "component", "ws", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			slog.Warn("non-text frame, closing connection", "component", "ws", "conn_id", c.id)
			return
		}
		if !c.handleMessage(data) {
			return
		}
	}
}

// WritePump serializes queued frames onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if c.isClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("write failed", "component", "ws", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if c.isClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame. Returns false when the
// session must terminate.
func (c *Client) handleMessage(data []byte) bool {
	msg, err := decodeEnvelope(data)
	if err != nil {
		slog.Warn("discarding malformed frame", "component", "ws", "conn_id", c.id, "error", err)
		return true
	}
	msgType, ok := stringField(msg, "type")
	if !ok {
		return true
	}

	if !c.IsIdentified() && msgType != CmdPresence {
		c.trySend(errorFrame(constants.ErrCodeUnauthenticated))
		return false
	}

	// Sessions parked in a deleted channel move themselves to general on
	// their next event. No history resend; an explicit join does that.
	if c.channel != "general" && !c.hub.hasChannelBus(c.channel) {
		c.switchChannel("general")
	}

	// Payload bodies stay out of the logs: signalling blobs are noise and
	// presence frames carry credentials.
	if strings.HasPrefix(msgType, "voice-") {
		slog.Debug("voice event", "component", "ws", "conn_id", c.id, "type", msgType)
	} else {
		slog.Info("event received", "component", "ws", "conn_id", c.id, "type", msgType)
	}
	telemetry.Global().FrameDispatched(msgType)

	switch msgType {
	case CmdPresence:
		return c.handlePresence(msg)
	case CmdJoin:
		c.handleJoin(msg)
	case CmdLoadHistory:
		c.handleLoadHistory(msg)
	case CmdSearchHistory:
		c.handleSearchHistory(msg)
	case CmdCreateChannel:
		c.handleCreateChannel(msg)
	case CmdDeleteChannel:
		c.handleDeleteChannel(msg)
	case CmdCreateVoiceChannel:
		c.handleCreateVoiceChannel(msg)
	case CmdUpdateVoiceChannel:
		c.handleUpdateVoiceChannel(msg)
	case CmdDeleteVoiceChannel:
		c.handleDeleteVoiceChannel(msg)
	case CmdChat:
		c.handleChat(msg)
	case CmdDeleteMessage:
		c.handleDeleteMessage(msg)
	case CmdReact:
		c.handleReact(msg)
	case CmdStatusUpdate:
		c.handleStatusUpdate(msg)
	case CmdPing:
		c.handlePing(msg)
	case CmdVoiceJoin:
		c.handleVoiceJoin(msg, data)
	case CmdVoiceLeave:
		c.handleVoiceLeave(msg, data)
	case CmdVoiceOffer, CmdVoiceAnswer, CmdVoiceCandidate:
		c.hub.Global().Publish(json.RawMessage(data))
	default:
		slog.Error("unknown event type", "component", "ws", "conn_id", c.id, "type", msgType)
	}
	return true
}

// handlePresence runs the session gate: password check, optional signature
// verification, username registration and the state snapshot. Returns false
// on any rejection; presence failures always terminate the session.
func (c *Client) handlePresence(msg map[string]any) bool {
	authenticated := c.IsIdentified()

	password, _ := stringField(msg, "password")
	publicKey, hasKey := stringField(msg, "publicKey")
	signature, hasSig := stringField(msg, "signature")
	timestamp, hasTS := stringField(msg, "timestamp")

	if !authenticated && c.hub.password != "" {
		if password != c.hub.password {
			c.trySend(errorFrame(constants.ErrCodeInvalidPassword))
			return false
		}
	}

	// Replay protection must hold even when no password gate is configured,
	// so the signature pipeline runs whenever a full triple is supplied. On
	// gated servers the triple is what authenticates; the password alone
	// only clears the first hurdle.
	if hasKey && hasSig && hasTS && !c.verified {
		if code := c.hub.authenticate(c.remoteIP, publicKey, signature, timestamp); code != "" {
			c.trySend(errorFrame(code))
			return false
		}
		c.verified = true
		authenticated = true
	}

	if !authenticated {
		c.trySend(errorFrame(constants.ErrCodeInvalidSignature))
		return false
	}
	c.transitionTo(ClientStateIdentified)

	user, ok := stringField(msg, "user")
	if !ok {
		return true
	}
	if !validUserName(user) {
		c.trySend(errorFrame(constants.ErrCodeInvalidUsername))
		return false
	}

	c.hub.RegisterUser(user)
	c.hub.BroadcastStatus(user, "online")
	c.hub.BroadcastOnlineUsers()
	c.user = user
	slog.Info("user identified", "component", "ws", "conn_id", c.id, "user", user)

	if hasKey {
		c.hub.setUserKey(user, publicKey)
		if info, err := c.hub.store.Role(context.Background(), publicKey); err != nil {
			slog.Error("failed to load role", "component", "ws", "user", user, "error", err)
		} else if info != nil {
			if info.Color == nil {
				info.Color = models.DefaultRoleColor(info.Role)
			}
			c.hub.SetUserRole(user, *info)
			c.hub.BroadcastRole(user, info.Role, info.Color)
		}
	}

	c.sendSnapshot()
	return true
}

// sendSnapshot delivers the state a freshly identified session needs to
// render: roles, statuses, channel lists, presence, voice membership and
// the recent history of its current channel.
func (c *Client) sendSnapshot() {
	roles := c.hub.roleSnapshot()
	roleUsers := make([]string, 0, len(roles))
	for user := range roles {
		roleUsers = append(roleUsers, user)
	}
	sort.Strings(roleUsers)
	for _, user := range roleUsers {
		info := roles[user]
		c.trySend(RoleUpdateFrame{Type: EventRoleUpdate, User: user, Role: info.Role, Color: info.Color})
	}

	if statuses := c.hub.statusSnapshot(); len(statuses) > 0 {
		c.trySend(StatusSnapshotFrame{Type: EventStatusSnapshot, Statuses: statuses})
	}

	channels, err := c.hub.store.Channels(context.Background())
	if err != nil {
		slog.Error("failed to list channels", "component", "ws", "error", err)
		channels = []string{}
	}
	c.trySend(ChannelListFrame{Type: EventChannelList, Channels: channels})

	c.trySend(VoiceChannelListFrame{Type: EventVoiceChannelList, Channels: c.hub.voiceRoomList()})

	online, all := c.hub.userLists()
	c.trySend(OnlineUsersFrame{Type: EventOnlineUsers, Users: online, All: all})

	memberships := c.hub.voiceMemberships()
	rooms := make([]string, 0, len(memberships))
	for room := range memberships {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		c.trySend(VoiceUsersFrame{Type: EventVoiceUsers, Channel: room, Users: memberships[room]})
	}

	c.sendHistory(c.channel, nil, defaultHistoryLimit)
}

func (c *Client) handleJoin(msg map[string]any) {
	channel, ok := stringField(msg, "channel")
	if !ok {
		return
	}
	c.switchChannel(channel)
	c.sendHistory(channel, nil, defaultHistoryLimit)
}

func (c *Client) handleLoadHistory(msg map[string]any) {
	// Negative cursors and limits are treated as absent; a negative LIMIT
	// would be a query error downstream.
	var before *int64
	if v, ok := int64Field(msg, "before"); ok && v >= 0 {
		before = &v
	}
	limit := int64(defaultHistoryLimit)
	if v, ok := int64Field(msg, "limit"); ok && v >= 0 {
		limit = v
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
		slog.Warn("history request limit capped", "component", "ws", "conn_id", c.id, "limit", maxHistoryLimit)
	}
	c.sendHistory(c.channel, before, int(limit))
}

func (c *Client) handleSearchHistory(msg map[string]any) {
	requestID := rawField(msg, "requestId")

	rawQuery, ok := stringField(msg, "query")
	if !ok {
		c.trySend(SearchErrorFrame{Type: EventSearchError, Message: "missing-query", RequestID: requestID})
		return
	}
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		c.trySend(SearchResultsFrame{Type: EventSearchResults, RequestID: requestID, Channel: c.channel, Messages: []map[string]any{}})
		return
	}

	channel := c.channel
	if raw, ok := stringField(msg, "channel"); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			if !validChannelName(trimmed) {
				c.trySend(SearchErrorFrame{Type: EventSearchError, Message: "invalid-channel", RequestID: requestID})
				return
			}
			channel = trimmed
		}
	}

	limit := int64(defaultHistoryLimit)
	if v, ok := int64Field(msg, "limit"); ok {
		limit = v
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	rows, err := c.hub.store.SearchMessages(context.Background(), channel, query, int(limit))
	if err != nil {
		slog.Error("search failed", "component", "ws", "channel", channel, "error", err)
		c.trySend(SearchErrorFrame{Type: EventSearchError, Message: "Search failed", RequestID: requestID})
		return
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	reactions, err := c.hub.store.ReactionsForMessages(context.Background(), ids)
	if err != nil {
		slog.Error("failed to load reactions for search", "component", "ws", "error", err)
		reactions = map[int64]map[string][]string{}
	}

	messages := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		decoded, err := decodeEnvelope([]byte(row.Content))
		if err != nil {
			slog.Warn("skipping malformed stored message", "component", "ws", "id", row.ID)
			continue
		}
		decoded["id"] = row.ID
		if _, ok := decoded["channel"]; !ok {
			decoded["channel"] = row.Channel
		}
		if r, ok := reactions[row.ID]; ok {
			decoded["reactions"] = r
		}
		if _, ok := decoded["reactions"]; !ok {
			decoded["reactions"] = map[string]any{}
		}
		messages = append(messages, decoded)
	}

	c.trySend(SearchResultsFrame{Type: EventSearchResults, RequestID: requestID, Channel: channel, Messages: messages})
}

func (c *Client) handleCreateChannel(msg map[string]any) {
	name, ok := stringField(msg, "name")
	if !ok {
		return
	}
	if !validChannelName(name) {
		slog.Error("invalid channel name", "component", "ws", "name", name)
		c.trySend(errorFrame(constants.ErrCodeInvalidChannelName))
		return
	}
	if c.user == "" || !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeChannelPermissionDenied))
		return
	}
	if err := c.hub.store.AddChannel(context.Background(), name); err != nil {
		slog.Error("failed to add channel", "component", "ws", "name", name, "error", err)
		c.trySend(errorFrame(constants.ErrCodeChannelCreationFailed))
		return
	}
	c.hub.ChannelBus(name)
	c.hub.BroadcastChannelAdd(name)
}

func (c *Client) handleDeleteChannel(msg map[string]any) {
	name, ok := stringField(msg, "name")
	if !ok {
		return
	}
	if !validChannelName(name) {
		slog.Error("invalid channel name for deletion", "component", "ws", "name", name)
		c.trySend(errorFrame(constants.ErrCodeInvalidChannelName))
		return
	}
	if name == "general" {
		c.trySend(errorFrame(constants.ErrCodeCannotDeleteGeneral))
		return
	}
	if c.user == "" || !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeChannelPermissionDenied))
		return
	}
	if err := c.hub.store.DeleteChannel(context.Background(), name); err != nil {
		slog.Error("failed to delete channel", "component", "ws", "name", name, "error", err)
		c.trySend(errorFrame(constants.ErrCodeChannelDeletionFailed))
		return
	}
	c.hub.removeChannelBus(name)
	c.hub.BroadcastChannelRemove(name)
	if c.channel == name {
		c.switchChannel("general")
	}
}

func (c *Client) handleCreateVoiceChannel(msg map[string]any) {
	name, ok := stringField(msg, "name")
	if !ok {
		return
	}
	if !validChannelName(name) {
		slog.Error("invalid voice channel name", "component", "ws", "name", name)
		c.trySend(errorFrame(constants.ErrCodeInvalidChannelName))
		return
	}
	if c.user == "" || !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeChannelPermissionDenied))
		return
	}

	quality := defaultVoiceQuality
	if raw, ok := stringField(msg, "quality"); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			quality = trimmed
		}
	}
	if !validVoiceQuality(quality) {
		c.trySend(errorFrame(constants.ErrCodeInvalidVoiceQuality))
		return
	}

	def := defaultVoiceBitrate
	bitrate := &def
	if raw, ok := msg["bitrate"]; ok {
		switch v := raw.(type) {
		case nil:
			bitrate = nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
				return
			}
			valid, ok := validBitrate(n)
			if !ok {
				c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
				return
			}
			bitrate = &valid
		default:
			c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
			return
		}
	}

	if !c.hub.createVoiceRoom(name, quality, bitrate) {
		return
	}
	vc := models.VoiceChannel{Name: name, Quality: quality, Bitrate: bitrate}
	if err := c.hub.store.AddVoiceChannel(context.Background(), vc); err != nil {
		slog.Error("failed to persist voice channel", "component", "ws", "name", name, "error", err)
	}
	c.hub.BroadcastVoiceChannelAdd(vc)
}

func (c *Client) handleUpdateVoiceChannel(msg map[string]any) {
	name, ok := stringField(msg, "name")
	if !ok {
		return
	}
	if !validChannelName(name) {
		slog.Error("invalid voice channel name for update", "component", "ws", "name", name)
		c.trySend(errorFrame(constants.ErrCodeInvalidChannelName))
		return
	}
	if c.user == "" || !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeChannelPermissionDenied))
		return
	}

	var qualityOverride *string
	if raw, ok := stringField(msg, "quality"); ok {
		trimmed := strings.TrimSpace(raw)
		if !validVoiceQuality(trimmed) {
			c.trySend(errorFrame(constants.ErrCodeInvalidVoiceQuality))
			return
		}
		qualityOverride = &trimmed
	}

	// Three-way bitrate: absent keeps the current value, null clears it,
	// a number replaces it after validation.
	bitrateSet := false
	var bitrateOverride *int32
	if raw, ok := msg["bitrate"]; ok {
		switch v := raw.(type) {
		case nil:
			bitrateSet = true
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
				return
			}
			valid, ok := validBitrate(n)
			if !ok {
				c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
				return
			}
			bitrateSet = true
			bitrateOverride = &valid
		default:
			c.trySend(errorFrame(constants.ErrCodeInvalidVoiceBitrate))
			return
		}
	}

	existing, ok := c.hub.voiceRoomInfo(name)
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeUnknownVoiceChannel))
		return
	}
	quality := existing.Quality
	if qualityOverride != nil {
		quality = *qualityOverride
	}
	bitrate := existing.Bitrate
	if bitrateSet {
		bitrate = bitrateOverride
	}

	updated, err := c.hub.store.UpdateVoiceChannel(context.Background(), models.VoiceChannel{Name: name, Quality: quality, Bitrate: bitrate})
	if err != nil {
		slog.Error("failed to update voice channel", "component", "ws", "name", name, "error", err)
		c.trySend(errorFrame(constants.ErrCodeVoiceChannelUpdateFailed))
		return
	}
	if !updated {
		c.trySend(errorFrame(constants.ErrCodeUnknownVoiceChannel))
		return
	}
	if vc, ok := c.hub.updateVoiceRoom(name, quality, bitrate); ok {
		c.hub.BroadcastVoiceChannelUpdate(vc)
	}
}

func (c *Client) handleDeleteVoiceChannel(msg map[string]any) {
	name, ok := stringField(msg, "name")
	if !ok {
		return
	}
	if !validChannelName(name) {
		slog.Error("invalid voice channel name for deletion", "component", "ws", "name", name)
		c.trySend(errorFrame(constants.ErrCodeInvalidChannelName))
		return
	}
	if c.user == "" || !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeChannelPermissionDenied))
		return
	}
	c.hub.removeVoiceRoom(name)
	if err := c.hub.store.DeleteVoiceChannel(context.Background(), name); err != nil {
		slog.Error("failed to delete voice channel", "component", "ws", "name", name, "error", err)
	}
	c.hub.BroadcastVoiceChannelRemove(name)
	if c.voiceChannel == name {
		c.voiceChannel = ""
	}
}

// handleChat stamps, persists and fans out a chat message. The envelope is
// forwarded as received apart from the sanitized fields, so clients may
// attach arbitrary extra keys.
func (c *Client) handleChat(msg map[string]any) {
	if c.user != "" && !c.hub.msgLimiter.Allow(c.user) {
		c.trySend(errorFrame(constants.ErrCodeMessageRateLimit))
		return
	}

	msg["channel"] = c.channel
	ts := sanitizeTimestamp(msg)

	ephemeral := false
	var expiry time.Time
	switch raw := msg["expiresAt"].(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			earliest := ts.Add(minEphemeralSeconds * time.Second)
			latest := ts.Add(maxEphemeralSeconds * time.Second)
			if parsed.Before(earliest) {
				parsed = earliest
			}
			if parsed.After(latest) {
				parsed = latest
			}
			msg["expiresAt"] = parsed.Format(time.RFC3339)
			msg["ephemeral"] = true
			ephemeral = true
			expiry = parsed
		} else {
			delete(msg, "expiresAt")
			delete(msg, "ephemeral")
		}
	default:
		delete(msg, "expiresAt")
		delete(msg, "ephemeral")
	}

	if _, ok := msg["reactions"]; !ok {
		msg["reactions"] = map[string]any{}
	}
	if _, ok := msg["time"].(string); !ok {
		msg["time"] = ts.Format("15:04:05")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode message", "component", "ws", "error", err)
		return
	}
	id, err := c.hub.store.InsertMessage(context.Background(), c.channel, string(data))
	if err != nil {
		slog.Error("failed to store message", "component", "ws", "channel", c.channel, "error", err)
		return
	}
	telemetry.Global().MessageStored()

	msg["id"] = id
	c.hub.ChannelBus(c.channel).Publish(msg)
	if ephemeral {
		go c.hub.scheduleEphemeralDelete(c.channel, id, expiry)
	}
}

// sanitizeTimestamp normalizes the envelope's timestamp to RFC 3339,
// substituting the server clock when missing or unparseable, and returns
// the resulting instant.
func sanitizeTimestamp(msg map[string]any) time.Time {
	if raw, ok := stringField(msg, "timestamp"); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			msg["timestamp"] = parsed.Format(time.RFC3339)
			return parsed
		}
	}
	now := time.Now().UTC()
	msg["timestamp"] = now.Format(time.RFC3339)
	return now
}

func (c *Client) handleDeleteMessage(msg map[string]any) {
	if c.user == "" {
		c.trySend(errorFrame(constants.ErrCodeNotAuthenticated))
		return
	}
	id, ok := int64Field(msg, "messageId")
	if !ok || id < math.MinInt32 || id > math.MaxInt32 {
		c.trySend(errorFrame(constants.ErrCodeInvalidMessageID))
		return
	}

	record, err := c.hub.store.MessageByID(context.Background(), id)
	if err != nil {
		slog.Error("failed to load message", "component", "ws", "id", id, "error", err)
		c.trySend(errorFrame(constants.ErrCodeMessageDeleteFailed))
		return
	}
	if record == nil {
		c.trySend(errorFrame(constants.ErrCodeMessageNotFound))
		return
	}
	if record.Channel != c.channel {
		c.trySend(errorFrame(constants.ErrCodeMessageWrongChannel))
		return
	}

	owner := ""
	if content, err := decodeEnvelope([]byte(record.Content)); err == nil {
		if u, ok := stringField(content, "user"); ok {
			owner = u
		}
	}
	if owner != c.user && !c.hub.CanManage(c.user) {
		c.trySend(errorFrame(constants.ErrCodeMessagePermissionDenied))
		return
	}

	deleted, err := c.hub.store.DeleteMessage(context.Background(), id)
	if err != nil {
		slog.Error("failed to delete message", "component", "ws", "id", id, "error", err)
		c.trySend(errorFrame(constants.ErrCodeMessageDeleteFailed))
		return
	}
	if !deleted {
		c.trySend(errorFrame(constants.ErrCodeMessageNotFound))
		return
	}
	c.hub.BroadcastMessageDeleted(record.Channel, id)
}

func (c *Client) handleReact(msg map[string]any) {
	if c.user == "" {
		c.trySend(errorFrame(constants.ErrCodeNotAuthenticated))
		return
	}
	id, ok := int64Field(msg, "messageId")
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidMessageID))
		return
	}
	action, ok := stringField(msg, "action")
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidReactionAction))
		return
	}
	rawEmoji, ok := stringField(msg, "emoji")
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidEmoji))
		return
	}
	emoji, ok := validEmoji(rawEmoji)
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidEmoji))
		return
	}
	if id < math.MinInt32 || id > math.MaxInt32 {
		c.trySend(errorFrame(constants.ErrCodeInvalidMessageID))
		return
	}

	target, found, err := c.hub.store.MessageChannel(context.Background(), id)
	if err != nil {
		slog.Error("failed to resolve message channel", "component", "ws", "id", id, "error", err)
		c.trySend(errorFrame(constants.ErrCodeReactionFailed))
		return
	}
	if !found {
		c.trySend(errorFrame(constants.ErrCodeMessageNotFound))
		return
	}

	switch action {
	case "add":
		err = c.hub.store.AddReaction(context.Background(), id, c.user, emoji)
	case "remove":
		err = c.hub.store.RemoveReaction(context.Background(), id, c.user, emoji)
	default:
		c.trySend(errorFrame(constants.ErrCodeInvalidReactionAction))
		return
	}
	if err != nil {
		slog.Error("failed to apply reaction", "component", "ws", "id", id, "action", action, "error", err)
		c.trySend(errorFrame(constants.ErrCodeReactionFailed))
		return
	}

	reactions, err := c.hub.store.ReactionSummary(context.Background(), id)
	if err != nil {
		slog.Error("failed to summarize reactions", "component", "ws", "id", id, "error", err)
		return
	}
	c.hub.ChannelBus(target).Publish(ReactionUpdateFrame{Type: EventReactionUpdate, Channel: target, MessageID: id, Reactions: reactions})
}

func (c *Client) handleStatusUpdate(msg map[string]any) {
	if c.user == "" {
		c.trySend(errorFrame(constants.ErrCodeNotAuthenticated))
		return
	}
	raw, ok := stringField(msg, "status")
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidStatus))
		return
	}
	status, ok := normalizeStatus(raw)
	if !ok {
		c.trySend(errorFrame(constants.ErrCodeInvalidStatus))
		return
	}
	c.hub.SetStatus(c.user, status)
	c.hub.BroadcastStatus(c.user, status)
}

func (c *Client) handlePing(msg map[string]any) {
	c.trySend(PongFrame{Type: EventPong, ID: rawField(msg, "id")})
}

// handleVoiceJoin applies membership exclusivity, then relays the raw frame
// for the peers to negotiate against. The joining session additionally gets
// TURN credentials when a relay is configured.
func (c *Client) handleVoiceJoin(msg map[string]any, data []byte) {
	user, hasUser := stringField(msg, "user")
	channel, hasChannel := stringField(msg, "channel")
	if hasUser && hasChannel {
		vacated, created, info := c.hub.JoinVoice(user, channel)
		c.voiceChannel = channel
		if created {
			c.hub.BroadcastVoiceChannelAdd(info)
		}
		for _, room := range vacated {
			c.hub.BroadcastVoiceUsers(room)
		}
	}
	if hasChannel {
		c.hub.BroadcastVoiceUsers(channel)
	}
	c.hub.Global().Publish(json.RawMessage(data))

	if hasUser {
		if servers := c.hub.iceServers(user); len(servers) > 0 {
			c.trySend(IceServersFrame{Type: EventIceServers, Servers: servers})
		}
	}
}

func (c *Client) handleVoiceLeave(msg map[string]any, data []byte) {
	user, hasUser := stringField(msg, "user")
	channel, hasChannel := stringField(msg, "channel")
	if hasUser && hasChannel {
		c.hub.LeaveVoice(user, channel)
		c.hub.BroadcastVoiceUsers(channel)
		if c.voiceChannel == channel {
			c.voiceChannel = ""
		}
	}
	c.hub.Global().Publish(json.RawMessage(data))
}

// switchChannel moves the session's subscription to another text channel.
func (c *Client) switchChannel(channel string) {
	if c.channelSub != nil {
		c.channelSub.Cancel()
	}
	c.channel = channel
	c.channelSub = c.hub.ChannelBus(channel).Subscribe(c.send, c.recordDrop)
}

// sendHistory loads up to limit messages of a channel ending at the id in
// before (exclusive) and queues them oldest-first, reactions attached.
// Nothing is sent for an empty page.
func (c *Client) sendHistory(channel string, before *int64, limit int) {
	rows, err := c.hub.store.History(context.Background(), channel, before, limit)
	if err != nil {
		slog.Error("failed to load history", "component", "ws", "channel", channel, "error", err)
		return
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	reactions, err := c.hub.store.ReactionsForMessages(context.Background(), ids)
	if err != nil {
		slog.Error("failed to load reactions for history", "component", "ws", "channel", channel, "error", err)
		reactions = map[int64]map[string][]string{}
	}

	messages := make([]map[string]any, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		decoded, err := decodeEnvelope([]byte(row.Content))
		if err != nil {
			slog.Warn("skipping malformed stored message", "component", "ws", "id", row.ID)
			continue
		}
		decoded["id"] = row.ID
		if r, ok := reactions[row.ID]; ok {
			decoded["reactions"] = r
		}
		messages = append(messages, decoded)
	}
	if len(messages) > 0 {
		c.trySend(HistoryFrame{Type: EventHistory, Messages: messages})
	}
}

// disconnect runs the teardown sequence once the read loop exits: cancel
// subscriptions, drop presence, vacate voice and announce the offline
// status. Roles, keys and the known-users entry survive for display.
func (c *Client) disconnect() {
	if c.channelSub != nil {
		c.channelSub.Cancel()
	}
	if c.globalSub != nil {
		c.globalSub.Cancel()
	}
	c.hub.unregisterClient(c)

	if c.user == "" {
		slog.Info("client disconnected", "component", "ws", "conn_id", c.id)
		return
	}
	user := c.user
	c.hub.removeOnline(user)
	c.hub.BroadcastOnlineUsers()
	if room, ok := c.hub.removeFromVoice(user); ok {
		c.hub.BroadcastVoiceUsers(room)
	}
	c.hub.SetStatus(user, "offline")
	c.hub.BroadcastStatus(user, "offline")
	slog.Info("client disconnected", "component", "ws", "conn_id", c.id, "user", user)
}
