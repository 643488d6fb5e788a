package ws

import (
	"bytes"
	"encoding/json"

	"github.com/Tenosiey/Murmer/internal/ice"
	"github.com/Tenosiey/Murmer/internal/models"
)

// Command types (Client -> Server)
const (
	CmdPresence           = "presence"
	CmdJoin               = "join"
	CmdLoadHistory        = "load-history"
	CmdSearchHistory      = "search-history"
	CmdCreateChannel      = "create-channel"
	CmdDeleteChannel      = "delete-channel"
	CmdCreateVoiceChannel = "create-voice-channel"
	CmdUpdateVoiceChannel = "update-voice-channel"
	CmdDeleteVoiceChannel = "delete-voice-channel"
	CmdChat               = "chat"
	CmdDeleteMessage      = "delete-message"
	CmdReact              = "react"
	CmdStatusUpdate       = "status-update"
	CmdPing               = "ping"
	CmdVoiceJoin          = "voice-join"
	CmdVoiceLeave         = "voice-leave"
	CmdVoiceOffer         = "voice-offer"
	CmdVoiceAnswer        = "voice-answer"
	CmdVoiceCandidate     = "voice-candidate"
)

// Event types (Server -> Client)
const (
	EventError              = "error"
	EventPong               = "pong"
	EventHistory            = "history"
	EventOnlineUsers        = "online-users"
	EventStatusUpdate       = "status-update"
	EventStatusSnapshot     = "status-snapshot"
	EventRoleUpdate         = "role-update"
	EventChannelList        = "channel-list"
	EventChannelAdd         = "channel-add"
	EventChannelRemove      = "channel-remove"
	EventVoiceChannelList   = "voice-channel-list"
	EventVoiceChannelAdd    = "voice-channel-add"
	EventVoiceChannelUpdate = "voice-channel-update"
	EventVoiceChannelRemove = "voice-channel-remove"
	EventVoiceUsers         = "voice-users"
	EventReactionUpdate     = "reaction-update"
	EventMessageDeleted     = "message-deleted"
	EventSearchResults      = "search-results"
	EventSearchError        = "search-error"
	EventIceServers         = "ice-servers"
)

// ErrorFrame carries one of the stable error codes.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorFrame(code string) ErrorFrame {
	return ErrorFrame{Type: EventError, Message: code}
}

// PongFrame echoes the id of the ping that triggered it, or null.
type PongFrame struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id"`
}

// HistoryFrame delivers a chronological slice of message envelopes.
type HistoryFrame struct {
	Type     string           `json:"type"`
	Messages []map[string]any `json:"messages"`
}

// OnlineUsersFrame lists currently connected users and everyone seen since start.
type OnlineUsersFrame struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
	All   []string `json:"all"`
}

type StatusUpdateFrame struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Status string `json:"status"`
}

type StatusSnapshotFrame struct {
	Type     string            `json:"type"`
	Statuses map[string]string `json:"statuses"`
}

// RoleUpdateFrame announces a user's role. Color is null when the role has none.
type RoleUpdateFrame struct {
	Type  string  `json:"type"`
	User  string  `json:"user"`
	Role  string  `json:"role"`
	Color *string `json:"color"`
}

type ChannelListFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// ChannelEventFrame is shared by channel-add, channel-remove and
// voice-channel-remove, which all carry just the channel name.
type ChannelEventFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type VoiceChannelListFrame struct {
	Type     string                `json:"type"`
	Channels []models.VoiceChannel `json:"channels"`
}

// VoiceChannelEventFrame is shared by voice-channel-add and voice-channel-update.
type VoiceChannelEventFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Quality string `json:"quality"`
	Bitrate *int32 `json:"bitrate"`
}

type VoiceUsersFrame struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Users   []string `json:"users"`
}

type ReactionUpdateFrame struct {
	Type      string              `json:"type"`
	Channel   string              `json:"channel"`
	MessageID int64               `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

type MessageDeletedFrame struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Channel string `json:"channel"`
}

type SearchResultsFrame struct {
	Type      string           `json:"type"`
	RequestID json.RawMessage  `json:"requestId"`
	Channel   string           `json:"channel"`
	Messages  []map[string]any `json:"messages"`
}

type SearchErrorFrame struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	RequestID json.RawMessage `json:"requestId"`
}

// IceServersFrame hands a joining voice peer its STUN/TURN endpoints with
// short-lived credentials. Sent only to that peer, never broadcast.
type IceServersFrame struct {
	Type    string       `json:"type"`
	Servers []ice.Server `json:"servers"`
}

// decodeEnvelope parses a JSON object while keeping numbers as json.Number so
// 64-bit message ids survive re-encoding.
func decodeEnvelope(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// int64Field returns the field as an int64. Missing keys, non-numbers and
// fractional values all report false.
func int64Field(m map[string]any, key string) (int64, bool) {
	n, ok := m[key].(json.Number)
	if !ok {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// rawField re-encodes the field for verbatim echo. Absent keys yield nil,
// which marshals as JSON null.
func rawField(m map[string]any, key string) json.RawMessage {
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
