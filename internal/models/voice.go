package models

// VoiceChannel describes a voice channel's persisted configuration.
// Bitrate is bits per second; nil means the client should pick.
type VoiceChannel struct {
	Name    string `json:"name"`
	Quality string `json:"quality"`
	Bitrate *int32 `json:"bitrate"`
}
