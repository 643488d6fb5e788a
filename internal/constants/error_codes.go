package constants

// Protocol error codes carried in {"type":"error","message":...} frames.
// These are part of the wire contract; clients match on the exact strings.
const (
	// Session gate and authentication pipeline
	ErrCodeUnauthenticated        = "unauthenticated"
	ErrCodeInvalidPassword        = "invalid-password"
	ErrCodeAuthRateLimit          = "auth-rate-limit"
	ErrCodeInvalidTimestamp       = "invalid-timestamp"
	ErrCodeReplayAttack           = "replay-attack"
	ErrCodeInvalidEncoding        = "invalid-encoding"
	ErrCodeInvalidKeyLength       = "invalid-key-length"
	ErrCodeInvalidPublicKey       = "invalid-public-key"
	ErrCodeInvalidSignatureFormat = "invalid-signature-format"
	ErrCodeInvalidSignature       = "invalid-signature"
	ErrCodeInvalidUsername        = "invalid-username"

	// Text channel management
	ErrCodeInvalidChannelName      = "invalid-channel-name"
	ErrCodeCannotDeleteGeneral     = "cannot-delete-general"
	ErrCodeChannelPermissionDenied = "channel-permission-denied"
	ErrCodeChannelCreationFailed   = "channel-creation-failed"
	ErrCodeChannelDeletionFailed   = "channel-deletion-failed"

	// Voice channel management
	ErrCodeInvalidVoiceQuality      = "invalid-voice-quality"
	ErrCodeInvalidVoiceBitrate      = "invalid-voice-bitrate"
	ErrCodeUnknownVoiceChannel      = "unknown-voice-channel"
	ErrCodeVoiceChannelUpdateFailed = "voice-channel-update-failed"

	// Messages and reactions
	ErrCodeMessageRateLimit        = "message-rate-limit"
	ErrCodeInvalidMessageID        = "invalid-message-id"
	ErrCodeInvalidReactionAction   = "invalid-reaction-action"
	ErrCodeInvalidEmoji            = "invalid-emoji"
	ErrCodeMessageNotFound         = "message-not-found"
	ErrCodeMessageWrongChannel     = "message-wrong-channel"
	ErrCodeMessagePermissionDenied = "message-permission-denied"
	ErrCodeMessageDeleteFailed     = "message-delete-failed"
	ErrCodeReactionFailed          = "reaction-failed"

	// Presence
	ErrCodeNotAuthenticated = "not-authenticated"
	ErrCodeInvalidStatus    = "invalid-status"
)
