package ws

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	maxUserNameLength     = 32
	maxChannelNameLength  = 50
	maxVoiceQualityLength = 32
	maxEmojiLength        = 16

	defaultVoiceQuality       = "standard"
	defaultVoiceBitrate int32 = 64_000
	maxVoiceBitrate           = 320_000

	minEphemeralSeconds = 5
	maxEphemeralSeconds = 86_400

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxSearchResults    = 200
)

// Auth timestamps must sit inside a tight window around now. The wider future
// and age bounds are kept as a second line of defence against clock bugs.
const (
	maxTimestampSkewMillis   = 60_000
	maxTimestampFutureMillis = 3_600_000
	maxTimestampAgeMillis    = 86_400_000
)

var userStatuses = [...]string{"online", "away", "busy", "offline"}

// validName reports whether name is non-empty, at most maxLength bytes,
// trim-stable and built only from ASCII alphanumerics, dashes, underscores
// and spaces.
func validName(name string, maxLength int) bool {
	if name == "" || len(name) > maxLength {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == ' ':
		default:
			return false
		}
	}
	return true
}

func validUserName(name string) bool {
	return validName(name, maxUserNameLength)
}

func validChannelName(name string) bool {
	return validName(name, maxChannelNameLength)
}

// normalizeStatus maps a status string onto its canonical form, ignoring case.
func normalizeStatus(raw string) (string, bool) {
	for _, status := range userStatuses {
		if strings.EqualFold(raw, status) {
			return status, true
		}
	}
	return "", false
}

func validVoiceQuality(value string) bool {
	return validName(strings.TrimSpace(value), maxVoiceQualityLength)
}

// validBitrate converts a requested bitrate, rejecting values outside
// (0, maxVoiceBitrate].
func validBitrate(value int64) (int32, bool) {
	if value <= 0 || value > maxVoiceBitrate {
		return 0, false
	}
	return int32(value), true
}

// validEmoji trims the reaction emoji and rejects empty, oversized or
// whitespace/control-bearing values. The length cap is in bytes, which is
// enough for any reasonable emoji sequence.
func validEmoji(raw string) (string, bool) {
	emoji := strings.TrimSpace(raw)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return "", false
	}
	for _, r := range emoji {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", false
		}
	}
	return emoji, true
}

// validAuthTimestamp parses the signed millisecond timestamp and checks it
// against the acceptance window. Returns the parsed value for nonce keying.
func validAuthTimestamp(raw string, now time.Time) (int64, bool) {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	nowMillis := now.UnixMilli()
	diff := nowMillis - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > maxTimestampSkewMillis {
		return 0, false
	}
	if ts > nowMillis+maxTimestampFutureMillis {
		return 0, false
	}
	if ts < nowMillis-maxTimestampAgeMillis {
		return 0, false
	}
	return ts, true
}
