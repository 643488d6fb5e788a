package ws

import (
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
	"strconv"
	"time"

	"filippo.io/edwards25519"

	"github.com/Tenosiey/Murmer/internal/constants"
	"github.com/Tenosiey/Murmer/internal/telemetry"
)

// authenticate runs the signature checks for a presence event that carries
// publicKey, signature and timestamp. It returns the protocol error code for
// the first failed check, or "" on success. The signature must cover the raw
// timestamp string; the replay nonce uses the parsed value so padded variants
// of the same instant cannot slip past the nonce store.
func (h *Hub) authenticate(remoteIP, publicKey, signature, timestamp string) string {
	code := h.runAuthChecks(remoteIP, publicKey, signature, timestamp)
	if code != "" {
		slog.Warn("presence auth rejected", "component", "ws", "code", code, "ip", remoteIP)
		telemetry.Global().AuthRejected(code)
	}
	return code
}

func (h *Hub) runAuthChecks(remoteIP, publicKey, signature, timestamp string) string {
	if !h.authLimiter.Allow(remoteIP) {
		return constants.ErrCodeAuthRateLimit
	}

	parsedMs, ok := validAuthTimestamp(timestamp, time.Now())
	if !ok {
		return constants.ErrCodeInvalidTimestamp
	}

	nonce := publicKey + ":" + strconv.FormatInt(parsedMs, 10)
	if !h.nonces.Remember(nonce) {
		return constants.ErrCodeReplayAttack
	}

	pkBytes, pkErr := base64.StdEncoding.DecodeString(publicKey)
	sigBytes, sigErr := base64.StdEncoding.DecodeString(signature)
	if pkErr != nil || sigErr != nil {
		return constants.ErrCodeInvalidEncoding
	}

	if len(pkBytes) != ed25519.PublicKeySize {
		return constants.ErrCodeInvalidKeyLength
	}
	if _, err := (&edwards25519.Point{}).SetBytes(pkBytes); err != nil {
		return constants.ErrCodeInvalidPublicKey
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return constants.ErrCodeInvalidSignatureFormat
	}

	if !ed25519.Verify(ed25519.PublicKey(pkBytes), []byte(timestamp), sigBytes) {
		return constants.ErrCodeInvalidSignature
	}
	return ""
}
