// Package ice builds the STUN/TURN server hints handed to clients joining a
// voice room. Credentials follow the TURN REST API (HMAC-SHA1) scheme
// compatible with coturn's use-auth-secret mode.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Tenosiey/Murmer/internal/config"
)

// Server is one ICE server entry as consumed by RTCPeerConnection.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Credentials derives ephemeral TURN credentials for a user. The username
// embeds the expiry so the relay can reject stale grants without state.
func Credentials(secret, user string, ttl time.Duration) (username, credential string) {
	expiry := time.Now().Add(ttl).Unix()
	username = fmt.Sprintf("%d:%s", expiry, user)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return
}

// BuildServers produces the ICE server list for a user joining voice. With
// no TURN host configured it returns nil and clients attempt direct
// connections only.
func BuildServers(cfg config.TURNConfig, user string) []Server {
	if cfg.Host == "" {
		return nil
	}

	stunURL := fmt.Sprintf("stun:%s:%d", cfg.Host, cfg.Port)
	turnURL := fmt.Sprintf("turn:%s:%d", cfg.Host, cfg.Port)

	username, credential := Credentials(cfg.Secret, user, cfg.TTL)

	return []Server{
		{URLs: []string{stunURL}},
		{URLs: []string{turnURL}, Username: username, Credential: credential},
	}
}
