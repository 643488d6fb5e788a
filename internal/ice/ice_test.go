package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Tenosiey/Murmer/internal/config"
)

func TestCredentials(t *testing.T) {
	username, credential := Credentials("topsecret", "alice", time.Hour)

	expiryPart, userPart, ok := strings.Cut(username, ":")
	if !ok || userPart != "alice" {
		t.Fatalf("username = %q, want <expiry>:alice", username)
	}
	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil {
		t.Fatalf("expiry %q does not parse: %v", expiryPart, err)
	}
	now := time.Now().Unix()
	if expiry < now+3500 || expiry > now+3700 {
		t.Fatalf("expiry = %d, want roughly an hour past %d", expiry, now)
	}

	mac := hmac.New(sha1.New, []byte("topsecret"))
	mac.Write([]byte(username))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); credential != want {
		t.Fatalf("credential = %q, want the HMAC over the username", credential)
	}
}

func TestBuildServersWithoutHost(t *testing.T) {
	if servers := BuildServers(config.TURNConfig{}, "alice"); servers != nil {
		t.Fatalf("servers = %+v, want nil when no relay is configured", servers)
	}
}

func TestBuildServers(t *testing.T) {
	cfg := config.TURNConfig{Host: "relay.example.com", Port: 3478, Secret: "s", TTL: time.Minute}

	servers := BuildServers(cfg, "bob")
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if !reflect.DeepEqual(servers[0].URLs, []string{"stun:relay.example.com:3478"}) || servers[0].Username != "" {
		t.Fatalf("stun entry = %+v, want an anonymous stun url", servers[0])
	}
	turn := servers[1]
	if !reflect.DeepEqual(turn.URLs, []string{"turn:relay.example.com:3478"}) {
		t.Fatalf("turn urls = %v", turn.URLs)
	}
	if !strings.HasSuffix(turn.Username, ":bob") || turn.Credential == "" {
		t.Fatalf("turn credentials = %q / %q, want a user-scoped grant", turn.Username, turn.Credential)
	}
}
