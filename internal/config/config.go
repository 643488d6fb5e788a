package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	CORS     CORSConfig     `yaml:"cors"`
	Limits   LimitsConfig   `yaml:"limits"`
	TURN     TURNConfig     `yaml:"turn"`
}

type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	Password       string   `yaml:"password"`        // empty: no password gate
	AdminToken     string   `yaml:"admin_token"`     // empty: /role disabled, everyone may manage channels
	TrustedProxies []string `yaml:"trusted_proxies"` // CIDRs whose forwarding headers are honored
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"` // empty: CORS disabled
}

type LimitsConfig struct {
	MessagesPerMinute     int `yaml:"messages_per_minute"`
	AuthAttemptsPerMinute int `yaml:"auth_attempts_per_minute"`
	NonceExpirySeconds    int `yaml:"nonce_expiry_seconds"`
}

type TURNConfig struct {
	Host   string        `yaml:"host"`   // coturn hostname/IP; empty disables ICE hints
	Port   int           `yaml:"port"`   // coturn listening port (default 3478)
	Secret string        `yaml:"secret"` // coturn static-auth-secret
	TTL    time.Duration `yaml:"ttl"`    // credential lifetime (default 24h)
}

// Load reads an optional YAML config file and merges environment overrides
// on top. A missing file is fine; the server can run from the environment
// alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("SERVER_PASSWORD"); v != "" {
		c.Server.Password = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.Uploads.Dir = v
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		c.CORS.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("MAX_MESSAGES_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MessagesPerMinute = n
		}
	}
	if v := os.Getenv("MAX_AUTH_ATTEMPTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.AuthAttemptsPerMinute = n
		}
	}
	if v := os.Getenv("NONCE_EXPIRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.NonceExpirySeconds = n
		}
	}
	if v := os.Getenv("TURN_HOST"); v != "" {
		c.TURN.Host = v
	}
	if v := os.Getenv("TURN_SECRET"); v != "" {
		c.TURN.Secret = v
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.Limits.MessagesPerMinute < 0 {
		return fmt.Errorf("limits.messages_per_minute must not be negative")
	}
	if c.Limits.AuthAttemptsPerMinute < 0 {
		return fmt.Errorf("limits.auth_attempts_per_minute must not be negative")
	}
	if c.Limits.NonceExpirySeconds < 0 {
		return fmt.Errorf("limits.nonce_expiry_seconds must not be negative")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Bind == "" {
		c.Server.Bind = "0.0.0.0:3001"
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = 10 << 20
	}
	if c.Limits.MessagesPerMinute == 0 {
		c.Limits.MessagesPerMinute = 30
	}
	if c.Limits.AuthAttemptsPerMinute == 0 {
		c.Limits.AuthAttemptsPerMinute = 5
	}
	if c.Limits.NonceExpirySeconds == 0 {
		c.Limits.NonceExpirySeconds = 300
	}
	if c.TURN.Port == 0 {
		c.TURN.Port = 3478
	}
	if c.TURN.TTL == 0 {
		c.TURN.TTL = 24 * time.Hour
	}
}

// NonceExpiry returns the replay-nonce lifetime as a duration.
func (c *Config) NonceExpiry() time.Duration {
	return time.Duration(c.Limits.NonceExpirySeconds) * time.Second
}

func splitList(v string) []string {
	var items []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
