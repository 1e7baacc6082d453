package config

import (
	"strings"
	"time"
)

const (
	DefaultServerURL   = "https://api.ente.io"
	DefaultAccountsURL = "https://accounts.ente.io"
	DefaultExtensionID = "otpkeeper"
)

// Config holds runtime settings for the otpkeeper client.
//
// Units: PasskeyPollInterval and PasskeyTimeout are time.Duration values.
type Config struct {
	ServerURL   string
	AccountsURL string

	// DatabaseDSN is the SQLite file backing durable state. Ignored when
	// RedisAddr is set.
	DatabaseDSN string
	RedisAddr   string

	PasskeyPollInterval time.Duration
	PasskeyTimeout      time.Duration

	LogLevel string

	// ExtensionID identifies the trusted sender for the messaging router.
	ExtensionID string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = DefaultServerURL
	c.AccountsURL = DefaultAccountsURL
	c.DatabaseDSN = "otpkeeper.db"
	c.RedisAddr = ""
	c.PasskeyPollInterval = 100 * time.Millisecond
	c.PasskeyTimeout = 5 * time.Minute
	c.LogLevel = "info"
	c.ExtensionID = DefaultExtensionID
}

// Normalize trims trailing slashes from the base URLs and restores the
// default extension id when it was set empty.
func (c *Config) Normalize() {
	c.ServerURL = TrimURL(c.ServerURL)
	c.AccountsURL = TrimURL(c.AccountsURL)
	if c.ExtensionID = strings.TrimSpace(c.ExtensionID); c.ExtensionID == "" {
		c.ExtensionID = DefaultExtensionID
	}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.Normalize()
	return cfg
}

// TrimURL strips surrounding whitespace and every trailing slash.
func TrimURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
