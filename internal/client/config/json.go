package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/otpkeeper/internal/flagx"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "100ms" or as integer nanoseconds.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	AccountsURL         string         `json:"accounts_url"`
	DatabaseDSN         string         `json:"database_dsn"`
	RedisAddr           string         `json:"redis_addr"`
	PasskeyPollInterval timex.Duration `json:"passkey_poll_interval"`
	PasskeyTimeout      timex.Duration `json:"passkey_timeout"`
	LogLevel            string         `json:"log_level"`
	ExtensionID         string         `json:"extension_id"`
}

// parseJson overlays Config with values loaded from a JSON file selected by
// -c or -config. Fields absent from the file keep their current values.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.AccountsURL, jc.AccountsURL)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.RedisAddr, jc.RedisAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.ExtensionID, jc.ExtensionID)

	if jc.PasskeyPollInterval.Duration > 0 {
		cfg.PasskeyPollInterval = jc.PasskeyPollInterval.Duration
	}
	if jc.PasskeyTimeout.Duration > 0 {
		cfg.PasskeyTimeout = jc.PasskeyTimeout.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
