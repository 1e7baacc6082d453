// Package config loads runtime configuration for the otpkeeper client and
// persists the user-changeable settings.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "100ms"
// or integer nanoseconds:
//
//	{
//	  "server_url": "https://api.ente.io",
//	  "accounts_url": "https://accounts.ente.io",
//	  "database_dsn": "otpkeeper.db",
//	  "passkey_poll_interval": "100ms",
//	  "passkey_timeout": "5m"
//	}
//
// Settings
//
// SettingsStore keeps the server and accounts base URLs in the durable
// metadata store. Empty values fall back to the configured defaults and
// every URL is trimmed of trailing slashes before use.
package config
