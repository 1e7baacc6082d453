package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-s string   identity provider base URL
//	-u string   accounts (passkey verification) base URL
//	-d string   SQLite database path
//	-r string   Redis address; enables the Redis store
//	-p int      passkey poll interval (in milliseconds)
//	-t int      passkey verification timeout (in seconds)
//	-l string   log level
//	-e string   trusted extension id
//
// Only these flags are read from os.Args; the -c/-config pair is handled by
// parseJson.
func parseFlags(cfg *Config) {
	args := flagx.Pick(os.Args[1:], "-s", "-u", "-d", "-r", "-p", "-t", "-l", "-e")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "identity provider base URL")
	fs.StringVar(&cfg.AccountsURL, "u", cfg.AccountsURL, "accounts base URL")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "r", cfg.RedisAddr, "Redis address")
	pollInterval := fs.Int("p", int(cfg.PasskeyPollInterval.Milliseconds()), "passkey poll interval (in milliseconds)")
	timeout := fs.Int("t", int(cfg.PasskeyTimeout.Seconds()), "passkey verification timeout (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ExtensionID, "e", cfg.ExtensionID, "trusted extension id")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PasskeyPollInterval = time.Duration(*pollInterval) * time.Millisecond
	cfg.PasskeyTimeout = time.Duration(*timeout) * time.Second
}
