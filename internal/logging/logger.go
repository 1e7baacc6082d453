// Package logging is the structured logger used by otpkeeper. The Logger
// interface keeps call sites independent of log/slog; SlogLogger is the only
// implementation.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Logger takes key/value pairs after the message:
//
//	log.Info(ctx, "login step", "attempt", id, "to", step)
//
// Passwords, keys and tokens must never be passed as values. Wrap addresses
// in Email before logging them.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}

// Email is an address that logs with its local part masked,
// e.g. "j***@example.com".
type Email string

func (e Email) LogValue() slog.Value {
	local, domain, ok := strings.Cut(string(e), "@")
	if !ok || local == "" {
		return slog.StringValue("***")
	}
	return slog.StringValue(local[:1] + "***@" + domain)
}
