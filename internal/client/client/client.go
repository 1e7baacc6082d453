package client

import (
	"context"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
)

// Client is the identity-provider API used by the login flow.
type Client interface {
	// GetSRPAttributes returns (nil, nil) when the account has no SRP setup.
	GetSRPAttributes(ctx context.Context, email string) (*models.SRPAttributes, error)
	SendOTT(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, ott string) (*models.AuthResponse, error)
	CreateSRPSession(ctx context.Context, srpUserID, srpA string) (*models.SRPSession, error)
	VerifySRPSession(ctx context.Context, srpUserID, sessionID, srpM1 string) (*models.AuthResponse, error)
	VerifyTwoFactor(ctx context.Context, sessionID, code string) (*models.AuthResponse, error)
	// GetPasskeyStatus returns (nil, nil) while verification is pending.
	GetPasskeyStatus(ctx context.Context, sessionID string) (*models.AuthResponse, error)
}

// BaseURLSource yields the current identity-provider base URL, without a
// trailing slash.
type BaseURLSource interface {
	ServerURL(ctx context.Context) string
}

// StaticURL is a fixed BaseURLSource.
type StaticURL string

func (u StaticURL) ServerURL(context.Context) string { return string(u) }
