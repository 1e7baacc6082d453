package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/sethvargo/go-retry"
)

const (
	authStateRetries = 3
	authStateBackoff = 50 * time.Millisecond
)

// AuthStateSource reports the session lifecycle state.
type AuthStateSource interface {
	AuthState(ctx context.Context) (session.AuthState, error)
}

// GetAuthStateWithRetry queries src, retrying a few times while the session
// manager is still starting up. Other errors are returned immediately.
func GetAuthStateWithRetry(ctx context.Context, src AuthStateSource) (session.AuthState, error) {
	var st session.AuthState
	b := retry.WithMaxRetries(authStateRetries, retry.NewConstant(authStateBackoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		st, err = src.AuthState(ctx)
		if errors.Is(err, session.ErrNotReady) {
			return retry.RetryableError(err)
		}
		return err
	})
	return st, err
}
