package login

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/pake"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
)

var (
	// ErrTimeout means the local passkey wait expired.
	ErrTimeout = errors.New("passkey verification timed out")
	// ErrBusy is returned by Flow.Dispatch for a user event submitted while
	// the current step is still in flight.
	ErrBusy = errors.New("login step in progress")
	// ErrUnexpectedResponse means a verification response carried neither
	// keys, a token nor a second factor.
	ErrUnexpectedResponse = errors.New("unexpected verification response")
)

// User-facing messages.
const (
	MsgIncorrectPassword  = "Incorrect password"
	MsgProtocol           = "Could not verify the server's identity. Please log in again."
	MsgSessionExpired     = "Passkey verification session expired. Please try again."
	MsgTimeout            = "Passkey verification timed out. Please try again."
	MsgNetwork            = "Network error. Please check your connection and try again."
	MsgDerivation         = "Could not derive key from password"
	MsgCancelled          = "Request cancelled"
	MsgEmptyEmail         = "Please enter your email"
	MsgEmptyPassword      = "Please enter your password"
	MsgEmptyCode          = "Please enter the verification code"
	MsgUnexpectedResponse = "Unexpected response from server"
	MsgSaveFailed         = "Could not save the session. Please try again."

	fallbackAttributes = "Could not look up the account"
	fallbackSendOTT    = "Could not send the verification code"
	fallbackVerifyOTT  = "Could not verify the code"
	fallbackPassword   = "Could not verify the password"
	fallbackTwoFactor  = "Could not verify the two-factor code"
	fallbackPasskey    = "Could not check passkey status"
)

// userMessage converts err to the string shown on the current step. Server
// messages are passed through when present, otherwise fallback is used.
func userMessage(err error, fallback string) string {
	var pe *pake.ProtocolError
	switch {
	case errors.Is(err, pake.ErrIncorrectPassword), errors.Is(err, cryptox.ErrDecryption):
		return MsgIncorrectPassword
	case errors.As(err, &pe):
		return MsgProtocol
	case errors.Is(err, client.ErrSessionExpired):
		return MsgSessionExpired
	case errors.Is(err, ErrTimeout):
		return MsgTimeout
	case errors.Is(err, cryptox.ErrDerivation):
		return MsgDerivation
	case errors.Is(err, ErrUnexpectedResponse):
		return MsgUnexpectedResponse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return MsgCancelled
	case errors.Is(err, client.ErrUnavailable):
		return MsgNetwork
	}
	if msg := client.ServerMessage(err); msg != "" {
		return msg
	}
	return fallback
}

func isProtocolError(err error) bool {
	var pe *pake.ProtocolError
	return errors.As(err, &pe)
}
