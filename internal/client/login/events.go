package login

import (
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
)

// Event is an input to Transition: either a user action or the result of an
// effect.
type Event interface {
	event()
}

// User actions.
type (
	SubmitEmail struct{ Email string }
	// SubmitPassword is accepted in StepPassword and StepPasswordDecrypt.
	// The runner wipes Password once it has been used.
	SubmitPassword struct{ Password []byte }
	// SubmitCode is accepted in StepEmailOTT and StepTwoFactor.
	SubmitCode      struct{ Code string }
	ResendCode      struct{}
	ChoosePasskey   struct{}
	ChooseTwoFactor struct{}
	// CheckPasskey polls the passkey status once, outside the ticker.
	CheckPasskey struct{}
	RetryPasskey struct{}
	// Cancel resets the attempt to StepEmail from any step.
	Cancel struct{}
)

// Effect results.
type (
	AttributesFetched struct {
		Attributes *models.SRPAttributes
		Err        error
	}
	OTTSent struct{ Err error }
	EmailVerified struct {
		Response *models.AuthResponse
		Err      error
	}
	PasswordVerified struct {
		KEK      []byte
		Response *models.AuthResponse
		Err      error
	}
	TwoFactorVerified struct {
		Response *models.AuthResponse
		Err      error
	}
	// PasskeyPolled carries one passkey status check. A nil Response with a
	// nil Err means verification is still pending.
	PasskeyPolled struct {
		Generation uint64
		Response   *models.AuthResponse
		Err        error
		Manual     bool
	}
	PasskeyTimedOut struct{ Generation uint64 }
	TabOpened       struct {
		Generation uint64
		URL        string
		Err        error
	}
	Unwrapped struct {
		Token     string
		MasterKey []byte
		Err       error
	}
	LoginSaved struct{ Err error }
)

func (SubmitEmail) event()       {}
func (SubmitPassword) event()    {}
func (SubmitCode) event()        {}
func (ResendCode) event()        {}
func (ChoosePasskey) event()     {}
func (ChooseTwoFactor) event()   {}
func (CheckPasskey) event()      {}
func (RetryPasskey) event()      {}
func (Cancel) event()            {}
func (AttributesFetched) event() {}
func (OTTSent) event()           {}
func (EmailVerified) event()     {}
func (PasswordVerified) event()  {}
func (TwoFactorVerified) event() {}
func (PasskeyPolled) event()     {}
func (PasskeyTimedOut) event()   {}
func (TabOpened) event()         {}
func (Unwrapped) event()         {}
func (LoginSaved) event()        {}

// isUserEvent reports whether ev is a user action subject to the busy guard.
// Cancel is always accepted.
func isUserEvent(ev Event) bool {
	switch ev.(type) {
	case SubmitEmail, SubmitPassword, SubmitCode, ResendCode,
		ChoosePasskey, ChooseTwoFactor, CheckPasskey, RetryPasskey:
		return true
	}
	return false
}
