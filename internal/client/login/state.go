package login

import "github.com/dmitrijs2005/otpkeeper/internal/client/models"

// Step is the active step of a login attempt.
type Step int

const (
	StepEmail Step = iota
	StepPassword
	StepEmailOTT
	StepPasswordDecrypt
	StepTwoFactor
	StepPasskeyChoice
	StepPasskey
	StepSuccess
)

func (s Step) String() string {
	switch s {
	case StepEmail:
		return "email"
	case StepPassword:
		return "password"
	case StepEmailOTT:
		return "email-ott"
	case StepPasswordDecrypt:
		return "password-decrypt"
	case StepTwoFactor:
		return "two-factor"
	case StepPasskeyChoice:
		return "passkey-choice"
	case StepPasskey:
		return "passkey"
	case StepSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// PasskeyPhase tracks the out-of-band passkey verification within StepPasskey.
type PasskeyPhase int

const (
	PasskeyIdle PasskeyPhase = iota
	PasskeyWaiting
	PasskeyTimeout
	PasskeyExpired
	// PasskeyVerified is the completion guard: once set, further poll
	// results for the attempt are ignored.
	PasskeyVerified
)

func (p PasskeyPhase) String() string {
	switch p {
	case PasskeyWaiting:
		return "waiting"
	case PasskeyTimeout:
		return "timed-out"
	case PasskeyExpired:
		return "expired"
	case PasskeyVerified:
		return "verified"
	default:
		return "idle"
	}
}

// State is the complete state of one login attempt. Transition never mutates
// a State in place; it returns a modified copy.
type State struct {
	Step    Step
	Email   string
	Attempt string

	// Busy is set while an effect for the current step is in flight. User
	// events are ignored while it is set.
	Busy bool

	// Error is the step-scoped message shown to the user; Err is its cause.
	Error string
	Err   error

	SRP *models.SRPAttributes

	// KEK is stashed after the password step so later steps do not need
	// the password again.
	KEK []byte

	// KeyAttributes and EncryptedToken are carried forward unchanged from
	// whichever response produced them until final decryption.
	KeyAttributes  *models.KeyAttributes
	EncryptedToken string

	TwoFactorSessionID string
	PasskeySessionID   string

	Passkey    PasskeyPhase
	PasskeyGen uint64
	PasskeyURL string
}

// HasKEK reports whether a KEK is stashed.
func (s State) HasKEK() bool {
	return len(s.KEK) > 0
}

// CanRetryPasskey reports whether RetryPasskey is meaningful.
func (s State) CanRetryPasskey() bool {
	return s.Step == StepPasskey && (s.Passkey == PasskeyTimeout || s.Passkey == PasskeyExpired)
}

// public returns s without secret material, for observers.
func (s State) public() State {
	s.KEK = nil
	return s
}
