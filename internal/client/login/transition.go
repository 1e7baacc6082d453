package login

import (
	"errors"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
)

// Transition is the login reducer. It is pure: all I/O is expressed as
// returned effects, whose results come back as events.
//
// Events that do not apply to the current step, user events while Busy,
// and stale passkey results are ignored: the state is returned unchanged
// with no effects.
func Transition(s State, ev Event) (State, []Effect) {
	if s.Busy && isUserEvent(ev) {
		return s, nil
	}

	switch e := ev.(type) {
	case Cancel:
		return reset(s), []Effect{StopPolling{}, CloseTab{}}

	case SubmitEmail:
		return submitEmail(s, e)
	case AttributesFetched:
		return attributesFetched(s, e)
	case OTTSent:
		return ottSent(s, e)
	case ResendCode:
		if s.Step != StepEmailOTT {
			return s, nil
		}
		s = begin(s)
		return s, []Effect{SendOTT{Email: s.Email}}

	case SubmitPassword:
		return submitPassword(s, e)
	case PasswordVerified:
		return passwordVerified(s, e)

	case SubmitCode:
		return submitCode(s, e)
	case EmailVerified:
		if s.Step != StepEmailOTT || !s.Busy {
			return s, nil
		}
		if e.Err != nil {
			return fail(s, e.Err, fallbackVerifyOTT), nil
		}
		return afterPrimary(s, e.Response)
	case TwoFactorVerified:
		if s.Step != StepTwoFactor || !s.Busy {
			return s, nil
		}
		if e.Err != nil {
			return fail(s, e.Err, fallbackTwoFactor), nil
		}
		return afterSecondFactor(s, e.Response)

	case ChoosePasskey:
		if s.Step != StepPasskeyChoice {
			return s, nil
		}
		return startPasskey(s)
	case ChooseTwoFactor:
		if s.Step != StepPasskeyChoice {
			return s, nil
		}
		s.Step = StepTwoFactor
		s = clearError(s)
		return s, nil

	case CheckPasskey:
		if s.Step != StepPasskey || !passkeyOpen(s) {
			return s, nil
		}
		s = clearError(s)
		return s, []Effect{PollPasskey{SessionID: s.PasskeySessionID, Generation: s.PasskeyGen}}
	case PasskeyPolled:
		return passkeyPolled(s, e)
	case PasskeyTimedOut:
		if s.Step != StepPasskey || e.Generation != s.PasskeyGen || s.Passkey != PasskeyWaiting {
			return s, nil
		}
		s.Passkey = PasskeyTimeout
		s = failWith(s, ErrTimeout, MsgTimeout)
		return s, []Effect{StopPolling{}, CloseTab{}}
	case RetryPasskey:
		return retryPasskey(s)
	case TabOpened:
		if s.Step != StepPasskey || e.Generation != s.PasskeyGen || e.Err != nil {
			return s, nil
		}
		s.PasskeyURL = e.URL
		return s, nil

	case Unwrapped:
		return unwrapped(s, e)
	case LoginSaved:
		if !s.Busy {
			return s, nil
		}
		if e.Err != nil {
			return failWith(s, e.Err, MsgSaveFailed), nil
		}
		return State{Step: StepSuccess, Email: s.Email, Attempt: s.Attempt}, nil
	}
	return s, nil
}

func submitEmail(s State, e SubmitEmail) (State, []Effect) {
	if s.Step != StepEmail {
		return s, nil
	}
	email := strings.TrimSpace(e.Email)
	if email == "" {
		return failWith(s, nil, MsgEmptyEmail), nil
	}
	// attributes are fetched fresh for every attempt
	s = State{Step: StepEmail, Email: email, Attempt: s.Attempt, Busy: true}
	return s, []Effect{FetchAttributes{Email: email}}
}

func attributesFetched(s State, e AttributesFetched) (State, []Effect) {
	if s.Step != StepEmail || !s.Busy {
		return s, nil
	}
	if e.Err != nil {
		return fail(s, e.Err, fallbackAttributes), nil
	}

	s.SRP = e.Attributes
	if e.Attributes != nil && !e.Attributes.IsEmailMFAEnabled {
		s.Step = StepPassword
		s.Busy = false
		return s, nil
	}
	return s, []Effect{SendOTT{Email: s.Email}}
}

func ottSent(s State, e OTTSent) (State, []Effect) {
	if !s.Busy {
		return s, nil
	}
	switch s.Step {
	case StepEmail, StepEmailOTT, StepPasskey:
	default:
		return s, nil
	}
	if e.Err != nil {
		return fail(s, e.Err, fallbackSendOTT), nil
	}
	return State{Step: StepEmailOTT, Email: s.Email, Attempt: s.Attempt, SRP: s.SRP}, nil
}

func submitPassword(s State, e SubmitPassword) (State, []Effect) {
	switch s.Step {
	case StepPassword, StepPasswordDecrypt:
	default:
		return s, nil
	}
	if len(e.Password) == 0 {
		return failWith(s, nil, MsgEmptyPassword), nil
	}

	s = begin(s)
	if s.Step == StepPassword {
		return s, []Effect{VerifyPassword{Password: e.Password, Attributes: s.SRP}}
	}
	return s, []Effect{Unwrap{Password: e.Password, KeyAttributes: s.KeyAttributes, EncryptedToken: s.EncryptedToken}}
}

func passwordVerified(s State, e PasswordVerified) (State, []Effect) {
	if s.Step != StepPassword || !s.Busy {
		return s, nil
	}
	if e.Err != nil {
		if isProtocolError(e.Err) {
			// fatal to the attempt
			s = reset(s)
			return failWith(s, e.Err, MsgProtocol), []Effect{StopPolling{}, CloseTab{}}
		}
		return fail(s, e.Err, fallbackPassword), nil
	}
	s.KEK = e.KEK
	return afterPrimary(s, e.Response)
}

func submitCode(s State, e SubmitCode) (State, []Effect) {
	if s.Step != StepEmailOTT && s.Step != StepTwoFactor {
		return s, nil
	}
	code := strings.TrimSpace(e.Code)
	if code == "" {
		return failWith(s, nil, MsgEmptyCode), nil
	}

	s = begin(s)
	if s.Step == StepEmailOTT {
		return s, []Effect{VerifyEmail{Email: s.Email, Code: code}}
	}
	return s, []Effect{VerifyTwoFactor{SessionID: s.TwoFactorSessionID, Code: code}}
}

func passkeyPolled(s State, e PasskeyPolled) (State, []Effect) {
	if s.Step != StepPasskey || e.Generation != s.PasskeyGen || !passkeyOpen(s) {
		return s, nil
	}

	switch {
	case errors.Is(e.Err, client.ErrSessionExpired):
		s.Passkey = PasskeyExpired
		return fail(s, e.Err, fallbackPasskey), []Effect{StopPolling{}, CloseTab{}}
	case e.Err != nil:
		if !e.Manual {
			// transient; the next tick retries
			return s, nil
		}
		return fail(s, e.Err, fallbackPasskey), nil
	case e.Response == nil:
		return s, nil
	}

	if !completes(s, e.Response) {
		// the session yielded nothing usable; retry needs a new one
		s.Passkey = PasskeyExpired
		return failWith(s, ErrUnexpectedResponse, MsgUnexpectedResponse), []Effect{StopPolling{}, CloseTab{}}
	}

	s.Passkey = PasskeyVerified
	next, effects := afterSecondFactor(s, e.Response)
	return next, append([]Effect{StopPolling{}, CloseTab{}}, effects...)
}

func retryPasskey(s State) (State, []Effect) {
	if s.Step != StepPasskey {
		return s, nil
	}
	switch s.Passkey {
	case PasskeyWaiting, PasskeyTimeout:
		return startPasskey(s)
	case PasskeyExpired:
		// the expired session cannot be reused; a new one must come from
		// the step that produced it
		if s.SRP != nil && !s.SRP.IsEmailMFAEnabled {
			return State{Step: StepPassword, Email: s.Email, Attempt: s.Attempt, SRP: s.SRP}, nil
		}
		s = begin(s)
		return s, []Effect{SendOTT{Email: s.Email}}
	}
	return s, nil
}

func unwrapped(s State, e Unwrapped) (State, []Effect) {
	if !s.Busy {
		return s, nil
	}
	switch s.Step {
	case StepPassword, StepPasswordDecrypt, StepTwoFactor, StepPasskey, StepEmailOTT:
	default:
		return s, nil
	}
	if e.Err != nil {
		if s.Step != StepPasswordDecrypt {
			// the stashed KEK did not open the keys; ask for the password
			s.Step = StepPasswordDecrypt
			s.KEK = nil
		}
		return failWith(s, e.Err, MsgIncorrectPassword), nil
	}

	login := session.Login{
		Token:         e.Token,
		Email:         s.Email,
		KeyAttributes: s.KeyAttributes,
		MasterKey:     e.MasterKey,
	}
	return s, []Effect{SaveLogin{Login: login}}
}

// afterPrimary branches on the response to the first identity proof
// (password exchange or email code).
func afterPrimary(s State, resp *models.AuthResponse) (State, []Effect) {
	s = stash(s, resp)
	sf := resp.SecondFactor()

	switch sf.Kind {
	case models.BothAvailable:
		s.Step = StepPasskeyChoice
		s.Busy = false
		return s, nil
	case models.PasskeyOnly:
		return startPasskey(s)
	case models.TwoFactorOnly:
		s.Step = StepTwoFactor
		s.Busy = false
		return s, nil
	}
	return finish(s, resp)
}

func afterSecondFactor(s State, resp *models.AuthResponse) (State, []Effect) {
	return finish(stash(s, resp), resp)
}

// finish decrypts inline when a KEK is stashed, asks for the password when it
// is not, and completes directly for a plain token.
func finish(s State, resp *models.AuthResponse) (State, []Effect) {
	if s.KeyAttributes != nil && s.EncryptedToken != "" {
		if s.HasKEK() {
			s.Busy = true
			return s, []Effect{Unwrap{KEK: s.KEK, KeyAttributes: s.KeyAttributes, EncryptedToken: s.EncryptedToken}}
		}
		s.Step = StepPasswordDecrypt
		s.Busy = false
		return s, nil
	}
	if resp.Token != "" {
		s.Busy = true
		return s, []Effect{SaveLogin{Login: session.Login{Token: resp.Token, Email: s.Email}}}
	}
	return failWith(s, ErrUnexpectedResponse, MsgUnexpectedResponse), nil
}

// completes reports whether finish can make progress with resp.
func completes(s State, resp *models.AuthResponse) bool {
	s = stash(s, resp)
	return (s.KeyAttributes != nil && s.EncryptedToken != "") || resp.Token != ""
}

func stash(s State, resp *models.AuthResponse) State {
	s = clearError(s)
	if resp.KeyAttributes != nil {
		s.KeyAttributes = resp.KeyAttributes
	}
	if resp.EncryptedToken != "" {
		s.EncryptedToken = resp.EncryptedToken
	}
	if resp.TwoFactorSessionID != "" {
		s.TwoFactorSessionID = resp.TwoFactorSessionID
	}
	if resp.PasskeySessionID != "" {
		s.PasskeySessionID = resp.PasskeySessionID
	}
	return s
}

// startPasskey begins a new verification generation. Any previous loop and
// tab are torn down first.
func startPasskey(s State) (State, []Effect) {
	s = clearError(s)
	s.Step = StepPasskey
	s.Busy = false
	s.Passkey = PasskeyWaiting
	s.PasskeyGen++
	s.PasskeyURL = ""
	return s, []Effect{
		StopPolling{},
		CloseTab{},
		OpenTab{SessionID: s.PasskeySessionID, Generation: s.PasskeyGen},
		StartPolling{SessionID: s.PasskeySessionID, Generation: s.PasskeyGen},
	}
}

func passkeyOpen(s State) bool {
	return s.Passkey == PasskeyWaiting || s.Passkey == PasskeyTimeout
}

// reset returns the initial state. The passkey generation survives so
// results from a cancelled loop stay stale.
func reset(s State) State {
	return State{Step: StepEmail, PasskeyGen: s.PasskeyGen}
}

func begin(s State) State {
	s = clearError(s)
	s.Busy = true
	return s
}

func fail(s State, err error, fallback string) State {
	return failWith(s, err, userMessage(err, fallback))
}

func failWith(s State, err error, msg string) State {
	s.Busy = false
	s.Err = err
	s.Error = msg
	return s
}

func clearError(s State) State {
	s.Err = nil
	s.Error = ""
	return s
}
