package login

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/pake"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKEK   = []byte("0123456789abcdef0123456789abcdef")
	testAttrs = &models.KeyAttributes{KEKSalt: "salt", EncryptedKey: "ek", KeyDecryptionNonce: "n"}
	testSRP   = &models.SRPAttributes{SRPUserID: "u1", SRPSalt: "s", KEKSalt: "k", OpsLimit: 1, MemLimit: 8192}
)

func keysResponse() *models.AuthResponse {
	return &models.AuthResponse{KeyAttributes: testAttrs, EncryptedToken: "et"}
}

func at(step Step) State {
	return State{Step: step, Email: "user@x.io", Attempt: "a1"}
}

func busyAt(step Step) State {
	s := at(step)
	s.Busy = true
	return s
}

func passkeyWaiting(withKEK bool) State {
	s := at(StepPasskey)
	s.SRP = testSRP
	s.PasskeySessionID = "pks"
	s.Passkey = PasskeyWaiting
	s.PasskeyGen = 3
	if withKEK {
		s.KEK = testKEK
	}
	return s
}

func TestTransition_Email(t *testing.T) {
	t.Run("submit fetches attributes", func(t *testing.T) {
		s, eff := Transition(at(StepEmail), SubmitEmail{Email: "  user@x.io "})
		assert.True(t, s.Busy)
		assert.Equal(t, "user@x.io", s.Email)
		assert.Equal(t, []Effect{FetchAttributes{Email: "user@x.io"}}, eff)
	})

	t.Run("empty email", func(t *testing.T) {
		s, eff := Transition(at(StepEmail), SubmitEmail{Email: " "})
		assert.Empty(t, eff)
		assert.Equal(t, MsgEmptyEmail, s.Error)
		assert.False(t, s.Busy)
	})

	t.Run("attributes without forced email mfa go to password", func(t *testing.T) {
		s, eff := Transition(busyAt(StepEmail), AttributesFetched{Attributes: testSRP})
		assert.Empty(t, eff)
		assert.Equal(t, StepPassword, s.Step)
		assert.Same(t, testSRP, s.SRP)
		assert.False(t, s.Busy)
	})

	t.Run("no attributes requests ott", func(t *testing.T) {
		s, eff := Transition(busyAt(StepEmail), AttributesFetched{})
		assert.Equal(t, []Effect{SendOTT{Email: "user@x.io"}}, eff)
		assert.Equal(t, StepEmail, s.Step)
		assert.True(t, s.Busy)

		s, eff = Transition(s, OTTSent{})
		assert.Empty(t, eff)
		assert.Equal(t, StepEmailOTT, s.Step)
		assert.False(t, s.Busy)
	})

	t.Run("forced email mfa requests ott", func(t *testing.T) {
		forced := *testSRP
		forced.IsEmailMFAEnabled = true
		s, eff := Transition(busyAt(StepEmail), AttributesFetched{Attributes: &forced})
		assert.Equal(t, []Effect{SendOTT{Email: "user@x.io"}}, eff)
		assert.Equal(t, &forced, s.SRP)
	})

	t.Run("lookup error stays on email", func(t *testing.T) {
		err := &client.ServerError{Status: http.StatusInternalServerError}
		s, eff := Transition(busyAt(StepEmail), AttributesFetched{Err: err})
		assert.Empty(t, eff)
		assert.Equal(t, StepEmail, s.Step)
		assert.Equal(t, fallbackAttributes, s.Error)
		assert.False(t, s.Busy)
	})

	t.Run("ott error surfaces server message", func(t *testing.T) {
		err := &client.ServerError{Status: http.StatusTooManyRequests, Message: "Too many requests"}
		s, _ := Transition(busyAt(StepEmail), OTTSent{Err: err})
		assert.Equal(t, StepEmail, s.Step)
		assert.Equal(t, "Too many requests", s.Error)
	})
}

func TestTransition_Password(t *testing.T) {
	base := at(StepPassword)
	base.SRP = testSRP

	t.Run("submit verifies password", func(t *testing.T) {
		pw := []byte("pw")
		s, eff := Transition(base, SubmitPassword{Password: pw})
		assert.True(t, s.Busy)
		require.Len(t, eff, 1)
		vp, ok := eff[0].(VerifyPassword)
		require.True(t, ok)
		assert.Equal(t, pw, vp.Password)
		assert.Same(t, testSRP, vp.Attributes)
	})

	t.Run("empty password", func(t *testing.T) {
		s, eff := Transition(base, SubmitPassword{})
		assert.Empty(t, eff)
		assert.Equal(t, MsgEmptyPassword, s.Error)
	})

	busy := base
	busy.Busy = true

	tests := []struct {
		name     string
		resp     *models.AuthResponse
		wantStep Step
		check    func(t *testing.T, s State, eff []Effect)
	}{
		{
			name:     "both second factors",
			resp:     &models.AuthResponse{TwoFactorSessionID: "tfs", PasskeySessionID: "pks"},
			wantStep: StepPasskeyChoice,
			check: func(t *testing.T, s State, eff []Effect) {
				assert.Empty(t, eff)
				assert.Equal(t, "tfs", s.TwoFactorSessionID)
				assert.Equal(t, "pks", s.PasskeySessionID)
			},
		},
		{
			name:     "passkey only auto-starts",
			resp:     &models.AuthResponse{PasskeySessionID: "pks"},
			wantStep: StepPasskey,
			check: func(t *testing.T, s State, eff []Effect) {
				assert.Equal(t, PasskeyWaiting, s.Passkey)
				assert.Equal(t, uint64(1), s.PasskeyGen)
				assert.Equal(t, []Effect{
					StopPolling{}, CloseTab{},
					OpenTab{SessionID: "pks", Generation: 1},
					StartPolling{SessionID: "pks", Generation: 1},
				}, eff)
			},
		},
		{
			name:     "two-factor only",
			resp:     &models.AuthResponse{TwoFactorSessionID: "tfs"},
			wantStep: StepTwoFactor,
			check: func(t *testing.T, s State, eff []Effect) {
				assert.Empty(t, eff)
				assert.True(t, s.HasKEK())
			},
		},
		{
			name:     "no second factor decrypts inline",
			resp:     keysResponse(),
			wantStep: StepPassword,
			check: func(t *testing.T, s State, eff []Effect) {
				assert.True(t, s.Busy)
				assert.Equal(t, []Effect{Unwrap{KEK: testKEK, KeyAttributes: testAttrs, EncryptedToken: "et"}}, eff)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eff := Transition(busy, PasswordVerified{KEK: testKEK, Response: tt.resp})
			assert.Equal(t, tt.wantStep, s.Step)
			assert.Equal(t, testKEK, s.KEK)
			tt.check(t, s, eff)
		})
	}

	t.Run("401 is incorrect password", func(t *testing.T) {
		s, eff := Transition(busy, PasswordVerified{Err: pake.ErrIncorrectPassword})
		assert.Empty(t, eff)
		assert.Equal(t, StepPassword, s.Step)
		assert.Equal(t, "Incorrect password", s.Error)
		assert.False(t, s.Busy)
	})

	t.Run("protocol error forces reset", func(t *testing.T) {
		s, eff := Transition(busy, PasswordVerified{Err: &pake.ProtocolError{Reason: "server proof mismatch"}})
		assert.Equal(t, StepEmail, s.Step)
		assert.Empty(t, s.Email)
		assert.Nil(t, s.SRP)
		assert.Empty(t, s.Attempt, "a new attempt starts")
		assert.Equal(t, MsgProtocol, s.Error)
		assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)
	})

	t.Run("network error", func(t *testing.T) {
		err := &client.NetworkError{Op: "verify srp session", Err: errors.New("refused")}
		s, _ := Transition(busy, PasswordVerified{Err: err})
		assert.Equal(t, StepPassword, s.Step)
		assert.Equal(t, MsgNetwork, s.Error)
	})
}

func TestTransition_EmailOTT(t *testing.T) {
	t.Run("submit verifies code", func(t *testing.T) {
		s, eff := Transition(at(StepEmailOTT), SubmitCode{Code: " 654321 "})
		assert.True(t, s.Busy)
		assert.Equal(t, []Effect{VerifyEmail{Email: "user@x.io", Code: "654321"}}, eff)
	})

	t.Run("resend", func(t *testing.T) {
		s, eff := Transition(at(StepEmailOTT), ResendCode{})
		assert.True(t, s.Busy)
		assert.Equal(t, []Effect{SendOTT{Email: "user@x.io"}}, eff)
	})

	busy := busyAt(StepEmailOTT)

	tests := []struct {
		name     string
		resp     *models.AuthResponse
		wantStep Step
		wantEff  []Effect
	}{
		{name: "both", resp: &models.AuthResponse{TwoFactorSessionID: "t", PasskeySessionID: "p"}, wantStep: StepPasskeyChoice},
		{name: "two-factor only", resp: &models.AuthResponse{TwoFactorSessionID: "t"}, wantStep: StepTwoFactor},
		{name: "keys without kek", resp: keysResponse(), wantStep: StepPasswordDecrypt},
		{name: "plain token", resp: &models.AuthResponse{Token: "abc"}, wantStep: StepEmailOTT,
			wantEff: []Effect{SaveLogin{Login: session.Login{Token: "abc", Email: "user@x.io"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eff := Transition(busy, EmailVerified{Response: tt.resp})
			assert.Equal(t, tt.wantStep, s.Step)
			assert.Equal(t, tt.wantEff, eff)
		})
	}

	t.Run("passkey only", func(t *testing.T) {
		s, eff := Transition(busy, EmailVerified{Response: &models.AuthResponse{PasskeySessionID: "p"}})
		assert.Equal(t, StepPasskey, s.Step)
		assert.Len(t, eff, 4)
	})

	t.Run("keys are carried forward", func(t *testing.T) {
		s, _ := Transition(busy, EmailVerified{Response: &models.AuthResponse{
			TwoFactorSessionID: "t", KeyAttributes: testAttrs, EncryptedToken: "et",
		}})
		assert.Same(t, testAttrs, s.KeyAttributes)
		assert.Equal(t, "et", s.EncryptedToken)
	})

	t.Run("empty response is an error", func(t *testing.T) {
		s, eff := Transition(busy, EmailVerified{Response: &models.AuthResponse{}})
		assert.Empty(t, eff)
		assert.Equal(t, StepEmailOTT, s.Step)
		assert.Equal(t, MsgUnexpectedResponse, s.Error)
	})

	t.Run("wrong code keeps step", func(t *testing.T) {
		err := &client.ServerError{Status: http.StatusUnauthorized, Message: "Invalid verification code"}
		s, _ := Transition(busy, EmailVerified{Err: err})
		assert.Equal(t, StepEmailOTT, s.Step)
		assert.Equal(t, "Invalid verification code", s.Error)
	})
}

func TestTransition_PasswordDecrypt(t *testing.T) {
	base := at(StepPasswordDecrypt)
	base.KeyAttributes = testAttrs
	base.EncryptedToken = "et"

	s, eff := Transition(base, SubmitPassword{Password: []byte("pw")})
	assert.True(t, s.Busy)
	assert.Equal(t, []Effect{Unwrap{Password: []byte("pw"), KeyAttributes: testAttrs, EncryptedToken: "et"}}, eff)

	t.Run("decryption failure", func(t *testing.T) {
		s, eff := Transition(s, Unwrapped{Err: cryptox.ErrDecryption})
		assert.Empty(t, eff)
		assert.Equal(t, StepPasswordDecrypt, s.Step)
		assert.Equal(t, "Incorrect password", s.Error)
		assert.False(t, s.Busy)
	})

	t.Run("derivation failure reads as incorrect password", func(t *testing.T) {
		for _, err := range []error{cryptox.ErrDerivation, fmt.Errorf("derive kek: %w", cryptox.ErrDerivation)} {
			s, eff := Transition(s, Unwrapped{Err: err})
			assert.Empty(t, eff)
			assert.Equal(t, StepPasswordDecrypt, s.Step)
			assert.Equal(t, MsgIncorrectPassword, s.Error)
			assert.ErrorIs(t, s.Err, cryptox.ErrDerivation)
			assert.False(t, s.Busy)
		}
	})

	t.Run("success saves login", func(t *testing.T) {
		s, eff := Transition(s, Unwrapped{Token: "tok", MasterKey: []byte("mk")})
		assert.True(t, s.Busy)
		assert.Equal(t, []Effect{SaveLogin{Login: session.Login{
			Token: "tok", Email: "user@x.io", KeyAttributes: testAttrs, MasterKey: []byte("mk"),
		}}}, eff)

		s, eff = Transition(s, LoginSaved{})
		assert.Empty(t, eff)
		assert.Equal(t, State{Step: StepSuccess, Email: "user@x.io", Attempt: "a1"}, s)
	})

	t.Run("save failure", func(t *testing.T) {
		s, _ := Transition(s, LoginSaved{Err: errors.New("disk full")})
		assert.Equal(t, StepPasswordDecrypt, s.Step)
		assert.Equal(t, MsgSaveFailed, s.Error)
	})
}

func TestTransition_TwoFactor(t *testing.T) {
	base := busyAt(StepTwoFactor)
	base.TwoFactorSessionID = "tfs"

	t.Run("submit", func(t *testing.T) {
		s := base
		s.Busy = false
		s, eff := Transition(s, SubmitCode{Code: "123456"})
		assert.Equal(t, []Effect{VerifyTwoFactor{SessionID: "tfs", Code: "123456"}}, eff)
		assert.True(t, s.Busy)
	})

	t.Run("stashed kek decrypts", func(t *testing.T) {
		s := base
		s.KEK = testKEK
		s, eff := Transition(s, TwoFactorVerified{Response: keysResponse()})
		assert.Equal(t, StepTwoFactor, s.Step)
		assert.Equal(t, []Effect{Unwrap{KEK: testKEK, KeyAttributes: testAttrs, EncryptedToken: "et"}}, eff)
	})

	t.Run("no kek falls through to password-decrypt", func(t *testing.T) {
		s, eff := Transition(base, TwoFactorVerified{Response: keysResponse()})
		assert.Empty(t, eff)
		assert.Equal(t, StepPasswordDecrypt, s.Step)
		assert.False(t, s.Busy)
	})

	t.Run("stashed kek that fails asks for password", func(t *testing.T) {
		s := base
		s.KEK = testKEK
		s, _ = Transition(s, TwoFactorVerified{Response: keysResponse()})
		s, _ = Transition(s, Unwrapped{Err: cryptox.ErrDecryption})
		assert.Equal(t, StepPasswordDecrypt, s.Step)
		assert.False(t, s.HasKEK())
		assert.Equal(t, "Incorrect password", s.Error)
	})
}

func TestTransition_PasskeyChoice(t *testing.T) {
	base := at(StepPasskeyChoice)
	base.PasskeySessionID = "pks"

	s, eff := Transition(base, ChoosePasskey{})
	assert.Equal(t, StepPasskey, s.Step)
	assert.Equal(t, OpenTab{SessionID: "pks", Generation: 1}, eff[2])

	s, eff = Transition(base, ChooseTwoFactor{})
	assert.Equal(t, StepTwoFactor, s.Step)
	assert.Empty(t, eff)
}

func TestTransition_Passkey(t *testing.T) {
	t.Run("pending stays", func(t *testing.T) {
		before := passkeyWaiting(true)
		s, eff := Transition(before, PasskeyPolled{Generation: 3})
		assert.Equal(t, before, s)
		assert.Empty(t, eff)
	})

	t.Run("manual check polls current generation", func(t *testing.T) {
		_, eff := Transition(passkeyWaiting(false), CheckPasskey{})
		assert.Equal(t, []Effect{PollPasskey{SessionID: "pks", Generation: 3}}, eff)
	})

	t.Run("verified with kek decrypts", func(t *testing.T) {
		s, eff := Transition(passkeyWaiting(true), PasskeyPolled{Generation: 3, Response: keysResponse()})
		assert.Equal(t, PasskeyVerified, s.Passkey)
		assert.Equal(t, []Effect{
			StopPolling{}, CloseTab{},
			Unwrap{KEK: testKEK, KeyAttributes: testAttrs, EncryptedToken: "et"},
		}, eff)
	})

	t.Run("verified without kek asks for password", func(t *testing.T) {
		s, eff := Transition(passkeyWaiting(false), PasskeyPolled{Generation: 3, Response: keysResponse()})
		assert.Equal(t, StepPasswordDecrypt, s.Step)
		assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)
	})

	t.Run("second success is ignored", func(t *testing.T) {
		s, _ := Transition(passkeyWaiting(true), PasskeyPolled{Generation: 3, Response: keysResponse()})
		again, eff := Transition(s, PasskeyPolled{Generation: 3, Response: keysResponse()})
		assert.Equal(t, s, again)
		assert.Empty(t, eff)
	})

	t.Run("empty success response can be retried", func(t *testing.T) {
		s, eff := Transition(passkeyWaiting(true), PasskeyPolled{Generation: 3, Response: &models.AuthResponse{}})
		assert.Equal(t, StepPasskey, s.Step)
		assert.Equal(t, PasskeyExpired, s.Passkey)
		assert.NotEqual(t, PasskeyVerified, s.Passkey)
		assert.Equal(t, MsgUnexpectedResponse, s.Error)
		assert.True(t, s.CanRetryPasskey())
		assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)

		retried, eff := Transition(s, RetryPasskey{})
		assert.Equal(t, StepPassword, retried.Step)
		assert.Empty(t, eff)

		noSRP := s
		noSRP.SRP = nil
		retried, eff = Transition(noSRP, RetryPasskey{})
		assert.True(t, retried.Busy)
		assert.Equal(t, []Effect{SendOTT{Email: "user@x.io"}}, eff)
	})

	t.Run("stale generation is ignored", func(t *testing.T) {
		before := passkeyWaiting(true)
		s, eff := Transition(before, PasskeyPolled{Generation: 2, Response: keysResponse()})
		assert.Equal(t, before, s)
		assert.Empty(t, eff)

		s, eff = Transition(before, PasskeyTimedOut{Generation: 2})
		assert.Equal(t, before, s)
		assert.Empty(t, eff)
	})

	t.Run("tick errors are transient", func(t *testing.T) {
		before := passkeyWaiting(false)
		s, _ := Transition(before, PasskeyPolled{Generation: 3, Err: client.ErrUnavailable})
		assert.Equal(t, before, s)

		s, _ = Transition(before, PasskeyPolled{Generation: 3, Err: &client.NetworkError{Op: "x", Err: errors.New("down")}, Manual: true})
		assert.Equal(t, MsgNetwork, s.Error)
	})

	t.Run("timeout stops polling and allows retry", func(t *testing.T) {
		s, eff := Transition(passkeyWaiting(true), PasskeyTimedOut{Generation: 3})
		assert.Equal(t, StepPasskey, s.Step)
		assert.Equal(t, PasskeyTimeout, s.Passkey)
		assert.ErrorIs(t, s.Err, ErrTimeout)
		assert.Equal(t, MsgTimeout, s.Error)
		assert.True(t, s.CanRetryPasskey())
		assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)

		s, eff = Transition(s, RetryPasskey{})
		assert.Equal(t, PasskeyWaiting, s.Passkey)
		assert.Equal(t, uint64(4), s.PasskeyGen)
		assert.Empty(t, s.Error)
		assert.True(t, s.HasKEK())
		assert.Len(t, eff, 4)
	})

	t.Run("expired with srp returns to password", func(t *testing.T) {
		s, eff := Transition(passkeyWaiting(true), PasskeyPolled{Generation: 3, Err: client.ErrSessionExpired})
		assert.Equal(t, PasskeyExpired, s.Passkey)
		assert.Equal(t, MsgSessionExpired, s.Error)
		assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)

		s, eff = Transition(s, RetryPasskey{})
		assert.Empty(t, eff)
		assert.Equal(t, StepPassword, s.Step)
		assert.False(t, s.HasKEK())
		assert.Empty(t, s.PasskeySessionID)
	})

	t.Run("expired without srp requests a new ott", func(t *testing.T) {
		s := passkeyWaiting(false)
		s.SRP = nil
		s, _ = Transition(s, PasskeyPolled{Generation: 3, Err: client.ErrSessionExpired})

		s, eff := Transition(s, RetryPasskey{})
		assert.Equal(t, []Effect{SendOTT{Email: "user@x.io"}}, eff)

		s, _ = Transition(s, OTTSent{})
		assert.Equal(t, StepEmailOTT, s.Step)
		assert.Equal(t, PasskeyIdle, s.Passkey)
	})

	t.Run("tab url recorded for current generation", func(t *testing.T) {
		s, _ := Transition(passkeyWaiting(false), TabOpened{Generation: 3, URL: "https://acc/passkeys/verify"})
		assert.Equal(t, "https://acc/passkeys/verify", s.PasskeyURL)

		s, _ = Transition(passkeyWaiting(false), TabOpened{Generation: 1, URL: "old"})
		assert.Empty(t, s.PasskeyURL)
	})
}

func TestTransition_CancelResetsFromEveryStep(t *testing.T) {
	for _, step := range []Step{StepEmail, StepPassword, StepEmailOTT, StepPasswordDecrypt,
		StepTwoFactor, StepPasskeyChoice, StepPasskey, StepSuccess} {
		t.Run(step.String(), func(t *testing.T) {
			s := passkeyWaiting(true)
			s.Step = step
			s.Busy = true

			got, eff := Transition(s, Cancel{})
			assert.Equal(t, State{Step: StepEmail, PasskeyGen: 3}, got)
			assert.Equal(t, []Effect{StopPolling{}, CloseTab{}}, eff)
		})
	}
}

func TestTransition_BusyIgnoresUserEvents(t *testing.T) {
	s := busyAt(StepPassword)
	s.SRP = testSRP

	for _, ev := range []Event{
		SubmitEmail{Email: "x"}, SubmitPassword{Password: []byte("pw")}, SubmitCode{Code: "1"},
		ResendCode{}, ChoosePasskey{}, ChooseTwoFactor{}, CheckPasskey{}, RetryPasskey{},
	} {
		got, eff := Transition(s, ev)
		assert.Equal(t, s, got)
		assert.Empty(t, eff)
	}
}

func TestTransition_EventsForOtherStepsIgnored(t *testing.T) {
	s := at(StepPassword)
	for _, ev := range []Event{
		SubmitEmail{Email: "x"}, SubmitCode{Code: "1"}, ChoosePasskey{}, CheckPasskey{},
		RetryPasskey{}, AttributesFetched{}, EmailVerified{}, TwoFactorVerified{}, LoginSaved{},
	} {
		got, eff := Transition(s, ev)
		assert.Equal(t, s, got, "%T", ev)
		assert.Empty(t, eff)
	}
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "password-decrypt", StepPasswordDecrypt.String())
	assert.Equal(t, "passkey-choice", StepPasskeyChoice.String())
	assert.Equal(t, "unknown", Step(99).String())
}

func TestPasskeyURL(t *testing.T) {
	got := PasskeyURL("https://accounts.ente.io/", "abc")
	assert.Equal(t,
		"https://accounts.ente.io/passkeys/verify?clientPackage=io.ente.auth&passkeySessionID=abc&redirect=https%3A%2F%2Faccounts.ente.io%2Fpasskeys%2Ffinish",
		got)
}
