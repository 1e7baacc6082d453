package login

import (
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
)

// Effect is work requested by Transition and executed by Flow.
type Effect interface {
	effect()
}

type (
	FetchAttributes struct{ Email string }
	SendOTT         struct{ Email string }
	VerifyEmail     struct {
		Email string
		Code  string
	}
	// VerifyPassword derives the KEK and runs the SRP exchange.
	VerifyPassword struct {
		Password   []byte
		Attributes *models.SRPAttributes
	}
	VerifyTwoFactor struct {
		SessionID string
		Code      string
	}
	// Unwrap decrypts the master key and the token. It uses KEK when set,
	// otherwise derives one from Password.
	Unwrap struct {
		Password       []byte
		KEK            []byte
		KeyAttributes  *models.KeyAttributes
		EncryptedToken string
	}
	SaveLogin struct{ Login session.Login }

	OpenTab struct {
		SessionID  string
		Generation uint64
	}
	CloseTab     struct{}
	StartPolling struct {
		SessionID  string
		Generation uint64
	}
	StopPolling struct{}
	PollPasskey struct {
		SessionID  string
		Generation uint64
	}
)

func (FetchAttributes) effect() {}
func (SendOTT) effect()         {}
func (VerifyEmail) effect()     {}
func (VerifyPassword) effect()  {}
func (VerifyTwoFactor) effect() {}
func (Unwrap) effect()          {}
func (SaveLogin) effect()       {}
func (OpenTab) effect()         {}
func (CloseTab) effect()        {}
func (StartPolling) effect()    {}
func (StopPolling) effect()     {}
func (PollPasskey) effect()     {}
