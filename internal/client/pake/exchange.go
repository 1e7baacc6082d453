// Package pake drives the client side of the SRP-6a password proof against
// the identity provider.
//
// The SRP password is a subkey of the KEK (see cryptox.DeriveLoginKey); the raw
// password and the KEK never leave the process. The ephemeral SRP state lives
// only for the duration of one Run call.
package pake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/kong/go-srp"
)

// GroupBits is the SRP group size used by the identity provider.
const GroupBits = 4096

// ErrIncorrectPassword is returned when the server rejects the client proof.
var ErrIncorrectPassword = errors.New("incorrect password")

// ProtocolError means the server's counter-proof (or another server-supplied
// exchange value) failed local verification. The attempt cannot be retried
// with the same session; the server may be misbehaving.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "srp protocol violation: " + e.Reason
}

// SessionAPI is the part of the identity-provider API the exchange needs.
type SessionAPI interface {
	CreateSRPSession(ctx context.Context, srpUserID, srpA string) (*models.SRPSession, error)
	VerifySRPSession(ctx context.Context, srpUserID, sessionID, srpM1 string) (*models.AuthResponse, error)
}

type Exchange struct {
	api SessionAPI
	log logging.Logger
}

func NewExchange(api SessionAPI, log logging.Logger) *Exchange {
	return &Exchange{api: api, log: log}
}

// Run proves knowledge of the password behind kek for the account described
// by attrs and returns the server's verification response.
//
// Errors:
//   - ErrIncorrectPassword when the server answers 401 to the proof;
//   - *ProtocolError when the server counter-proof does not verify;
//   - client errors (*NetworkError, *ServerError) otherwise.
func (e *Exchange) Run(ctx context.Context, attrs *models.SRPAttributes, kek []byte) (*models.AuthResponse, error) {
	loginKey, err := cryptox.DeriveLoginKey(kek)
	if err != nil {
		return nil, fmt.Errorf("derive login key: %w", err)
	}
	defer common.WipeByteArray(loginKey)

	salt, err := base64.StdEncoding.DecodeString(attrs.SRPSalt)
	if err != nil || len(salt) == 0 {
		return nil, &ProtocolError{Reason: "malformed srp salt"}
	}

	secret := srp.GenKey()
	defer common.WipeByteArray(secret)

	c := srp.NewClient(srp.GetParams(GroupBits), salt, []byte(attrs.SRPUserID), loginKey, secret)
	srpA := base64.StdEncoding.EncodeToString(c.ComputeA())

	session, err := e.api.CreateSRPSession(ctx, attrs.SRPUserID, srpA)
	if err != nil {
		return nil, fmt.Errorf("create srp session: %w", err)
	}

	m1, err := clientProof(c, session.SRPB)
	if err != nil {
		return nil, err
	}

	resp, err := e.api.VerifySRPSession(ctx, attrs.SRPUserID, session.SessionID, base64.StdEncoding.EncodeToString(m1))
	if err != nil {
		if client.StatusCode(err) == http.StatusUnauthorized {
			return nil, ErrIncorrectPassword
		}
		return nil, fmt.Errorf("verify srp session: %w", err)
	}

	m2, err := base64.StdEncoding.DecodeString(resp.SRPM2)
	if err != nil || len(m2) == 0 {
		return nil, &ProtocolError{Reason: "missing server proof"}
	}
	if err := c.CheckM2(m2); err != nil {
		e.log.Error(ctx, "srp counter-proof verification failed", "srp_user_id", attrs.SRPUserID)
		return nil, &ProtocolError{Reason: "server proof mismatch"}
	}
	return resp, nil
}

// clientProof feeds the server public value into c and returns M1.
// go-srp panics on an out-of-range B.
func clientProof(c *srp.SRPClient, srpB string) (m1 []byte, err error) {
	b, decErr := base64.StdEncoding.DecodeString(srpB)
	if decErr != nil || len(b) == 0 {
		return nil, &ProtocolError{Reason: "malformed server public value"}
	}

	defer func() {
		if r := recover(); r != nil {
			m1, err = nil, &ProtocolError{Reason: fmt.Sprintf("invalid server public value: %v", r)}
		}
	}()

	c.SetB(b)
	return c.ComputeM1(), nil
}
