// Package messaging implements the request/response contract through which
// other extension components reach the session and settings. The transport
// carrying the messages is supplied by the caller.
package messaging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/client/config"
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

// Message types.
const (
	TypeGetAuthState  = "GET_AUTH_STATE"
	TypeLoginComplete = "LOGIN_COMPLETE"
	TypeUnlock        = "UNLOCK"
	TypeLock          = "LOCK"
	TypeLogout        = "LOGOUT"
	TypeGetSettings   = "GET_SETTINGS"
	TypeSetSettings   = "SET_SETTINGS"
)

var (
	// ErrUnauthorized is returned for messages from senders outside the
	// extension.
	ErrUnauthorized = errors.New("unauthorized sender")
	// ErrUnknownType is returned for a message type with no handler.
	ErrUnknownType = errors.New("unknown message type")
)

// Sender identifies where a message came from.
type Sender struct {
	ID  string
	URL string
}

// Message is one inbound request.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply to a Message. Data carries the handler result.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Session is the part of session.Manager the router exposes.
type Session interface {
	AuthState(ctx context.Context) (session.AuthState, error)
	CompleteLogin(ctx context.Context, l session.Login) error
	Unlock(ctx context.Context, password []byte) error
	Lock(ctx context.Context)
	Logout(ctx context.Context) error
}

// Settings is the part of config.SettingsStore the router exposes.
type Settings interface {
	Get(ctx context.Context) (config.Settings, error)
	Update(ctx context.Context, p config.SettingsPatch) (config.Settings, error)
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Router dispatches messages from trusted senders to their handlers.
type Router struct {
	extensionID string
	session     Session
	settings    Settings
	log         logging.Logger
	handlers    map[string]handlerFunc
}

// NewRouter returns a router accepting messages only from extensionID.
func NewRouter(extensionID string, s Session, st Settings, log logging.Logger) *Router {
	r := &Router{extensionID: extensionID, session: s, settings: st, log: log}
	r.handlers = map[string]handlerFunc{
		TypeGetAuthState:  r.getAuthState,
		TypeLoginComplete: r.loginComplete,
		TypeUnlock:        r.unlock,
		TypeLock:          r.lock,
		TypeLogout:        r.logout,
		TypeGetSettings:   r.getSettings,
		TypeSetSettings:   r.setSettings,
	}
	return r
}

// Handle authorizes the sender and runs the handler for msg. Handler
// failures are reported in the Response; the returned error is
// ErrUnauthorized or ErrUnknownType. A sender without an id is never
// trusted, even when the router was configured with an empty extension id.
func (r *Router) Handle(ctx context.Context, from Sender, msg Message) (Response, error) {
	if from.ID == "" || from.ID != r.extensionID {
		r.log.Warn(ctx, "rejected message from untrusted sender", "sender", from.ID, "url", from.URL, "type", msg.Type)
		return Response{Error: ErrUnauthorized.Error()}, ErrUnauthorized
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		r.log.Warn(ctx, "unknown message type", "type", msg.Type)
		return Response{Error: ErrUnknownType.Error()}, ErrUnknownType
	}

	data, err := h(ctx, msg.Payload)
	if err != nil {
		r.log.Debug(ctx, "message handler failed", "type", msg.Type, "error", err)
		return Response{Error: err.Error()}, nil
	}
	return Response{Success: true, Data: data}, nil
}

func (r *Router) getAuthState(ctx context.Context, _ json.RawMessage) (any, error) {
	return GetAuthStateWithRetry(ctx, r.session)
}

// LoginComplete is the LOGIN_COMPLETE payload. MasterKey is standard base64.
type LoginComplete struct {
	Token         string                `json:"token"`
	Email         string                `json:"email"`
	KeyAttributes *models.KeyAttributes `json:"keyAttributes,omitempty"`
	MasterKey     string                `json:"masterKey,omitempty"`
}

func (r *Router) loginComplete(ctx context.Context, payload json.RawMessage) (any, error) {
	var p LoginComplete
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, errors.New("missing token")
	}

	var masterKey []byte
	if p.MasterKey != "" {
		mk, err := base64.StdEncoding.DecodeString(p.MasterKey)
		if err != nil {
			return nil, errors.New("invalid master key encoding")
		}
		masterKey = mk
		defer common.WipeByteArray(masterKey)
	}

	err := r.session.CompleteLogin(ctx, session.Login{
		Token:         p.Token,
		Email:         strings.TrimSpace(p.Email),
		KeyAttributes: p.KeyAttributes,
		MasterKey:     masterKey,
	})
	return nil, err
}

// Unlock is the UNLOCK payload.
type Unlock struct {
	Password string `json:"password"`
}

func (r *Router) unlock(ctx context.Context, payload json.RawMessage) (any, error) {
	var p Unlock
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	pw := []byte(p.Password)
	defer common.WipeByteArray(pw)
	return nil, r.session.Unlock(ctx, pw)
}

func (r *Router) lock(ctx context.Context, _ json.RawMessage) (any, error) {
	r.session.Lock(ctx)
	return nil, nil
}

func (r *Router) logout(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, r.session.Logout(ctx)
}

func (r *Router) getSettings(ctx context.Context, _ json.RawMessage) (any, error) {
	return r.settings.Get(ctx)
}

func (r *Router) setSettings(ctx context.Context, payload json.RawMessage) (any, error) {
	var p config.SettingsPatch
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return r.settings.Update(ctx, p)
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
