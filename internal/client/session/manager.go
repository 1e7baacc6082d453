// Package session owns the lifecycle of a logged-in session: the durable
// identity (token, email, key attributes) and the decrypted master key that
// gates access to the vault.
//
// States:
//
//	logged out -> logged in + unlocked   (CompleteLogin)
//	logged in + unlocked -> locked       (Lock)
//	locked -> unlocked                   (Unlock, password only)
//	logged in -> logged out              (Logout)
//
// The master key lives only in memory. A restarted process comes back
// logged in but locked (see Init).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

var (
	ErrInvalidPassword = errors.New("Invalid password")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrLocked          = errors.New("vault is locked")
	ErrNotReady        = errors.New("session manager not initialised")
	// ErrNoKeyAttributes is returned by Unlock for sessions that were
	// completed with a plain token and carry no wrapped keys.
	ErrNoKeyAttributes = errors.New("no key attributes for this session")
)

const (
	keyToken         = "session.token"
	keyEmail         = "session.email"
	keyKeyAttributes = "session.key_attributes"
)

// AuthState is the externally visible lifecycle state.
type AuthState struct {
	IsLoggedIn bool   `json:"isLoggedIn"`
	IsUnlocked bool   `json:"isUnlocked"`
	Email      string `json:"email,omitempty"`
}

// Login is the hand-off from a successful login attempt.
type Login struct {
	Token         string
	Email         string
	KeyAttributes *models.KeyAttributes
	MasterKey     []byte
}

type Manager struct {
	repo metadata.Repository
	keys *keyStore
	log  logging.Logger

	mu       sync.RWMutex
	ready    bool
	loggedIn bool
	email    string
	token    string
	attrs    *models.KeyAttributes
}

func NewManager(repo metadata.Repository, log logging.Logger) *Manager {
	return &Manager{repo: repo, keys: newKeyStore(), log: log}
}

// Init loads the durable session. Until it returns nil, AuthState reports
// ErrNotReady.
func (m *Manager) Init(ctx context.Context) error {
	token, err := m.repo.Get(ctx, keyToken)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	email, err := m.repo.Get(ctx, keyEmail)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	rawAttrs, err := m.repo.Get(ctx, keyKeyAttributes)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var attrs *models.KeyAttributes
	if rawAttrs != nil {
		attrs = &models.KeyAttributes{}
		if err := json.Unmarshal(rawAttrs, attrs); err != nil {
			return fmt.Errorf("decode key attributes: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = string(token)
	m.email = string(email)
	m.attrs = attrs
	m.loggedIn = m.token != ""
	m.ready = true

	m.log.Info(ctx, "session loaded", "logged_in", m.loggedIn)
	return nil
}

// AuthState is a pure read of the current state.
func (m *Manager) AuthState(ctx context.Context) (AuthState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return AuthState{}, ErrNotReady
	}
	if !m.loggedIn {
		return AuthState{}, nil
	}
	return AuthState{IsLoggedIn: true, IsUnlocked: m.keys.has(), Email: m.email}, nil
}

// CompleteLogin persists the identity and key attributes and holds the master
// key in memory. A nil MasterKey leaves the session logged in but locked.
func (m *Manager) CompleteLogin(ctx context.Context, l Login) error {
	if l.Token == "" {
		return errors.New("complete login: empty token")
	}

	values := map[string][]byte{
		keyToken: []byte(l.Token),
		keyEmail: []byte(l.Email),
	}
	if l.KeyAttributes != nil {
		b, err := json.Marshal(l.KeyAttributes)
		if err != nil {
			return fmt.Errorf("encode key attributes: %w", err)
		}
		values[keyKeyAttributes] = b
	} else if err := m.repo.Delete(ctx, keyKeyAttributes); err != nil {
		return fmt.Errorf("complete login: %w", err)
	}

	if err := m.repo.SetMany(ctx, values); err != nil {
		return fmt.Errorf("complete login: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys.clear()
	if l.MasterKey != nil {
		if err := m.keys.put(l.MasterKey); err != nil {
			return fmt.Errorf("complete login: %w", err)
		}
	}
	m.token = l.Token
	m.email = l.Email
	m.attrs = l.KeyAttributes
	m.loggedIn = true
	m.ready = true

	m.log.Info(ctx, "login completed", "email", logging.Email(l.Email), "unlocked", l.MasterKey != nil)
	return nil
}

// Lock drops the master key. Identity and key attributes are retained.
func (m *Manager) Lock(ctx context.Context) {
	m.keys.clear()
	m.log.Info(ctx, "vault locked")
}

// Unlock re-derives the KEK from password and the stored key attributes and
// decrypts the master key. A wrong password yields ErrInvalidPassword.
func (m *Manager) Unlock(ctx context.Context, password []byte) error {
	m.mu.RLock()
	ready, loggedIn, attrs := m.ready, m.loggedIn, m.attrs
	m.mu.RUnlock()

	switch {
	case !ready:
		return ErrNotReady
	case !loggedIn:
		return ErrNotLoggedIn
	case attrs == nil:
		return ErrNoKeyAttributes
	}

	kek, err := cryptox.DeriveKEK(password, attrs)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	defer common.WipeByteArray(kek)

	masterKey, err := cryptox.DecryptMasterKey(attrs, kek)
	if err != nil {
		m.log.Warn(ctx, "unlock failed", "reason", "invalid password")
		return ErrInvalidPassword
	}
	defer common.WipeByteArray(masterKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	// a concurrent Logout wins
	if !m.loggedIn {
		return ErrNotLoggedIn
	}
	if err := m.keys.put(masterKey); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	m.log.Info(ctx, "vault unlocked")
	return nil
}

// Logout discards everything. A new login is required afterwards. If the
// durable session cannot be removed the session is left as it was.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.Delete(ctx, keyToken, keyEmail, keyKeyAttributes); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	m.keys.rotate()
	m.token, m.email, m.attrs = "", "", nil
	m.loggedIn = false
	m.log.Info(ctx, "logged out")
	return nil
}

// MasterKey returns a copy of the decrypted master key. Callers should wipe
// it when done.
func (m *Manager) MasterKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	key, err := m.keys.get()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrLocked
	}
	return key, nil
}

// Token returns the bearer token of the current session.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loggedIn {
		return "", ErrNotLoggedIn
	}
	return m.token, nil
}
