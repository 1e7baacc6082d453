// Package idptest runs an in-process identity provider for tests.
//
// The server implements the same HTTP/JSON endpoints as the real provider,
// including the server half of SRP-6a, so the login flow can be exercised
// end to end. Key-derivation costs are the libsodium minimums to keep tests
// fast.
package idptest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kong/go-srp"
)

const (
	OpsLimit = cryptox.MinOpsLimit
	MemLimit = cryptox.MinMemLimit

	// TOTPCode is the only authenticator code the server accepts.
	TOTPCode = "123456"

	srpGroupBits = 4096
)

// Request is a recorded inbound request.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// Account is a registered user.
type Account struct {
	Email         string
	SRP           *models.SRPAttributes
	KeyAttributes *models.KeyAttributes
	MasterKey     []byte

	EmailMFA   bool
	TwoFactor  bool
	Passkey    bool
	PlainToken bool

	token    []byte
	verifier []byte
}

// Token returns the bearer token as the client sees it after unwrapping.
func (a *Account) Token() string {
	return base64.URLEncoding.EncodeToString(a.token)
}

type AccountOption func(*Account)

// WithEmailMFA forces the email OTT step even though SRP is set up.
func WithEmailMFA() AccountOption { return func(a *Account) { a.EmailMFA = true } }

// WithTwoFactor requires an authenticator code after primary proof.
func WithTwoFactor() AccountOption { return func(a *Account) { a.TwoFactor = true } }

// WithPasskey requires passkey verification after primary proof.
func WithPasskey() AccountOption { return func(a *Account) { a.Passkey = true } }

// WithoutSRP registers the account without SRP attributes.
func WithoutSRP() AccountOption { return func(a *Account) { a.SRP = nil } }

// WithPlainToken makes email verification return the token in the clear.
func WithPlainToken() AccountOption { return func(a *Account) { a.PlainToken = true } }

type passkeySession struct {
	account  *Account
	verified bool
	expired  bool
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	accounts  map[string]*Account
	byUserID  map[string]*Account
	srp       map[string]*srpSession
	twoFactor map[string]*Account
	passkeys  map[string]*passkeySession
	otts      map[string]string
	requests  []Request

	// TamperM2 corrupts the server counter-proof on verify-session.
	TamperM2 bool
}

type srpSession struct {
	account *Account
	server  *srp.SRPServer
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts:  make(map[string]*Account),
		byUserID:  make(map[string]*Account),
		srp:       make(map[string]*srpSession),
		twoFactor: make(map[string]*Account),
		passkeys:  make(map[string]*passkeySession),
		otts:      make(map[string]string),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/users/srp/attributes", s.handleAttributes).Methods(http.MethodGet)
	r.HandleFunc("/users/ott", s.handleOTT).Methods(http.MethodPost)
	r.HandleFunc("/users/verify-email", s.handleVerifyEmail).Methods(http.MethodPost)
	r.HandleFunc("/users/srp/create-session", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/users/srp/verify-session", s.handleVerifySession).Methods(http.MethodPost)
	r.HandleFunc("/users/two-factor/verify", s.handleTwoFactor).Methods(http.MethodPost)
	r.HandleFunc("/users/two-factor/passkeys/get-token", s.handlePasskeyToken).Methods(http.MethodGet)
	return r
}

// AddAccount registers email with password and returns the account.
func (s *Server) AddAccount(t testing.TB, email, password string, opts ...AccountOption) *Account {
	t.Helper()

	keyAttrs, masterKey, err := cryptox.GenerateKeyAttributes([]byte(password), OpsLimit, MemLimit)
	if err != nil {
		t.Fatalf("generate key attributes: %v", err)
	}
	kek, err := cryptox.DeriveKEK([]byte(password), keyAttrs)
	if err != nil {
		t.Fatalf("derive kek: %v", err)
	}
	loginKey, err := cryptox.DeriveLoginKey(kek)
	if err != nil {
		t.Fatalf("derive login key: %v", err)
	}

	srpSalt := cryptox.GenerateKey()[:16]
	a := &Account{
		Email:         email,
		KeyAttributes: keyAttrs,
		MasterKey:     masterKey,
		token:         cryptox.GenerateKey(),
		SRP: &models.SRPAttributes{
			SRPUserID: uuid.NewString(),
			SRPSalt:   base64.StdEncoding.EncodeToString(srpSalt),
			MemLimit:  keyAttrs.MemLimit,
			OpsLimit:  keyAttrs.OpsLimit,
			KEKSalt:   keyAttrs.KEKSalt,
		},
	}
	a.verifier = srp.ComputeVerifier(srp.GetParams(srpGroupBits), srpSalt, []byte(a.SRP.SRPUserID), loginKey)

	for _, o := range opts {
		o(a)
	}
	if a.SRP != nil {
		a.SRP.IsEmailMFAEnabled = a.EmailMFA
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = a
	if a.SRP != nil {
		s.byUserID[a.SRP.SRPUserID] = a
	}
	return a
}

// OTT returns the last code mailed to email.
func (s *Server) OTT(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otts[email]
}

// PasskeySessions returns the ids of all issued passkey sessions.
func (s *Server) PasskeySessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.passkeys))
	for id := range s.passkeys {
		ids = append(ids, id)
	}
	return ids
}

// VerifyPasskey marks the passkey session as verified, as if the user
// completed the ceremony in the browser tab.
func (s *Server) VerifyPasskey(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.passkeys[sessionID]; ok {
		ps.verified = true
	}
}

// ExpirePasskey lapses the passkey session.
func (s *Server) ExpirePasskey(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.passkeys[sessionID]; ok {
		ps.expired = true
	}
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests hit path.
func (s *Server) Count(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
