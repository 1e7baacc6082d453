package login

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
)

// ---- identity provider API ----

type fakeAPI struct {
	mu sync.Mutex

	attrs    *models.SRPAttributes
	attrsErr error
	ottErr   error

	// verify-email answers only for code
	code        string
	emailResp   *models.AuthResponse
	twoFAResp   *models.AuthResponse
	passkeyResp *models.AuthResponse
	passkeyErr  error

	calls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) GetSRPAttributes(ctx context.Context, email string) (*models.SRPAttributes, error) {
	f.hit("GetSRPAttributes")
	return f.attrs, f.attrsErr
}

func (f *fakeAPI) SendOTT(ctx context.Context, email string) error {
	f.hit("SendOTT")
	return f.ottErr
}

func (f *fakeAPI) VerifyEmail(ctx context.Context, email, ott string) (*models.AuthResponse, error) {
	f.hit("VerifyEmail")
	if ott != f.code {
		return nil, fmt.Errorf("wrong code %q", ott)
	}
	return f.emailResp, nil
}

func (f *fakeAPI) VerifyTwoFactor(ctx context.Context, sessionID, code string) (*models.AuthResponse, error) {
	f.hit("VerifyTwoFactor")
	return f.twoFAResp, nil
}

func (f *fakeAPI) GetPasskeyStatus(ctx context.Context, sessionID string) (*models.AuthResponse, error) {
	f.hit("GetPasskeyStatus")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passkeyResp, f.passkeyErr
}

func (f *fakeAPI) setPasskey(resp *models.AuthResponse, err error) {
	f.mu.Lock()
	f.passkeyResp, f.passkeyErr = resp, err
	f.mu.Unlock()
}

// ---- SRP exchange ----

type fakeExchange struct {
	mu    sync.Mutex
	resp  *models.AuthResponse
	err   error
	calls int

	// when set, Run signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (f *fakeExchange) Run(ctx context.Context, attrs *models.SRPAttributes, kek []byte) (*models.AuthResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.resp, f.err
}

// ---- crypto ----

type countingCrypto struct {
	mu           sync.Mutex
	derive       int
	masterKey    int
	token        int
	failDecrypt  bool
	beforeDerive func()
}

func (c *countingCrypto) DeriveKey(password []byte, salt string, opsLimit, memLimit int) ([]byte, error) {
	if c.beforeDerive != nil {
		c.beforeDerive()
	}
	c.mu.Lock()
	c.derive++
	c.mu.Unlock()
	return []byte("kek-kek-kek-kek-kek-kek-kek-kek!"), nil
}

func (c *countingCrypto) DecryptMasterKey(attrs *models.KeyAttributes, kek []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterKey++
	if c.failDecrypt {
		return nil, errDecrypt
	}
	return []byte("master-key"), nil
}

func (c *countingCrypto) DecryptToken(encryptedToken string, attrs *models.KeyAttributes, masterKey []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	return "tok", nil
}

func (c *countingCrypto) counts() (derive, masterKey, token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derive, c.masterKey, c.token
}

// ---- session ----

type recordingSession struct {
	mu     sync.Mutex
	logins []session.Login
	err    error
}

func (r *recordingSession) CompleteLogin(ctx context.Context, l session.Login) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	// the flow wipes the master key after hand-off
	if l.MasterKey != nil {
		l.MasterKey = append([]byte(nil), l.MasterKey...)
	}
	r.logins = append(r.logins, l)
	return nil
}

func (r *recordingSession) all() []session.Login {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Login(nil), r.logins...)
}

// ---- tabs ----

type fakeTabs struct {
	mu       sync.Mutex
	opened   []string
	closed   []string
	closeErr error
}

func (f *fakeTabs) Open(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	return fmt.Sprintf("tab-%d", len(f.opened)), nil
}

func (f *fakeTabs) Close(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, handle)
	return f.closeErr
}

func (f *fakeTabs) snapshot() (opened, closed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...), append([]string(nil), f.closed...)
}

type staticAccounts string

func (s staticAccounts) AccountsURL(context.Context) string { return string(s) }

func errSessionExpired() error { return client.ErrSessionExpired }
