package login

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/pake"
	"github.com/dmitrijs2005/otpkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/client/storage"
	"github.com/dmitrijs2005/otpkeeper/internal/idptest"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const e2ePassword = "correct horse battery staple"

type e2e struct {
	srv   *idptest.Server
	acct  *idptest.Account
	flow  *Flow
	sess  *session.Manager
	tabs  *fakeTabs
	clock *clockwork.FakeClock
}

func newE2E(t *testing.T, opts ...idptest.AccountOption) *e2e {
	t.Helper()
	ctx := context.Background()

	srv := idptest.New(t)
	acct := srv.AddAccount(t, "user@x.io", e2ePassword, opts...)

	db, err := storage.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sess := session.NewManager(metadata.NewSQLiteRepository(db), logging.Nop())
	require.NoError(t, sess.Init(ctx))

	api := client.NewHTTPClient(client.StaticURL(srv.URL))
	e := &e2e{srv: srv, acct: acct, sess: sess, tabs: &fakeTabs{}, clock: clockwork.NewFakeClock()}
	e.flow = NewFlow(Deps{
		API:      api,
		Exchange: pake.NewExchange(api, logging.Nop()),
		Session:  sess,
		Accounts: staticAccounts("https://accounts.example"),
		Tabs:     e.tabs,
		Clock:    e.clock,
		Log:      logging.Nop(),
	})
	t.Cleanup(func() { e.flow.Close(ctx) })
	return e
}

func (e *e2e) dispatch(t *testing.T, ev Event) State {
	t.Helper()
	s, err := e.flow.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	return s
}

func (e *e2e) password() []byte { return []byte(e2ePassword) }

func (e *e2e) requireUnlocked(t *testing.T) {
	t.Helper()
	st, err := e.sess.AuthState(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLoggedIn)
	assert.True(t, st.IsUnlocked)
	assert.Equal(t, "user@x.io", st.Email)

	mk, err := e.sess.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, e.acct.MasterKey, mk)

	tok, err := e.sess.Token()
	require.NoError(t, err)
	assert.Equal(t, e.acct.Token(), tok)
}

func (e *e2e) requireNoSecretsOnWire(t *testing.T) {
	t.Helper()
	for _, r := range e.srv.Requests() {
		assert.NotContains(t, r.Body, e2ePassword, "password sent to %s", r.Path)
		assert.NotContains(t, r.Query, e2ePassword)
	}
}

func TestE2E_PasswordWithoutSecondFactor(t *testing.T) {
	e := newE2E(t)

	s := e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	require.Equal(t, StepPassword, s.Step)

	s = e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepSuccess, s.Step, s.Error)

	e.requireUnlocked(t)
	e.requireNoSecretsOnWire(t)
	assert.Zero(t, e.srv.Count("/users/ott"))
}

func TestE2E_WrongPassword(t *testing.T) {
	e := newE2E(t)

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitPassword{Password: []byte("nope")})

	assert.Equal(t, StepPassword, s.Step)
	assert.Equal(t, MsgIncorrectPassword, s.Error)
	assert.False(t, s.Busy)

	// the same step accepts another try
	s = e.dispatch(t, SubmitPassword{Password: e.password()})
	assert.Equal(t, StepSuccess, s.Step)
}

func TestE2E_TwoFactorReusesKEK(t *testing.T) {
	e := newE2E(t, idptest.WithTwoFactor())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepTwoFactor, s.Step)

	s = e.dispatch(t, SubmitCode{Code: "000000"})
	assert.Equal(t, StepTwoFactor, s.Step)
	assert.Equal(t, "Invalid two-factor code", s.Error)

	s = e.dispatch(t, SubmitCode{Code: idptest.TOTPCode})
	require.Equal(t, StepSuccess, s.Step, s.Error)
	e.requireUnlocked(t)
}

func TestE2E_EmailMFAThenPasswordDecrypt(t *testing.T) {
	e := newE2E(t, idptest.WithEmailMFA())

	s := e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	require.Equal(t, StepEmailOTT, s.Step)

	s = e.dispatch(t, SubmitCode{Code: e.srv.OTT("user@x.io")})
	require.Equal(t, StepPasswordDecrypt, s.Step)

	s = e.dispatch(t, SubmitPassword{Password: []byte("wrong")})
	assert.Equal(t, StepPasswordDecrypt, s.Step)
	assert.Equal(t, MsgIncorrectPassword, s.Error)

	s = e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepSuccess, s.Step, s.Error)
	e.requireUnlocked(t)
	e.requireNoSecretsOnWire(t)
	assert.Zero(t, e.srv.Count("/users/srp/create-session"))
}

func TestE2E_MissingKEKFallsBackToPassword(t *testing.T) {
	e := newE2E(t, idptest.WithoutSRP(), idptest.WithTwoFactor())

	s := e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	require.Equal(t, StepEmailOTT, s.Step)

	s = e.dispatch(t, SubmitCode{Code: e.srv.OTT("user@x.io")})
	require.Equal(t, StepTwoFactor, s.Step)

	s = e.dispatch(t, SubmitCode{Code: idptest.TOTPCode})
	require.Equal(t, StepPasswordDecrypt, s.Step)

	s = e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepSuccess, s.Step, s.Error)
	e.requireUnlocked(t)
}

func TestE2E_PlainTokenViaOTT(t *testing.T) {
	e := newE2E(t, idptest.WithoutSRP(), idptest.WithPlainToken())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitCode{Code: e.srv.OTT("user@x.io")})
	require.Equal(t, StepSuccess, s.Step, s.Error)

	st, err := e.sess.AuthState(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLoggedIn)
	assert.False(t, st.IsUnlocked)

	tok, err := e.sess.Token()
	require.NoError(t, err)
	assert.Equal(t, e.acct.Token(), tok)
}

func TestE2E_WrongOTTShowsServerMessage(t *testing.T) {
	e := newE2E(t, idptest.WithEmailMFA())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitCode{Code: "not-it"})

	assert.Equal(t, StepEmailOTT, s.Step)
	assert.Equal(t, "Invalid verification code", s.Error)

	s = e.dispatch(t, ResendCode{})
	assert.Equal(t, StepEmailOTT, s.Step)
	assert.Equal(t, 2, e.srv.Count("/users/ott"))
}

func TestE2E_PasskeyManualCheck(t *testing.T) {
	e := newE2E(t, idptest.WithPasskey())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepPasskey, s.Step)
	require.Len(t, e.srv.PasskeySessions(), 1)
	sessionID := e.srv.PasskeySessions()[0]

	opened, _ := e.tabs.snapshot()
	require.Len(t, opened, 1)
	assert.True(t, strings.HasPrefix(opened[0], "https://accounts.example/passkeys/verify?"))
	assert.Contains(t, opened[0], "passkeySessionID="+sessionID)

	s = e.dispatch(t, CheckPasskey{})
	assert.Equal(t, PasskeyWaiting, s.Passkey)
	assert.Empty(t, s.Error)

	e.srv.VerifyPasskey(sessionID)
	s = e.dispatch(t, CheckPasskey{})
	require.Equal(t, StepSuccess, s.Step, s.Error)
	e.requireUnlocked(t)
}

func TestE2E_PasskeyPolledToSuccess(t *testing.T) {
	e := newE2E(t, idptest.WithPasskey())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	e.dispatch(t, SubmitPassword{Password: e.password()})
	e.srv.VerifyPasskey(e.srv.PasskeySessions()[0])

	e.clock.Advance(DefaultPollInterval)
	require.Eventually(t, func() bool { return e.flow.State().Step == StepSuccess }, 5*time.Second, 10*time.Millisecond)
	e.requireUnlocked(t)
}

func TestE2E_PasskeyExpiredThenRetry(t *testing.T) {
	e := newE2E(t, idptest.WithPasskey())

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	e.dispatch(t, SubmitPassword{Password: e.password()})
	e.srv.ExpirePasskey(e.srv.PasskeySessions()[0])

	s := e.dispatch(t, CheckPasskey{})
	require.Equal(t, PasskeyExpired, s.Passkey)
	assert.True(t, s.CanRetryPasskey())

	s = e.dispatch(t, RetryPasskey{})
	require.Equal(t, StepPassword, s.Step)

	s = e.dispatch(t, SubmitPassword{Password: e.password()})
	require.Equal(t, StepPasskey, s.Step)
	assert.Len(t, e.srv.PasskeySessions(), 2)
}

func TestE2E_TamperedServerProofResets(t *testing.T) {
	e := newE2E(t)
	e.srv.TamperM2 = true

	e.dispatch(t, SubmitEmail{Email: "user@x.io"})
	s := e.dispatch(t, SubmitPassword{Password: e.password()})

	assert.Equal(t, StepEmail, s.Step)
	assert.Equal(t, MsgProtocol, s.Error)
	assert.Empty(t, s.Email)

	st, err := e.sess.AuthState(context.Background())
	require.NoError(t, err)
	assert.False(t, st.IsLoggedIn)
}
