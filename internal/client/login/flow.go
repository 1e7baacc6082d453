package login

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// API is the part of the identity-provider client the flow calls directly.
type API interface {
	GetSRPAttributes(ctx context.Context, email string) (*models.SRPAttributes, error)
	SendOTT(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, ott string) (*models.AuthResponse, error)
	VerifyTwoFactor(ctx context.Context, sessionID, code string) (*models.AuthResponse, error)
	StatusAPI
}

// Exchanger runs the SRP password proof (see pake.Exchange).
type Exchanger interface {
	Run(ctx context.Context, attrs *models.SRPAttributes, kek []byte) (*models.AuthResponse, error)
}

// Crypto unwraps the account keys (see cryptox.Unwrapper).
type Crypto interface {
	DeriveKey(password []byte, salt string, opsLimit, memLimit int) ([]byte, error)
	DecryptMasterKey(attrs *models.KeyAttributes, kek []byte) ([]byte, error)
	DecryptToken(encryptedToken string, attrs *models.KeyAttributes, masterKey []byte) (string, error)
}

// Completer receives the result of a successful attempt (see
// session.Manager).
type Completer interface {
	CompleteLogin(ctx context.Context, l session.Login) error
}

// TabOpener opens the out-of-band passkey verification page. Close may fail
// (for example for a tab that navigated cross-origin); such failures are
// ignored.
type TabOpener interface {
	Open(ctx context.Context, url string) (handle string, err error)
	Close(ctx context.Context, handle string) error
}

// AccountsURLSource yields the accounts base URL hosting the passkey page.
type AccountsURLSource interface {
	AccountsURL(ctx context.Context) string
}

// Observer receives a snapshot after every state change. It may be called
// from the polling goroutine and must not block.
type Observer func(State)

// Deps are the collaborators of a Flow. API, Exchange, Session and Accounts
// are required.
type Deps struct {
	API      API
	Exchange Exchanger
	Session  Completer
	Accounts AccountsURLSource

	Crypto       Crypto
	Tabs         TabOpener
	Observer     Observer
	Clock        clockwork.Clock
	PollInterval time.Duration
	PollTimeout  time.Duration
	Log          logging.Logger
}

// Flow drives one login at a time. Dispatch is safe for concurrent use; a
// transition is applied atomically and its effects run on the calling
// goroutine.
type Flow struct {
	api      API
	exchange Exchanger
	crypto   Crypto
	session  Completer
	tabs     TabOpener
	accounts AccountsURLSource
	observer Observer
	poller   *Poller
	log      logging.Logger

	mu    sync.Mutex
	state State

	tabMu sync.Mutex
	tab   string
}

func NewFlow(d Deps) *Flow {
	if d.Crypto == nil {
		d.Crypto = cryptox.Unwrapper{}
	}
	if d.Tabs == nil {
		d.Tabs = noTabs{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}

	return &Flow{
		api:      d.API,
		exchange: d.Exchange,
		crypto:   d.Crypto,
		session:  d.Session,
		tabs:     d.Tabs,
		accounts: d.Accounts,
		observer: d.Observer,
		poller:   NewPoller(d.API, d.Clock, d.PollInterval, d.PollTimeout, d.Log),
		log:      d.Log,
		state:    State{Step: StepEmail, Attempt: uuid.NewString()},
	}
}

// State returns the current state without secret material.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.public()
}

// Dispatch applies ev and runs the resulting effects, feeding their results
// back until the flow settles. It returns the settled state. Step errors are
// reported in State.Error; the only error returned is ErrBusy.
func (f *Flow) Dispatch(ctx context.Context, ev Event) (State, error) {
	queue := []Event{ev}
	for i := 0; len(queue) > 0; i++ {
		ev := queue[0]
		queue = queue[1:]

		attempt, effects, ok := f.apply(ctx, ev)
		if !ok && i == 0 {
			if sp, isPw := ev.(SubmitPassword); isPw {
				common.WipeByteArray(sp.Password)
			}
			f.log.Debug(ctx, "login event ignored while busy")
			return f.State(), ErrBusy
		}

		for _, eff := range effects {
			res := f.run(ctx, eff)
			if res == nil {
				continue
			}
			if f.attempt() != attempt {
				f.log.Debug(ctx, "dropping result of cancelled attempt", "attempt", attempt)
				discard(res)
				continue
			}
			queue = append(queue, res)
		}
	}
	return f.State(), nil
}

// Close stops polling and closes any open verification tab.
func (f *Flow) Close(ctx context.Context) {
	f.poller.Stop()
	f.closeTab(ctx)
}

// apply runs one transition atomically. It reports false if ev was a user
// event rejected by the busy guard.
func (f *Flow) apply(ctx context.Context, ev Event) (string, []Effect, bool) {
	f.mu.Lock()
	prev := f.state
	if prev.Busy && isUserEvent(ev) {
		f.mu.Unlock()
		return prev.Attempt, nil, false
	}
	next, effects := Transition(prev, ev)
	if next.Attempt == "" {
		next.Attempt = uuid.NewString()
	}
	f.state = next
	f.mu.Unlock()

	if prev.HasKEK() && !next.HasKEK() {
		common.WipeByteArray(prev.KEK)
	}
	if prev.Step != next.Step {
		f.log.Debug(ctx, "login step", "attempt", next.Attempt, "from", prev.Step, "to", next.Step)
	}
	if next.Err != nil && next.Err != prev.Err && isProtocolError(next.Err) {
		f.log.Error(ctx, "login attempt aborted", "attempt", prev.Attempt, "error", next.Err)
	}

	// observers always see the busy state before any derivation runs
	if f.observer != nil {
		f.observer(next.public())
	}
	return next.Attempt, effects, true
}

func (f *Flow) run(ctx context.Context, eff Effect) Event {
	switch e := eff.(type) {
	case FetchAttributes:
		attrs, err := f.api.GetSRPAttributes(ctx, e.Email)
		return AttributesFetched{Attributes: attrs, Err: err}

	case SendOTT:
		return OTTSent{Err: f.api.SendOTT(ctx, e.Email)}

	case VerifyEmail:
		resp, err := f.api.VerifyEmail(ctx, e.Email, e.Code)
		return EmailVerified{Response: resp, Err: err}

	case VerifyPassword:
		return f.verifyPassword(ctx, e)

	case VerifyTwoFactor:
		resp, err := f.api.VerifyTwoFactor(ctx, e.SessionID, e.Code)
		return TwoFactorVerified{Response: resp, Err: err}

	case Unwrap:
		return f.unwrap(e)

	case SaveLogin:
		err := f.session.CompleteLogin(ctx, e.Login)
		common.WipeByteArray(e.Login.MasterKey)
		return LoginSaved{Err: err}

	case OpenTab:
		return f.openTab(ctx, e)

	case CloseTab:
		f.closeTab(ctx)

	case StartPolling:
		f.poller.Start(ctx, e.SessionID, e.Generation, f.fromPoller)

	case StopPolling:
		f.poller.Stop()

	case PollPasskey:
		resp, err := f.api.GetPasskeyStatus(ctx, e.SessionID)
		return PasskeyPolled{Generation: e.Generation, Response: resp, Err: err, Manual: true}
	}
	return nil
}

func (f *Flow) verifyPassword(ctx context.Context, e VerifyPassword) Event {
	defer common.WipeByteArray(e.Password)

	a := e.Attributes
	kek, err := f.crypto.DeriveKey(e.Password, a.KEKSalt, a.OpsLimit, a.MemLimit)
	if err != nil {
		return PasswordVerified{Err: err}
	}

	resp, err := f.exchange.Run(ctx, a, kek)
	if err != nil {
		common.WipeByteArray(kek)
		if !isProtocolError(err) {
			f.log.Warn(ctx, "password verification failed", "error", err)
		}
		return PasswordVerified{Err: err}
	}
	return PasswordVerified{KEK: kek, Response: resp}
}

func (f *Flow) unwrap(e Unwrap) Event {
	kek := e.KEK
	if kek == nil {
		defer common.WipeByteArray(e.Password)

		a := e.KeyAttributes
		derived, err := f.crypto.DeriveKey(e.Password, a.KEKSalt, a.OpsLimit, a.MemLimit)
		if err != nil {
			return Unwrapped{Err: err}
		}
		defer common.WipeByteArray(derived)
		kek = derived
	}

	masterKey, err := f.crypto.DecryptMasterKey(e.KeyAttributes, kek)
	if err != nil {
		return Unwrapped{Err: err}
	}
	token, err := f.crypto.DecryptToken(e.EncryptedToken, e.KeyAttributes, masterKey)
	if err != nil {
		common.WipeByteArray(masterKey)
		return Unwrapped{Err: err}
	}
	return Unwrapped{Token: token, MasterKey: masterKey}
}

func (f *Flow) openTab(ctx context.Context, e OpenTab) Event {
	u := PasskeyURL(f.accounts.AccountsURL(ctx), e.SessionID)

	handle, err := f.tabs.Open(ctx, u)
	if err != nil {
		f.log.Warn(ctx, "could not open passkey verification page", "error", err)
		return TabOpened{Generation: e.Generation, URL: u, Err: err}
	}

	f.tabMu.Lock()
	f.tab = handle
	f.tabMu.Unlock()
	return TabOpened{Generation: e.Generation, URL: u}
}

func (f *Flow) closeTab(ctx context.Context) {
	f.tabMu.Lock()
	handle := f.tab
	f.tab = ""
	f.tabMu.Unlock()

	if handle == "" {
		return
	}
	if err := f.tabs.Close(ctx, handle); err != nil {
		f.log.Debug(ctx, "ignoring tab close failure", "error", err)
	}
}

func (f *Flow) fromPoller(ctx context.Context, ev Event) {
	_, _ = f.Dispatch(ctx, ev)
}

func (f *Flow) attempt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Attempt
}

// discard wipes secrets carried by a dropped result.
func discard(ev Event) {
	switch e := ev.(type) {
	case PasswordVerified:
		common.WipeByteArray(e.KEK)
	case Unwrapped:
		common.WipeByteArray(e.MasterKey)
	}
}

// PasskeyURL builds the verification page URL. The redirect target is on
// the accounts host itself since the remote verifier only redirects to
// whitelisted origins.
func PasskeyURL(accountsURL, sessionID string) string {
	base := strings.TrimRight(accountsURL, "/")
	q := url.Values{}
	q.Set("passkeySessionID", sessionID)
	q.Set("redirect", base+"/passkeys/finish")
	q.Set("clientPackage", common.ClientPackage)
	return base + "/passkeys/verify?" + q.Encode()
}

type noTabs struct{}

func (noTabs) Open(context.Context, string) (string, error) { return "", nil }
func (noTabs) Close(context.Context, string) error          { return nil }
