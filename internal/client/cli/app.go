package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/dmitrijs2005/otpkeeper/internal/client/client"
	"github.com/dmitrijs2005/otpkeeper/internal/client/config"
	"github.com/dmitrijs2005/otpkeeper/internal/client/login"
	"github.com/dmitrijs2005/otpkeeper/internal/client/messaging"
	"github.com/dmitrijs2005/otpkeeper/internal/client/pake"
	"github.com/dmitrijs2005/otpkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/client/storage"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

// loginDriver is the part of login.Flow the App uses.
type loginDriver interface {
	State() login.State
	Dispatch(ctx context.Context, ev login.Event) (login.State, error)
	Close(ctx context.Context)
}

// messenger is the part of messaging.Router the App uses.
type messenger interface {
	Handle(ctx context.Context, from messaging.Sender, msg messaging.Message) (messaging.Response, error)
}

type App struct {
	config *config.Config
	flow   loginDriver
	router messenger
	sender messaging.Sender
	reader *bufio.Reader
	out    io.Writer
	log    logging.Logger
	closer io.Closer

	auth session.AuthState

	// set while the user is being asked to finish passkey verification
	awaitingPasskey atomic.Bool
}

// NewApp opens durable storage and wires the client components.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	repo, closer, err := storage.Open(ctx, c.DatabaseDSN, c.RedisAddr)
	if err != nil {
		log.Error(ctx, "error initializing storage", "error", err)
		return nil, err
	}

	a, err := newApp(ctx, c, repo, os.Stdin, os.Stdout, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	a.closer = closer
	return a, nil
}

func newApp(ctx context.Context, c *config.Config, repo metadata.Repository, in io.Reader, out io.Writer, log logging.Logger) (*App, error) {
	settings := config.NewSettingsStore(repo, c, log)

	sess := session.NewManager(repo, log)
	if err := sess.Init(ctx); err != nil {
		return nil, err
	}

	api := client.NewHTTPClient(settings, client.WithLogger(log))

	a := &App{
		config: c,
		router: messaging.NewRouter(c.ExtensionID, sess, settings, log),
		sender: messaging.Sender{ID: c.ExtensionID, URL: "cli"},
		reader: bufio.NewReader(in),
		out:    out,
		log:    log,
	}
	a.flow = login.NewFlow(login.Deps{
		API:          api,
		Exchange:     pake.NewExchange(api, log),
		Session:      sess,
		Accounts:     settings,
		Tabs:         newPrintTabs(out),
		Observer:     a.observe,
		PollInterval: c.PasskeyPollInterval,
		PollTimeout:  c.PasskeyTimeout,
		Log:          log,
	})
	return a, nil
}

// Run starts the REPL and releases resources when it returns.
func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)
	a.Root(ctx)
}

// Close stops any login in progress and closes storage.
func (a *App) Close(ctx context.Context) {
	if a.flow != nil {
		a.flow.Close(ctx)
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.log.Warn(ctx, "error closing storage", "error", err)
		}
	}
}

func (a *App) isLoggedIn() bool {
	return a.auth.IsLoggedIn
}
