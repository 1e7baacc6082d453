package login

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPollTimeout  = 5 * time.Minute
)

// StatusAPI checks a passkey verification session. It returns (nil, nil)
// while verification is pending.
type StatusAPI interface {
	GetPasskeyStatus(ctx context.Context, sessionID string) (*models.AuthResponse, error)
}

// Poller runs at most one passkey status loop at a time. Each tick is
// handled to completion before the next is read, and the loop ends on the
// first of: Stop, the timeout, or its context being cancelled.
type Poller struct {
	api      StatusAPI
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(api StatusAPI, clock clockwork.Clock, interval, timeout time.Duration, log logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{api: api, clock: clock, interval: interval, timeout: timeout, log: log}
}

// Start stops any running loop and begins polling sessionID. Results are
// delivered to sink tagged with gen. The ticker and timeout are armed before
// Start returns.
func (p *Poller) Start(ctx context.Context, sessionID string, gen uint64, sink func(context.Context, Event)) {
	ticker := p.clock.NewTicker(p.interval)
	timer := p.clock.NewTimer(p.timeout)

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	p.log.Debug(ctx, "passkey polling started", "generation", gen)

	go func() {
		defer close(done)
		defer ticker.Stop()
		defer timer.Stop()

		// results outlive the loop: a success must still be saved after
		// the loop is stopped by its own transition
		out := context.WithoutCancel(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.Chan():
				p.log.Info(ctx, "passkey verification timed out", "generation", gen)
				sink(out, PasskeyTimedOut{Generation: gen})
				return
			case <-ticker.Chan():
				resp, err := p.api.GetPasskeyStatus(ctx, sessionID)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					p.log.Debug(ctx, "passkey status check failed", "generation", gen, "error", err)
				}
				sink(out, PasskeyPolled{Generation: gen, Response: resp, Err: err})
			}
		}
	}()
}

// Stop cancels the running loop, if any. It does not wait for the loop to
// exit, so it is safe to call from the sink.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Done returns a channel closed when the most recently started loop has
// exited. It is nil if no loop was ever started.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
