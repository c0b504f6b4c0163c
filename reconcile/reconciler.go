package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/feedchain/ledger"
)

// ErrSyncInProgress is returned when a sync is requested while another one is
// still running.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	DefaultSyncedHold = 2 * time.Second
	DefaultTimeout    = 10 * time.Second
)

// Fetcher supplies the remote chain.
type Fetcher interface {
	FetchChain(ctx context.Context) ([]ledger.Block, error)
}

// Result describes a completed sync.
type Result struct {
	Action Action
	// Length is the local chain length after the sync.
	Length int
}

type Reconciler struct {
	ledger  *ledger.Ledger
	fetcher Fetcher
	logger  *slog.Logger
	hold    time.Duration
	timeout time.Duration

	running atomic.Bool

	holdMu    sync.Mutex
	holdTimer *time.Timer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithSyncedHold sets how long the synced status is shown before it returns
// to idle.
func WithSyncedHold(hold time.Duration) Option {
	return func(r *Reconciler) {
		r.hold = hold
	}
}

// WithTimeout bounds each remote fetch.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		r.timeout = timeout
	}
}

// New creates a Reconciler for l that pulls from fetcher by default.
func New(l *ledger.Ledger, fetcher Fetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:  l,
		fetcher: fetcher,
		logger:  slog.Default(),
		hold:    DefaultSyncedHold,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync reconciles against the default fetcher.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	return r.SyncFrom(ctx, r.fetcher)
}

// SyncFrom fetches a chain from f and installs it if the decision rule says
// so. On failure the status becomes error and the local chain is untouched.
func (r *Reconciler) SyncFrom(ctx context.Context, f Fetcher) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer r.running.Store(false)

	r.stopHold()
	r.ledger.SetStatus(ledger.StatusSyncing)

	remote, err := r.fetch(ctx, f)
	if err != nil {
		r.ledger.SetStatus(ledger.StatusError)
		r.logger.Error("sync failed", "err", err)
		return Result{}, err
	}

	difficulty := r.ledger.Difficulty()
	remoteErr := ledger.Validate(remote, difficulty)
	if remoteErr != nil {
		r.logger.Warn("remote chain rejected", "err", remoteErr)
	}

	var decision Decision
	r.ledger.Replace(func(current []ledger.Block) ([]ledger.Block, bool) {
		localValid := ledger.Validate(current, difficulty) == nil
		decision = Decide(current, remote, localValid, remoteErr == nil)
		return decision.Chain, decision.Action != Keep
	})

	res := Result{Action: decision.Action, Length: r.ledger.Len()}
	r.logger.Info("sync complete", "action", res.Action.String(), "remote", len(remote), "blocks", res.Length)
	r.ledger.SetStatus(ledger.StatusSynced)
	r.startHold()
	return res, nil
}

func (r *Reconciler) fetch(ctx context.Context, f Fetcher) (chain []ledger.Block, err error) {
	if f == nil {
		return nil, fmt.Errorf("%w: no peer configured", ledger.ErrFetch)
	}
	defer func() {
		if rec := recover(); rec != nil {
			chain, err = nil, fmt.Errorf("%w: fetcher panicked: %v", ledger.ErrFetch, rec)
		}
	}()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	chain, err = f.FetchChain(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrFetch, err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: remote chain is empty", ledger.ErrFetch)
	}
	return chain, nil
}

func (r *Reconciler) startHold() {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	r.holdTimer = time.AfterFunc(r.hold, func() {
		r.ledger.CompareAndSetStatus(ledger.StatusSynced, ledger.StatusIdle)
	})
}

func (r *Reconciler) stopHold() {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	if r.holdTimer != nil {
		r.holdTimer.Stop()
		r.holdTimer = nil
	}
}

// Close stops the pending synced-to-idle transition, if any.
func (r *Reconciler) Close() {
	r.stopHold()
}
