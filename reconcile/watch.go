package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultProbeInterval = 5 * time.Second

// Prober checks whether the peer is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Watcher tracks peer connectivity and syncs on every offline to online
// transition, the first successful probe included.
type Watcher struct {
	reconciler *Reconciler
	prober     Prober
	interval   time.Duration
	logger     *slog.Logger
	onChange   func(online bool)

	online atomic.Bool
}

type WatchOption func(*Watcher)

func WithInterval(interval time.Duration) WatchOption {
	return func(w *Watcher) {
		w.interval = interval
	}
}

func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithOnChange registers a callback invoked whenever connectivity flips.
func WithOnChange(fn func(online bool)) WatchOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

func NewWatcher(r *Reconciler, p Prober, opts ...WatchOption) *Watcher {
	w := &Watcher{
		reconciler: r,
		prober:     p,
		interval:   DefaultProbeInterval,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Online reports the result of the last probe.
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// Run probes immediately and then on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.Probe(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Probe checks the peer once and returns whether it is reachable. When the
// peer has just come back, Probe runs a sync before returning.
func (w *Watcher) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.interval)
	err := w.prober.Ping(probeCtx)
	cancel()

	online := err == nil
	was := w.online.Swap(online)
	if was == online {
		return online
	}
	if online {
		w.logger.Info("peer reachable")
	} else {
		w.logger.Warn("peer unreachable", "err", err)
	}
	if w.onChange != nil {
		w.onChange(online)
	}
	if online {
		_, err := w.reconciler.Sync(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			w.logger.Debug("sync on reconnect skipped", "err", err)
		}
	}
	return online
}
