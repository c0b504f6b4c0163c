package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/luca-patrignani/feedchain/discovery"
	"github.com/luca-patrignani/feedchain/reconcile"
)

// peerSyncer is the part of the reconciler a peerFinder drives.
type peerSyncer interface {
	SyncFrom(ctx context.Context, f reconcile.Fetcher) (reconcile.Result, error)
}

// peerFinder syncs once from every node that announces itself, and again
// later if that first attempt failed. Nodes announcing an IP address outside
// subnet are ignored; a nil subnet accepts every node.
type peerFinder struct {
	syncer peerSyncer
	dial   func(peerURL string) reconcile.Fetcher
	subnet *net.IPNet
	logger *slog.Logger
	synced map[string]time.Time
}

func newPeerFinder(syncer peerSyncer, dial func(string) reconcile.Fetcher, subnet *net.IPNet, logger *slog.Logger) *peerFinder {
	return &peerFinder{
		syncer: syncer,
		dial:   dial,
		subnet: subnet,
		logger: logger,
		synced: make(map[string]time.Time),
	}
}

func (f *peerFinder) run(ctx context.Context, entries <-chan discovery.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			f.handle(ctx, entry)
		}
	}
}

// handle reports whether a sync was attempted for entry.
func (f *peerFinder) handle(ctx context.Context, entry discovery.Entry) bool {
	peerURL := string(entry.Info)
	u, err := url.ParseRequestURI(peerURL)
	if err != nil {
		f.logger.Debug("ignoring announcement", "node", entry.NodeID, "info", peerURL, "err", err)
		return false
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && f.subnet != nil && !f.subnet.Contains(ip) {
		f.logger.Debug("ignoring announcement from another network", "node", entry.NodeID, "url", peerURL, "subnet", f.subnet.String())
		return false
	}
	if _, ok := f.synced[peerURL]; ok {
		return false
	}
	f.logger.Info("discovered peer", "node", entry.NodeID, "url", peerURL)
	res, err := f.syncer.SyncFrom(ctx, f.dial(peerURL))
	if err != nil {
		if !errors.Is(err, reconcile.ErrSyncInProgress) {
			f.logger.Warn("sync from discovered peer failed", "url", peerURL, "err", err)
		}
		return true
	}
	f.synced[peerURL] = entry.Time
	f.logger.Info("synced from discovered peer", "url", peerURL, "action", res.Action.String())
	return true
}
