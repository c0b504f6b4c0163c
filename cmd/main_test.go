package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/luca-patrignani/feedchain/config"
	"github.com/luca-patrignani/feedchain/discovery"
	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/network"
	"github.com/luca-patrignani/feedchain/reconcile"
	"github.com/luca-patrignani/feedchain/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(peer string) *config.Config {
	cfg := config.Default()
	cfg.Node.Listen = "127.0.0.1:0"
	cfg.Ledger.Difficulty = 2
	cfg.Storage.Driver = store.DriverMemory
	cfg.Peer.URL = peer
	cfg.Peer.Timeout = 2 * time.Second
	cfg.Peer.SimulatedLatency = 10 * time.Millisecond
	cfg.Sync.ProbeInterval = 50 * time.Millisecond
	cfg.Sync.SyncedHold = 50 * time.Millisecond
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *node {
	t.Helper()
	n, err := newNode(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestNodeAdoptsSimulatedPeer starts a node without a configured peer; its
// first probe succeeds and the simulated chain replaces the fresh genesis.
func TestNodeAdoptsSimulatedPeer(t *testing.T) {
	cfg := testConfig("")
	cfg.Storage.Driver = store.DriverSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "feed.db")

	n := startNode(t, cfg)
	waitFor(t, "the simulated chain", func() bool { return n.ledger.Len() == 3 })
	if !n.watcher.Online() {
		t.Fatal("the simulated peer is always reachable")
	}
	if err := n.ledger.Verify(); err != nil {
		t.Fatal(err)
	}
	if _, err := n.ledger.Append(ledger.NewTextPost("me", "after sync")); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	restarted, err := newNode(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	defer restarted.Close()
	if restarted.ledger.Len() != 4 {
		t.Fatalf("expected the persisted chain of 4 blocks, got %d", restarted.ledger.Len())
	}
}

// TestNodesSync points a second node at the first one and expects it to adopt
// the longer chain.
func TestNodesSync(t *testing.T) {
	a := startNode(t, testConfig(""))
	defer a.Close()
	waitFor(t, "node a to sync", func() bool { return a.ledger.Len() == 3 })
	if _, err := a.ledger.Append(ledger.NewTextPost("alice", "only on a")); err != nil {
		t.Fatal(err)
	}
	tip, err := a.ledger.Latest()
	if err != nil {
		t.Fatal(err)
	}

	b := startNode(t, testConfig(a.URL()))
	defer b.Close()
	waitFor(t, "node b to adopt the chain of a", func() bool {
		latest, err := b.ledger.Latest()
		return err == nil && latest.Hash == tip.Hash
	})
	if b.ledger.Len() != 4 {
		t.Fatalf("expected 4 blocks on b, got %d", b.ledger.Len())
	}
}

// TestNodesSyncOverTLS serves the first node over HTTPS and has the second
// one trust the certificate file the first node wrote.
func TestNodesSyncOverTLS(t *testing.T) {
	certFile := filepath.Join(t.TempDir(), "a.pem")
	cfgA := testConfig("")
	cfgA.Node.TLS = true
	cfgA.Node.CertFile = certFile
	a := startNode(t, cfgA)
	defer a.Close()
	if !strings.HasPrefix(a.URL(), "https://") {
		t.Fatalf("expected an https URL, got %s", a.URL())
	}
	waitFor(t, "node a to sync", func() bool { return a.ledger.Len() == 3 })
	if _, err := a.ledger.Append(ledger.NewTextPost("alice", "over tls")); err != nil {
		t.Fatal(err)
	}

	cfgB := testConfig(a.URL())
	cfgB.Peer.CACert = certFile
	b := startNode(t, cfgB)
	defer b.Close()
	waitFor(t, "node b to adopt the chain of a", func() bool { return b.ledger.Len() == 4 })
	if !b.watcher.Online() {
		t.Fatal("node b should see node a online")
	}

	cfgC := testConfig(a.URL())
	cfgC.Peer.CACert = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := newNode(cfgC, quiet); err == nil {
		t.Fatal("expected an error for a missing certificate file")
	}
}

type recordingSyncer struct {
	calls []string
	err   error
}

func (r *recordingSyncer) SyncFrom(ctx context.Context, f reconcile.Fetcher) (reconcile.Result, error) {
	r.calls = append(r.calls, "sync")
	return reconcile.Result{Action: reconcile.Keep, Length: 1}, r.err
}

func TestPeerFinder(t *testing.T) {
	syncer := &recordingSyncer{err: errors.New("unreachable")}
	var dialed []string
	dial := func(peerURL string) reconcile.Fetcher {
		dialed = append(dialed, peerURL)
		return network.NewClient(peerURL)
	}
	_, subnet, _ := net.ParseCIDR("10.0.0.0/24")
	f := newPeerFinder(syncer, dial, subnet, quiet)
	ctx := context.Background()
	entry := discovery.Entry{NodeID: uuid.New(), Info: []byte("http://10.0.0.7:8080"), Time: time.Now()}

	if f.handle(ctx, discovery.Entry{NodeID: uuid.New(), Info: []byte("not a url")}) {
		t.Fatal("announcements that are not URLs must be ignored")
	}
	if f.handle(ctx, discovery.Entry{NodeID: uuid.New(), Info: []byte("http://192.168.1.7:8080")}) {
		t.Fatal("announcements from outside the local subnet must be ignored")
	}
	if !f.handle(ctx, entry) {
		t.Fatal("a new peer must be synced")
	}
	if !f.handle(ctx, entry) {
		t.Fatal("a peer whose sync failed must be retried")
	}
	syncer.err = nil
	if !f.handle(ctx, entry) {
		t.Fatal("expected a third attempt")
	}
	if f.handle(ctx, entry) {
		t.Fatal("a synced peer must not be synced again")
	}
	if len(syncer.calls) != 3 {
		t.Fatalf("expected 3 syncs, got %d", len(syncer.calls))
	}
	if len(dialed) != 3 || dialed[0] != "http://10.0.0.7:8080" {
		t.Fatalf("unexpected dialed peers %v", dialed)
	}
	if !newPeerFinder(syncer, dial, nil, quiet).handle(ctx, discovery.Entry{NodeID: uuid.New(), Info: []byte("http://192.168.1.7:8080")}) {
		t.Fatal("without a known subnet every peer is accepted")
	}

	entries := make(chan discovery.Entry)
	done := make(chan struct{})
	go func() {
		f.run(ctx, entries)
		close(done)
	}()
	close(entries)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run must return when entries is closed")
	}
}

func TestPostSummary(t *testing.T) {
	if got := postSummary(ledger.NewTextPost("A", "hello\n  world"), 40); got != "hello world" {
		t.Fatalf("unexpected summary %q", got)
	}
	long := postSummary(ledger.NewTextPost("A", strings.Repeat("é", 50)), 10)
	if n := len([]rune(long)); n != 10 || !strings.HasSuffix(long, "…") {
		t.Fatalf("expected 10 runes ending with an ellipsis, got %q", long)
	}
	media := ledger.Post{
		Author:    "A",
		Content:   "data:audio/mpeg;base64,AAAA",
		Kind:      ledger.KindAudio,
		MediaInfo: &ledger.MediaInfo{Name: "voice.mp3", SizeBytes: 2048},
	}
	if got := postSummary(media, 80); got != "[audio] voice.mp3 (2.0 kB)" {
		t.Fatalf("unexpected media summary %q", got)
	}
}
