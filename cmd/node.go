package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/luca-patrignani/feedchain/config"
	"github.com/luca-patrignani/feedchain/discovery"
	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/network"
	"github.com/luca-patrignani/feedchain/reconcile"
	"github.com/luca-patrignani/feedchain/store"
	"github.com/luca-patrignani/feedchain/web"
)

// remote is what a node needs from its configured peer.
type remote interface {
	reconcile.Fetcher
	reconcile.Prober
}

// node wires storage, ledger, reconciliation, the web API and discovery.
type node struct {
	cfg    *config.Config
	logger *slog.Logger

	kv         store.KV
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	watcher    *reconcile.Watcher
	web        *web.Server
	listener   net.Listener
	url        string
	roots      *x509.CertPool
	discover   *discovery.Discover

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	kv, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Ledger.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	l := ledger.New(kv,
		ledger.WithDifficulty(cfg.Ledger.Difficulty),
		ledger.WithLogger(logger.With("component", "ledger")),
	)
	l.Initialize()

	listener, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("listen on %s: %w", cfg.Node.Listen, err), kv.Close())
	}
	advertised, err := advertiseURL(listener.Addr().(*net.TCPAddr), cfg.Node.Advertise, cfg.Node.TLS)
	if err != nil {
		return nil, errors.Join(err, listener.Close(), kv.Close())
	}

	n := &node{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		ledger:   l,
		listener: listener,
		url:      advertised,
	}
	webOpts := []web.Option{web.WithLogger(logger.With("component", "web"))}
	if cfg.Node.TLS {
		cert, err := n.certificate()
		if err != nil {
			return nil, errors.Join(err, listener.Close(), kv.Close())
		}
		webOpts = append(webOpts, web.WithCertificate(cert))
	}
	if cfg.Peer.CACert != "" {
		if n.roots, err = loadRoots(cfg.Peer.CACert); err != nil {
			return nil, errors.Join(err, listener.Close(), kv.Close())
		}
	}
	peer, err := n.remote()
	if err != nil {
		return nil, errors.Join(err, listener.Close(), kv.Close())
	}
	n.reconciler = reconcile.New(l, peer,
		reconcile.WithLogger(logger.With("component", "reconcile")),
		reconcile.WithSyncedHold(cfg.Sync.SyncedHold),
		reconcile.WithTimeout(cfg.Peer.Timeout),
	)
	n.watcher = reconcile.NewWatcher(n.reconciler, peer,
		reconcile.WithInterval(cfg.Sync.ProbeInterval),
		reconcile.WithWatchLogger(logger.With("component", "watcher")),
		reconcile.WithOnChange(func(bool) { n.web.Refresh() }),
	)
	webOpts = append(webOpts, web.WithOnline(n.watcher.Online))
	n.web = web.NewServer(l, n.reconciler, webOpts...)
	return n, nil
}

// certificate creates a self-signed certificate for the advertised host and
// writes its PEM to the configured cert file.
func (n *node) certificate() (tls.Certificate, error) {
	u, err := url.Parse(n.url)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("advertised URL %q: %w", n.url, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "443")
	}
	cert, pem, err := network.GenerateSelfSignedCert(host)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate certificate: %w", err)
	}
	if n.cfg.Node.CertFile != "" {
		if err := os.WriteFile(n.cfg.Node.CertFile, pem, 0o644); err != nil {
			return tls.Certificate{}, fmt.Errorf("write certificate: %w", err)
		}
		n.logger.Info("serving TLS", "host", u.Hostname(), "cert", n.cfg.Node.CertFile)
	}
	return cert, nil
}

func loadRoots(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peer certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

// dial returns a client for the node at peerURL, trusting the configured
// certificates when there are any.
func (n *node) dial(peerURL string) network.Client {
	if n.roots != nil {
		return network.NewClient(peerURL, network.WithTimeout(n.cfg.Peer.Timeout), network.WithRootCAs(n.roots))
	}
	return network.NewClient(peerURL, network.WithTimeout(n.cfg.Peer.Timeout))
}

func (n *node) remote() (remote, error) {
	if n.cfg.Peer.URL == "" {
		n.logger.Info("no peer configured, using the simulated peer", "latency", n.cfg.Peer.SimulatedLatency)
		return network.NewSimulatedPeer(n.cfg.Peer.SimulatedLatency, n.cfg.Ledger.Difficulty), nil
	}
	local := n.listener.Addr().(*net.TCPAddr).IP
	peerURL, err := resolvePeer(local, n.cfg.Peer.URL, n.listener.Addr().(*net.TCPAddr).Port)
	if err != nil {
		return nil, fmt.Errorf("peer address %q: %w", n.cfg.Peer.URL, err)
	}
	client := n.dial(peerURL)
	n.logger.Info("using peer", "url", client.URL)
	return client, nil
}

// Start serves the API and starts the background sync loops.
func (n *node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)
	n.web.Start(n.listener)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.watcher.Run(ctx)
	}()

	if !n.cfg.Discovery.Enabled {
		return nil
	}
	n.discover = &discovery.Discover{
		NodeID:                       uuid.New(),
		Info:                         []byte(n.url),
		Port:                         n.cfg.Discovery.Port,
		IntervalBetweenAnnouncements: n.cfg.Discovery.Interval,
		Logger:                       n.logger.With("component", "discovery"),
	}
	if err := n.discover.Start(); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	subnet := n.localSubnet()
	if subnet != nil {
		n.logger.Info("announcing on local network", "subnet", subnet.String(), "node", n.discover.NodeID)
	}
	finder := newPeerFinder(n.reconciler, func(peerURL string) reconcile.Fetcher { return n.dial(peerURL) },
		subnet, n.logger.With("component", "discovery"))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		finder.run(ctx, n.discover.Entries)
	}()
	return nil
}

// localSubnet is the network of the advertised address, or of the listener
// when the advertised host is a name. Nil when neither is known.
func (n *node) localSubnet() *net.IPNet {
	ip := n.listener.Addr().(*net.TCPAddr).IP
	if u, err := url.Parse(n.url); err == nil {
		if advertised := net.ParseIP(u.Hostname()); advertised != nil {
			ip = advertised
		}
	}
	subnet, err := subnetOfListener(ip)
	if err != nil {
		n.logger.Debug("local subnet unknown, accepting every announcement", "err", err)
		return nil
	}
	return &subnet
}

// URL is the address other nodes fetch this node's chain from.
func (n *node) URL() string {
	return n.url
}

func (n *node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	var errs []error
	if n.discover != nil {
		errs = append(errs, n.discover.Close())
	}
	errs = append(errs, n.web.Close())
	// Shutdown already closes the listener once it has been served.
	if err := n.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	n.wg.Wait()
	n.reconciler.Close()
	errs = append(errs, n.kv.Close())
	return errors.Join(errs...)
}
