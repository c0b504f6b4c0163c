// Package web exposes the ledger to presentation clients: a JSON API for
// reading the feed, posting, liking and syncing, and a websocket stream that
// pushes the feed whenever the chain or status changes.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/network"
	"github.com/luca-patrignani/feedchain/reconcile"
)

// Syncer runs a reconciliation against the configured peer.
type Syncer interface {
	Sync(ctx context.Context) (reconcile.Result, error)
}

// Feed is the read-only view handed to clients.
type Feed struct {
	Chain      []ledger.Block `json:"chain"`
	Status     ledger.Status  `json:"status"`
	Difficulty int            `json:"difficulty"`
	Online     bool           `json:"online"`
}

type Server struct {
	ledger *ledger.Ledger
	syncer Syncer
	online func() bool
	logger *slog.Logger

	broker   *broker
	upgrader websocket.Upgrader
	cert     *tls.Certificate
	peer     network.Peer
	done     chan struct{}
	once     sync.Once
	unsub    func()
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithOnline reports peer connectivity in the feed. Manual syncs are refused
// while it returns false.
func WithOnline(online func() bool) Option {
	return func(s *Server) {
		s.online = online
	}
}

// WithCertificate serves the API and the chain over TLS with cert.
func WithCertificate(cert tls.Certificate) Option {
	return func(s *Server) {
		s.cert = &cert
	}
}

// NewServer creates the server and starts pushing ledger changes to
// websocket clients. Close stops it.
func NewServer(l *ledger.Ledger, syncer Syncer, opts ...Option) *Server {
	s := &Server{
		ledger: l,
		syncer: syncer,
		online: func() bool { return true },
		logger: slog.Default(),
		broker: newBroker(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.peer = network.NewPeer(s.Handler(), network.WithPeerLogger(s.logger))
	if s.cert != nil {
		s.peer = network.WithCertificate(*s.cert)(s.peer)
	}

	updates, unsub := l.Subscribe()
	s.unsub = unsub
	go s.watchLedger(updates)
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/feed", s.handleFeed)
	mux.HandleFunc("POST /api/posts", s.handlePost)
	mux.HandleFunc("POST /api/blocks/{hash}/like", s.handleLike)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /ws", s.handleFeedWS)
	mux.Handle(network.ChainPath, network.Handler(s.ledger))
	return mux
}

// Start serves on l in the background.
func (s *Server) Start(l net.Listener) {
	s.logger.Info("serving feed", "addr", l.Addr().String(), "tls", s.peer.TLS())
	s.peer.Start(l)
}

func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.unsub()
		err = s.peer.Close()
	})
	return err
}

// Refresh pushes the current feed to every websocket client.
func (s *Server) Refresh() {
	data, err := json.Marshal(s.feed())
	if err != nil {
		s.logger.Error("failed to encode feed", "err", err)
		return
	}
	s.broker.broadcast(data)
}

func (s *Server) watchLedger(updates <-chan struct{}) {
	for {
		select {
		case <-s.done:
			return
		case <-updates:
			s.Refresh()
		}
	}
}

func (s *Server) feed() Feed {
	chain := s.ledger.Chain()
	if chain == nil {
		chain = []ledger.Block{}
	}
	return Feed{
		Chain:      chain,
		Status:     s.ledger.Status(),
		Difficulty: s.ledger.Difficulty(),
		Online:     s.online(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
