package network

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/luca-patrignani/feedchain/ledger"
)

// ChainPath is where a Peer serves its chain.
const ChainPath = "/chain"

// ChainSource provides the chain a Peer serves.
type ChainSource interface {
	Chain() []ledger.Block
}

// Handler serves the chain of src. HEAD requests get the headers only.
func Handler(src ChainSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ChainPath, func(rw http.ResponseWriter, req *http.Request) {
		data, err := ledger.EncodeChain(src.Chain())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if req.Method == http.MethodHead {
			rw.WriteHeader(http.StatusOK)
			return
		}
		if _, err := rw.Write(data); err != nil {
			slog.Debug("failed to write chain", "remote", req.RemoteAddr, "err", err)
		}
	})
	return mux
}

// Peer serves a node's routes, the chain endpoint among them, to other nodes.
type Peer struct {
	server    *http.Server
	tlsConfig *tls.Config
	logger    *slog.Logger
}

type peerOption func(Peer) Peer

// NewPeer creates a Peer serving handler. Use Handler for a Peer that serves
// only the chain.
func NewPeer(handler http.Handler, opts ...peerOption) Peer {
	p := Peer{
		server: &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		p = opt(p)
	}
	return p
}

// WithCertificate makes the Peer serve over TLS with cert.
func WithCertificate(cert tls.Certificate) peerOption {
	return func(p Peer) Peer {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
		return p
	}
}

func WithPeerLogger(logger *slog.Logger) peerOption {
	return func(p Peer) Peer {
		p.logger = logger
		return p
	}
}

// TLS reports whether the Peer serves over TLS.
func (p Peer) TLS() bool {
	return p.tlsConfig != nil
}

// Start serves on l in the background.
func (p Peer) Start(l net.Listener) {
	if p.tlsConfig != nil {
		l = tls.NewListener(l, p.tlsConfig)
	}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("peer server stopped", "addr", l.Addr().String(), "err", err)
		}
	}()
}

func (p Peer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}

// CreateListeners opens n listeners on free localhost ports.
func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses
}
