// Package network exchanges chains between nodes over HTTP(S).
//
// # Core Components
//
// Handler: Serves the local chain at /chain. GET returns the chain as a JSON
// array of blocks; HEAD answers the connectivity probe.
//
// Peer: Serves a node's routes over HTTP, or HTTPS with WithCertificate.
//
// Client: Fetches the chain of a remote Peer and probes its reachability.
// It satisfies both reconcile.Fetcher and reconcile.Prober.
//
// SimulatedPeer: A stand-in remote that always answers with the same small
// chain after a fixed latency. Useful when no real peer is configured.
//
// # Timeout Support
//
// Client retries failed fetches until its timeout expires, so a peer that is
// still starting up is reached as soon as it listens.
//
// # TLS
//
// GenerateSelfSignedCert creates a certificate for a Peer; clients trust it
// through WithRootCAs. Chain responses are read up to MaxChainSize.
package network
