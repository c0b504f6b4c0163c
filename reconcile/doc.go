// Package reconcile keeps the local ledger in step with a remote peer using a
// longest-valid-chain rule.
//
// # Decision Rule
//
// Given the local and remote chains and their validity, in priority order:
//
//   - remote valid and strictly longer: adopt remote, carrying over local
//     likes for blocks whose hash also appears locally;
//   - local invalid and remote valid: adopt remote verbatim;
//   - otherwise keep the local chain.
//
// The rule compares length only. There is no cumulative work comparison and
// no peer authentication, so any longer valid chain wins.
//
// # Reconciler
//
// Reconciler fetches the remote chain, validates it without holding the
// ledger lock, and then decides again against the chain as it is at commit
// time through Ledger.Replace. An append that finished during the fetch is
// therefore never discarded by a remote chain that is no longer longer.
//
// # Watcher
//
// Watcher probes the peer periodically and triggers a sync whenever the peer
// becomes reachable again.
package reconcile
