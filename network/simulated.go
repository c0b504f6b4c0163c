package network

import (
	"context"
	"sync"
	"time"

	"github.com/luca-patrignani/feedchain/ledger"
)

const DefaultSimulatedLatency = 1500 * time.Millisecond

// SimulatedPeer answers with a fixed three-block chain after Latency.
type SimulatedPeer struct {
	Latency    time.Duration
	difficulty int

	once  sync.Once
	chain []ledger.Block
}

// NewSimulatedPeer returns a SimulatedPeer whose chain is mined at
// difficulty, so it validates on nodes using the same setting.
func NewSimulatedPeer(latency time.Duration, difficulty int) *SimulatedPeer {
	return &SimulatedPeer{Latency: latency, difficulty: difficulty}
}

func (s *SimulatedPeer) build() {
	genesis := ledger.NewGenesis(time.UnixMilli(1672531200000))
	alice := ledger.Mine(ledger.Block{
		Index:        1,
		Timestamp:    1672531260000,
		Post:         ledger.NewTextPost("Alice", "Hello from the global network!"),
		PreviousHash: genesis.Hash,
	}, s.difficulty)
	bob := ledger.Mine(ledger.Block{
		Index:        2,
		Timestamp:    1672531320000,
		Post:         ledger.NewTextPost("Bob", "Offline-first is the future."),
		PreviousHash: alice.Hash,
	}, s.difficulty)
	s.chain = []ledger.Block{genesis, alice, bob}
}

func (s *SimulatedPeer) FetchChain(ctx context.Context) ([]ledger.Block, error) {
	s.once.Do(s.build)
	timer := time.NewTimer(s.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return append([]ledger.Block(nil), s.chain...), nil
}

// Ping succeeds unless ctx is done.
func (s *SimulatedPeer) Ping(ctx context.Context) error {
	return ctx.Err()
}
