package ledger

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/luca-patrignani/feedchain/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestLedger(t *testing.T, st Storage) *Ledger {
	t.Helper()
	l := New(st, WithDifficulty(testDifficulty), WithLogger(quietLogger()), WithClock(fixedClock()))
	l.loadBackoff = time.Millisecond
	return l
}

type failingLoad struct{ store.Memory }

func (f *failingLoad) Load() ([]byte, error) { return nil, errors.New("disk unreadable") }

// flakyLoad fails the first failures reads, then reads through.
type flakyLoad struct {
	*store.Memory
	failures int
}

func (f *flakyLoad) Load() ([]byte, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("database is locked")
	}
	return f.Memory.Load()
}

func storedChain(t *testing.T, mem *store.Memory) []Block {
	t.Helper()
	data, err := mem.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	chain, err := DecodeChain(data)
	if err != nil {
		t.Fatalf("DecodeChain: %v", err)
	}
	return chain
}

func memoryWith(t *testing.T, chain []Block) *store.Memory {
	t.Helper()
	data, err := EncodeChain(chain)
	if err != nil {
		t.Fatalf("EncodeChain: %v", err)
	}
	mem := store.NewMemory()
	if err := mem.Save(data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return mem
}

// TestInitializeWithoutState verifies that a ledger with nothing persisted
// starts from a single genesis block and persists it.
func TestInitializeWithoutState(t *testing.T) {
	mem := store.NewMemory()
	l := newTestLedger(t, mem)
	l.Initialize()

	chain := l.Chain()
	if len(chain) != 1 {
		t.Fatalf("expected 1 block (genesis), got %d", len(chain))
	}
	if chain[0].Index != 0 || chain[0].PreviousHash != GenesisPreviousHash {
		t.Fatalf("unexpected genesis: %+v", chain[0])
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("genesis chain should verify: %v", err)
	}
	if mem.Saves() != 1 {
		t.Fatalf("expected genesis to be persisted once, got %d saves", mem.Saves())
	}
	if l.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", l.Status())
	}
}

// TestInitializeRestoresValidChain verifies that a persisted valid chain is
// adopted as is, with missing like counters read as zero.
func TestInitializeRestoresValidChain(t *testing.T) {
	chain := buildChain(t, 3, testDifficulty)
	chain[1].Likes = 4
	data, err := EncodeChain(chain)
	if err != nil {
		t.Fatalf("EncodeChain: %v", err)
	}
	mem := store.NewMemory()
	if err := mem.Save(data); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l := newTestLedger(t, mem)
	l.Initialize()

	got := l.Chain()
	if len(got) != 3 {
		t.Fatalf("expected restored chain of 3, got %d", len(got))
	}
	if got[2].Hash != chain[2].Hash || got[1].Likes != 4 || got[2].Likes != 0 {
		t.Fatalf("restored chain differs: %+v", got)
	}
}

// TestInitializeFallsBackToGenesis covers every unusable persisted state.
func TestInitializeFallsBackToGenesis(t *testing.T) {
	tampered := buildChain(t, 3, testDifficulty)
	tampered[1].Post.Content = "edited after the fact"
	tamperedData, _ := EncodeChain(tampered)

	cases := map[string]Storage{
		"tampered": func() Storage {
			m := store.NewMemory()
			_ = m.Save(tamperedData)
			return m
		}(),
		"garbage": func() Storage {
			m := store.NewMemory()
			_ = m.Save([]byte("{not a chain"))
			return m
		}(),
		"empty array": func() Storage {
			m := store.NewMemory()
			_ = m.Save([]byte("[]"))
			return m
		}(),
		"load error": &failingLoad{},
		"no storage": nil,
	}
	for name, st := range cases {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger(t, st)
			l.Initialize()
			chain := l.Chain()
			if len(chain) != 1 || !chain[0].IsGenesis() {
				t.Fatalf("expected fresh genesis chain, got %+v", chain)
			}
			if err := l.Verify(); err != nil {
				t.Fatalf("fresh chain should verify: %v", err)
			}
		})
	}
}

func TestInitializeRetriesTransientLoadError(t *testing.T) {
	mem := memoryWith(t, buildChain(t, 4, testDifficulty))
	l := newTestLedger(t, &flakyLoad{Memory: mem, failures: 1})
	l.Initialize()
	if l.Len() != 4 {
		t.Fatalf("expected the stored chain of 4 after a retry, got %d", l.Len())
	}
	if l.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", l.Status())
	}
}

// TestInitializeKeepsUnreadableChain verifies that a storage that cannot be
// read is not overwritten by the fallback genesis block.
func TestInitializeKeepsUnreadableChain(t *testing.T) {
	mem := memoryWith(t, buildChain(t, 4, testDifficulty))
	saves := mem.Saves()
	l := newTestLedger(t, &flakyLoad{Memory: mem, failures: defaultLoadAttempts})
	l.Initialize()

	if l.Len() != 1 {
		t.Fatalf("expected a genesis chain in memory, got %d blocks", l.Len())
	}
	if l.Status() != StatusError {
		t.Fatalf("expected error status, got %s", l.Status())
	}
	if mem.Saves() != saves {
		t.Fatal("the stored chain must not be overwritten")
	}
	if got := storedChain(t, mem); len(got) != 4 {
		t.Fatalf("expected 4 stored blocks, got %d", len(got))
	}

	restarted := newTestLedger(t, mem)
	restarted.Initialize()
	if restarted.Len() != 4 {
		t.Fatalf("expected the chain back after a restart, got %d blocks", restarted.Len())
	}
}

// TestInitializeKeepsChainOnDifficultyChange restarts with a difficulty the
// stored blocks do not meet, then restarts again with the original one.
func TestInitializeKeepsChainOnDifficultyChange(t *testing.T) {
	mem := memoryWith(t, buildChain(t, 4, testDifficulty))
	saves := mem.Saves()

	raised := New(mem, WithDifficulty(testDifficulty+4), WithLogger(quietLogger()), WithClock(fixedClock()))
	raised.Initialize()
	if raised.Len() != 1 {
		t.Fatalf("expected a genesis chain at the raised difficulty, got %d blocks", raised.Len())
	}
	if mem.Saves() != saves {
		t.Fatal("the stored chain must not be overwritten")
	}

	restored := newTestLedger(t, mem)
	restored.Initialize()
	if restored.Len() != 4 {
		t.Fatalf("expected 4 blocks at the original difficulty, got %d", restored.Len())
	}
}

// TestAppendValidBlock verifies that an appended post is mined on top of the
// tip, keeps the chain valid and is persisted.
func TestAppendValidBlock(t *testing.T) {
	mem := store.NewMemory()
	l := newTestLedger(t, mem)
	l.Initialize()

	block, err := l.Append(NewTextPost("A", "hi"))
	if err != nil {
		t.Fatalf("unexpected error appending valid block: %v", err)
	}
	chain := l.Chain()
	if len(chain) != 2 {
		t.Fatalf("expected 2 blocks after append, got %d", len(chain))
	}
	if block.Index != 1 || block.PreviousHash != chain[0].Hash || block.Likes != 0 {
		t.Fatalf("unexpected block: %+v", block)
	}
	if !MeetsDifficulty(block.Hash, testDifficulty) {
		t.Fatalf("block hash %s does not meet difficulty", block.Hash)
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("chain should verify after append: %v", err)
	}
	if l.Status() != StatusIdle {
		t.Fatalf("expected idle after append, got %s", l.Status())
	}

	data, err := mem.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	persisted, err := DecodeChain(data)
	if err != nil {
		t.Fatalf("DecodeChain: %v", err)
	}
	if len(persisted) != 2 || persisted[1].Hash != block.Hash {
		t.Fatalf("persisted chain does not contain the new block: %+v", persisted)
	}
}

func TestAppendRejectsInvalidPost(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	l.Initialize()
	if _, err := l.Append(NewTextPost("", "hi")); !errors.Is(err, ErrInvalidPost) {
		t.Fatalf("expected ErrInvalidPost, got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("chain must be unchanged, got %d blocks", l.Len())
	}
}

// TestAppendedChainSurvivesEncoding appends non-ASCII posts and checks that
// the chain validates after a round trip through its stored form.
func TestAppendedChainSurvivesEncoding(t *testing.T) {
	mem := store.NewMemory()
	l := newTestLedger(t, mem)
	l.Initialize()
	for _, content := range []string{"café", "日本語 <b>&</b>", "emoji 🎉"} {
		if _, err := l.Append(NewTextPost("zoë", content)); err != nil {
			t.Fatalf("Append(%q): %v", content, err)
		}
	}
	if _, err := l.Append(NewTextPost("a", "caf\xe9")); !errors.Is(err, ErrInvalidPost) {
		t.Fatalf("expected ErrInvalidPost for invalid UTF-8, got %v", err)
	}

	if err := Validate(storedChain(t, mem), testDifficulty); err != nil {
		t.Fatalf("stored chain should validate: %v", err)
	}
	restarted := newTestLedger(t, mem)
	restarted.Initialize()
	if restarted.Len() != 4 {
		t.Fatalf("expected 4 blocks after restart, got %d", restarted.Len())
	}
}

func TestAppendOnEmptyChain(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	if _, err := l.Append(NewTextPost("A", "hi")); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
	if _, err := l.Latest(); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition from Latest, got %v", err)
	}
}

// TestAppendMinerFailure verifies that a failing miner leaves the chain as it
// was and reports the error status.
func TestAppendMinerFailure(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	l.Initialize()
	l.mine = func(Block, int) Block { panic("out of memory") }

	if _, err := l.Append(NewTextPost("A", "hi")); err == nil {
		t.Fatal("expected error from failing miner")
	}
	if l.Len() != 1 {
		t.Fatalf("chain must be unchanged, got %d blocks", l.Len())
	}
	if l.Status() != StatusError {
		t.Fatalf("expected error status, got %s", l.Status())
	}
}

// TestAppendPersistenceFailure verifies that a storage failure does not undo
// the in-memory append but is surfaced through the status.
func TestAppendPersistenceFailure(t *testing.T) {
	mem := store.NewMemory()
	l := newTestLedger(t, mem)
	l.Initialize()
	mem.FailWith(errors.New("quota exceeded"))

	if _, err := l.Append(NewTextPost("A", "hi")); err != nil {
		t.Fatalf("append should succeed in memory: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 blocks, got %d", l.Len())
	}
	if l.Status() != StatusError {
		t.Fatalf("expected error status, got %s", l.Status())
	}

	mem.FailWith(nil)
	if !l.Like(l.Chain()[1].Hash) {
		t.Fatal("like should find the block")
	}
	data, _ := mem.Load()
	persisted, _ := DecodeChain(data)
	if len(persisted) != 2 || persisted[1].Likes != 1 {
		t.Fatalf("next successful persist should carry the full chain, got %+v", persisted)
	}
}

// TestConcurrentAppends verifies that concurrent appends are serialized into
// a single valid chain.
func TestConcurrentAppends(t *testing.T) {
	l := New(store.NewMemory(), WithDifficulty(1), WithLogger(quietLogger()))
	l.Initialize()

	n := 8
	errChan := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := l.Append(NewTextPost("writer", string(rune('a'+i))))
			errChan <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errChan; err != nil {
			t.Fatal(err)
		}
	}
	if l.Len() != n+1 {
		t.Fatalf("expected %d blocks, got %d", n+1, l.Len())
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

// TestAppendRebuildsWhenTipMoves replaces the chain while a block is being
// mined and expects the block to be rebuilt on the new tip.
func TestAppendRebuildsWhenTipMoves(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	l.Initialize()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	l.mine = func(draft Block, difficulty int) Block {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return Mine(draft, difficulty)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Append(NewTextPost("A", "late"))
		done <- err
	}()

	<-started
	if l.Status() != StatusMining {
		t.Fatalf("expected mining status, got %s", l.Status())
	}
	if l.Len() != 1 {
		t.Fatal("reads must be served while mining")
	}
	remote := buildChain(t, 3, testDifficulty)
	if !l.Replace(func([]Block) ([]Block, bool) { return remote, true }) {
		t.Fatal("replace should succeed while mining")
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("append: %v", err)
	}
	chain := l.Chain()
	if len(chain) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(chain))
	}
	if chain[3].PreviousHash != remote[2].Hash || chain[3].Post.Content != "late" {
		t.Fatalf("block was not rebuilt on the new tip: %+v", chain[3])
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

// TestLike verifies that liking changes only the counter of the target block.
func TestLike(t *testing.T) {
	mem := store.NewMemory()
	l := newTestLedger(t, mem)
	l.Initialize()
	block, err := l.Append(NewTextPost("A", "like me"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	saves := mem.Saves()

	if !l.Like(block.Hash) {
		t.Fatal("expected block to be found")
	}
	chain := l.Chain()
	if chain[1].Likes != 1 || chain[1].Hash != block.Hash {
		t.Fatalf("unexpected block after like: %+v", chain[1])
	}
	if chain[0].Likes != 0 {
		t.Fatal("other blocks must keep their likes")
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("chain should still verify: %v", err)
	}
	if mem.Saves() != saves+1 {
		t.Fatalf("like should persist the chain")
	}

	if l.Like("missing") {
		t.Fatal("unknown hash must not be found")
	}
	if mem.Saves() != saves+1 {
		t.Fatal("a no-op like must not persist")
	}
}

func TestReplaceDeclined(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	l.Initialize()
	before := l.Chain()

	var seen []Block
	ok := l.Replace(func(current []Block) ([]Block, bool) {
		seen = current
		current[0].Likes = 99
		return nil, false
	})
	if ok {
		t.Fatal("declined replace must report false")
	}
	if len(seen) != 1 || seen[0].Hash != before[0].Hash {
		t.Fatalf("decide should see the current chain, got %+v", seen)
	}
	if l.Chain()[0].Likes != 0 {
		t.Fatal("decide must work on a copy")
	}
	if l.Replace(func([]Block) ([]Block, bool) { return nil, true }) {
		t.Fatal("an empty replacement must be refused")
	}
}

func TestSubscribe(t *testing.T) {
	l := newTestLedger(t, store.NewMemory())
	updates, cancel := l.Subscribe()
	defer cancel()

	l.Initialize()
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("expected a notification after Initialize")
	}

	l.SetStatus(StatusSyncing)
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("expected a notification after a status change")
	}

	if l.CompareAndSetStatus(StatusSynced, StatusIdle) {
		t.Fatal("status was not synced")
	}
	if !l.CompareAndSetStatus(StatusSyncing, StatusSynced) || l.Status() != StatusSynced {
		t.Fatal("expected status to move to synced")
	}

	cancel()
	cancel()
}
