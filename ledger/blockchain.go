package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luca-patrignani/feedchain/store"
)

// Storage persists the serialized chain as a single blob. Load returns an
// error matching store.ErrNotFound when nothing has been saved yet.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Ledger owns the chain. Reads take the read lock; append, like and
// replacement are serialized on the write lock. Mining runs without holding
// the lock so reads, likes and syncs are served while a block is mined.
type Ledger struct {
	mu      sync.RWMutex
	chain   []Block
	status  Status
	version uint64

	// appendMu serializes appends against each other only.
	appendMu sync.Mutex

	persistMu    sync.Mutex
	savedVersion uint64

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int

	storage    Storage
	difficulty int
	logger     *slog.Logger
	now        func() time.Time
	mine       func(Block, int) Block

	loadAttempts int
	loadBackoff  time.Duration
}

// Storage reads are retried this many times before the stored chain is
// considered unreadable.
const (
	defaultLoadAttempts = 3
	defaultLoadBackoff  = 200 * time.Millisecond
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithDifficulty sets the proof-of-work difficulty for appended blocks.
func WithDifficulty(difficulty int) Option {
	return func(l *Ledger) {
		l.difficulty = difficulty
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger over storage. Call Initialize before use.
func New(storage Storage, opts ...Option) *Ledger {
	l := &Ledger{
		status:     StatusIdle,
		subs:       make(map[int]chan struct{}),
		storage:    storage,
		difficulty: DefaultDifficulty,
		logger:     slog.Default(),
		now:        time.Now,
		mine:       Mine,

		loadAttempts: defaultLoadAttempts,
		loadBackoff:  defaultLoadBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize restores the persisted chain, or mints a genesis block when
// nothing usable is stored. The ledger always holds a chain afterwards.
// A stored chain that cannot be read or adopted is left in storage untouched
// until the next mutation, so restarting with a fixed storage or the previous
// difficulty recovers it.
func (l *Ledger) Initialize() {
	chain, err := l.restore()
	keepStored := false
	switch {
	case err == nil:
		l.logger.Info("restored chain", "blocks", len(chain))
	case errors.Is(err, store.ErrNotFound):
		l.logger.Info("no persisted chain, creating genesis block")
		chain = []Block{NewGenesis(l.now())}
	case errors.Is(err, ErrPersistence):
		l.logger.Error("cannot read stored chain, starting from a genesis block; the stored chain is kept until the next change", "err", err)
		chain = []Block{NewGenesis(l.now())}
		keepStored = true
	case errors.Is(err, ErrInsufficientWork):
		l.logger.Error("stored chain was mined below the configured difficulty; restart with the previous ledger.difficulty to keep it",
			"difficulty", l.difficulty, "err", err)
		chain = []Block{NewGenesis(l.now())}
		keepStored = true
	default:
		l.logger.Warn("stored chain unusable, creating genesis block", "err", err)
		chain = []Block{NewGenesis(l.now())}
		keepStored = true
	}

	l.mu.Lock()
	l.chain = chain
	l.version++
	if errors.Is(err, ErrPersistence) {
		l.status = StatusError
	}
	l.mu.Unlock()

	l.notify()
	if !keepStored {
		l.persist()
	}
}

func (l *Ledger) restore() (chain []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			chain, err = nil, fmt.Errorf("restore panicked: %v", r)
		}
	}()
	if l.storage == nil {
		return nil, store.ErrNotFound
	}
	data, err := l.load()
	if err != nil {
		return nil, err
	}
	chain, err = DecodeChain(data)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.New("stored chain is empty")
	}
	if err := Validate(chain, l.difficulty); err != nil {
		return nil, err
	}
	return chain, nil
}

// load reads the stored chain, retrying failed reads a few times.
func (l *Ledger) load() ([]byte, error) {
	var errs []error
	for attempt := 0; attempt < max(l.loadAttempts, 1); attempt++ {
		if attempt > 0 {
			time.Sleep(l.loadBackoff)
		}
		data, err := l.storage.Load()
		if err == nil {
			return data, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		l.logger.Debug("failed to load stored chain", "attempt", attempt+1, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
}

// Append mines post into a new block on top of the chain and commits it.
// If the chain tip changes while mining, the block is rebuilt on the new tip.
func (l *Ledger) Append(post Post) (Block, error) {
	if err := post.Validate(); err != nil {
		return Block{}, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	for {
		l.mu.Lock()
		if len(l.chain) == 0 {
			l.mu.Unlock()
			return Block{}, fmt.Errorf("%w: append on empty chain", ErrPrecondition)
		}
		tip := l.chain[len(l.chain)-1]
		l.status = StatusMining
		l.mu.Unlock()
		l.notify()

		draft := Block{
			Index:        tip.Index + 1,
			Timestamp:    l.now().UnixMilli(),
			Post:         post,
			PreviousHash: tip.Hash,
		}
		l.logger.Debug("mining block", "index", draft.Index, "difficulty", l.difficulty)
		sealed, err := l.mineAsync(draft)
		if err == nil {
			if verr := validateBlock(sealed, tip, l.difficulty); verr != nil {
				verr.Index = int(sealed.Index)
				err = verr
			}
		}
		if err != nil {
			l.SetStatus(StatusError)
			l.logger.Error("failed to mine block", "index", draft.Index, "err", err)
			return Block{}, err
		}

		l.mu.Lock()
		if current := l.chain[len(l.chain)-1]; current.Hash != tip.Hash {
			l.mu.Unlock()
			l.logger.Info("chain tip moved while mining, rebuilding block", "index", draft.Index)
			continue
		}
		l.chain = append(l.chain, sealed)
		l.status = StatusIdle
		l.version++
		l.mu.Unlock()

		l.logger.Info("block appended", "index", sealed.Index, "nonce", sealed.Nonce, "hash", sealed.Hash)
		l.notify()
		l.persist()
		return sealed, nil
	}
}

// mineAsync runs the proof-of-work search on its own goroutine and waits for
// the result.
func (l *Ledger) mineAsync(draft Block) (Block, error) {
	type result struct {
		block Block
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("miner panicked: %v", r)}
			}
		}()
		done <- result{block: l.mine(draft, l.difficulty)}
	}()
	res := <-done
	return res.block, res.err
}

// Like increments the like counter of the block with the given hash. It
// reports whether such a block exists.
func (l *Ledger) Like(hash string) bool {
	l.mu.Lock()
	found := false
	for i := range l.chain {
		if l.chain[i].Hash == hash {
			l.chain[i].Likes++
			found = true
			break
		}
	}
	if found {
		l.version++
	}
	l.mu.Unlock()

	if !found {
		return false
	}
	l.notify()
	l.persist()
	return true
}

// Replace hands a copy of the current chain to decide and, if it returns
// true with a non-empty chain, installs that chain. decide runs under the
// write lock, so it sees the chain exactly as it is at commit time.
func (l *Ledger) Replace(decide func(current []Block) ([]Block, bool)) bool {
	l.mu.Lock()
	next, ok := decide(cloneChain(l.chain))
	if !ok || len(next) == 0 {
		l.mu.Unlock()
		return false
	}
	l.chain = cloneChain(next)
	l.version++
	l.mu.Unlock()

	l.notify()
	l.persist()
	return true
}

// persist saves the current chain unless a newer version was already saved.
// Failures are logged and reflected in the status; memory stays authoritative.
func (l *Ledger) persist() {
	if l.storage == nil {
		return
	}
	l.mu.RLock()
	version := l.version
	data, err := EncodeChain(l.chain)
	l.mu.RUnlock()
	if err != nil {
		l.logger.Error("failed to encode chain", "err", err)
		return
	}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if version <= l.savedVersion {
		return
	}
	if err := l.storage.Save(data); err != nil {
		l.logger.Error("failed to persist chain", "err", fmt.Errorf("%w: %w", ErrPersistence, err))
		l.SetStatus(StatusError)
		return
	}
	l.savedVersion = version
}

// Chain returns a copy of the chain.
func (l *Ledger) Chain() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneChain(l.chain)
}

// Len returns the number of blocks in the chain.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Latest returns the most recent block.
func (l *Ledger) Latest() (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.chain) == 0 {
		return Block{}, fmt.Errorf("%w: chain is empty", ErrPrecondition)
	}
	return l.chain[len(l.chain)-1], nil
}

// Verify validates the current chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Validate(l.chain, l.difficulty)
}

// Difficulty returns the proof-of-work difficulty of appended blocks.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// Status returns the current activity status.
func (l *Ledger) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// SetStatus sets the activity status.
func (l *Ledger) SetStatus(s Status) {
	l.mu.Lock()
	changed := l.status != s
	l.status = s
	l.mu.Unlock()
	if changed {
		l.notify()
	}
}

// CompareAndSetStatus sets the status to next only if it is currently old.
func (l *Ledger) CompareAndSetStatus(old, next Status) bool {
	l.mu.Lock()
	if l.status != old {
		l.mu.Unlock()
		return false
	}
	l.status = next
	l.mu.Unlock()
	l.notify()
	return true
}

// Subscribe returns a channel that receives a value whenever the chain or
// the status changes, and a function that cancels the subscription.
// Notifications coalesce: a slow reader sees at most one pending value.
func (l *Ledger) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

func (l *Ledger) notify() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
