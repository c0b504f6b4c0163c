package store

import "sync"

// Memory keeps the blob in process memory.
type Memory struct {
	mu    sync.RWMutex
	data  []byte
	saved bool
	saves int
	err   error
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the last saved blob.
func (m *Memory) Load() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.saved {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

// Save replaces the blob, or returns the error set with FailWith.
func (m *Memory) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	m.saved = true
	m.saves++
	return nil
}

// FailWith makes every following Save return err; nil restores normal saves.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Saves returns the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Memory) Close() error {
	return nil
}
