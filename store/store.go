// Package store provides the persistence backends for the serialized chain.
// Each store keeps a single blob under a fixed key: the SQLite store is used
// by running nodes and the memory store by tests and ephemeral nodes.
package store

import (
	"errors"
	"fmt"
)

// DefaultKey is the key the chain blob is stored under.
const DefaultKey = "p2p_social_feed_chain"

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("no stored value")

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// KV is a single-blob store.
type KV interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Close() error
}

// Open returns the store for driver. path is ignored by the memory driver.
func Open(driver, path, key string) (KV, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(path, key)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
