// Package config loads the node configuration from a YAML file. Keys that are
// absent from the file keep their defaults, and a missing file yields the
// defaults alone so a node can start without any setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/store"
)

type Config struct {
	Node struct {
		Listen string `yaml:"listen"`
		// Advertise is the URL announced to other nodes. Empty derives it
		// from Listen.
		Advertise string `yaml:"advertise"`
		// TLS serves over HTTPS with a self-signed certificate, whose PEM
		// is written to CertFile for peers to trust.
		TLS      bool   `yaml:"tls"`
		CertFile string `yaml:"cert_file"`
	} `yaml:"node"`

	Ledger struct {
		Difficulty int    `yaml:"difficulty"`
		StorageKey string `yaml:"storage_key"`
	} `yaml:"ledger"`

	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`

	Peer struct {
		// URL of the remote node. Empty uses the simulated peer.
		URL              string        `yaml:"url"`
		Timeout          time.Duration `yaml:"timeout"`
		SimulatedLatency time.Duration `yaml:"simulated_latency"`
		// CACert is a PEM file of certificates trusted for HTTPS peers,
		// such as the cert_file of another node.
		CACert string `yaml:"ca_cert"`
	} `yaml:"peer"`

	Sync struct {
		ProbeInterval time.Duration `yaml:"probe_interval"`
		SyncedHold    time.Duration `yaml:"synced_hold"`
	} `yaml:"sync"`

	Discovery struct {
		Enabled  bool          `yaml:"enabled"`
		Port     uint16        `yaml:"port"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"discovery"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Node.Listen = "localhost:8080"
	c.Node.CertFile = "feedchain.pem"
	c.Ledger.Difficulty = ledger.DefaultDifficulty
	c.Ledger.StorageKey = store.DefaultKey
	c.Storage.Driver = store.DriverSQLite
	c.Storage.Path = "feedchain.db"
	c.Peer.Timeout = 10 * time.Second
	c.Peer.SimulatedLatency = 1500 * time.Millisecond
	c.Sync.ProbeInterval = 5 * time.Second
	c.Sync.SyncedHold = 2 * time.Second
	c.Discovery.Port = 53550
	c.Discovery.Interval = 5 * time.Second
	return &c
}

// LoadConfig reads the YAML file at path over the defaults. An empty path or
// a missing file returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting a node cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Node.Listen == "":
		return errors.New("config: node.listen is required")
	case c.Ledger.Difficulty < 0 || c.Ledger.Difficulty > 64:
		return fmt.Errorf("config: ledger.difficulty %d out of range [0, 64]", c.Ledger.Difficulty)
	case c.Ledger.StorageKey == "":
		return errors.New("config: ledger.storage_key is required")
	case c.Storage.Driver != store.DriverSQLite && c.Storage.Driver != store.DriverMemory:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	case c.Peer.Timeout < 0 || c.Peer.SimulatedLatency < 0:
		return errors.New("config: peer durations must not be negative")
	case c.Sync.ProbeInterval <= 0 || c.Sync.SyncedHold <= 0:
		return errors.New("config: sync durations must be positive")
	case c.Discovery.Enabled && (c.Discovery.Port == 0 || c.Discovery.Interval <= 0):
		return errors.New("config: discovery needs a port and a positive interval")
	}
	return nil
}
