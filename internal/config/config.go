// Package config resolves node settings from an optional .env file, an
// optional YAML file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/mural/internal/cluster"
	"github.com/dreamware/mural/internal/storage"
)

type Config struct {
	Users       map[string]string `yaml:"users"`
	NodeID      string            `yaml:"node_id"`
	Listen      string            `yaml:"listen"`
	DataDir     string            `yaml:"data_dir"`
	Store       string            `yaml:"store"`
	LogLevel    string            `yaml:"log_level"`
	Peers       []string          `yaml:"peers"`
	Replication ReplicationConfig `yaml:"replication"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Health      HealthConfig      `yaml:"health"`
	Login       LoginConfig       `yaml:"login"`
}

type ReplicationConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

type ReconcileConfig struct {
	// Cron enables periodic anti-entropy when non-empty.
	Cron string `yaml:"cron"`
}

type HealthConfig struct {
	// Interval between peer probes; zero disables the monitor.
	Interval time.Duration `yaml:"interval"`
}

type LoginConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultUsers is the demo credential table used when none is configured.
func DefaultUsers() map[string]string {
	return map[string]string{
		"alice": "password1",
		"bob":   "password2",
		"carol": "password3",
	}
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		Listen:   ":5001",
		DataDir:  "data",
		Store:    storage.BackendFile,
		LogLevel: "info",
		Peers:    []string{},
		Users:    DefaultUsers(),
		Replication: ReplicationConfig{
			Attempts: 3,
			Backoff:  time.Second,
		},
		Login: LoginConfig{RPS: 5, Burst: 10},
	}
}

// Load reads envFile (ignored when missing), then the YAML file named by
// NODE_CONFIG if set, then applies environment overrides and validates.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a config from lookup, reading NODE_CONFIG through it.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path, ok := lookup("NODE_CONFIG"); ok && path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config on top of the defaults.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	cfg := Default()
	// a configured user table replaces the demo one instead of merging into it
	cfg.Users = nil
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("NODE_ID", &c.NodeID)
	str("NODE_LISTEN", &c.Listen)
	str("NODE_DATA_DIR", &c.DataDir)
	str("NODE_STORE", &c.Store)
	str("LOG_LEVEL", &c.LogLevel)
	str("RECONCILE_CRON", &c.Reconcile.Cron)
	if v, ok := lookup("NODE_PEERS"); ok {
		c.Peers = cluster.ParsePeers(v)
	}

	var err error
	if v, ok := lookup("REPLICATE_ATTEMPTS"); ok && v != "" {
		if c.Replication.Attempts, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("REPLICATE_ATTEMPTS: %w", err)
		}
	}
	if v, ok := lookup("REPLICATE_BACKOFF"); ok && v != "" {
		if c.Replication.Backoff, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("REPLICATE_BACKOFF: %w", err)
		}
	}
	if v, ok := lookup("PEER_HEALTH_INTERVAL"); ok && v != "" {
		if c.Health.Interval, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("PEER_HEALTH_INTERVAL: %w", err)
		}
	}
	if v, ok := lookup("LOGIN_RPS"); ok && v != "" {
		if c.Login.RPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("LOGIN_RPS: %w", err)
		}
	}
	if v, ok := lookup("LOGIN_BURST"); ok && v != "" {
		if c.Login.Burst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("LOGIN_BURST: %w", err)
		}
	}
	return nil
}

// Validate fills remaining defaults and rejects unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("node id is required (NODE_ID)")
	}
	if c.Listen == "" {
		c.Listen = ":5001"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Store == "" {
		c.Store = storage.BackendFile
	}
	switch c.Store {
	case storage.BackendMemory, storage.BackendFile, storage.BackendPebble:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	c.Peers = cluster.ParsePeers(strings.Join(c.Peers, ","))
	if c.Replication.Attempts < 1 {
		return fmt.Errorf("replication attempts must be positive, got %d", c.Replication.Attempts)
	}
	if c.Replication.Backoff < 0 {
		return fmt.Errorf("replication backoff must not be negative, got %s", c.Replication.Backoff)
	}
	if c.Reconcile.Cron != "" && !gronx.New().IsValid(c.Reconcile.Cron) {
		return fmt.Errorf("invalid reconcile cron %q", c.Reconcile.Cron)
	}
	if c.Health.Interval < 0 {
		return fmt.Errorf("health interval must not be negative, got %s", c.Health.Interval)
	}
	if len(c.Users) == 0 {
		c.Users = DefaultUsers()
	}
	return nil
}
