// Package config loads the locket YAML configuration.
//
// A file is first checked against the embedded CUE schema (unknown keys,
// wrong types and out-of-range values are rejected), then decoded,
// environment-expanded, defaulted and validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the CLI and gateway.
type Config struct {
	Identity string `yaml:"identity"`
	DataDir  string `yaml:"data_dir"`
	KeyFile  string `yaml:"key_file"`

	Store struct {
		Backend  string `yaml:"backend"`
		Location string `yaml:"location"`
	} `yaml:"store"`

	Anchor struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"anchor"`

	Sync struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		Threshold       int `yaml:"threshold"`
	} `yaml:"sync"`

	Padding struct {
		Enabled    *bool `yaml:"enabled"`
		MinSeconds int   `yaml:"min_seconds"`
		MaxSeconds int   `yaml:"max_seconds"`
	} `yaml:"padding"`

	Verify struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"verify"`

	Gateway struct {
		Listen         string  `yaml:"listen"`
		DataDir        string  `yaml:"data_dir"`
		InMemory       bool    `yaml:"in_memory"`
		SyncWrites     *bool   `yaml:"sync_writes"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"gateway"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// derived marks paths that were defaulted from DataDir.
	derivedKeyFile    bool
	derivedGatewayDir bool
}

// Load reads, checks and defaults the file at path. An empty path returns
// Default().
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(buf)
}

// Parse checks and defaults a YAML document.
func Parse(buf []byte) (*Config, error) {
	if err := checkSchema(buf); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file.
func Default() (*Config, error) {
	var cfg Config
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandEnv() {
	c.Identity = os.ExpandEnv(strings.TrimSpace(c.Identity))
	c.DataDir = expandPath(c.DataDir)
	c.KeyFile = expandPath(c.KeyFile)
	c.Anchor.URL = os.ExpandEnv(strings.TrimSpace(c.Anchor.URL))
	c.Gateway.Listen = os.ExpandEnv(strings.TrimSpace(c.Gateway.Listen))
	c.Gateway.DataDir = expandPath(c.Gateway.DataDir)
}

// expandPath expands environment variables and a leading "~/".
func expandPath(p string) string {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (c *Config) applyDefaults() {
	if c.Identity == "" {
		c.Identity = "did:locket:testUser1"
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "key")
		c.derivedKeyFile = true
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "auto"
	}
	if c.Store.Location == "" {
		c.Store.Location = "Local"
	}
	if c.Anchor.TimeoutSeconds <= 0 {
		c.Anchor.TimeoutSeconds = 30
	}
	if c.Sync.IntervalSeconds < 0 {
		c.Sync.IntervalSeconds = 0
	}
	if c.Sync.Threshold <= 0 {
		c.Sync.Threshold = 7
	}
	if c.Padding.Enabled == nil {
		c.Padding.Enabled = boolPtr(true)
	}
	if c.Padding.MinSeconds <= 0 {
		c.Padding.MinSeconds = 60
	}
	if c.Padding.MaxSeconds <= 0 {
		c.Padding.MaxSeconds = 300
	}
	if c.Verify.CacheTTLSeconds <= 0 {
		c.Verify.CacheTTLSeconds = 300
	}
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = "127.0.0.1:3000"
	}
	if c.Gateway.DataDir == "" {
		c.Gateway.DataDir = filepath.Join(c.DataDir, "gateway")
		c.derivedGatewayDir = true
	}
	if c.Gateway.SyncWrites == nil {
		c.Gateway.SyncWrites = boolPtr(true)
	}
	if c.Gateway.RateLimitRPS == 0 {
		c.Gateway.RateLimitRPS = 50
	}
	if c.Gateway.RateLimitBurst <= 0 {
		c.Gateway.RateLimitBurst = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Padding.MaxSeconds < c.Padding.MinSeconds {
		return errors.New("padding.max_seconds must be >= padding.min_seconds")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("store.location: %w", err)
	}
	if c.Anchor.URL != "" && !isHTTPURL(c.Anchor.URL) {
		return errors.New("anchor.url must be an http or https URL")
	}
	return nil
}

// SetDataDir replaces DataDir and moves the paths that were derived from
// it. Explicitly configured paths are kept.
func (c *Config) SetDataDir(dir string) {
	c.DataDir = expandPath(dir)
	if c.derivedKeyFile {
		c.KeyFile = filepath.Join(c.DataDir, "key")
	}
	if c.derivedGatewayDir {
		c.Gateway.DataDir = filepath.Join(c.DataDir, "gateway")
	}
}

// Location resolves Store.Location. "Local" is the system zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Store.Location {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Store.Location)
	}
}

// PaddingEnabled reports whether traffic padding runs in long-lived
// sessions.
func (c *Config) PaddingEnabled() bool {
	return c.Padding.Enabled == nil || *c.Padding.Enabled
}

// GatewaySyncWrites reports whether the gateway ledger fsyncs every commit.
func (c *Config) GatewaySyncWrites() bool {
	return c.Gateway.SyncWrites == nil || *c.Gateway.SyncWrites
}

// AnchorTimeout returns the control-plane request timeout.
func (c *Config) AnchorTimeout() time.Duration {
	return time.Duration(c.Anchor.TimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic sync interval; 0 disables it.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// PaddingBounds returns the padding delay range.
func (c *Config) PaddingBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Padding.MinSeconds) * time.Second,
		time.Duration(c.Padding.MaxSeconds) * time.Second
}

// VerifyTTL returns the verification cache lifetime.
func (c *Config) VerifyTTL() time.Duration {
	return time.Duration(c.Verify.CacheTTLSeconds) * time.Second
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".locket")
	}
	return ".locket"
}

func isHTTPURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func boolPtr(v bool) *bool {
	return &v
}
