// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "FEEDBRIDGE_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Session store formats.
const (
	SessionFormatJSON   = "json"
	SessionFormatSealed = "sealed"
)

// Config is the complete feedbridge configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Homeserver is used for fresh logins when the login command
	// does not name one.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	Paths   PathsConfig   `yaml:"paths"`
	Session SessionConfig `yaml:"session"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds the per-environment replaceable sections.
type ConfigOverrides struct {
	Homeserver *HomeserverConfig `yaml:"homeserver,omitempty"`
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Sync       *SyncConfig       `yaml:"sync,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging,omitempty"`
}

// HomeserverConfig describes the Matrix homeserver.
type HomeserverConfig struct {
	URL string `yaml:"url"`

	// RequestTimeout bounds non-sync HTTP requests. Default: 30s.
	RequestTimeout string `yaml:"request_timeout"`
}

// PathsConfig holds every on-disk location feedbridge touches.
type PathsConfig struct {
	// Root is the base directory. Other paths default beneath it.
	Root string `yaml:"root"`

	// Socket is the daemon's command socket.
	Socket string `yaml:"socket"`

	// SessionFile holds the persisted Matrix session.
	SessionFile string `yaml:"session_file"`

	// CryptoStore holds key material. With sealed sessions it
	// contains the age identity that decrypts the session file.
	CryptoStore string `yaml:"crypto_store"`

	// StateStore is the sqlite database caching sync state.
	StateStore string `yaml:"state_store"`
}

// SessionConfig selects the session store format.
type SessionConfig struct {
	// Format is "json" (plain file, mode 0600) or "sealed" (age
	// encrypted to an identity in paths.crypto_store).
	Format string `yaml:"format"`
}

// SyncConfig tunes the /sync loop.
type SyncConfig struct {
	// Timeout is the server-side long-poll duration. Default: 30s.
	Timeout string `yaml:"timeout"`

	// MaxBackoff caps the retry delay after a failed sync. Default: 30s.
	MaxBackoff string `yaml:"max_backoff"`

	// TimelineLimit is the number of events fetched when a timeline
	// is first opened. Default: 50.
	TimelineLimit int `yaml:"timeline_limit"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`
}

// Default returns the configuration every loaded file is merged onto.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".local", "state", "feedbridge")

	return &Config{
		Environment: Development,
		Homeserver: HomeserverConfig{
			RequestTimeout: "30s",
		},
		Paths: PathsConfig{
			Root:        root,
			Socket:      "${FEEDBRIDGE_ROOT}/feedbridge.sock",
			SessionFile: "${FEEDBRIDGE_ROOT}/session.json",
			CryptoStore: "${FEEDBRIDGE_ROOT}/crypto",
			StateStore:  "${FEEDBRIDGE_ROOT}/state.db",
		},
		Session: SessionConfig{Format: SessionFormatJSON},
		Sync: SyncConfig{
			Timeout:       "30s",
			MaxBackoff:    "30s",
			TimelineLimit: 50,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads the file named by FEEDBRIDGE_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your feedbridge.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadOrDefault loads path when it is non-empty, otherwise the file
// named by FEEDBRIDGE_CONFIG, otherwise the defaults. Either way the
// environment section and variables are applied.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path, applies the environment
// section, and expands variables. It does not validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a YAML subset, so the yaml tags keep working.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Homeserver; o != nil {
		override(&c.Homeserver.URL, o.URL)
		override(&c.Homeserver.RequestTimeout, o.RequestTimeout)
	}
	if o := overrides.Paths; o != nil {
		override(&c.Paths.Root, o.Root)
		override(&c.Paths.Socket, o.Socket)
		override(&c.Paths.SessionFile, o.SessionFile)
		override(&c.Paths.CryptoStore, o.CryptoStore)
		override(&c.Paths.StateStore, o.StateStore)
	}
	if o := overrides.Sync; o != nil {
		override(&c.Sync.Timeout, o.Timeout)
		override(&c.Sync.MaxBackoff, o.MaxBackoff)
		if o.TimelineLimit != 0 {
			c.Sync.TimelineLimit = o.TimelineLimit
		}
	}
	if o := overrides.Logging; o != nil {
		override(&c.Logging.Level, o.Level)
	}
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["FEEDBRIDGE_ROOT"] = c.Paths.Root

	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Paths.SessionFile = expandVars(c.Paths.SessionFile, vars)
	c.Paths.CryptoStore = expandVars(c.Paths.CryptoStore, vars)
	c.Paths.StateStore = expandVars(c.Paths.StateStore, vars)
	c.Homeserver.URL = expandVars(c.Homeserver.URL, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Homeserver.URL != "" {
		parsed, err := url.Parse(c.Homeserver.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("homeserver.url must be an http(s) URL, got %q", c.Homeserver.URL))
		}
	}

	for name, value := range map[string]string{
		"paths.root":         c.Paths.Root,
		"paths.socket":       c.Paths.Socket,
		"paths.session_file": c.Paths.SessionFile,
		"paths.crypto_store": c.Paths.CryptoStore,
		"paths.state_store":  c.Paths.StateStore,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.Session.Format != SessionFormatJSON && c.Session.Format != SessionFormatSealed {
		errs = append(errs, fmt.Errorf("session.format must be %q or %q, got %q",
			SessionFormatJSON, SessionFormatSealed, c.Session.Format))
	}

	for name, value := range map[string]string{
		"homeserver.request_timeout": c.Homeserver.RequestTimeout,
		"sync.timeout":               c.Sync.Timeout,
		"sync.max_backoff":           c.Sync.MaxBackoff,
	} {
		if _, err := parsePositiveDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Sync.TimelineLimit <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeline_limit must be positive, got %d", c.Sync.TimelineLimit))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directories feedbridge writes into.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Paths.Root,
		c.Paths.CryptoStore,
		filepath.Dir(c.Paths.Socket),
		filepath.Dir(c.Paths.SessionFile),
		filepath.Dir(c.Paths.StateStore),
	}
	for _, directory := range directories {
		if err := os.MkdirAll(directory, 0700); err != nil {
			return fmt.Errorf("config: creating %s: %w", directory, err)
		}
	}
	return nil
}

// RequestTimeoutDuration returns homeserver.request_timeout. Only
// meaningful after Validate has succeeded.
func (h HomeserverConfig) RequestTimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(h.RequestTimeout)
	return d
}

// TimeoutDuration returns sync.timeout.
func (s SyncConfig) TimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(s.Timeout)
	return d
}

// MaxBackoffDuration returns sync.max_backoff.
func (s SyncConfig) MaxBackoffDuration() time.Duration {
	d, _ := parsePositiveDuration(s.MaxBackoff)
	return d
}

// SlogLevel maps logging.level to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func parsePositiveDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", value)
	}
	return d, nil
}
