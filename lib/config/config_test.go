// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !strings.HasPrefix(cfg.Paths.SessionFile, cfg.Paths.Root) {
		t.Errorf("session_file %q not under root %q", cfg.Paths.SessionFile, cfg.Paths.Root)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when FEEDBRIDGE_CONFIG is unset")
	}
	if !strings.Contains(err.Error(), EnvironmentVariable) {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(EnvironmentVariable, "")
		cfg, err := LoadOrDefault("")
		if err != nil {
			t.Fatalf("LoadOrDefault: %v", err)
		}
		if strings.Contains(cfg.Paths.Socket, "${") {
			t.Errorf("socket path %q not expanded", cfg.Paths.Socket)
		}
	})
	t.Run("environment variable", func(t *testing.T) {
		path := writeConfig(t, "feedbridge.yaml", "paths:\n  root: /srv/from-env\n")
		t.Setenv(EnvironmentVariable, path)
		cfg, err := LoadOrDefault("")
		if err != nil {
			t.Fatalf("LoadOrDefault: %v", err)
		}
		if cfg.Paths.Socket != "/srv/from-env/feedbridge.sock" {
			t.Errorf("socket = %q", cfg.Paths.Socket)
		}
	})
	t.Run("explicit path wins", func(t *testing.T) {
		t.Setenv(EnvironmentVariable, "/nonexistent/feedbridge.yaml")
		path := writeConfig(t, "feedbridge.yaml", "paths:\n  root: /srv/explicit\n")
		cfg, err := LoadOrDefault(path)
		if err != nil {
			t.Fatalf("LoadOrDefault: %v", err)
		}
		if cfg.Paths.Root != "/srv/explicit" {
			t.Errorf("root = %q", cfg.Paths.Root)
		}
	})
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "feedbridge.yaml", `
environment: production
homeserver:
  url: https://matrix.example.org
paths:
  root: /srv/feedbridge
sync:
  timeout: 10s
  timeline_limit: 20
production:
  sync:
    max_backoff: 2m
  logging:
    level: warn
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Paths.StateStore != "/srv/feedbridge/state.db" {
		t.Errorf("state_store = %q", cfg.Paths.StateStore)
	}
	if got := cfg.Sync.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("sync timeout = %v", got)
	}
	if got := cfg.Sync.MaxBackoffDuration(); got != 2*time.Minute {
		t.Errorf("max backoff = %v, want production override", got)
	}
	if cfg.Sync.TimelineLimit != 20 {
		t.Errorf("timeline_limit = %d", cfg.Sync.TimelineLimit)
	}
	level, _ := cfg.Logging.SlogLevel()
	if level != slog.LevelWarn {
		t.Errorf("level = %v", level)
	}
}

func TestDevelopmentOverridesIgnoredInProduction(t *testing.T) {
	path := writeConfig(t, "feedbridge.yaml", `
environment: production
development:
  logging:
    level: debug
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, development override leaked into production", cfg.Logging.Level)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeConfig(t, "feedbridge.jsonc", `{
  // comments are allowed
  "environment": "development",
  "session": {"format": "sealed"},
  "paths": {"root": "/tmp/fb",},
}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Session.Format != SessionFormatSealed {
		t.Errorf("format = %q", cfg.Session.Format)
	}
	if cfg.Paths.Socket != "/tmp/fb/feedbridge.sock" {
		t.Errorf("socket = %q", cfg.Paths.Socket)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("FEEDBRIDGE_TEST_DIR", "/from/env")
	vars := map[string]string{"FEEDBRIDGE_ROOT": "/root/fb"}

	tests := []struct {
		input, want string
	}{
		{"${FEEDBRIDGE_ROOT}/x", "/root/fb/x"},
		{"${FEEDBRIDGE_TEST_DIR}/y", "/from/env/y"},
		{"${FEEDBRIDGE_UNSET_VAR:-/fallback}", "/fallback"},
		{"${FEEDBRIDGE_UNSET_VAR}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.expandVariables()
	cfg.Environment = "staging"
	cfg.Homeserver.URL = "ftp://nope"
	cfg.Session.Format = "xml"
	cfg.Sync.Timeout = "-1s"
	cfg.Sync.TimelineLimit = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"invalid environment",
		"homeserver.url",
		"session.format",
		"sync.timeout",
		"sync.timeline_limit",
		"logging.level",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error does not mention %s:\n%v", fragment, err)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.Root = filepath.Join(root, "fb")
	cfg.expandVariables()

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	info, err := os.Stat(cfg.Paths.CryptoStore)
	if err != nil {
		t.Fatalf("crypto store not created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("crypto store mode = %v", info.Mode().Perm())
	}
}
