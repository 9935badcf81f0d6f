// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeder.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %s/%s, want info/json", cfg.Log.Level, cfg.Log.Format)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Port != 8081 {
		t.Errorf("http defaults = %v/%d, want enabled on 8081", cfg.HTTP.Enabled, cfg.HTTP.Port)
	}
	if cfg.HTTP.RateLimit != 100 || cfg.HTTP.RateLimitWindow != time.Minute {
		t.Errorf("rate limit defaults = %d/%v", cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow)
	}
	if cfg.Feeder.JSONDir != "data/jsons" {
		t.Errorf("jsondir default = %q", cfg.Feeder.JSONDir)
	}
	if cfg.NATS.Enabled || cfg.NATS.SubjectPrefix != "match" {
		t.Errorf("nats defaults = %v/%q", cfg.NATS.Enabled, cfg.NATS.SubjectPrefix)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
log:
  level: debug
  format: console
http:
  port: 9090
feeder:
  jsondir: /var/lib/feeder/jsons
  capacity: 50
servers:
  - alice:10.0.0.1:27960/pw
  - 10.0.0.2:27960
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Feeder.JSONDir != "/var/lib/feeder/jsons" || cfg.Feeder.Capacity != 50 {
		t.Errorf("feeder = %q/%d", cfg.Feeder.JSONDir, cfg.Feeder.Capacity)
	}
	if len(cfg.Servers) != 2 || cfg.Servers[0] != "alice:10.0.0.1:27960/pw" {
		t.Errorf("servers = %v", cfg.Servers)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: debug\n")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("FEEDER_JSONDIR", "/tmp/jsons")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q, want env warn", cfg.Log.Level)
	}
	if cfg.HTTP.Port != 9999 {
		t.Errorf("port = %d, want env 9999", cfg.HTTP.Port)
	}
	if cfg.Feeder.JSONDir != "/tmp/jsons" {
		t.Errorf("jsondir = %q, want env /tmp/jsons", cfg.Feeder.JSONDir)
	}
}

func TestEnvironmentServerListSplit(t *testing.T) {
	path := writeConfigFile(t, "{}\n")
	t.Setenv("FEEDER_SERVERS", "a:10.0.0.1:27960/pw, 10.0.0.2:27960 ,10.0.0.3:27960")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"a:10.0.0.1:27960/pw", "10.0.0.2:27960", "10.0.0.3:27960"}
	if len(cfg.Servers) != len(want) {
		t.Fatalf("servers = %v, want %v", cfg.Servers, want)
	}
	for i := range want {
		if cfg.Servers[i] != want[i] {
			t.Errorf("servers[%d] = %q, want %q", i, cfg.Servers[i], want[i])
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantTag string
	}{
		{
			name:    "bad log level",
			yaml:    "log:\n  level: verbose\n",
			wantTag: "oneof",
		},
		{
			name:    "port out of range",
			yaml:    "http:\n  port: 123456\n",
			wantTag: "max",
		},
		{
			name:    "capacity over ceiling",
			yaml:    "feeder:\n  capacity: 500\n",
			wantTag: "max",
		},
		{
			name:    "bad submission url",
			yaml:    "feeder:\n  xonstat_submission_url: not-a-url\n",
			wantTag: "url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tc.yaml))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tc.wantTag) {
				t.Errorf("error %q missing tag %q", err, tc.wantTag)
			}
		})
	}
}

func TestFindConfigFileEnvOverride(t *testing.T) {
	path := writeConfigFile(t, "{}\n")
	t.Setenv(ConfigPathEnvVar, path)
	if got := FindConfigFile(); got != path {
		t.Errorf("FindConfigFile() = %q, want %q", got, path)
	}

	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	if got := FindConfigFile(); got == filepath.Join(t.TempDir(), "missing.yaml") {
		t.Error("FindConfigFile() returned a nonexistent path")
	}
}
