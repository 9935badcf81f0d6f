// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package config loads the feeder configuration with a layered
// precedence of defaults, YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, in
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"feeder.yaml",
	"feeder.yml",
	"/etc/qlstats-feeder/feeder.yaml",
	"/etc/qlstats-feeder/feeder.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "FEEDER_CONFIG"

// Config is the full feeder configuration.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	HTTP   HTTPConfig   `koanf:"http"`
	Feeder FeederConfig `koanf:"feeder"`
	NATS   NATSConfig   `koanf:"nats"`

	// Servers is the desired server list, one "owner:ip:port/password"
	// entry per element. Owner and password are optional.
	Servers []string `koanf:"servers"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// HTTPConfig controls the admin API server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimit is requests per window per client IP; zero disables
	// rate limiting.
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// FeederConfig controls ingestion and egress.
type FeederConfig struct {
	// JSONDir is the archive base directory for .json.gz match files.
	JSONDir string `koanf:"jsondir" validate:"required"`

	// XonstatSubmissionURL is the submission.py endpoint; empty
	// disables submissions.
	XonstatSubmissionURL string `koanf:"xonstat_submission_url" validate:"omitempty,url"`

	// GamePortDB is the BadgerDB directory for stats-port to game-port
	// mappings; empty disables the store.
	GamePortDB string `koanf:"gameport_db"`

	// Capacity caps concurrent feeds; zero uses the built-in default.
	Capacity int `koanf:"capacity" validate:"min=0,max=300"`

	// ReprocessErrors resubmits parked results from the errors folder
	// at startup.
	ReprocessErrors bool `koanf:"reprocess_errors"`
}

// NATSConfig controls match result publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url" validate:"omitempty,uri"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8081,
			RateLimit:       100,
			RateLimitWindow: time.Minute,
		},
		Feeder: FeederConfig{
			JSONDir: "data/jsons",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "match",
		},
	}
}

// envMappings maps environment variables to config paths.
var envMappings = map[string]string{
	"log_level":           "log.level",
	"log_format":          "log.format",
	"http_enabled":        "http.enabled",
	"http_host":           "http.host",
	"http_port":           "http.port",
	"http_cors_origins":   "http.cors_origins",
	"http_rate_limit":     "http.rate_limit",
	"feeder_jsondir":      "feeder.jsondir",
	"feeder_xonstat_url":  "feeder.xonstat_submission_url",
	"feeder_gameport_db":  "feeder.gameport_db",
	"feeder_capacity":     "feeder.capacity",
	"feeder_reprocess":    "feeder.reprocess_errors",
	"feeder_servers":      "servers",
	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_subject_prefix": "nats.subject_prefix",
}

// sliceConfigPaths are parsed from comma-separated strings when they
// arrive through environment variables.
var sliceConfigPaths = []string{
	"servers",
	"http.cors_origins",
}

// Load builds the configuration from defaults, the config file at
// path (auto-discovered when empty) and environment variables, then
// validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FindConfigFile returns the first existing config file path, or "".
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks field constraints and the server list syntax.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
