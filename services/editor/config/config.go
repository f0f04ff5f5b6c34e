// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads the editor service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Storage backends.
const (
	BackendFilesystem = "filesystem"
	BackendBadger     = "badger"
	BackendGCS        = "gcs"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Validation ValidationConfig `yaml:"validation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

// StorageConfig selects where resources are loaded from and saved to.
type StorageConfig struct {
	// Backend is "filesystem", "badger" or "gcs".
	Backend string `yaml:"backend"`

	// Root is the directory of the filesystem backend.
	Root string `yaml:"root"`

	// Watch enables external modification detection. Filesystem only.
	Watch bool `yaml:"watch"`

	Badger BadgerConfig `yaml:"badger"`
	GCS    GCSConfig    `yaml:"gcs"`
}

type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// SessionsConfig bounds session lifetime and request rate.
type SessionsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RateLimit is requests per second per session. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type ValidationConfig struct {
	// PollInterval is how often the validator checks for cancellation.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	TraceExporter  string `yaml:"trace_exporter"`
	MetricExporter string `yaml:"metric_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 12230},
		Storage: StorageConfig{
			Backend: BackendFilesystem,
			Root:    "./resources",
			Watch:   true,
			Badger: BadgerConfig{
				Path:       "./data/editor",
				SyncWrites: true,
				GCInterval: 5 * time.Minute,
			},
		},
		Sessions: SessionsConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			RateLimit:     50,
			RateBurst:     100,
		},
		Validation: ValidationConfig{PollInterval: 20 * time.Millisecond},
		Telemetry: TelemetryConfig{
			ServiceName:    "aleutian-editor",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}

	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Root == "" {
			return fmt.Errorf("%w: storage.root is required for the filesystem backend", ErrInvalidConfig)
		}
	case BackendBadger:
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
			return fmt.Errorf("%w: storage.badger.path is required unless in_memory", ErrInvalidConfig)
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("%w: storage.gcs.bucket is required for the gcs backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.Watch && c.Storage.Backend != BackendFilesystem {
		return fmt.Errorf("%w: storage.watch requires the filesystem backend", ErrInvalidConfig)
	}

	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("%w: sessions.ttl must be positive", ErrInvalidConfig)
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("%w: sessions.sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.Sessions.RateLimit < 0 {
		return fmt.Errorf("%w: sessions.rate_limit must not be negative", ErrInvalidConfig)
	}
	if c.Sessions.RateLimit > 0 && c.Sessions.RateBurst < 1 {
		return fmt.Errorf("%w: sessions.rate_burst must be at least 1", ErrInvalidConfig)
	}
	if c.Validation.PollInterval < 0 {
		return fmt.Errorf("%w: validation.poll_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}
