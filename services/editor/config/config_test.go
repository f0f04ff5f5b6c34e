// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  debug: true
storage:
  backend: badger
  watch: false
  badger:
    in_memory: true
sessions:
  ttl: 10m
validation:
  poll_interval: 5ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.True(t, cfg.Storage.Badger.InMemory)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, 5*time.Millisecond, cfg.Validation.PollInterval)
	assert.Equal(t, time.Minute, cfg.Sessions.SweepInterval, "unset keys keep defaults")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  backend: s3\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"empty root", func(c *Config) { c.Storage.Root = "" }},
		{"badger without path", func(c *Config) {
			c.Storage.Backend, c.Storage.Watch, c.Storage.Badger.Path = BackendBadger, false, ""
		}},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend, c.Storage.Watch = BackendGCS, false }},
		{"watch on gcs", func(c *Config) { c.Storage.Backend, c.Storage.GCS.Bucket = BackendGCS, "b" }},
		{"zero ttl", func(c *Config) { c.Sessions.TTL = 0 }},
		{"zero sweep", func(c *Config) { c.Sessions.SweepInterval = 0 }},
		{"negative rate", func(c *Config) { c.Sessions.RateLimit = -1 }},
		{"rate without burst", func(c *Config) { c.Sessions.RateBurst = 0 }},
		{"negative poll", func(c *Config) { c.Validation.PollInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}
