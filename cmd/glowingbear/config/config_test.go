// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/query"
)

const sampleConfig = `
nodes:
  - name: a
    url: http://localhost:8091
  - name: b
    url: http://localhost:8092
user:
  name: alice
  roles: [patient_list]
  token: tok
query:
  timeout: 30s
transport:
  requestsPerSecond: 5
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Len(t, cfg.Nodes, 2)
	assert.Equal(t, 30*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 5.0, cfg.Transport.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Transport.Burst, "default kept")
	assert.Equal(t, 8080, cfg.Gateway.Port, "default kept")

	nodes := cfg.NetworkNodes()
	assert.Equal(t, 1, nodes[1].Index)
	assert.Equal(t, "b", nodes[1].Name)

	info := cfg.AuthInfo()
	assert.Equal(t, "alice", info.Username())
	assert.True(t, info.HasRole("patient_list"))
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"no nodes":       "user: {name: a}\n",
		"bad url":        "nodes: [{name: a, url: 'not a url'}]\nuser: {name: a}\n",
		"duplicate node": "nodes: [{name: a, url: 'http://x'}, {name: a, url: 'http://y'}]\nuser: {name: a}\n",
		"unknown role":   "nodes: [{name: a, url: 'http://x'}]\nuser: {name: a, roles: [admin]}\n",
		"bad log level":  "nodes: [{name: a, url: 'http://x'}]\nuser: {name: a}\nlogging: {level: loud}\n",
		"bad yaml":       "nodes: [",
		"bad origin":     "nodes: [{name: a, url: 'http://x'}]\nuser: {name: a}\ngateway: {allowedOrigins: ['not an origin']}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".glowingbear", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Equal(t, query.DefaultTimeout, cfg.Query.Timeout)
	require.Len(t, cfg.Nodes, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging = LoggingConfig{Level: "debug", JSON: true, Dir: "/tmp/logs"}

	lc := cfg.LoggerConfig("glowingbear-cli")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "glowingbear-cli", lc.Service)
}

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { reloaded <- c }, 20*time.Millisecond, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("nodes: [\n"), 0o600))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(150 * time.Millisecond):
	}

	updated := sampleConfig + "gateway:\n  port: 9000\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9000, cfg.Gateway.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}

	w.Stop()
	w.Stop()
}
