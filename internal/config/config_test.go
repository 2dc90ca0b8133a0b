// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentTasks)
	assert.Equal(t, 3, cfg.GetObject.MaxRetries)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.PerPlugin)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("scheduler:\n  max_concurrent_tasks: 2\nserver:\n  port: 0\nget_object:\n  max_retries: 1\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentTasks)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, 1, cfg.GetObject.MaxRetries)
	// untouched keys keep defaults
	assert.Equal(t, 0.1, cfg.GetObject.Temperature)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.MaxConcurrentTasks = 0
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.GetObject.MaxRetries = -1
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Logger.Transports = []Transport{{Type: "file"}}
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Logger.Transports = []Transport{{Type: "syslog"}}
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Logger.Transports = []Transport{{Type: "file", Path: "agent.log"}, {Type: "websocket"}}
	assert.NoError(t, Validate(cfg))
}
