// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aegi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
jwt_secret: sekrit
max_concurrent_runs: 4
task_timeout_seconds: 120
push:
  max_per_hour: 5
  semantic_threshold: 0.7
gdelt:
  interval_minutes: 30
ingest:
  chunk_max_chars: 800
  playbook: full
retention:
  enabled: true
  grace_hours: 48
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sekrit", config.JWTSecret)
	assert.Equal(t, int64(4), config.MaxConcurrentRuns)
	assert.Equal(t, 2*time.Minute, config.TaskTimeout)
	assert.Equal(t, 5, config.Push.MaxPushPerHour)
	assert.InDelta(t, 0.7, config.Push.SemanticThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, config.GDELT.Interval)
	assert.Equal(t, 800, config.Ingest.ChunkMaxChars)
	assert.Equal(t, "full", config.Ingest.Playbook)
	assert.True(t, config.RetentionEnabled)
	assert.Equal(t, 48*time.Hour, config.Retention.Grace)
}

func TestLoadConfigOmittedFieldsStayZero(t *testing.T) {
	path := writeConfig(t, "jwt_secret: only\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Zero(t, config.TaskTimeout)
	assert.Zero(t, config.Push.MaxPushPerHour)
	assert.False(t, config.RetentionEnabled)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	path := writeConfig(t, "jwt_secret: [unterminated\n")
	_, err = LoadConfig(path)
	require.Error(t, err)
}
