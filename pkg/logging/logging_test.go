// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(Config{
		Level:   "info",
		LogDir:  dir,
		Service: "orchestrator",
	})
	require.NoError(t, err)

	logger.Info("terminal closed", "case_uid", "case_1")
	logger.Debug("filtered out")
	require.NoError(t, closeFn())

	name := "orchestrator_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "terminal closed", record["msg"])
	assert.Equal(t, "case_1", record["case_uid"])
	assert.Equal(t, "orchestrator", record["service"])
}

func TestNewWithoutFileNeverFails(t *testing.T) {
	logger, closeFn, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closeFn())
}
