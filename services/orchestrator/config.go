// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AegiAI/aegi-core/services/gdelt"
	"github.com/AegiAI/aegi-core/services/ingest"
	"github.com/AegiAI/aegi-core/services/investigation"
	"github.com/AegiAI/aegi-core/services/push"
	"github.com/AegiAI/aegi-core/services/retention"
)

// fileConfig is the YAML shape of a config file. Durations are written
// in whole units so files stay readable; zero values fall through to
// the same defaults the zero Config gets.
type fileConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	MaxConcurrentRuns      int64  `yaml:"max_concurrent_runs"`
	TaskTimeoutSeconds     int    `yaml:"task_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`

	Push struct {
		MaxPerHour          int     `yaml:"max_per_hour"`
		SemanticThreshold   float64 `yaml:"semantic_threshold"`
		DeliveriesPerSecond float64 `yaml:"deliveries_per_second"`
	} `yaml:"push"`

	GDELT struct {
		IntervalMinutes     int `yaml:"interval_minutes"`
		InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	} `yaml:"gdelt"`

	Ingest struct {
		ChunkMaxChars int    `yaml:"chunk_max_chars"`
		TTLHours      int    `yaml:"ttl_hours"`
		Playbook      string `yaml:"playbook"`
	} `yaml:"ingest"`

	Investigation struct {
		MaxRounds           int `yaml:"max_rounds"`
		QueriesPerRound     int `yaml:"queries_per_round"`
		RoundTimeoutSeconds int `yaml:"round_timeout_seconds"`
	} `yaml:"investigation"`

	Retention struct {
		Enabled         bool `yaml:"enabled"`
		IntervalMinutes int  `yaml:"interval_minutes"`
		GraceHours      int  `yaml:"grace_hours"`
		BatchSize       int  `yaml:"batch_size"`
	} `yaml:"retention"`
}

// LoadConfig reads a YAML config file into a Config. Values the file
// omits keep their zero values, so the usual defaults still apply.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return Config{
		JWTSecret:         fc.JWTSecret,
		MaxConcurrentRuns: fc.MaxConcurrentRuns,
		TaskTimeout:       time.Duration(fc.TaskTimeoutSeconds) * time.Second,
		ShutdownTimeout:   time.Duration(fc.ShutdownTimeoutSeconds) * time.Second,
		Push: push.Config{
			MaxPushPerHour:      fc.Push.MaxPerHour,
			SemanticThreshold:   fc.Push.SemanticThreshold,
			DeliveriesPerSecond: fc.Push.DeliveriesPerSecond,
		},
		GDELT: gdelt.Config{
			Interval:     time.Duration(fc.GDELT.IntervalMinutes) * time.Minute,
			InitialDelay: time.Duration(fc.GDELT.InitialDelaySeconds) * time.Second,
		},
		Ingest: ingest.Config{
			ChunkMaxChars: fc.Ingest.ChunkMaxChars,
			TTL:           time.Duration(fc.Ingest.TTLHours) * time.Hour,
			Playbook:      fc.Ingest.Playbook,
		},
		Investigation: investigation.Config{
			MaxRounds:       fc.Investigation.MaxRounds,
			QueriesPerRound: fc.Investigation.QueriesPerRound,
			RoundTimeout:    time.Duration(fc.Investigation.RoundTimeoutSeconds) * time.Second,
		},
		RetentionEnabled: fc.Retention.Enabled,
		Retention: retention.Config{
			Interval:  time.Duration(fc.Retention.IntervalMinutes) * time.Minute,
			Grace:     time.Duration(fc.Retention.GraceHours) * time.Hour,
			BatchSize: fc.Retention.BatchSize,
		},
	}, nil
}
