// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retention runs the periodic two-phase expiry sweep over
// artifact versions, chunks and evidence: rows past their TTL are first
// marked expired, then hard-deleted from the relational store and the
// object store once the grace window has passed. Rows still referenced
// by a claim or report are never touched.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/retention")

// Config holds configuration for the retention sweep scheduler.
//
// # Description
//
// Contains all settings for running the background retention sweeper.
// Default values are provided via DefaultConfig().
//
// # Fields
//
//   - Interval: How often to run sweep cycles. Default: 1 hour.
//   - Grace: How long an expired row survives before hard deletion.
//     Default: 7 days.
//   - BatchSize: Maximum rows to mark or delete per cycle. Default: 500.
type Config struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

// DefaultConfig returns production-ready sweep defaults.
func DefaultConfig() Config {
	return Config{
		Interval:  1 * time.Hour,
		Grace:     7 * 24 * time.Hour,
		BatchSize: 500,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
}

// Result summarizes one sweep cycle.
type Result struct {
	Marked  int `json:"marked"`
	Deleted int `json:"deleted"`
}

// Sweeper manages the lifecycle of the background retention goroutine.
//
// # Description
//
// Periodically runs the two-phase sweep. Uses the ticker + done channel
// pattern for graceful shutdown. Every cycle appends an audit action
// recording what was marked and deleted, so the retention trail can be
// replayed like any other system action.
//
// # Thread Safety
//
// All public methods are thread-safe. A mutex protects the running
// state transition.
type Sweeper struct {
	store   store.Store
	objects store.ObjectStore
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewSweeper(st store.Store, objects store.ObjectStore, config Config, logger *slog.Logger) *Sweeper {
	config.applyDefaults()
	return &Sweeper{
		store:   st,
		objects: objects,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return contracts.NewProblem(contracts.CodeConflict, "retention sweeper already running", nil)
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("retention sweeper starting",
		"interval", s.config.Interval.String(),
		"grace", s.config.Grace.String())
	go s.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit. Safe to call repeatedly.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	s.running = false
	s.logger.Info("retention sweeper stopping")
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped (context cancelled)")
			return
		case <-s.done:
			s.logger.Info("retention sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs one mark-then-delete cycle.
//
// # Description
//
// Phase one marks unreferenced rows whose TTL has passed. Phase two
// hard-deletes versions that have been expired for longer than the
// grace window, removing their stored bodies first. A body whose
// object-store delete fails is kept for the next cycle; the relational
// rows are only removed for bodies that are confirmed gone.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "retention.SweepOnce")
	defer span.End()

	now := s.now()
	var res Result

	marked, err := s.store.MarkExpired(ctx, now, s.config.BatchSize)
	if err != nil {
		return res, err
	}
	res.Marked = marked

	deletable, err := s.store.ListHardDeletable(ctx, now.Add(-s.config.Grace), s.config.BatchSize)
	if err != nil {
		return res, err
	}
	var uids []string
	for _, v := range deletable {
		if v.StorageRef != "" {
			if err := s.objects.Delete(ctx, v.StorageRef); err != nil &&
				!errors.Is(err, store.ErrObjectNotFound) {
				s.logger.Warn("object delete failed, version kept for next sweep",
					"version_uid", v.UID, "storage_ref", v.StorageRef, "error", err)
				continue
			}
		}
		uids = append(uids, v.UID)
	}
	if len(uids) > 0 {
		deleted, err := s.store.HardDelete(ctx, uids)
		if err != nil {
			return res, err
		}
		res.Deleted = deleted
	}

	span.SetAttributes(
		attribute.Int("marked", res.Marked),
		attribute.Int("deleted", res.Deleted),
	)
	if res.Marked > 0 || res.Deleted > 0 {
		if err := s.store.AppendAction(ctx, &contracts.Action{
			UID:       contracts.NewUID(contracts.PrefixAction),
			Actor:     "retention",
			Kind:      "retention.sweep",
			Outputs:   map[string]any{"marked": res.Marked, "deleted": res.Deleted},
			Rationale: "scheduled retention sweep",
			CreatedAt: now,
		}); err != nil {
			return res, err
		}
	}
	s.logger.Info("retention sweep completed", "marked", res.Marked, "deleted", res.Deleted)
	return res, nil
}
