// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gdelt polls the GDELT 2.0 event export, stores interesting
// rows, flags anomalies and can promote a stored event into a case for
// full analysis.
package gdelt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/gdelt")

// Anomaly detector thresholds.
const (
	goldsteinExtremeBar = 8.0
	surgeFactor         = 2.0
)

// CAMEO root codes treated as coercive or threatening. Roots 19 and 20
// (fight, unconventional mass violence) are high-conflict on their own.
var (
	threateningRoots  = map[string]bool{"13": true, "17": true, "18": true}
	highConflictRoots = map[string]bool{"19": true, "20": true}
)

// Anomaly kinds.
const (
	AnomalyGoldsteinExtreme = "goldstein_extreme"
	AnomalyHighConflict     = "high_conflict_event"
	AnomalyCountrySurge     = "country_surge"
)

// Config tunes the monitor loop.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	// InitialDelay zero is valid: poll immediately after the delay tick.
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
}

// Status is the monitor's observable state.
type Status struct {
	IsRunning    bool      `json:"is_running"`
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
	NextPollAt   time.Time `json:"next_poll_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Monitor runs the poll loop with the ticker + done channel pattern.
type Monitor struct {
	store   store.Store
	fetcher Fetcher
	bus     *eventbus.Bus
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	status  Status
}

func NewMonitor(st store.Store, fetcher Fetcher, bus *eventbus.Bus, config Config, logger *slog.Logger) *Monitor {
	config.applyDefaults()
	return &Monitor{
		store:   st,
		fetcher: fetcher,
		bus:     bus,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Start launches the poll loop. Only one loop runs at a time.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return contracts.NewProblem(contracts.CodeConflict, "gdelt monitor already running", nil)
	}
	m.running = true
	m.done = make(chan struct{})
	m.status.IsRunning = true
	m.status.NextPollAt = m.now().Add(m.config.InitialDelay)
	m.mu.Unlock()

	m.logger.Info("gdelt monitor starting",
		"interval", m.config.Interval.String(),
		"initial_delay", m.config.InitialDelay.String())
	go m.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.done)
	m.running = false
	m.status.IsRunning = false
	m.logger.Info("gdelt monitor stopping")
}

// Status returns a copy of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) runLoop(ctx context.Context) {
	delay := time.NewTimer(m.config.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-m.done:
		return
	case <-delay.C:
	}
	m.poll(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("gdelt monitor stopped (context cancelled)")
			return
		case <-m.done:
			m.logger.Info("gdelt monitor stopped (stop requested)")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	stored, anomalies, err := m.PollOnce(ctx)
	m.mu.Lock()
	m.status.LastPolledAt = m.now()
	m.status.NextPollAt = m.now().Add(m.config.Interval)
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("gdelt poll failed", "error", err)
		return
	}
	m.logger.Info("gdelt poll completed", "stored", stored, "anomalies", anomalies)
}

// PollOnce fetches one batch, stores new events, runs the anomaly
// detectors and emits gdelt.anomaly_detected for each hit.
func (m *Monitor) PollOnce(ctx context.Context) (stored, anomalies int, err error) {
	ctx, span := tracer.Start(ctx, "gdelt.PollOnce")
	defer span.End()

	events, err := m.fetcher.Fetch(ctx)
	if err != nil {
		return 0, 0, err
	}
	span.SetAttributes(attribute.Int("events", len(events)))

	for i := range events {
		ev := events[i]
		ev.UID = contracts.NewUID("gdev")
		ev.PolledAt = m.now()
		ev.Status = "new"

		kind, found, detErr := m.detect(ctx, &ev)
		if detErr != nil {
			return stored, anomalies, detErr
		}
		if found {
			ev.Status = "anomaly"
			ev.AnomalyType = kind
		}
		if err := m.store.SaveGDELTEvent(ctx, &ev); err != nil {
			if contracts.IsConflict(err) {
				continue // already seen this global event ID
			}
			return stored, anomalies, err
		}
		stored++
		if found {
			anomalies++
			m.emitAnomaly(ctx, &ev)
		}
	}
	return stored, anomalies, nil
}

// detect runs the three anomaly detectors in order; the first hit wins.
func (m *Monitor) detect(ctx context.Context, ev *contracts.GDELTEvent) (string, bool, error) {
	// Detector 1: extreme Goldstein score on a threatening root.
	if math.Abs(ev.GoldsteinScale) >= goldsteinExtremeBar && threateningRoots[ev.CAMEORoot] {
		return AnomalyGoldsteinExtreme, true, nil
	}

	// Detector 2: high-conflict CAMEO root regardless of score.
	if highConflictRoots[ev.CAMEORoot] {
		return AnomalyHighConflict, true, nil
	}

	// Detector 3: country event surge, recent day vs trailing week.
	if ev.Country != "" {
		now := m.now()
		recent, err := m.store.CountEventsByCountrySince(ctx, ev.Country, now.Add(-24*time.Hour))
		if err != nil {
			return "", false, err
		}
		weekly, err := m.store.CountEventsByCountrySince(ctx, ev.Country, now.Add(-7*24*time.Hour))
		if err != nil {
			return "", false, err
		}
		historicalDaily := float64(weekly-recent) / 6.0
		if historicalDaily >= 1 && float64(recent) >= surgeFactor*historicalDaily {
			return AnomalyCountrySurge, true, nil
		}
	}
	return "", false, nil
}

func (m *Monitor) emitAnomaly(ctx context.Context, ev *contracts.GDELTEvent) {
	severity := eventbus.SeverityWarning
	if ev.AnomalyType == AnomalyGoldsteinExtreme {
		severity = eventbus.SeverityCritical
	}
	m.bus.Emit(ctx, eventbus.Event{
		EventType:      "gdelt.anomaly_detected",
		Severity:       severity,
		SourceEventUID: "gdelt:" + ev.GlobalEventID,
		Regions:        regionTags(ev),
		Topics:         []string{"gdelt", "cameo_" + ev.CAMEORoot},
		Payload: map[string]any{
			"event_uid":    ev.UID,
			"anomaly_type": ev.AnomalyType,
			"cameo_code":   ev.CAMEOCode,
			"goldstein":    ev.GoldsteinScale,
			"country":      ev.Country,
			"source_url":   ev.SourceURL,
		},
	})
}

func regionTags(ev *contracts.GDELTEvent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range []string{ev.Country, ev.Actor1Country, ev.Actor2Country} {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// IngestToCase promotes a stored event into a case as a raw chunk so
// the pipeline can extract claims from it.
func (m *Monitor) IngestToCase(ctx context.Context, eventUID, caseUID string) (*contracts.Chunk, error) {
	ctx, span := tracer.Start(ctx, "gdelt.IngestToCase")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_uid", eventUID),
		attribute.String("case_uid", caseUID),
	)

	ev, err := m.store.GetGDELTEvent(ctx, eventUID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.GetCase(ctx, caseUID); err != nil {
		return nil, err
	}
	if ev.Status == "ingested" {
		return nil, contracts.NewProblem(contracts.CodeConflict,
			"gdelt event already ingested", map[string]any{"event_uid": eventUID})
	}

	chunk := &contracts.Chunk{
		UID:       contracts.NewUID(contracts.PrefixChunk),
		CaseUID:   caseUID,
		Text:      eventNarrative(ev),
		CreatedAt: m.now(),
	}
	if err := m.store.CreateChunk(ctx, chunk); err != nil {
		return nil, err
	}
	if err := m.store.UpdateGDELTEventStatus(ctx, eventUID, "ingested", ev.AnomalyType); err != nil {
		return nil, err
	}
	m.logger.Info("gdelt event ingested", "event_uid", eventUID,
		"case_uid", caseUID, "chunk_uid", chunk.UID)
	return chunk, nil
}

// eventNarrative renders a stored event as prose the claim extractor
// can anchor against.
func eventNarrative(ev *contracts.GDELTEvent) string {
	actor1 := ev.Actor1Name
	if actor1 == "" {
		actor1 = "An unnamed actor"
	}
	text := fmt.Sprintf("%s recorded CAMEO event %s on %s", actor1,
		ev.CAMEOCode, ev.EventDate.Format("2006-01-02"))
	if ev.Actor2Name != "" {
		text += " involving " + ev.Actor2Name
	}
	if ev.Country != "" {
		text += " in " + ev.Country
	}
	text += fmt.Sprintf(". Goldstein scale %.1f, average tone %.1f, %d mentions.",
		ev.GoldsteinScale, ev.AvgTone, ev.NumMentions)
	if ev.SourceURL != "" {
		text += " Source: " + ev.SourceURL
	}
	return text
}
