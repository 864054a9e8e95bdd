// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gdelt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/store"
)

type fakeFetcher struct {
	mu     sync.Mutex
	events []contracts.GDELTEvent
	err    error
	calls  int
	polled chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context) ([]contracts.GDELTEvent, error) {
	f.mu.Lock()
	f.calls++
	events, err := f.events, f.err
	f.mu.Unlock()
	if f.polled != nil {
		select {
		case f.polled <- struct{}{}:
		default:
		}
	}
	return events, err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) handle(_ context.Context, ev eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) all() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

func newMonitor(t *testing.T, fetcher Fetcher) (*Monitor, *store.Memory, *eventRecorder) {
	t.Helper()
	mem := store.NewMemory()
	bus := eventbus.New()
	recorder := &eventRecorder{}
	bus.Subscribe("gdelt.anomaly_detected", recorder.handle)
	return NewMonitor(mem, fetcher, bus, Config{}, slog.Default()), mem, recorder
}

func rawEvent(globalID, root string, goldstein float64, country string) contracts.GDELTEvent {
	return contracts.GDELTEvent{
		GlobalEventID:  globalID,
		EventDate:      time.Now().Add(-time.Hour),
		Actor1Name:     "GOVERNMENT",
		Actor1Country:  country,
		CAMEORoot:      root,
		CAMEOCode:      root + "0",
		GoldsteinScale: goldstein,
		NumMentions:    12,
		AvgTone:        -3.5,
		Country:        country,
		SourceURL:      "https://example.org/" + globalID,
	}
}

func drain(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.bus.Drain(ctx))
}

// ----------------------------------------------------------------------------
// Polling and anomaly detection
// ----------------------------------------------------------------------------

func TestPollOnceStoresAndFlagsAnomalies(t *testing.T) {
	fetcher := &fakeFetcher{events: []contracts.GDELTEvent{
		rawEvent("1001", "04", 1.9, "FR"),  // consultation, benign
		rawEvent("1002", "18", -9.0, "SY"), // assault with extreme score
		rawEvent("1003", "19", -2.0, "IQ"), // fight, flagged on root alone
	}}
	monitor, mem, recorder := newMonitor(t, fetcher)
	ctx := context.Background()

	stored, anomalies, err := monitor.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stored)
	assert.Equal(t, 2, anomalies)
	drain(t, monitor)

	flagged, err := mem.ListGDELTEvents(ctx, "anomaly", 0)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	kinds := map[string]string{}
	for _, ev := range flagged {
		kinds[ev.GlobalEventID] = ev.AnomalyType
	}
	assert.Equal(t, AnomalyGoldsteinExtreme, kinds["1002"])
	assert.Equal(t, AnomalyHighConflict, kinds["1003"])

	events := recorder.all()
	require.Len(t, events, 2)
	severities := map[string]string{}
	for _, ev := range events {
		severities[ev.SourceEventUID] = ev.Severity
	}
	assert.Equal(t, eventbus.SeverityCritical, severities["gdelt:1002"])
	assert.Equal(t, eventbus.SeverityWarning, severities["gdelt:1003"])
}

func TestPollOnceIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{events: []contracts.GDELTEvent{
		rawEvent("1001", "04", 1.9, "FR"),
		rawEvent("1002", "19", -2.0, "IQ"),
	}}
	monitor, mem, recorder := newMonitor(t, fetcher)
	ctx := context.Background()

	stored, anomalies, err := monitor.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, anomalies)
	drain(t, monitor)

	// The same export window fetched again stores nothing and stays quiet.
	stored, anomalies, err = monitor.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.Equal(t, 0, anomalies)
	drain(t, monitor)

	all, err := mem.ListGDELTEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, recorder.all(), 1)
}

func TestCountrySurgeDetector(t *testing.T) {
	fetcher := &fakeFetcher{events: []contracts.GDELTEvent{
		rawEvent("2001", "04", 1.0, "AZ"), // benign on its own
	}}
	monitor, mem, _ := newMonitor(t, fetcher)
	ctx := context.Background()
	now := time.Now()

	// Baseline: one event per day over the trailing week.
	for i := 2; i <= 7; i++ {
		ev := rawEvent(fmt.Sprintf("base-%d", i), "04", 1.0, "AZ")
		ev.UID = contracts.NewUID("gdev")
		ev.EventDate = now.Add(-time.Duration(i)*24*time.Hour + time.Hour)
		ev.Status = "new"
		require.NoError(t, mem.SaveGDELTEvent(ctx, &ev))
	}
	// Surge: two events inside the last day, twice the daily average.
	for i := 0; i < 2; i++ {
		ev := rawEvent(fmt.Sprintf("recent-%d", i), "04", 1.0, "AZ")
		ev.UID = contracts.NewUID("gdev")
		ev.EventDate = now.Add(-time.Duration(i+1) * time.Hour)
		ev.Status = "new"
		require.NoError(t, mem.SaveGDELTEvent(ctx, &ev))
	}

	_, anomalies, err := monitor.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, anomalies)
	drain(t, monitor)

	flagged, err := mem.ListGDELTEvents(ctx, "anomaly", 0)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "2001", flagged[0].GlobalEventID)
	assert.Equal(t, AnomalyCountrySurge, flagged[0].AnomalyType)
}

func TestFetchErrorIsSurfaced(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("export unavailable")}
	monitor, _, _ := newMonitor(t, fetcher)
	_, _, err := monitor.PollOnce(context.Background())
	assert.ErrorContains(t, err, "export unavailable")
}

// ----------------------------------------------------------------------------
// Ingestion into a case
// ----------------------------------------------------------------------------

func TestIngestToCase(t *testing.T) {
	monitor, mem, _ := newMonitor(t, &fakeFetcher{})
	ctx := context.Background()

	require.NoError(t, mem.CreateCase(ctx, &contracts.Case{
		UID: "case_1", Title: "Border Watch", CreatedAt: time.Now(),
	}))
	ev := rawEvent("1002", "18", -9.0, "SY")
	ev.UID = "gdev_1"
	ev.Actor2Name = "REBELS"
	ev.Status = "anomaly"
	ev.AnomalyType = AnomalyGoldsteinExtreme
	require.NoError(t, mem.SaveGDELTEvent(ctx, &ev))

	chunk, err := monitor.IngestToCase(ctx, "gdev_1", "case_1")
	require.NoError(t, err)
	assert.Equal(t, "case_1", chunk.CaseUID)
	assert.Contains(t, chunk.Text, "GOVERNMENT")
	assert.Contains(t, chunk.Text, "REBELS")
	assert.Contains(t, chunk.Text, "CAMEO event 180")
	assert.Contains(t, chunk.Text, "Goldstein scale -9.0")

	updated, err := mem.GetGDELTEvent(ctx, "gdev_1")
	require.NoError(t, err)
	assert.Equal(t, "ingested", updated.Status)
	assert.Equal(t, AnomalyGoldsteinExtreme, updated.AnomalyType)

	persisted, err := mem.GetChunk(ctx, chunk.UID)
	require.NoError(t, err)
	assert.Equal(t, chunk.Text, persisted.Text)

	// Ingesting the same event twice is a conflict.
	_, err = monitor.IngestToCase(ctx, "gdev_1", "case_1")
	var problem *contracts.ProblemDetail
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, contracts.CodeConflict, problem.ErrorCode)

	_, err = monitor.IngestToCase(ctx, "gdev_missing", "case_1")
	assert.True(t, contracts.IsNotFound(err))
	_, err = monitor.IngestToCase(ctx, "gdev_1", "case_missing")
	assert.True(t, contracts.IsNotFound(err))
}

// ----------------------------------------------------------------------------
// Scheduler loop
// ----------------------------------------------------------------------------

func TestMonitorStartStop(t *testing.T) {
	fetcher := &fakeFetcher{polled: make(chan struct{}, 4)}
	mem := store.NewMemory()
	monitor := NewMonitor(mem, fetcher, eventbus.New(), Config{
		Interval:     time.Hour,
		InitialDelay: 5 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, monitor.Start(ctx))
	assert.True(t, monitor.Status().IsRunning)

	err := monitor.Start(ctx)
	var problem *contracts.ProblemDetail
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, contracts.CodeConflict, problem.ErrorCode)

	select {
	case <-fetcher.polled:
	case <-time.After(5 * time.Second):
		t.Fatal("initial poll never ran")
	}
	assert.Eventually(t, func() bool {
		return !monitor.Status().LastPolledAt.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, monitor.Status().NextPollAt.After(monitor.Status().LastPolledAt))

	monitor.Stop()
	assert.False(t, monitor.Status().IsRunning)
	monitor.Stop() // idempotent

	// A stopped monitor can be started again.
	require.NoError(t, monitor.Start(ctx))
	monitor.Stop()
}

// ----------------------------------------------------------------------------
// Export parsing
// ----------------------------------------------------------------------------

func exportRow(overrides map[int]string) string {
	fields := make([]string, colCount)
	fields[colGlobalEventID] = "990001"
	fields[colSQLDate] = "20260820"
	fields[colActor1Name] = "POLICE"
	fields[colActor1Country] = "FRA"
	fields[colActor2Name] = "PROTESTERS"
	fields[colActor2Country] = "FRA"
	fields[colEventCode] = "145"
	fields[colEventRootCode] = "14"
	fields[colGoldsteinScale] = "-7.5"
	fields[colNumMentions] = "24"
	fields[colAvgTone] = "-6.2"
	fields[colActionCountry] = "FR"
	fields[colSourceURL] = "https://news.example.org/a"
	for i, v := range overrides {
		fields[i] = v
	}
	return strings.Join(fields, "\t")
}

func TestParseExport(t *testing.T) {
	input := strings.Join([]string{
		exportRow(nil),
		"not a gdelt row",
		exportRow(map[int]string{colSQLDate: "garbage"}),
		exportRow(map[int]string{colGlobalEventID: "990002", colActionCountry: ""}),
	}, "\n")

	events, err := ParseExport(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "990001", first.GlobalEventID)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), first.EventDate)
	assert.Equal(t, "POLICE", first.Actor1Name)
	assert.Equal(t, "PROTESTERS", first.Actor2Name)
	assert.Equal(t, "14", first.CAMEORoot)
	assert.Equal(t, "145", first.CAMEOCode)
	assert.InDelta(t, -7.5, first.GoldsteinScale, 1e-9)
	assert.Equal(t, 24, first.NumMentions)
	assert.InDelta(t, -6.2, first.AvgTone, 1e-9)
	assert.Equal(t, "FR", first.Country)
	assert.Equal(t, "https://news.example.org/a", first.SourceURL)

	// Action geography falls back to actor 1 country when absent.
	assert.Equal(t, "FRA", events[1].Country)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, exportRow(nil))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.URL, srv.Client())
	events, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "990001", events[0].GlobalEventID)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	_, err = NewHTTPFetcher(broken.URL, broken.Client()).Fetch(context.Background())
	assert.ErrorContains(t, err, "unexpected status 502")
}
