// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/ach"
	"github.com/AegiAI/aegi-core/services/causal"
	"github.com/AegiAI/aegi-core/services/claims"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/fusion"
	"github.com/AegiAI/aegi-core/services/kg"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/memory"
	"github.com/AegiAI/aegi-core/services/narrative"
	"github.com/AegiAI/aegi-core/services/ontology"
	"github.com/AegiAI/aegi-core/services/quality"
	"github.com/AegiAI/aegi-core/services/report"
	"github.com/AegiAI/aegi-core/services/store"
)

const pipelineChunkText = "The defense ministry confirmed that two battalions crossed the river at dawn. Observers reported pontoon bridges along the bank."

type testEnv struct {
	runner *Runner
	mem    *store.Memory
	stub   *llm.StubClient
	bus    *eventbus.Bus
}

func newEnv(t *testing.T, collector Collector, config Config) *testEnv {
	t.Helper()
	logger := slog.Default()
	mem := store.NewMemory()
	graph := store.NewMemoryGraph()
	vector := store.NewMemoryVectorIndex()
	bus := eventbus.New()
	stub := llm.NewStubClient()

	registry := ontology.NewRegistry(nil, logger)
	require.NoError(t, registry.Publish(context.Background(), contracts.OntologyVersion{
		Version:     "v1",
		EntityTypes: []contracts.TypeSpec{{Name: "Organization"}, {Name: "Location"}},
		RelationTypes: []contracts.RelationSpec{
			{Name: "OPERATES_IN", Domain: []string{"Organization"}, Range: []string{"Location"}},
		},
	}))

	achEngine := ach.New(mem, stub, bus, logger)
	deps := Deps{
		Store:      mem,
		Graph:      graph,
		Vector:     vector,
		Bus:        bus,
		LLM:        stub,
		Collector:  collector,
		Extractor:  claims.NewExtractor(mem, stub, bus, logger),
		Fuser:      fusion.New(mem, logger),
		KG:         kg.NewBuilder(mem, graph, registry, stub, logger),
		ACH:        achEngine,
		Causal:     causal.NewAnalyzer(stub, logger),
		Forecaster: causal.NewForecaster(mem, stub, logger),
		Narratives: narrative.New(narrative.DefaultConfig(), logger),
		Quality:    quality.NewScorer(mem, logger),
		Memory:     memory.NewRecorder(mem, vector, stub, logger),
		Reports:    report.NewGenerator(mem, quality.NewScorer(mem, logger), stub, logger),
		Logger:     logger,
	}
	return &testEnv{runner: NewRunner(deps, config), mem: mem, stub: stub, bus: bus}
}

func seedPipelineCase(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.mem.CreateCase(ctx, &contracts.Case{UID: "case_1", Title: "River Crossing"}))
	require.NoError(t, env.mem.CreateChunk(ctx, &contracts.Chunk{
		UID: "chk_1", CaseUID: "case_1", Ordinal: 0,
		Text: pipelineChunkText, CreatedAt: time.Now(),
	}))
	env.stub.SetResponse("claims_extract", `[
		{"text": "Two battalions crossed the river at dawn",
		 "quote": "two battalions crossed the river at dawn",
		 "modality": "asserted", "attributed_to": "defense ministry", "confidence": 0.9},
		{"text": "Pontoon bridges were placed along the bank",
		 "quote": "pontoon bridges along the bank",
		 "modality": "reported", "attributed_to": "observers", "confidence": 0.7}
	]`)
	env.stub.SetResponse("kg_extract", `{
		"entities": [
			{"name": "Defense Ministry", "type": "Organization"},
			{"name": "River Bank", "type": "Location"}
		],
		"events": [],
		"relations": [{"source": "Defense Ministry", "target": "River Bank", "type": "OPERATES_IN"}]
	}`)
}

func waitForRun(t *testing.T, env *testEnv, runID string) Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := env.runner.Tracker().Get(runID)
		if ok && run.Status != RunRunning {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return Run{}
}

func stageByName(run Run, name string) (StageResult, bool) {
	for _, s := range run.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

func TestFullRunCompletes(t *testing.T) {
	env := newEnv(t, nil, Config{})
	seedPipelineCase(t, env)
	ctx := context.Background()

	runID, err := env.runner.StartRun(ctx, "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)

	run := waitForRun(t, env, runID)
	assert.Equal(t, RunCompleted, run.Status)
	require.Len(t, run.Stages, len(StageOrder))
	assert.InDelta(t, 100, run.ProgressPct, 1e-9)

	// Stage order is fixed.
	for i, s := range run.Stages {
		assert.Equal(t, StageOrder[i], s.Name)
	}

	collect, _ := stageByName(run, StageOSINTCollect)
	assert.Equal(t, StageSkipped, collect.Status)
	extract, _ := stageByName(run, StageClaimExtract)
	assert.Equal(t, StageSuccess, extract.Status)

	claimRows, err := env.mem.ListClaimsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, claimRows, 2)

	assertions, err := env.mem.ListAssertionsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.NotEmpty(t, assertions)

	hypotheses, err := env.mem.ListHypothesesByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.NotEmpty(t, hypotheses)

	forecasts, err := env.mem.ListForecastsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, forecasts, len(hypotheses))

	narratives, err := env.mem.ListNarrativesByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.NotEmpty(t, narratives)
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	env := newEnv(t, nil, Config{})
	seedPipelineCase(t, env)
	ctx := context.Background()

	runID, err := env.runner.StartRun(ctx, "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)
	waitForRun(t, env, runID)

	claimsBefore, err := env.mem.ListClaimsByCase(ctx, "case_1")
	require.NoError(t, err)
	assertionsBefore, err := env.mem.ListAssertionsByCase(ctx, "case_1")
	require.NoError(t, err)

	runID2, err := env.runner.StartRun(ctx, "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)
	run2 := waitForRun(t, env, runID2)
	assert.Equal(t, RunCompleted, run2.Status)

	claimsAfter, err := env.mem.ListClaimsByCase(ctx, "case_1")
	require.NoError(t, err)
	assertionsAfter, err := env.mem.ListAssertionsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, claimsAfter, len(claimsBefore))
	assert.Len(t, assertionsAfter, len(assertionsBefore))

	fuse, _ := stageByName(run2, StageAssertionFuse)
	assert.Equal(t, StageSkipped, fuse.Status)
}

func TestPlaybookSelection(t *testing.T) {
	env := newEnv(t, nil, Config{})
	seedPipelineCase(t, env)
	ctx := context.Background()

	runID, err := env.runner.StartRun(ctx, "case_1", "collect", contracts.BudgetContext{})
	require.NoError(t, err)
	run := waitForRun(t, env, runID)
	assert.Equal(t, RunCompleted, run.Status)
	require.Len(t, run.Stages, 2)
	assert.Equal(t, StageOSINTCollect, run.Stages[0].Name)
	assert.Equal(t, StageClaimExtract, run.Stages[1].Name)

	_, err = env.runner.StartRun(ctx, "case_1", "freestyle", contracts.BudgetContext{})
	require.Error(t, err)
	problem, ok := err.(*contracts.ProblemDetail)
	require.True(t, ok)
	assert.Equal(t, contracts.CodeValidation, problem.ErrorCode)
}

type failingCollector struct{}

func (failingCollector) Collect(context.Context, string, contracts.BudgetContext) (int, error) {
	return 0, errors.New("feed unreachable")
}

func TestStageErrorIsIsolated(t *testing.T) {
	env := newEnv(t, failingCollector{}, Config{})
	seedPipelineCase(t, env)

	runID, err := env.runner.StartRun(context.Background(), "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)
	run := waitForRun(t, env, runID)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Contains(t, run.Error, "feed unreachable")

	collect, _ := stageByName(run, StageOSINTCollect)
	assert.Equal(t, StageError, collect.Status)
	extract, _ := stageByName(run, StageClaimExtract)
	assert.Equal(t, StageSuccess, extract.Status)
	require.Len(t, run.Stages, len(StageOrder))
}

type blockingCollector struct{ started chan struct{} }

func (b blockingCollector) Collect(ctx context.Context, _ string, _ contracts.BudgetContext) (int, error) {
	close(b.started)
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCancelRun(t *testing.T) {
	collector := blockingCollector{started: make(chan struct{})}
	env := newEnv(t, collector, Config{})
	seedPipelineCase(t, env)

	runID, err := env.runner.StartRun(context.Background(), "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)
	<-collector.started
	require.NoError(t, env.runner.Cancel(runID))

	run := waitForRun(t, env, runID)
	assert.Equal(t, RunCancelled, run.Status)

	err = env.runner.Cancel(runID)
	require.Error(t, err)
	assert.True(t, contracts.IsNotFound(err))
}

func TestConcurrencyLimit(t *testing.T) {
	collector := blockingCollector{started: make(chan struct{})}
	env := newEnv(t, collector, Config{MaxConcurrentRuns: 1})
	seedPipelineCase(t, env)
	ctx := context.Background()

	runID, err := env.runner.StartRun(ctx, "case_1", "full", contracts.BudgetContext{})
	require.NoError(t, err)
	<-collector.started

	_, err = env.runner.StartRun(ctx, "case_1", "full", contracts.BudgetContext{})
	require.Error(t, err)
	problem, ok := err.(*contracts.ProblemDetail)
	require.True(t, ok)
	assert.Equal(t, contracts.CodeConflict, problem.ErrorCode)

	require.NoError(t, env.runner.Cancel(runID))
	waitForRun(t, env, runID)
}

func TestCompletionEventCarriesSummary(t *testing.T) {
	env := newEnv(t, nil, Config{})
	seedPipelineCase(t, env)

	events := make(chan eventbus.Event, 1)
	env.bus.Subscribe("pipeline.completed", func(_ context.Context, ev eventbus.Event) error {
		select {
		case events <- ev:
		default:
		}
		return nil
	})

	runID, err := env.runner.StartRun(context.Background(), "case_1", "collect", contracts.BudgetContext{})
	require.NoError(t, err)
	waitForRun(t, env, runID)

	select {
	case ev := <-events:
		assert.Equal(t, runID, ev.Payload["run_id"])
		assert.Equal(t, RunCompleted, ev.Payload["status"])
		assert.Equal(t, 2, ev.Payload["stage_count"])
		summary, _ := ev.Payload["summary"].(string)
		assert.Contains(t, summary, "1/2 stages succeeded")
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event arrived")
	}
}

func TestStartRunUnknownCase(t *testing.T) {
	env := newEnv(t, nil, Config{})
	_, err := env.runner.StartRun(context.Background(), "case_missing", "full", contracts.BudgetContext{})
	require.Error(t, err)
	assert.True(t, contracts.IsNotFound(err))
}

func TestTrackerSubscribeAndCleanup(t *testing.T) {
	env := newEnv(t, nil, Config{})
	seedPipelineCase(t, env)

	runID, err := env.runner.StartRun(context.Background(), "case_1", "collect", contracts.BudgetContext{})
	require.NoError(t, err)

	ch, ok := env.runner.Tracker().Subscribe(runID)
	require.True(t, ok)
	var last Run
	for run := range ch {
		last = run
	}
	// The channel closes when the run finishes; the tracker still holds
	// the terminal state.
	final := waitForRun(t, env, runID)
	assert.Equal(t, RunCompleted, final.Status)
	assert.NotEmpty(t, last.RunID)

	removed := env.runner.Tracker().Cleanup(0)
	assert.Equal(t, 1, removed)
	_, ok = env.runner.Tracker().Get(runID)
	assert.False(t, ok)
}
