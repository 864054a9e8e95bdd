// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs the fixed analysis stage sequence over a case.
// Stage order never varies; playbooks select which stages run, and a
// failing stage is isolated so the rest of the run still executes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

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
	"github.com/AegiAI/aegi-core/services/quality"
	"github.com/AegiAI/aegi-core/services/report"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/pipeline")

// Stage names, in execution order.
const (
	StageOSINTCollect       = "osint_collect"
	StageClaimExtract       = "claim_extract"
	StageAssertionFuse      = "assertion_fuse"
	StageKGBuild            = "kg_build"
	StageHypothesisGenerate = "hypothesis_generate"
	StageBayesianACHAssess  = "bayesian_ach_assess"
	StageCausalAnalyze      = "causal_analyze"
	StageForecastGenerate   = "forecast_generate"
	StageNarrativeBuild     = "narrative_build"
	StageCoordinationDetect = "coordination_detect"
	StageQualityScore       = "quality_score"
	StageMemoryRecord       = "memory_record"
	StageReportGenerate     = "report_generate"
)

// StageOrder is the full fixed sequence.
var StageOrder = []string{
	StageOSINTCollect,
	StageClaimExtract,
	StageAssertionFuse,
	StageKGBuild,
	StageHypothesisGenerate,
	StageBayesianACHAssess,
	StageCausalAnalyze,
	StageForecastGenerate,
	StageNarrativeBuild,
	StageCoordinationDetect,
	StageQualityScore,
	StageMemoryRecord,
	StageReportGenerate,
}

// playbooks map a name to the stages it includes. Order still follows
// StageOrder regardless of playbook.
var playbooks = map[string]map[string]bool{
	"full":     nil, // nil means every stage
	"collect":  stageSet(StageOSINTCollect, StageClaimExtract),
	"analysis": stageSet(StageOrder[2:]...),
}

func stageSet(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// Collector fetches fresh raw material for a case. The pipeline treats
// collection as optional: a nil Collector skips the stage.
type Collector interface {
	Collect(ctx context.Context, caseUID string, budget contracts.BudgetContext) (int, error)
}

// Deps bundles the services a run drives.
type Deps struct {
	Store      store.Store
	Graph      store.GraphStore
	Vector     store.VectorIndex
	Bus        *eventbus.Bus
	LLM        llm.Client
	Collector  Collector
	Extractor  *claims.Extractor
	Fuser      *fusion.Fuser
	KG         *kg.Builder
	ACH        *ach.Engine
	Causal     *causal.Analyzer
	Forecaster *causal.Forecaster
	Narratives *narrative.Builder
	Quality    *quality.Scorer
	Memory     *memory.Recorder
	Reports    *report.Generator
	Logger     *slog.Logger
}

// Config tunes run execution.
type Config struct {
	MaxConcurrentRuns int64
	StageTimeout      time.Duration
}

// Runner executes pipeline runs and exposes their state via the
// Tracker.
type Runner struct {
	deps    Deps
	config  Config
	tracker *Tracker
	sem     *semaphore.Weighted

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc
}

func NewRunner(deps Deps, config Config) *Runner {
	if config.MaxConcurrentRuns <= 0 {
		config.MaxConcurrentRuns = 2
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = 5 * time.Minute
	}
	r := &Runner{
		deps:    deps,
		config:  config,
		tracker: NewTracker(),
		sem:     semaphore.NewWeighted(config.MaxConcurrentRuns),
		cancels: make(map[string]context.CancelFunc),
	}
	return r
}

// Tracker exposes run state for status endpoints and streams.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// StartRun validates the request, reserves a concurrency slot and
// executes the run on its own goroutine. It returns the run ID
// immediately.
func (r *Runner) StartRun(ctx context.Context, caseUID, playbook string, budget contracts.BudgetContext) (string, error) {
	if playbook == "" {
		playbook = "full"
	}
	included, ok := playbooks[playbook]
	if !ok {
		return "", contracts.NewProblem(contracts.CodeValidation,
			"unknown playbook", map[string]any{"playbook": playbook})
	}
	if _, err := r.deps.Store.GetCase(ctx, caseUID); err != nil {
		return "", err
	}
	if !r.sem.TryAcquire(1) {
		return "", contracts.NewProblem(contracts.CodeConflict,
			"pipeline at max concurrent runs", nil)
	}

	runID := contracts.NewUID(contracts.PrefixRun)
	stages := selectedStages(included)
	r.tracker.start(runID, caseUID, playbook, len(stages))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.withCancels(func() { r.cancels[runID] = cancel })

	go func() {
		defer r.sem.Release(1)
		defer r.withCancels(func() { delete(r.cancels, runID) })
		r.execute(runCtx, runID, caseUID, stages, budget)
	}()
	return runID, nil
}

// Cancel aborts a running pipeline. Finished runs report not-found.
func (r *Runner) Cancel(runID string) error {
	var cancel context.CancelFunc
	r.withCancels(func() { cancel = r.cancels[runID] })
	if cancel == nil {
		return contracts.NewProblem(contracts.CodeNotFound,
			"no running pipeline with that run ID", map[string]any{"run_id": runID})
	}
	cancel()
	return nil
}

func (r *Runner) withCancels(fn func()) {
	r.cancelsMu.Lock()
	defer r.cancelsMu.Unlock()
	fn()
}

func selectedStages(included map[string]bool) []string {
	if included == nil {
		return StageOrder
	}
	var out []string
	for _, name := range StageOrder {
		if included[name] {
			out = append(out, name)
		}
	}
	return out
}

// execute runs the stage sequence. Stage errors are recorded and the
// run continues; only context cancellation aborts the sequence.
func (r *Runner) execute(ctx context.Context, runID, caseUID string, stages []string, budget contracts.BudgetContext) {
	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("case_uid", caseUID),
	)

	rc := &runContext{runID: runID, caseUID: caseUID, budget: budget, deps: r.deps}
	failures := 0
	firstErr := ""

	for _, name := range stages {
		if ctx.Err() != nil {
			r.tracker.finish(runID, RunCancelled, ctx.Err().Error())
			r.emitRunEvent(ctx, rc, "pipeline.cancelled", eventbus.SeverityWarning)
			return
		}
		r.tracker.stageStarted(runID, name)

		stageCtx, cancel := context.WithTimeout(ctx, r.config.StageTimeout)
		result := r.runStage(stageCtx, name, rc)
		cancel()

		if result.Status == StageError {
			failures++
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %s", name, result.Error)
			}
			r.deps.Logger.Error("pipeline stage failed", "run_id", runID,
				"stage", name, "error", result.Error)
		}
		r.tracker.stageFinished(runID, result)
	}

	if ctx.Err() != nil {
		r.tracker.finish(runID, RunCancelled, ctx.Err().Error())
		r.emitRunEvent(ctx, rc, "pipeline.cancelled", eventbus.SeverityWarning)
		return
	}
	r.tracker.finish(runID, RunCompleted, firstErr)
	severity := eventbus.SeverityInfo
	if failures > 0 {
		severity = eventbus.SeverityWarning
	}
	r.emitRunEvent(ctx, rc, "pipeline.completed", severity)
}

func (r *Runner) emitRunEvent(ctx context.Context, rc *runContext, eventType, severity string) {
	if r.deps.Bus == nil {
		return
	}
	run, _ := r.tracker.Get(rc.runID)
	succeeded := 0
	for _, st := range run.Stages {
		if st.Status == StageSuccess {
			succeeded++
		}
	}
	summary := fmt.Sprintf("%d/%d stages succeeded", succeeded, run.StagesTotal)
	if run.Error != "" {
		summary += "; first error: " + run.Error
	}
	r.deps.Bus.Emit(context.WithoutCancel(ctx), eventbus.Event{
		EventType: eventType,
		CaseUID:   rc.caseUID,
		Severity:  severity,
		Payload: map[string]any{
			"run_id":      rc.runID,
			"status":      run.Status,
			"stage_count": len(run.Stages),
			"summary":     summary,
		},
	})
}

// runContext carries per-run state between stages.
type runContext struct {
	runID   string
	caseUID string
	budget  contracts.BudgetContext

	deps Deps

	// narratives built this run, reused by coordination detection.
	narratives []contracts.Narrative
	embeddings map[string][]float32
}

func (r *Runner) runStage(ctx context.Context, name string, rc *runContext) StageResult {
	started := time.Now()
	result := StageResult{Name: name}

	skipped, detail, err := r.dispatch(ctx, name, rc)
	result.DurationMS = time.Since(started).Milliseconds()
	result.Detail = detail
	switch {
	case err != nil:
		result.Status = StageError
		result.Error = err.Error()
	case skipped:
		result.Status = StageSkipped
	default:
		result.Status = StageSuccess
	}
	return result
}

func (r *Runner) dispatch(ctx context.Context, name string, rc *runContext) (bool, string, error) {
	switch name {
	case StageOSINTCollect:
		return stageOSINTCollect(ctx, rc)
	case StageClaimExtract:
		return stageClaimExtract(ctx, rc)
	case StageAssertionFuse:
		return stageAssertionFuse(ctx, rc)
	case StageKGBuild:
		return stageKGBuild(ctx, rc)
	case StageHypothesisGenerate:
		return stageHypothesisGenerate(ctx, rc)
	case StageBayesianACHAssess:
		return stageBayesianACHAssess(ctx, rc)
	case StageCausalAnalyze:
		return stageCausalAnalyze(ctx, rc)
	case StageForecastGenerate:
		return stageForecastGenerate(ctx, rc)
	case StageNarrativeBuild:
		return stageNarrativeBuild(ctx, rc)
	case StageCoordinationDetect:
		return stageCoordinationDetect(ctx, rc)
	case StageQualityScore:
		return stageQualityScore(ctx, rc)
	case StageMemoryRecord:
		return stageMemoryRecord(ctx, rc)
	case StageReportGenerate:
		return stageReportGenerate(ctx, rc)
	default:
		return false, "", fmt.Errorf("unknown stage %q", name)
	}
}

// ----------------------------------------------------------------------------
// Stage implementations
// ----------------------------------------------------------------------------

func stageOSINTCollect(ctx context.Context, rc *runContext) (bool, string, error) {
	if rc.deps.Collector == nil {
		return true, "no collector configured", nil
	}
	n, err := rc.deps.Collector.Collect(ctx, rc.caseUID, rc.budget)
	if err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("collected %d items", n), nil
}

// stageClaimExtract extracts claims for chunks that have none yet and
// mirrors new claim text into the vector index.
func stageClaimExtract(ctx context.Context, rc *runContext) (bool, string, error) {
	chunks, err := rc.deps.Store.ListChunksByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(chunks) == 0 {
		return true, "no chunks", nil
	}
	extracted := 0
	for i := range chunks {
		chunk := &chunks[i]
		existing, err := rc.deps.Store.ListClaimsByChunk(ctx, chunk.UID)
		if err != nil {
			return false, "", err
		}
		if len(existing) > 0 {
			continue
		}
		claimRows, deg, err := rc.deps.Extractor.ExtractFromChunk(ctx, chunk,
			claims.SourceMeta{Credibility: 0.5}, rc.runID, rc.budget)
		if err != nil {
			return false, "", err
		}
		if deg != nil {
			continue
		}
		for _, c := range claimRows {
			if vec, embDeg := rc.deps.LLM.Embed(ctx, c.Text); embDeg == nil {
				if err := rc.deps.Vector.Upsert(ctx, store.ClassClaim, c.UID, rc.caseUID, c.Text, vec); err != nil {
					rc.deps.Logger.Warn("claim vector upsert failed", "claim_uid", c.UID, "error", err)
				}
			}
		}
		extracted += len(claimRows)
	}
	return false, fmt.Sprintf("extracted %d claims", extracted), nil
}

// stageAssertionFuse fuses claims and promotes their chunks to evidence
// rows.
func stageAssertionFuse(ctx context.Context, rc *runContext) (bool, string, error) {
	claimRows, err := rc.deps.Store.ListClaimsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(claimRows) == 0 {
		return true, "no claims", nil
	}
	existing, err := rc.deps.Store.ListAssertionsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(existing) > 0 {
		return true, "assertions already fused", nil
	}

	result, err := rc.deps.Fuser.Fuse(ctx, rc.caseUID, rc.runID, claimRows)
	if err != nil {
		return false, "", err
	}
	for i := range result.Assertions {
		if err := rc.deps.Store.CreateAssertion(ctx, &result.Assertions[i]); err != nil {
			return false, "", err
		}
	}

	evidence, err := rc.deps.Store.ListEvidenceByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	haveChunk := make(map[string]bool)
	for _, e := range evidence {
		haveChunk[e.ChunkUID] = true
	}
	for _, c := range claimRows {
		if haveChunk[c.ChunkUID] {
			continue
		}
		haveChunk[c.ChunkUID] = true
		if err := rc.deps.Store.CreateEvidence(ctx, &contracts.Evidence{
			UID:       contracts.NewUID(contracts.PrefixEvidence),
			CaseUID:   rc.caseUID,
			ChunkUID:  c.ChunkUID,
			Kind:      contracts.EvidenceDocument,
			CreatedAt: time.Now(),
		}); err != nil {
			return false, "", err
		}
	}
	return false, fmt.Sprintf("%d assertions, %d conflicts", len(result.Assertions), len(result.Conflicts)), nil
}

func stageKGBuild(ctx context.Context, rc *runContext) (bool, string, error) {
	assertions, err := rc.deps.Store.ListAssertionsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(assertions) == 0 {
		return true, "no assertions", nil
	}
	built, err := rc.deps.KG.BuildFromAssertions(ctx, rc.caseUID, rc.runID, assertions, rc.budget)
	if err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("%d entities, %d events, %d relations, %d skipped",
		len(built.Entities), len(built.Events), len(built.Relations), len(built.Skipped)), nil
}

func stageHypothesisGenerate(ctx context.Context, rc *runContext) (bool, string, error) {
	hypotheses, err := rc.deps.ACH.GenerateHypotheses(ctx, rc.caseUID, rc.budget)
	if err != nil {
		return false, "", err
	}
	if len(hypotheses) == 0 {
		return true, "nothing to hypothesize over", nil
	}
	return false, fmt.Sprintf("%d hypotheses", len(hypotheses)), nil
}

// stageBayesianACHAssess assesses every unassessed evidence row and
// applies the Bayesian update for each.
func stageBayesianACHAssess(ctx context.Context, rc *runContext) (bool, string, error) {
	hypotheses, err := rc.deps.Store.ListHypothesesByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(hypotheses) == 0 {
		return true, "no hypotheses", nil
	}
	evidence, err := rc.deps.Store.ListEvidenceByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(evidence) == 0 {
		return true, "no evidence", nil
	}

	assessed := 0
	for _, e := range evidence {
		existing, err := rc.deps.Store.ListAssessmentsByEvidence(ctx, e.UID)
		if err != nil {
			return false, "", err
		}
		if len(existing) > 0 {
			continue
		}
		chunk, err := rc.deps.Store.GetChunk(ctx, e.ChunkUID)
		if err != nil {
			if contracts.IsNotFound(err) {
				continue
			}
			return false, "", err
		}
		rows, err := rc.deps.ACH.AssessEvidence(ctx, rc.caseUID, e.UID, chunk.Text, rc.budget)
		if err != nil {
			return false, "", err
		}
		if len(rows) == 0 {
			continue
		}
		if err := rc.deps.ACH.BayesianUpdate(ctx, rc.caseUID, e.UID); err != nil {
			return false, "", err
		}
		assessed++
	}
	return false, fmt.Sprintf("assessed %d evidence rows", assessed), nil
}

func stageCausalAnalyze(ctx context.Context, rc *runContext) (bool, string, error) {
	assertions, err := rc.deps.Store.ListAssertionsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(assertions) < 2 {
		return true, "fewer than two assertions", nil
	}
	chain, err := rc.deps.Causal.BuildChain(ctx, rc.caseUID, assertions, rc.budget)
	if err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("%d links, consistency %.2f", len(chain.Links), chain.ConsistencyScore), nil
}

func stageForecastGenerate(ctx context.Context, rc *runContext) (bool, string, error) {
	hypotheses, err := rc.deps.Store.ListHypothesesByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(hypotheses) == 0 {
		return true, "no hypotheses", nil
	}
	forecasts, err := rc.deps.Forecaster.Generate(ctx, rc.caseUID, rc.budget)
	if err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("%d forecasts", len(forecasts)), nil
}

func stageNarrativeBuild(ctx context.Context, rc *runContext) (bool, string, error) {
	claimRows, err := rc.deps.Store.ListClaimsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(claimRows) == 0 {
		return true, "no claims", nil
	}
	existing, err := rc.deps.Store.ListNarrativesByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if len(existing) > 0 {
		rc.narratives = existing
		return true, "narratives already built", nil
	}

	embeddings := make(map[string][]float32, len(claimRows))
	for _, c := range claimRows {
		if vec, deg := rc.deps.LLM.Embed(ctx, c.Text); deg == nil {
			embeddings[c.UID] = vec
		}
	}
	if len(embeddings) < len(claimRows) {
		embeddings = nil // partial embeddings would skew clustering
	}
	rc.embeddings = embeddings

	narratives := rc.deps.Narratives.Build(rc.caseUID, claimRows, embeddings)
	for i := range narratives {
		if err := rc.deps.Store.CreateNarrative(ctx, &narratives[i]); err != nil {
			return false, "", err
		}
	}
	rc.narratives = narratives
	return false, fmt.Sprintf("%d narratives", len(narratives)), nil
}

func stageCoordinationDetect(ctx context.Context, rc *runContext) (bool, string, error) {
	if len(rc.narratives) == 0 {
		return true, "no narratives", nil
	}
	claimRows, err := rc.deps.Store.ListClaimsByCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	signals := rc.deps.Narratives.DetectCoordination(rc.narratives, claimRows, rc.embeddings)
	for _, sig := range signals {
		if sig.Label != "coordinated" {
			continue
		}
		if rc.deps.Bus != nil {
			rc.deps.Bus.Emit(ctx, eventbus.Event{
				EventType: "coordination.detected",
				CaseUID:   rc.caseUID,
				Severity:  eventbus.SeverityWarning,
				Payload: map[string]any{
					"narrative_uid": sig.NarrativeUID,
					"confidence":    sig.Confidence,
				},
			})
		}
	}
	return false, fmt.Sprintf("%d signals", len(signals)), nil
}

func stageQualityScore(ctx context.Context, rc *runContext) (bool, string, error) {
	card, err := rc.deps.Quality.Score(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if rc.deps.Bus != nil {
		for _, alert := range card.Alerts {
			rc.deps.Bus.Emit(ctx, eventbus.Event{
				EventType: "quality.alert",
				CaseUID:   rc.caseUID,
				Severity:  eventbus.SeverityWarning,
				Payload:   map[string]any{"kind": alert.Kind, "detail": alert.Detail},
			})
		}
	}
	return false, fmt.Sprintf("score %.2f, %d alerts", card.Score, len(card.Alerts)), nil
}

func stageMemoryRecord(ctx context.Context, rc *runContext) (bool, string, error) {
	record, err := rc.deps.Memory.RecordCase(ctx, rc.caseUID)
	if err != nil {
		return false, "", err
	}
	if record == nil {
		return true, "no hypotheses to remember", nil
	}
	return false, "recorded " + record.UID, nil
}

func stageReportGenerate(ctx context.Context, rc *runContext) (bool, string, error) {
	rep, err := rc.deps.Reports.Generate(ctx, rc.caseUID, rc.runID,
		contracts.ReportConfig{}, rc.budget)
	if err != nil {
		return false, "", err
	}
	return false, "report " + rep.UID, nil
}
