// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package investigation runs the event-triggered evidence collection
// agent: bounded rounds of query generation, external fetching and
// ingestion until the stated gap is resolved or the round limit hits.
package investigation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/investigation")

// Document is one fetched external source.
type Document struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Runner executes one search query against external tooling and
// returns the documents it found. Implementations wrap whatever
// collection backends are configured (search APIs, feed readers).
type Runner interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

// Ingestor turns a fetched document into case evidence and reports how
// many claims were extracted from it.
type Ingestor interface {
	IngestDocument(ctx context.Context, caseUID string, doc Document, traceID string) (int, error)
}

// Config bounds the agent.
type Config struct {
	MaxRounds       int
	QueriesPerRound int
	RoundTimeout    time.Duration
	// TriggerEvents lists the bus event types that start a run.
	TriggerEvents []string
}

func (c *Config) applyDefaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.QueriesPerRound <= 0 {
		c.QueriesPerRound = 3
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 2 * time.Minute
	}
	if len(c.TriggerEvents) == 0 {
		c.TriggerEvents = []string{"gdelt.anomaly_detected", "quality.alert"}
	}
}

// activeRun tracks a cancellable in-flight run.
type activeRun struct {
	cancel      context.CancelFunc
	cancelledBy string
}

// Agent is the investigation engine.
type Agent struct {
	store    store.Store
	llm      llm.Client
	runner   Runner
	ingestor Ingestor
	config   Config
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

func NewAgent(st store.Store, client llm.Client, runner Runner, ingestor Ingestor, config Config, logger *slog.Logger) *Agent {
	config.applyDefaults()
	return &Agent{
		store:    st,
		llm:      client,
		runner:   runner,
		ingestor: ingestor,
		config:   config,
		logger:   logger,
		active:   make(map[string]*activeRun),
	}
}

// Register hangs the agent off its trigger event types. Events without
// a case are ignored, and a case with a run already in flight does not
// get a second one.
func (a *Agent) Register(bus *eventbus.Bus) {
	for _, eventType := range a.config.TriggerEvents {
		bus.Subscribe(eventType, a.handleTrigger)
	}
}

func (a *Agent) handleTrigger(ctx context.Context, ev eventbus.Event) error {
	if ev.CaseUID == "" {
		return nil
	}
	running, err := a.store.ListInvestigations(ctx, ev.CaseUID, string(contracts.InvestigationRunning))
	if err != nil {
		return err
	}
	if len(running) > 0 {
		a.logger.Info("investigation already running, trigger ignored",
			"case_uid", ev.CaseUID, "event_type", ev.EventType)
		return nil
	}
	gap := fmt.Sprintf("verify and contextualize %s", ev.EventType)
	if detail, ok := ev.Payload["anomaly_type"].(string); ok {
		gap = fmt.Sprintf("verify and contextualize %s anomaly", detail)
	}
	_, err = a.StartRun(ctx, ev.CaseUID, gap, ev.EventType, ev.SourceEventUID)
	return err
}

// StartRun creates a running investigation and executes it in the
// background. The returned record is the initial snapshot.
func (a *Agent) StartRun(ctx context.Context, caseUID, gap, triggerEvent, triggerUID string) (*contracts.Investigation, error) {
	ctx, span := tracer.Start(ctx, "investigation.StartRun")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	c, err := a.store.GetCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}

	inv := &contracts.Investigation{
		UID:          contracts.NewUID(contracts.PrefixInvestigation),
		CaseUID:      caseUID,
		TriggerEvent: triggerEvent,
		TriggerUID:   triggerUID,
		MaxRounds:    a.config.MaxRounds,
		Status:       contracts.InvestigationRunning,
		CreatedAt:    time.Now(),
	}
	if err := a.store.CreateInvestigation(ctx, inv); err != nil {
		return nil, err
	}

	// The run outlives the triggering request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.active[inv.UID] = &activeRun{cancel: cancel}
	a.mu.Unlock()

	a.logger.Info("investigation started", "investigation_uid", inv.UID,
		"case_uid", caseUID, "trigger", triggerEvent, "gap", gap)
	go a.execute(runCtx, *inv, c.Title, gap)

	snapshot := *inv
	return &snapshot, nil
}

// CancelRun requests cooperative cancellation of a running
// investigation.
func (a *Agent) CancelRun(uid, cancelledBy string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, ok := a.active[uid]
	if !ok {
		return contracts.NewProblem(contracts.CodeInvestigationNotRunning,
			"investigation is not running", map[string]any{"investigation_uid": uid})
	}
	run.cancelledBy = cancelledBy
	run.cancel()
	return nil
}

// ----------------------------------------------------------------------------
// Round loop
// ----------------------------------------------------------------------------

func (a *Agent) execute(ctx context.Context, inv contracts.Investigation, caseTitle, gap string) {
	budget := contracts.BudgetContext{TraceID: inv.UID}

	for round := 1; round <= inv.MaxRounds; round++ {
		if ctx.Err() != nil {
			a.finish(ctx, &inv, contracts.InvestigationCancelled, "")
			return
		}

		roundCtx, cancel := context.WithTimeout(ctx, a.config.RoundTimeout)
		rd := contracts.InvestigationRound{
			Round:     round,
			Queries:   a.buildQueries(roundCtx, caseTitle, gap, round, budget),
			StartedAt: time.Now(),
		}

		for _, query := range rd.Queries {
			if roundCtx.Err() != nil {
				break
			}
			docs, err := a.runner.Search(roundCtx, query)
			if err != nil {
				a.logger.Warn("investigation search failed",
					"investigation_uid", inv.UID, "query", query, "error", err)
				continue
			}
			rd.URLsFetched += len(docs)
			for _, doc := range docs {
				n, err := a.ingestor.IngestDocument(roundCtx, inv.CaseUID, doc, inv.UID)
				if err != nil {
					cancel()
					inv.Rounds = append(inv.Rounds, rd)
					a.finish(ctx, &inv, contracts.InvestigationFailed,
						fmt.Sprintf("ingest %s: %v", doc.URL, err))
					return
				}
				rd.ClaimsExtracted += n
			}
		}
		cancel()

		rd.CompletedAt = time.Now()
		inv.Rounds = append(inv.Rounds, rd)
		inv.TotalClaims += rd.ClaimsExtracted
		if err := a.store.UpdateInvestigation(context.WithoutCancel(ctx), &inv); err != nil {
			a.logger.Error("investigation progress persist failed",
				"investigation_uid", inv.UID, "error", err)
		}

		if ctx.Err() != nil {
			a.finish(ctx, &inv, contracts.InvestigationCancelled, "")
			return
		}
		if a.gapResolved(ctx, &inv, gap, budget) {
			inv.GapResolved = true
			a.finish(ctx, &inv, contracts.InvestigationCompleted, "")
			return
		}
	}
	// Round limit reached with the gap still open.
	a.finish(ctx, &inv, contracts.InvestigationCompleted, "")
}

func (a *Agent) finish(ctx context.Context, inv *contracts.Investigation, status contracts.InvestigationStatus, errMsg string) {
	a.mu.Lock()
	if run, ok := a.active[inv.UID]; ok {
		inv.CancelledBy = run.cancelledBy
		run.cancel()
		delete(a.active, inv.UID)
	}
	a.mu.Unlock()

	inv.Status = status
	inv.Error = errMsg
	inv.CompletedAt = time.Now()
	if err := a.store.UpdateInvestigation(context.WithoutCancel(ctx), inv); err != nil {
		a.logger.Error("investigation final persist failed",
			"investigation_uid", inv.UID, "error", err)
	}
	a.logger.Info("investigation finished", "investigation_uid", inv.UID,
		"status", string(status), "rounds", len(inv.Rounds),
		"claims", inv.TotalClaims, "gap_resolved", inv.GapResolved)
}

// ----------------------------------------------------------------------------
// LLM steps
// ----------------------------------------------------------------------------

// buildQueries asks the model for search queries; on degradation it
// falls back to queries derived from the gap and the case title.
func (a *Agent) buildQueries(ctx context.Context, caseTitle, gap string, round int, budget contracts.BudgetContext) []string {
	var queries []string
	deg := a.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "investigation_queries",
		PromptVersion: "v1",
		Prompt:        queryPrompt(caseTitle, gap, round),
		Budget:        budget,
	}, &queries)
	if deg != nil {
		a.logger.Warn("query generation degraded, using fallback queries",
			"reason", deg.Reason, "detail", deg.Detail)
		return fallbackQueries(caseTitle, gap)
	}

	out := queries[:0]
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			out = append(out, strings.TrimSpace(q))
		}
	}
	if len(out) == 0 {
		return fallbackQueries(caseTitle, gap)
	}
	if len(out) > a.config.QueriesPerRound {
		out = out[:a.config.QueriesPerRound]
	}
	return out
}

func fallbackQueries(caseTitle, gap string) []string {
	return []string{
		gap,
		caseTitle + " latest reporting",
	}
}

func queryPrompt(caseTitle, gap string, round int) string {
	var b strings.Builder
	b.WriteString("You are collecting evidence for the case ")
	b.WriteString(caseTitle)
	b.WriteString(".\nOpen intelligence gap: ")
	b.WriteString(gap)
	fmt.Fprintf(&b, "\nThis is collection round %d.", round)
	b.WriteString("\nRespond with a JSON array of short search query strings,")
	b.WriteString(" most specific first. No commentary.")
	return b.String()
}

// gapCheck is the structured response shape for the resolution check.
type gapCheck struct {
	Resolved bool   `json:"resolved"`
	Reason   string `json:"reason,omitempty"`
}

func (a *Agent) gapResolved(ctx context.Context, inv *contracts.Investigation, gap string, budget contracts.BudgetContext) bool {
	claims, err := a.store.ListClaimsByCase(ctx, inv.CaseUID)
	if err != nil || len(claims) == 0 {
		return false
	}

	var b strings.Builder
	b.WriteString("Intelligence gap under investigation: ")
	b.WriteString(gap)
	fmt.Fprintf(&b, "\nThe case now holds %d extracted claims. Recent claims:\n", len(claims))
	start := len(claims) - 5
	if start < 0 {
		start = 0
	}
	for _, cl := range claims[start:] {
		b.WriteString("- ")
		b.WriteString(cl.Text)
		b.WriteString("\n")
	}
	b.WriteString("Respond with a JSON object with boolean field resolved and")
	b.WriteString(" string field reason, stating whether the gap is now answered.")

	var check gapCheck
	deg := a.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "investigation_gap_check",
		PromptVersion: "v1",
		Prompt:        b.String(),
		Budget:        budget,
	}, &check)
	if deg != nil {
		return false
	}
	if check.Resolved {
		a.logger.Info("investigation gap resolved",
			"investigation_uid", inv.UID, "reason", check.Reason)
	}
	return check.Resolved
}
