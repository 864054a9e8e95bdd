// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	docs    []Document
	err     error
}

func (r *fakeRunner) Search(_ context.Context, query string) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return r.docs, r.err
}

func (r *fakeRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

// blockingRunner parks in Search until its context is cancelled.
type blockingRunner struct {
	started   chan struct{}
	startOnce sync.Once
}

func (r *blockingRunner) Search(ctx context.Context, _ string) ([]Document, error) {
	r.startOnce.Do(func() { close(r.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeIngestor struct {
	mu            sync.Mutex
	claimsPerDoc  int
	err           error
	docs          []Document
	claimsCreated int
	store         *store.Memory
	caseUID       string
}

func (i *fakeIngestor) IngestDocument(ctx context.Context, caseUID string, doc Document, _ string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return 0, i.err
	}
	i.docs = append(i.docs, doc)
	// Mirror the claims into the store so the gap check sees them.
	if i.store != nil {
		for n := 0; n < i.claimsPerDoc; n++ {
			i.claimsCreated++
			_ = i.store.CreateSourceClaim(ctx, &contracts.SourceClaim{
				UID:        contracts.NewUID(contracts.PrefixSourceClaim),
				CaseUID:    caseUID,
				Text:       fmt.Sprintf("claim %d from %s", i.claimsCreated, doc.URL),
				SourceName: doc.URL,
			})
		}
	}
	return i.claimsPerDoc, nil
}

func newAgent(t *testing.T, runner Runner, ingestor Ingestor, config Config) (*Agent, *store.Memory, *llm.StubClient) {
	t.Helper()
	mem := store.NewMemory()
	stub := llm.NewStubClient()
	require.NoError(t, mem.CreateCase(context.Background(), &contracts.Case{
		UID: "case_1", Title: "Dam Incident", CreatedAt: time.Now(),
	}))
	return NewAgent(mem, stub, runner, ingestor, config, slog.Default()), mem, stub
}

func waitForStatus(t *testing.T, mem *store.Memory, uid string, status contracts.InvestigationStatus) *contracts.Investigation {
	t.Helper()
	var inv *contracts.Investigation
	require.Eventually(t, func() bool {
		got, err := mem.GetInvestigation(context.Background(), uid)
		if err != nil {
			return false
		}
		inv = got
		return got.Status == status
	}, 10*time.Second, 10*time.Millisecond)
	return inv
}

func TestRunCompletesWhenGapResolved(t *testing.T) {
	runner := &fakeRunner{docs: []Document{
		{URL: "https://example.org/a", Text: "report one"},
		{URL: "https://example.org/b", Text: "report two"},
	}}
	ingestor := &fakeIngestor{claimsPerDoc: 2}
	agent, mem, stub := newAgent(t, runner, ingestor, Config{MaxRounds: 3})
	ingestor.store = mem
	stub.SetResponse("investigation_queries", `["dam failure casualty figures"]`)
	stub.SetResponse("investigation_gap_check", `{"resolved": true, "reason": "casualty figures confirmed"}`)

	inv, err := agent.StartRun(context.Background(), "case_1", "confirm casualty figures", "quality.alert", "src-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.InvestigationRunning, inv.Status)

	done := waitForStatus(t, mem, inv.UID, contracts.InvestigationCompleted)
	assert.True(t, done.GapResolved)
	require.Len(t, done.Rounds, 1)
	assert.Equal(t, []string{"dam failure casualty figures"}, done.Rounds[0].Queries)
	assert.Equal(t, 2, done.Rounds[0].URLsFetched)
	assert.Equal(t, 4, done.Rounds[0].ClaimsExtracted)
	assert.Equal(t, 4, done.TotalClaims)
	assert.False(t, done.CompletedAt.IsZero())
}

func TestRunStopsAtRoundLimit(t *testing.T) {
	runner := &fakeRunner{docs: []Document{{URL: "https://example.org/a", Text: "report"}}}
	ingestor := &fakeIngestor{claimsPerDoc: 1}
	agent, mem, stub := newAgent(t, runner, ingestor, Config{MaxRounds: 2, QueriesPerRound: 1})
	ingestor.store = mem
	stub.SetResponse("investigation_queries", `["flood zone situation"]`)
	// No canned gap check: the structured call degrades and the gap
	// stays open.

	inv, err := agent.StartRun(context.Background(), "case_1", "map the flood zone", "quality.alert", "src-1")
	require.NoError(t, err)

	done := waitForStatus(t, mem, inv.UID, contracts.InvestigationCompleted)
	assert.False(t, done.GapResolved)
	assert.Len(t, done.Rounds, 2)
	assert.Equal(t, 2, done.TotalClaims)
}

func TestQueryFallbackWhenLLMDegraded(t *testing.T) {
	runner := &fakeRunner{}
	agent, mem, stub := newAgent(t, runner, &fakeIngestor{}, Config{MaxRounds: 1})
	stub.Fail = true

	inv, err := agent.StartRun(context.Background(), "case_1", "confirm casualty figures", "quality.alert", "src-1")
	require.NoError(t, err)
	waitForStatus(t, mem, inv.UID, contracts.InvestigationCompleted)

	queries := runner.seen()
	require.Len(t, queries, 2)
	assert.Equal(t, "confirm casualty figures", queries[0])
	assert.Equal(t, "Dam Incident latest reporting", queries[1])
}

func TestCancelRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	agent, mem, stub := newAgent(t, runner, &fakeIngestor{}, Config{MaxRounds: 3, RoundTimeout: time.Hour})
	stub.SetResponse("investigation_queries", `["long running query"]`)

	inv, err := agent.StartRun(context.Background(), "case_1", "anything", "quality.alert", "src-1")
	require.NoError(t, err)

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("search never started")
	}
	require.NoError(t, agent.CancelRun(inv.UID, "analyst_7"))

	done := waitForStatus(t, mem, inv.UID, contracts.InvestigationCancelled)
	assert.Equal(t, "analyst_7", done.CancelledBy)

	// A finished run can no longer be cancelled.
	err = agent.CancelRun(inv.UID, "analyst_7")
	var problem *contracts.ProblemDetail
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, contracts.CodeInvestigationNotRunning, problem.ErrorCode)
}

func TestIngestFailureFailsRun(t *testing.T) {
	runner := &fakeRunner{docs: []Document{{URL: "https://example.org/a", Text: "report"}}}
	ingestor := &fakeIngestor{err: errors.New("parser crashed")}
	agent, mem, stub := newAgent(t, runner, ingestor, Config{MaxRounds: 3})
	stub.SetResponse("investigation_queries", `["anything"]`)

	inv, err := agent.StartRun(context.Background(), "case_1", "anything", "quality.alert", "src-1")
	require.NoError(t, err)

	done := waitForStatus(t, mem, inv.UID, contracts.InvestigationFailed)
	assert.Contains(t, done.Error, "parser crashed")
	assert.Contains(t, done.Error, "https://example.org/a")
}

func TestTriggerRegistration(t *testing.T) {
	runner := &fakeRunner{}
	agent, mem, _ := newAgent(t, runner, &fakeIngestor{}, Config{MaxRounds: 1})

	bus := eventbus.New()
	agent.Register(bus)
	bus.EmitAndWait(context.Background(), eventbus.Event{
		EventType:      "gdelt.anomaly_detected",
		CaseUID:        "case_1",
		Severity:       eventbus.SeverityCritical,
		SourceEventUID: "gdelt:1002",
		Payload:        map[string]any{"anomaly_type": "goldstein_extreme"},
	})

	var invs []contracts.Investigation
	require.Eventually(t, func() bool {
		var err error
		invs, err = mem.ListInvestigations(context.Background(), "case_1", "")
		return err == nil && len(invs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "gdelt.anomaly_detected", invs[0].TriggerEvent)
	assert.Equal(t, "gdelt:1002", invs[0].TriggerUID)

	// Events without a case never start a run.
	bus.EmitAndWait(context.Background(), eventbus.Event{
		EventType: "gdelt.anomaly_detected", Severity: eventbus.SeverityWarning,
	})
	time.Sleep(50 * time.Millisecond)
	all, err := mem.ListInvestigations(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStartRunUnknownCase(t *testing.T) {
	agent, _, _ := newAgent(t, &fakeRunner{}, &fakeIngestor{}, Config{})
	_, err := agent.StartRun(context.Background(), "case_missing", "gap", "quality.alert", "src-1")
	assert.True(t, contracts.IsNotFound(err))
}

func TestCancelUnknownRun(t *testing.T) {
	agent, _, _ := newAgent(t, &fakeRunner{}, &fakeIngestor{}, Config{})
	err := agent.CancelRun("inv_missing", "analyst_7")
	var problem *contracts.ProblemDetail
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, contracts.CodeInvestigationNotRunning, problem.ErrorCode)
}
