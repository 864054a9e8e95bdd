// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

type fixture struct {
	svc    *Service
	mem    *store.Memory
	vector *store.MemoryVectorIndex
	graph  *store.MemoryGraph
	stub   *llm.StubClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:    store.NewMemory(),
		vector: store.NewMemoryVectorIndex(),
		graph:  store.NewMemoryGraph(),
		stub:   llm.NewStubClient(),
	}
	f.svc = NewService(f.mem, f.vector, f.graph, f.stub, slog.Default())
	require.NoError(t, f.mem.CreateCase(context.Background(),
		&contracts.Case{UID: "case_1", Title: "Border Watch"}))
	return f
}

// seedClaim stores a claim and mirrors it into the vector index the way
// the ingest path does.
func (f *fixture) seedClaim(t *testing.T, uid, text, source string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mem.CreateSourceClaim(ctx, &contracts.SourceClaim{
		UID: uid, CaseUID: "case_1", ChunkUID: "chk_1",
		Text:       text,
		Selectors:  []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "x"}},
		SourceName: source,
		CreatedAt:  at,
	}))
	vec, deg := f.stub.Embed(ctx, text)
	require.Nil(t, deg)
	require.NoError(t, f.vector.Upsert(ctx, store.ClassClaim, uid, "case_1", text, vec))
}

func TestAskAnswersWithCitations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.seedClaim(t, "clm_1", "armored units moved toward the northern border", "agency-a", at)
	f.seedClaim(t, "clm_2", "a second battalion crossed the river checkpoint", "agency-b", at)
	f.stub.SetResponse("chat_answer",
		"Armored units are moving north [1] and a battalion crossed the river [2].")

	answer, err := f.svc.Ask(ctx, "case_1", "are armored units moving toward the border",
		"trc_1", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelFact, answer.AnswerType)
	assert.Empty(t, answer.CannotAnswerReason)
	require.Len(t, answer.EvidenceCitations, 2)
	assert.Equal(t, "clm_1", answer.EvidenceCitations[0].EvidenceUID)
	assert.Equal(t, "agency-a", answer.EvidenceCitations[0].Source)
	assert.NotContains(t, answer.RiskFlags, contracts.RiskSourcesInsufficient)
}

func TestAskWithoutCitationsStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClaim(t, "clm_1", "grain exports rose last quarter", "agency-a",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	// The draft cites nothing, so no citation survives the gate.
	f.stub.SetResponse("chat_answer", "It is unclear from the available reporting.")

	answer, err := f.svc.Ask(ctx, "case_1", "did the convoy reach the capital",
		"trc_2", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelHypothesis, answer.AnswerType)
	assert.Empty(t, answer.AnswerText)
	assert.Empty(t, answer.EvidenceCitations)
	assert.Equal(t, contracts.RiskEvidenceInsufficient, answer.CannotAnswerReason)
	assert.Contains(t, answer.RiskFlags, contracts.RiskEvidenceInsufficient)
}

func TestAskEmptyRetrieval(t *testing.T) {
	// No claims exist anywhere, so the keyword fallback is also empty.
	f := newFixture(t)
	answer, err := f.svc.Ask(context.Background(), "case_1", "anything at all",
		"trc_3", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelHypothesis, answer.AnswerType)
	assert.Equal(t, contracts.RiskEvidenceInsufficient, answer.CannotAnswerReason)
}

func TestPlanShape(t *testing.T) {
	plain := buildPlan("did the convoy arrive")
	require.Len(t, plain, 2)
	assert.Equal(t, "retrieve", plain[0].Kind)
	assert.Equal(t, "synthesize", plain[1].Kind)

	graph := buildPlan("what is the relationship between Acme and the ministry")
	require.Len(t, graph, 3)
	assert.Equal(t, "kg", graph[1].Kind)
}

func TestGraphRetrievalFeedsAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.graph.UpsertEntity(ctx, &contracts.Entity{
		UID: "ent_1", CaseUID: "case_1", Name: "Acme Corp", Type: "Organization"}))
	require.NoError(t, f.graph.UpsertEntity(ctx, &contracts.Entity{
		UID: "ent_2", CaseUID: "case_1", Name: "Border Province", Type: "Location"}))
	require.NoError(t, f.graph.UpsertRelation(ctx, &contracts.RelationFact{
		UID: "rel_1", CaseUID: "case_1", SourceUID: "ent_1", TargetUID: "ent_2",
		Type: "OPERATES_IN", SupportingClaimUID: []string{"clm_9"}, EvidenceStrength: 0.8,
	}))
	f.stub.SetResponse("chat_answer", "Acme Corp operates in Border Province [1].")

	answer, err := f.svc.Ask(ctx, "case_1", "what is the relationship between Acme and the border province",
		"trc_4", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelFact, answer.AnswerType)
	require.Len(t, answer.EvidenceCitations, 1)
	assert.Equal(t, "clm_9", answer.EvidenceCitations[0].EvidenceUID)
}

func TestKeywordFallbackWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClaim(t, "clm_1", "armored units moved toward the northern border", "agency-a",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.stub.FailEmbed = true
	f.stub.SetResponse("chat_answer", "Armored units moved north [1].")

	answer, err := f.svc.Ask(ctx, "case_1", "did armored units approach the border",
		"trc_5", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelFact, answer.AnswerType)
	require.Len(t, answer.EvidenceCitations, 1)
	assert.Equal(t, "clm_1", answer.EvidenceCitations[0].EvidenceUID)
}

func TestKeywordFallbackWhenVectorIndexEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// The claim exists only in the relational store; the vector index
	// has not been populated and the embedder is healthy.
	require.NoError(t, f.mem.CreateSourceClaim(ctx, &contracts.SourceClaim{
		UID: "clm_1", CaseUID: "case_1", ChunkUID: "chk_1",
		Text:       "the convoy crossed the northern border at dawn",
		Selectors:  []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "x"}},
		SourceName: "agency-a",
		CreatedAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}))
	f.stub.SetResponse("chat_answer", "The convoy crossed the northern border [1].")

	answer, err := f.svc.Ask(ctx, "case_1", "did the convoy cross the northern border",
		"trc_11", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelFact, answer.AnswerType)
	assert.Empty(t, answer.CannotAnswerReason)
	require.Len(t, answer.EvidenceCitations, 1)
	assert.Equal(t, "clm_1", answer.EvidenceCitations[0].EvidenceUID)
}

func TestRiskFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Single source, and the question asks about a year the evidence
	// does not cover.
	f.seedClaim(t, "clm_1", "armored units moved toward the northern border", "agency-a",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.stub.SetResponse("chat_answer", "Units moved north [1].")

	answer, err := f.svc.Ask(ctx, "case_1", "did armored units move during 2020",
		"trc_6", nil, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Contains(t, answer.RiskFlags, contracts.RiskSourcesInsufficient)
	assert.Contains(t, answer.RiskFlags, contracts.RiskTimeRangeConflict)
}

func TestReplayByTraceID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClaim(t, "clm_1", "armored units moved toward the northern border", "agency-a",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.stub.SetResponse("chat_answer", "Units moved north [1].")

	asked, err := f.svc.Ask(ctx, "case_1", "did armored units move north",
		"trc_7", nil, contracts.BudgetContext{})
	require.NoError(t, err)

	replayed, err := f.svc.Replay(ctx, "trc_7")
	require.NoError(t, err)
	assert.Equal(t, asked.AnswerText, replayed.AnswerText)
	assert.Equal(t, asked.AnswerType, replayed.AnswerType)
	require.Len(t, replayed.EvidenceCitations, 1)
	assert.Equal(t, "clm_1", replayed.EvidenceCitations[0].EvidenceUID)

	_, err = f.svc.Replay(ctx, "trc_missing")
	require.Error(t, err)
}

func TestAskSinkReceivesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClaim(t, "clm_1", "armored units moved toward the northern border", "agency-a",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.stub.SetResponse("chat_answer", "Units moved north [1].")

	var events []string
	sink := func(eventType string, _ map[string]any) { events = append(events, eventType) }
	_, err := f.svc.Ask(ctx, "case_1", "did armored units move north", "trc_8", sink, contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Equal(t, "chat.plan", events[0])
	assert.Contains(t, events, "chat.citation")
	assert.Equal(t, "chat.answer", events[len(events)-1])
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), "case_1", "   ", "trc_9", nil, contracts.BudgetContext{})
	require.Error(t, err)

	_, err = f.svc.Ask(context.Background(), "case_missing", "question", "trc_10", nil, contracts.BudgetContext{})
	require.Error(t, err)
	assert.True(t, contracts.IsNotFound(err))
}
