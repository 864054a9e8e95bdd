// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

func TestMemoryCaseRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	c := &contracts.Case{UID: "case_1", Title: "Border incident", CreatedAt: time.Now()}
	require.NoError(t, m.CreateCase(ctx, c))

	got, err := m.GetCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Equal(t, "Border incident", got.Title)

	_, err = m.GetCase(ctx, "case_missing")
	assert.True(t, contracts.IsNotFound(err))
}

func TestMemoryAssessmentUpsertKeepsIdentity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &contracts.EvidenceAssessment{
		UID:           "ast_1",
		CaseUID:       "case_1",
		HypothesisUID: "hyp_1",
		EvidenceUID:   "evd_1",
		Relation:      contracts.RelationSupport,
		Strength:      0.8,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, m.UpsertAssessment(ctx, first))

	second := &contracts.EvidenceAssessment{
		UID:           "ast_2",
		CaseUID:       "case_1",
		HypothesisUID: "hyp_1",
		EvidenceUID:   "evd_1",
		Relation:      contracts.RelationContradict,
		Strength:      0.4,
	}
	require.NoError(t, m.UpsertAssessment(ctx, second))

	got, err := m.GetAssessment(ctx, "hyp_1", "evd_1")
	require.NoError(t, err)
	assert.Equal(t, "ast_1", got.UID, "re-assessment keeps the original uid")
	assert.Equal(t, contracts.RelationContradict, got.Relation)

	all, err := m.ListAssessmentsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryEventLogDedup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := &contracts.EventLog{UID: "el_1", SourceEventUID: "src_1", Status: "processing"}
	require.NoError(t, m.CreateEventLog(ctx, e))

	dup := &contracts.EventLog{UID: "el_2", SourceEventUID: "src_1"}
	err := m.CreateEventLog(ctx, dup)
	assert.True(t, contracts.IsConflict(err))

	got, err := m.GetEventLogBySourceUID(ctx, "src_1")
	require.NoError(t, err)
	assert.Equal(t, "el_1", got.UID)
}

func TestMemoryCountDeliveredSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	logs := []contracts.PushLog{
		{UID: "pl_1", UserID: "u1", Status: "delivered", CreatedAt: now.Add(-30 * time.Minute)},
		{UID: "pl_2", UserID: "u1", Status: "delivered", CreatedAt: now.Add(-2 * time.Hour)},
		{UID: "pl_3", UserID: "u1", Status: "throttled", CreatedAt: now.Add(-10 * time.Minute)},
		{UID: "pl_4", UserID: "u2", Status: "delivered", CreatedAt: now.Add(-5 * time.Minute)},
	}
	for i := range logs {
		require.NoError(t, m.CreatePushLog(ctx, &logs[i]))
	}

	count, err := m.CountDeliveredSince(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryRetentionSweep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, m.CreateArtifactVersion(ctx, &contracts.ArtifactVersion{
		UID: "ver_cited", CaseUID: "case_1", ExpiresAt: past,
	}))
	require.NoError(t, m.CreateArtifactVersion(ctx, &contracts.ArtifactVersion{
		UID: "ver_free", CaseUID: "case_1", ExpiresAt: past,
	}))
	require.NoError(t, m.CreateChunk(ctx, &contracts.Chunk{
		UID: "chk_1", CaseUID: "case_1", VersionUID: "ver_cited", Text: "quoted text",
	}))
	require.NoError(t, m.CreateSourceClaim(ctx, &contracts.SourceClaim{
		UID: "clm_1", CaseUID: "case_1", ChunkUID: "chk_1", Text: "claim",
		Selectors: []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "quoted text"}},
	}))

	marked, err := m.MarkExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, marked, "cited version must survive the sweep")

	cited, err := m.GetArtifactVersion(ctx, "ver_cited")
	require.NoError(t, err)
	assert.False(t, cited.Expired)

	free, err := m.GetArtifactVersion(ctx, "ver_free")
	require.NoError(t, err)
	assert.True(t, free.Expired)
}

func TestMemoryGraphSameAsRollback(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()

	require.NoError(t, g.UpsertEntity(ctx, &contracts.Entity{UID: "ent_a", CaseUID: "case_1", Name: "A. Volkov"}))
	require.NoError(t, g.UpsertEntity(ctx, &contracts.Entity{UID: "ent_b", CaseUID: "case_1", Name: "Alexei Volkov"}))

	require.NoError(t, g.ProjectSameAs(ctx, "ent_a", "ent_b", "ida_1"))
	sub, err := g.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	require.Len(t, sub.SameAs, 1)

	require.NoError(t, g.RemoveSameAs(ctx, "ida_1"))
	sub, err = g.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, sub.SameAs, "both originals remain after rollback")
	assert.Len(t, sub.Entities, 2)
}

func TestMemoryVectorIndexSearch(t *testing.T) {
	idx := NewMemoryVectorIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, ClassChunk, "chk_1", "case_1", "troop movement near border", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, ClassChunk, "chk_2", "case_1", "grain export figures", []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, ClassChunk, "chk_3", "case_2", "unrelated case", []float32{1, 0, 0}))

	hits, err := idx.Search(ctx, ClassChunk, "case_1", []float32{0.9, 0.1, 0}, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "chk_1", hits[0].UID)
	for _, h := range hits {
		assert.NotEqual(t, "chk_3", h.UID, "search is scoped to the case")
	}

	require.NoError(t, idx.DeleteByCase(ctx, ClassChunk, "case_1"))
	hits, err = idx.Search(ctx, ClassChunk, "case_1", []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFSObjectStoreRoundTrip(t *testing.T) {
	s, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "case_1/ver_1", strings.NewReader("raw body"), "text/plain"))

	r, err := s.Get(ctx, "case_1/ver_1")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "raw body", string(body))

	require.NoError(t, s.Delete(ctx, "case_1/ver_1"))
	_, err = s.Get(ctx, "case_1/ver_1")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
