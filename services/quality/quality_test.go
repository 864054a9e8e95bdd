// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package quality

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

func alertKinds(card *Scorecard) map[string]bool {
	out := make(map[string]bool)
	for _, a := range card.Alerts {
		out[a.Kind] = true
	}
	return out
}

func biasKinds(card *Scorecard) map[string]bool {
	out := make(map[string]bool)
	for _, b := range card.Biases {
		out[b.Kind] = true
	}
	return out
}

func blindspotKinds(card *Scorecard) map[string]bool {
	out := make(map[string]bool)
	for _, b := range card.Blindspots {
		out[b.Kind] = true
	}
	return out
}

func TestScoreCoverageAlert(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, mem.CreateEvidence(ctx, &contracts.Evidence{
			UID: fmt.Sprintf("evd_%d", i), CaseUID: "case_1",
		}))
	}
	// Only 1 of 4 evidence rows is assessed.
	require.NoError(t, mem.UpsertAssessment(ctx, &contracts.EvidenceAssessment{
		UID: "asm_1", CaseUID: "case_1", HypothesisUID: "hyp_a",
		EvidenceUID: "evd_0", Relation: contracts.RelationSupport, Likelihood: 0.9,
	}))

	card, err := NewScorer(mem, slog.Default()).Score(ctx, "case_1")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, card.EvidenceCoverage, 1e-12)
	assert.True(t, alertKinds(card)["low_evidence_coverage"])
}

func TestScoreConflictAndDiagnosticityAlerts(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, mem.CreateAssertion(ctx, &contracts.Assertion{
			UID: fmt.Sprintf("ast_%d", i), CaseUID: "case_1",
			SourceClaimUIDs: []string{"clm_1"},
			Value:           contracts.DSValue{HasConflict: true},
		}))
	}
	require.NoError(t, mem.CreateEvidence(ctx, &contracts.Evidence{UID: "evd_1", CaseUID: "case_1"}))
	// Both hypotheses get near-identical likelihoods: useless evidence.
	require.NoError(t, mem.UpsertAssessment(ctx, &contracts.EvidenceAssessment{
		UID: "asm_1", CaseUID: "case_1", HypothesisUID: "hyp_a",
		EvidenceUID: "evd_1", Relation: contracts.RelationSupport, Likelihood: 0.55,
	}))
	require.NoError(t, mem.UpsertAssessment(ctx, &contracts.EvidenceAssessment{
		UID: "asm_2", CaseUID: "case_1", HypothesisUID: "hyp_b",
		EvidenceUID: "evd_1", Relation: contracts.RelationSupport, Likelihood: 0.5,
	}))

	card, err := NewScorer(mem, slog.Default()).Score(ctx, "case_1")
	require.NoError(t, err)
	assert.Equal(t, 5, card.UnresolvedConflicts)
	assert.InDelta(t, 1.1, card.AvgDiagnosticity, 1e-9)

	kinds := alertKinds(card)
	assert.True(t, kinds["unresolved_conflicts"])
	assert.True(t, kinds["low_diagnosticity"])
}

func TestBiasDetection(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Same source, same attribution, near-duplicate texts.
	for i := 0; i < 4; i++ {
		require.NoError(t, mem.CreateSourceClaim(ctx, &contracts.SourceClaim{
			UID: fmt.Sprintf("clm_%d", i), CaseUID: "case_1", ChunkUID: "chk_1",
			Text:         "the dam is at capacity",
			Selectors:    []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "x"}},
			SourceName:   "agency-a",
			AttributedTo: "spokesperson",
			CreatedAt:    base.Add(time.Duration(i) * day()),
		}))
	}
	require.NoError(t, mem.UpsertAssessment(ctx, &contracts.EvidenceAssessment{
		UID: "asm_1", CaseUID: "case_1", HypothesisUID: "hyp_a",
		EvidenceUID: "evd_1", Relation: contracts.RelationSupport, Likelihood: 0.9,
	}))

	card, err := NewScorer(mem, slog.Default()).Score(ctx, "case_1")
	require.NoError(t, err)

	kinds := biasKinds(card)
	assert.True(t, kinds["single_source"])
	assert.True(t, kinds["single_stance"])
	assert.True(t, kinds["homogeneity"])
	assert.True(t, kinds["confirmation"])
}

func TestNoBiasWithDiverseEvidence(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	texts := []string{
		"the dam is at capacity",
		"water levels fell downstream",
		"engineers inspected the spillway",
	}
	for i, text := range texts {
		require.NoError(t, mem.CreateSourceClaim(ctx, &contracts.SourceClaim{
			UID: fmt.Sprintf("clm_%d", i), CaseUID: "case_1", ChunkUID: "chk_1",
			Text:         text,
			Selectors:    []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "x"}},
			SourceName:   fmt.Sprintf("agency-%d", i),
			AttributedTo: fmt.Sprintf("official-%d", i),
			CreatedAt:    base.Add(time.Duration(i) * day()),
		}))
	}
	require.NoError(t, mem.UpsertAssessment(ctx, &contracts.EvidenceAssessment{
		UID: "asm_1", CaseUID: "case_1", HypothesisUID: "hyp_a",
		EvidenceUID: "evd_1", Relation: contracts.RelationContradict, Likelihood: 0.2,
	}))

	card, err := NewScorer(mem, slog.Default()).Score(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, card.Biases)
}

func TestBlindspots(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Claims but no assertions; a big hole in the middle of collection.
	at := []time.Time{
		base, base.Add(time.Minute), base.Add(2 * time.Minute),
		base.Add(40 * time.Minute),
	}
	for i, ts := range at {
		require.NoError(t, mem.CreateSourceClaim(ctx, &contracts.SourceClaim{
			UID: fmt.Sprintf("clm_%d", i), CaseUID: "case_1", ChunkUID: "chk_1",
			Text:      fmt.Sprintf("claim %d", i),
			Selectors: []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: "x"}},
			CreatedAt: ts,
		}))
	}

	card, err := NewScorer(mem, slog.Default()).Score(ctx, "case_1")
	require.NoError(t, err)

	kinds := blindspotKinds(card)
	assert.True(t, kinds["missing_assertions"])
	assert.True(t, kinds["narrow_temporal_spread"])
	assert.True(t, kinds["collection_gap"])
	for _, b := range card.Blindspots {
		assert.Equal(t, "LOW", b.Severity)
	}
}

func TestCompositeScoreBounds(t *testing.T) {
	mem := store.NewMemory()
	card, err := NewScorer(mem, slog.Default()).Score(context.Background(), "case_empty")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, card.Score, 0.0)
	assert.LessOrEqual(t, card.Score, 1.0)
}

func day() time.Duration { return 24 * time.Hour }
