// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package narrative

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

func claimAt(uid, text string, at time.Time) contracts.SourceClaim {
	return contracts.SourceClaim{
		UID:       uid,
		CaseUID:   "case_1",
		Text:      text,
		CreatedAt: at,
		Selectors: []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: text}},
	}
}

func TestBuildSplitsUnrelatedThemes(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []contracts.SourceClaim{
		claimAt("clm_1", "missile systems moved toward the eastern border", base),
		claimAt("clm_2", "missile systems moved toward the eastern border overnight", base.Add(10*time.Minute)),
		claimAt("clm_3", "central bank raised interest rates again", base.Add(20*time.Minute)),
	}

	narratives := b.Build("case_1", claims, nil)
	require.Len(t, narratives, 2)
}

func TestBuildRespectsTimeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeWindowHours = 1
	b := New(cfg, slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []contracts.SourceClaim{
		claimAt("clm_1", "port closure announced by the authority", base),
		claimAt("clm_2", "port closure announced by the authority", base.Add(3*time.Hour)),
	}

	narratives := b.Build("case_1", claims, nil)
	assert.Len(t, narratives, 2, "same text outside the window starts a new narrative")
}

func TestBuildDeterministic(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var claims []contracts.SourceClaim
	for i := 0; i < 8; i++ {
		text := "convoy sighted on the highway"
		if i%2 == 1 {
			text = "fuel shortages reported in the capital"
		}
		claims = append(claims, claimAt(fmt.Sprintf("clm_%d", i), text, base.Add(time.Duration(i)*time.Minute)))
	}

	first := b.Build("case_1", claims, nil)
	second := b.Build("case_1", claims, nil)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].SourceClaimUIDs, second[i].SourceClaimUIDs)
	}
}

func TestTraceIsTimeOrdered(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []contracts.SourceClaim{
		claimAt("clm_2", "checkpoint erected on route nine", base.Add(5*time.Minute)),
		claimAt("clm_1", "checkpoint erected on route nine", base),
		claimAt("clm_3", "checkpoint erected on route nine", base.Add(10*time.Minute)),
	}
	narratives := b.Build("case_1", claims, nil)
	require.Len(t, narratives, 1)

	chain := Trace(&narratives[0], claims)
	require.Len(t, chain, 3)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].CreatedAt.Before(chain[i-1].CreatedAt))
	}
}

func TestCoordinationFiveClaimBurst(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var claims []contracts.SourceClaim
	for i := 0; i < 5; i++ {
		claims = append(claims, claimAt(fmt.Sprintf("clm_%d", i),
			"breaking government forces entered the city center",
			base.Add(time.Duration(i*4)*time.Minute)))
	}

	narratives := b.Build("case_1", claims, nil)
	require.Len(t, narratives, 1)

	signals := b.DetectCoordination(narratives, claims, nil)
	require.Len(t, signals, 1)
	s := signals[0]
	assert.GreaterOrEqual(t, s.Similarity, 0.4)
	assert.GreaterOrEqual(t, s.TimeBurst, 0.8)
	assert.Greater(t, s.Confidence, 0.5)
	assert.Len(t, s.SourceClaimUIDs, 5)
	assert.NotEmpty(t, s.FalsePositiveExplanation)
}

func TestCoordinationLowConfidenceLabel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.99
	b := New(cfg, slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var claims []contracts.SourceClaim
	for i := 0; i < 4; i++ {
		claims = append(claims, claimAt(fmt.Sprintf("clm_%d", i),
			"protests continued outside parliament", base.Add(time.Duration(i*10)*time.Minute)))
	}
	narratives := b.Build("case_1", claims, nil)
	signals := b.DetectCoordination(narratives, claims, nil)

	require.Len(t, signals, 1)
	assert.Equal(t, "low_confidence", signals[0].Label)
	assert.Contains(t, signals[0].FalsePositiveExplanation, "natural propagation cannot be ruled out")
}

func TestCoordinationSkipsSmallClusters(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []contracts.SourceClaim{
		claimAt("clm_1", "dam levels dropped again", base),
		claimAt("clm_2", "dam levels dropped again", base.Add(time.Minute)),
	}
	narratives := b.Build("case_1", claims, nil)
	signals := b.DetectCoordination(narratives, claims, nil)
	assert.Empty(t, signals)
}

func TestEmbeddingPathRaisesThreshold(t *testing.T) {
	b := New(DefaultConfig(), slog.Default())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := []contracts.SourceClaim{
		claimAt("clm_1", "alpha", base),
		claimAt("clm_2", "beta", base.Add(time.Minute)),
	}
	// Cosine 0.5: above the token threshold but below the 0.6 floor.
	embeddings := map[string][]float32{
		"clm_1": {1, 0},
		"clm_2": {0.5, 0.866},
	}
	narratives := b.Build("case_1", claims, embeddings)
	assert.Len(t, narratives, 2)

	// Near-identical vectors cluster.
	embeddings["clm_2"] = []float32{0.99, 0.01}
	narratives = b.Build("case_1", claims, embeddings)
	assert.Len(t, narratives, 1)
}
