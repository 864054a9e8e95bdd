// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fusion

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

func claim(uid, text string, modality contracts.ClaimModality, confidence, credibility float64) contracts.SourceClaim {
	return contracts.SourceClaim{
		UID:         uid,
		CaseUID:     "case_1",
		ChunkUID:    "chk_1",
		Text:        text,
		Modality:    modality,
		Confidence:  confidence,
		Credibility: credibility,
		Selectors:   []contracts.AnchorSelector{{Type: "TextQuoteSelector", Exact: text}},
	}
}

func TestFuseConflictingClaims(t *testing.T) {
	claims := []contracts.SourceClaim{
		claim("clm_1", "Exampleland confirmed the missile deployment near the border",
			contracts.ModalityAsserted, 0.9, 0.8),
		claim("clm_2", "Exampleland denied the missile deployment near the border",
			contracts.ModalityDenied, 0.85, 0.7),
	}

	result := FuseClaims("case_1", claims)

	require.Len(t, result.Assertions, 1)
	a := result.Assertions[0]
	assert.ElementsMatch(t, []string{"clm_1", "clm_2"}, a.SourceClaimUIDs,
		"both conflicting claims stay referenced")
	assert.True(t, a.Value.HasConflict)
	assert.Greater(t, a.Value.ConflictDegree, 0.0)
	assert.Equal(t, 2, a.Value.SourceCount)

	require.NotEmpty(t, result.Conflicts)
	assert.Equal(t, contracts.ConflictModality, result.Conflicts[0].Type)
}

func TestFuseDeterministicConflictSet(t *testing.T) {
	claims := []contracts.SourceClaim{
		claim("clm_b", "troops massed at the northern crossing", contracts.ModalityAsserted, 0.8, 0.9),
		claim("clm_a", "troops massed at the northern crossing", contracts.ModalityDenied, 0.7, 0.9),
		claim("clm_c", "troops massed at the northern crossing", contracts.ModalityAsserted, 0.6, 0.5),
	}

	first := FuseClaims("case_1", claims)
	// Shuffle the input order; output must be identical.
	shuffled := []contracts.SourceClaim{claims[2], claims[0], claims[1]}
	second := FuseClaims("case_1", shuffled)

	require.Equal(t, len(first.Conflicts), len(second.Conflicts))
	for i := range first.Conflicts {
		assert.Equal(t, first.Conflicts[i].ClaimUIDA, second.Conflicts[i].ClaimUIDA)
		assert.Equal(t, first.Conflicts[i].ClaimUIDB, second.Conflicts[i].ClaimUIDB)
		assert.Equal(t, first.Conflicts[i].Type, second.Conflicts[i].Type)
	}
	require.Len(t, first.Assertions, 1)
	require.Len(t, second.Assertions, 1)
	assert.InDelta(t, first.Assertions[0].Value.Belief, second.Assertions[0].Value.Belief, 1e-12)
	assert.InDelta(t, first.Assertions[0].Value.ConflictDegree, second.Assertions[0].Value.ConflictDegree, 1e-12)
}

func TestFuseAgreementRaisesBelief(t *testing.T) {
	single := FuseClaims("case_1", []contracts.SourceClaim{
		claim("clm_1", "the convoy crossed at dawn", contracts.ModalityAsserted, 0.6, 0.8),
	})
	corroborated := FuseClaims("case_1", []contracts.SourceClaim{
		claim("clm_1", "the convoy crossed at dawn", contracts.ModalityAsserted, 0.6, 0.8),
		claim("clm_2", "the convoy crossed at dawn today", contracts.ModalityAsserted, 0.7, 0.9),
	})

	require.Len(t, single.Assertions, 1)
	require.Len(t, corroborated.Assertions, 1)
	assert.Greater(t, corroborated.Assertions[0].Value.Belief, single.Assertions[0].Value.Belief)
	assert.Empty(t, corroborated.Conflicts)
	assert.False(t, corroborated.Assertions[0].Value.HasConflict)
}

func TestFuseBounds(t *testing.T) {
	result := FuseClaims("case_1", []contracts.SourceClaim{
		claim("clm_1", "report one about the port", contracts.ModalityAsserted, 1.0, 1.0),
		claim("clm_2", "report one about the port", contracts.ModalityDenied, 1.0, 1.0),
	})
	require.Len(t, result.Assertions, 1)
	v := result.Assertions[0].Value
	assert.GreaterOrEqual(t, v.Belief, 0.0)
	assert.LessOrEqual(t, v.Plausibility, 1.0)
	assert.GreaterOrEqual(t, v.Plausibility, v.Belief)
	assert.LessOrEqual(t, v.ConflictDegree, 1.0)
}

func TestFuseEmptyInputRecordsRejectedTrace(t *testing.T) {
	mem := store.NewMemory()
	f := New(mem, slog.Default())
	ctx := context.Background()

	result, err := f.Fuse(ctx, "case_1", "trace_1", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Assertions)
	assert.Empty(t, result.Conflicts)

	action, err := mem.GetActionByTraceID(ctx, "trace_1")
	require.NoError(t, err)
	assert.Equal(t, "empty", action.Rationale)

	traces, err := mem.ListToolTraces(ctx, "trace_1")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "rejected", traces[0].Status)
}

func TestFuseGroupsUnrelatedClaims(t *testing.T) {
	result := FuseClaims("case_1", []contracts.SourceClaim{
		claim("clm_1", "naval exercises began in the strait", contracts.ModalityAsserted, 0.8, 0.8),
		claim("clm_2", "wheat prices climbed sharply overnight", contracts.ModalityAsserted, 0.7, 0.6),
	})
	assert.Len(t, result.Assertions, 2, "unrelated claims fuse into separate assertions")
}
