// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kg

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/ontology"
	"github.com/AegiAI/aegi-core/services/store"
)

func newBuilder(t *testing.T) (*Builder, *store.Memory, *store.MemoryGraph, *llm.StubClient) {
	t.Helper()
	mem := store.NewMemory()
	graph := store.NewMemoryGraph()
	stub := llm.NewStubClient()
	registry := ontology.NewRegistry(nil, slog.Default())
	require.NoError(t, registry.Publish(context.Background(), contracts.OntologyVersion{
		Version: "v1",
		EntityTypes: []contracts.TypeSpec{
			{Name: "Organization"},
			{Name: "Location"},
			{Name: "Facility", Properties: []contracts.PropertySpec{{Name: "operator", Required: true}}},
		},
		EventTypes: []contracts.TypeSpec{{Name: "Movement"}},
		RelationTypes: []contracts.RelationSpec{
			{Name: "OPERATES_IN", Domain: []string{"Organization"}, Range: []string{"Location"}},
		},
	}))
	return NewBuilder(mem, graph, registry, stub, slog.Default()), mem, graph, stub
}

func assertion(uid, statement string) contracts.Assertion {
	return contracts.Assertion{
		UID:             uid,
		CaseUID:         "case_1",
		Statement:       statement,
		SourceClaimUIDs: []string{"clm_1"},
		Value:           contracts.DSValue{Confidence: 0.8},
	}
}

func TestBuildValidExtraction(t *testing.T) {
	b, mem, graph, stub := newBuilder(t)
	ctx := context.Background()

	stub.SetResponse("kg_extract", `{
		"entities": [
			{"name": "Northern Fleet", "type": "Organization"},
			{"name": "Kola Bay", "type": "Location"}
		],
		"events": [{"name": "fleet exercise", "type": "Movement", "occurred_at": "2026-03-01T10:00:00Z"}],
		"relations": [{"source": "Northern Fleet", "target": "Kola Bay", "type": "OPERATES_IN"}]
	}`)

	result, err := b.BuildFromAssertions(ctx, "case_1", "trc_1",
		[]contracts.Assertion{assertion("ast_1", "the fleet exercised in the bay")},
		contracts.BudgetContext{})
	require.NoError(t, err)
	assert.Len(t, result.Entities, 2)
	assert.Len(t, result.Events, 1)
	require.Len(t, result.Relations, 1)
	assert.Empty(t, result.Skipped)

	rel := result.Relations[0]
	assert.Equal(t, "OPERATES_IN", rel.Type)
	assert.Equal(t, []string{"clm_1"}, rel.SupportingClaimUID)
	assert.Equal(t, "v1", rel.OntologyVersion)

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, sub.Entities, 2)
	assert.Len(t, sub.Relations, 1)

	stored, err := mem.ListRelationsByCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	action, err := mem.GetActionByTraceID(ctx, "trc_1")
	require.NoError(t, err)
	assert.Equal(t, "kg.build", action.Kind)
}

func TestBuildSkipsOntologyViolations(t *testing.T) {
	b, _, graph, stub := newBuilder(t)
	ctx := context.Background()

	stub.SetResponse("kg_extract", `{
		"entities": [
			{"name": "Northern Fleet", "type": "Organization"},
			{"name": "Kola Bay", "type": "Location"},
			{"name": "Dry Dock 3", "type": "Facility"},
			{"name": "Ghost Ship", "type": "Vessel"}
		],
		"relations": [{"source": "Kola Bay", "target": "Northern Fleet", "type": "OPERATES_IN"}]
	}`)

	result, err := b.BuildFromAssertions(ctx, "case_1", "trc_1",
		[]contracts.Assertion{assertion("ast_1", "statement")}, contracts.BudgetContext{})
	require.NoError(t, err)

	// Facility misses its required property; Vessel is unknown; the
	// relation violates its domain.
	assert.Len(t, result.Entities, 2)
	require.Len(t, result.Skipped, 3)
	codes := make(map[string]bool)
	for _, s := range result.Skipped {
		codes[s.ErrorCode] = true
	}
	assert.True(t, codes[contracts.CodeOntologyMissingProps])
	assert.True(t, codes[contracts.CodeOntologyUnknownType])
	assert.True(t, codes[contracts.CodeOntologyDomainViolation])

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, sub.Relations, "violating relation never reaches the graph")
}

func TestBuildLLMFailureFallsBackToRules(t *testing.T) {
	b, _, graph, stub := newBuilder(t)
	ctx := context.Background()
	stub.Fail = true

	// The registry has no "Entity" type, so rule extractions are skipped
	// under validation, but the build itself succeeds.
	result, err := b.BuildFromAssertions(ctx, "case_1", "trc_1",
		[]contracts.Assertion{assertion("ast_1", "forces from Northern Fleet docked near Kola Bay")},
		contracts.BudgetContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Skipped)

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, sub.Relations)
}

func TestRuleExtractFindsProperNouns(t *testing.T) {
	ex := ruleExtract("forces from Northern Fleet docked near Kola Bay yesterday")
	names := make([]string, 0, len(ex.Entities))
	for _, e := range ex.Entities {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"Northern Fleet", "Kola Bay"}, names)
	assert.Empty(t, ex.Relations)
}

// ---------------------------------------------------------------------------
// Analyses
// ---------------------------------------------------------------------------

func lineGraph(uids ...string) *store.Subgraph {
	sub := &store.Subgraph{
		Entities: make(map[string]contracts.Entity),
		Events:   make(map[string]contracts.Event),
	}
	for _, uid := range uids {
		sub.Entities[uid] = contracts.Entity{UID: uid, CaseUID: "case_1"}
	}
	for i := 1; i < len(uids); i++ {
		sub.Relations = append(sub.Relations, contracts.RelationFact{
			UID: "rel_" + uids[i], SourceUID: uids[i-1], TargetUID: uids[i],
		})
	}
	return sub
}

func TestCommunitiesSplitDisconnectedComponents(t *testing.T) {
	sub := lineGraph("ent_a", "ent_b", "ent_c")
	sub.Entities["ent_x"] = contracts.Entity{UID: "ent_x"}
	sub.Entities["ent_y"] = contracts.Entity{UID: "ent_y"}
	sub.Relations = append(sub.Relations, contracts.RelationFact{
		UID: "rel_xy", SourceUID: "ent_x", TargetUID: "ent_y",
	})

	communities := Communities(sub)
	require.Len(t, communities, 2)
	total := 0
	for _, c := range communities {
		total += len(c)
	}
	assert.Equal(t, 5, total)
}

func TestSameAsJoinsComponents(t *testing.T) {
	sub := lineGraph("ent_a", "ent_b")
	sub.Entities["ent_c"] = contracts.Entity{UID: "ent_c"}
	require.Len(t, Communities(sub), 2)

	sub.SameAs = append(sub.SameAs, [2]string{"ent_b", "ent_c"})
	assert.Len(t, Communities(sub), 1, "merged identities analyze as one unit")
}

func TestCentralityOnLine(t *testing.T) {
	sub := lineGraph("ent_a", "ent_b", "ent_c")

	degree := DegreeCentrality(sub)
	assert.Greater(t, degree["ent_b"], degree["ent_a"])

	between := Betweenness(sub)
	assert.Greater(t, between["ent_b"], between["ent_a"])
	assert.Equal(t, 0.0, between["ent_a"])

	rank := PageRank(sub)
	sum := 0.0
	for _, v := range rank {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, rank["ent_b"], rank["ent_a"])
}

func TestShortestPath(t *testing.T) {
	sub := lineGraph("ent_a", "ent_b", "ent_c", "ent_d")
	assert.Equal(t, []string{"ent_a", "ent_b", "ent_c", "ent_d"}, ShortestPath(sub, "ent_a", "ent_d"))
	assert.Equal(t, []string{"ent_b"}, ShortestPath(sub, "ent_b", "ent_b"))

	sub.Entities["ent_z"] = contracts.Entity{UID: "ent_z"}
	assert.Nil(t, ShortestPath(sub, "ent_a", "ent_z"))
}

func TestTimelineAndGaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := lineGraph("ent_a", "ent_b")
	sub.Entities["ent_lonely"] = contracts.Entity{UID: "ent_lonely"}
	sub.Events["evt_2"] = contracts.Event{UID: "evt_2", OccurredAt: base.Add(2 * time.Hour)}
	sub.Events["evt_1"] = contracts.Event{UID: "evt_1", OccurredAt: base}
	sub.Events["evt_undated"] = contracts.Event{UID: "evt_undated"}
	sub.Relations[0].HasConflict = true

	timeline := Timeline(sub)
	require.Len(t, timeline, 3)
	assert.Equal(t, "evt_1", timeline[0].UID)
	assert.Equal(t, "evt_undated", timeline[2].UID, "undated events sort last")

	gaps := Gaps(sub)
	assert.Equal(t, []string{"ent_lonely"}, gaps.IsolatedEntities)
	assert.Equal(t, []string{"evt_undated"}, gaps.UndatedEvents)
	assert.Len(t, gaps.ConflictedRelations, 1)
	assert.Equal(t, base, gaps.EarliestEvent)
	assert.Equal(t, base.Add(2*time.Hour), gaps.LatestEvent)
}
