// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

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

func newResolver(t *testing.T, cfg Config) (*Resolver, *store.Memory, *store.MemoryGraph) {
	t.Helper()
	mem := store.NewMemory()
	graph := store.NewMemoryGraph()
	return NewResolver(mem, graph, llm.NewStubClient(), cfg, slog.Default()), mem, graph
}

func entity(uid, name string, aliases ...string) contracts.Entity {
	return contracts.Entity{
		UID:       uid,
		CaseUID:   "case_1",
		Name:      name,
		Type:      "Organization",
		Aliases:   aliases,
		CreatedAt: time.Now(),
	}
}

func seedGraph(t *testing.T, graph *store.MemoryGraph, entities ...contracts.Entity) {
	t.Helper()
	ctx := context.Background()
	for i := range entities {
		require.NoError(t, graph.UpsertEntity(ctx, &entities[i]))
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "acme corp", Normalize("ACME Corp."))
	assert.Equal(t, "acme corp", Normalize("  Acme,  Corp!  "))
	// NFKC folds full-width forms.
	assert.Equal(t, "acme", Normalize("ＡＣＭＥ"))
}

func TestResolveAliasMatchAppliesImmediately(t *testing.T) {
	r, mem, graph := newResolver(t, DefaultConfig())
	ctx := context.Background()

	a := entity("ent_1", "Acme Corp")
	b := entity("ent_2", "ACME Corporation", "Acme Corp.")
	seedGraph(t, graph, a, b)

	actions, err := r.Resolve(ctx, "case_1", []contracts.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	stored, err := mem.GetIdentityAction(ctx, actions[0].UID)
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityApproved, stored.Status)
	assert.True(t, stored.Certain)
	assert.InDelta(t, 0.95, stored.Confidence, 1e-12)
	assert.ElementsMatch(t, []string{"ent_1", "ent_2"}, stored.EntityUIDs)

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	require.Len(t, sub.SameAs, 1, "certain merge projects a SAME_AS edge")
}

func TestResolveEmbeddingMatchBelowFloorStaysPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CosineThreshold = 0.8
	cfg.CertainFloor = 0.95
	r, mem, graph := newResolver(t, cfg)
	ctx := context.Background()

	// Shared tokens give a cosine above the threshold but under the floor.
	a := entity("ent_1", "northern logistics group")
	b := entity("ent_2", "northern logistics group holdings")
	seedGraph(t, graph, a, b)

	actions, err := r.Resolve(ctx, "case_1", []contracts.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Certain)

	stored, err := mem.GetIdentityAction(ctx, actions[0].UID)
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityPending, stored.Status)

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, sub.SameAs, "pending merge touches no edges")
}

func TestResolveUnrelatedEntitiesProposeNothing(t *testing.T) {
	r, _, graph := newResolver(t, DefaultConfig())
	ctx := context.Background()

	a := entity("ent_1", "Ministry of Finance")
	b := entity("ent_2", "Harbor Authority")
	seedGraph(t, graph, a, b)

	actions, err := r.Resolve(ctx, "case_1", []contracts.Entity{a, b})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestApproveRejectRollbackLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CertainFloor = 0.99
	r, mem, graph := newResolver(t, cfg)
	ctx := context.Background()

	a := entity("ent_1", "eastern rail operator")
	b := entity("ent_2", "eastern rail operator company")
	seedGraph(t, graph, a, b)

	actions, err := r.Resolve(ctx, "case_1", []contracts.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	uid := actions[0].UID

	// Reject without a reason is refused.
	_, err = r.Reject(ctx, uid, "analyst1", "  ")
	require.Error(t, err)

	approved, err := r.Approve(ctx, uid, "analyst1")
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityApproved, approved.Status)
	assert.Equal(t, "analyst1", approved.DecidedBy)

	sub, err := graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	require.Len(t, sub.SameAs, 1)

	// Double approve is a conflict.
	_, err = r.Approve(ctx, uid, "analyst2")
	require.Error(t, err)
	assert.True(t, contracts.IsConflict(err))

	rolled, err := r.Rollback(ctx, uid, "analyst2")
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityRolledBack, rolled.Status)

	sub, err = graph.FetchSubgraph(ctx, "case_1")
	require.NoError(t, err)
	assert.Empty(t, sub.SameAs, "rollback removes the projected edge")

	stored, err := mem.GetIdentityAction(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityRolledBack, stored.Status)
}

func TestRejectRecordsReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CertainFloor = 0.99
	r, mem, graph := newResolver(t, cfg)
	ctx := context.Background()

	a := entity("ent_1", "southern media network")
	b := entity("ent_2", "southern media network international")
	seedGraph(t, graph, a, b)

	actions, err := r.Resolve(ctx, "case_1", []contracts.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	rejected, err := r.Reject(ctx, actions[0].UID, "analyst1", "different registrations")
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityRejected, rejected.Status)
	assert.Equal(t, "different registrations", rejected.Reason)

	stored, err := mem.GetIdentityAction(ctx, actions[0].UID)
	require.NoError(t, err)
	assert.Equal(t, contracts.IdentityRejected, stored.Status)
}
