// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package identity proposes and applies entity merges. Merges are never
// destructive: an approved merge projects a SAME_AS edge keyed by its
// action UID, so rollback is an edge removal with no data loss.
package identity

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/identity")

// Config tunes the resolution thresholds.
type Config struct {
	// CosineThreshold is the pairwise bar for the embedding path.
	CosineThreshold float64
	// CertainFloor is the mean cluster similarity below which a merge
	// stays pending for human review.
	CertainFloor float64
	// AliasConfidence is assigned to exact alias-table matches.
	AliasConfidence float64
}

func DefaultConfig() Config {
	return Config{
		CosineThreshold: 0.82,
		CertainFloor:    0.7,
		AliasConfidence: 0.95,
	}
}

// Resolver proposes merges over a case's entities and manages their
// lifecycle.
type Resolver struct {
	store  store.Store
	graph  store.GraphStore
	llm    llm.Client
	config Config
	logger *slog.Logger
}

func NewResolver(st store.Store, graph store.GraphStore, client llm.Client, config Config, logger *slog.Logger) *Resolver {
	if config.CosineThreshold == 0 {
		config = DefaultConfig()
	}
	return &Resolver{store: st, graph: graph, llm: client, config: config, logger: logger}
}

// Normalize canonicalizes an entity name: NFKC normalization, lower
// case, punctuation stripped, whitespace collapsed.
func Normalize(name string) string {
	s := norm.NFKC.String(name)
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Resolve scans the entities and returns one identity action per merge
// group. Exact alias matches merge with high confidence and apply
// immediately; embedding matches above the cosine bar merge, but stay
// pending when the mean cluster similarity is under the certain floor.
func (r *Resolver) Resolve(ctx context.Context, caseUID string, entities []contracts.Entity) ([]contracts.EntityIdentityAction, error) {
	ctx, span := tracer.Start(ctx, "identity.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID), attribute.Int("entities", len(entities)))

	ordered := make([]contracts.Entity, len(entities))
	copy(ordered, entities)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UID < ordered[j].UID })

	merged := make(map[string]bool)
	var actions []contracts.EntityIdentityAction

	// Pass 1: exact alias-table matches.
	byKey := make(map[string][]int)
	for i, e := range ordered {
		keys := []string{Normalize(e.Name)}
		for _, alias := range e.Aliases {
			keys = append(keys, Normalize(alias))
		}
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			byKey[k] = append(byKey[k], i)
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		idxs := byKey[k]
		group := make([]int, 0, len(idxs))
		for _, i := range idxs {
			if !merged[ordered[i].UID] {
				group = append(group, i)
			}
		}
		if len(group) < 2 {
			continue
		}
		action, err := r.propose(ctx, caseUID, ordered, group,
			r.config.AliasConfidence, true, "exact alias match on "+k)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
		for _, i := range group {
			merged[ordered[i].UID] = true
		}
	}

	// Pass 2: embedding similarity over the remainder.
	var rest []int
	vectors := make(map[string][]float32)
	for i, e := range ordered {
		if merged[e.UID] {
			continue
		}
		vec, deg := r.llm.Embed(ctx, e.Name)
		if deg != nil {
			r.logger.Warn("identity embedding degraded", "entity_uid", e.UID, "reason", deg.Reason)
			continue
		}
		vectors[e.UID] = vec
		rest = append(rest, i)
	}
	used := make(map[int]bool)
	for gi, i := range rest {
		if used[i] {
			continue
		}
		group := []int{i}
		var sims []float64
		for _, j := range rest[gi+1:] {
			if used[j] {
				continue
			}
			sim := cosine(vectors[ordered[i].UID], vectors[ordered[j].UID])
			if sim >= r.config.CosineThreshold {
				group = append(group, j)
				sims = append(sims, sim)
			}
		}
		if len(group) < 2 {
			continue
		}
		mean := 0.0
		for _, s := range sims {
			mean += s
		}
		mean /= float64(len(sims))
		certain := mean >= r.config.CertainFloor
		action, err := r.propose(ctx, caseUID, ordered, group, mean, certain,
			"embedding similarity match")
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
		for _, g := range group {
			used[g] = true
		}
	}

	return actions, nil
}

// propose records the identity action; certain merges apply immediately.
func (r *Resolver) propose(ctx context.Context, caseUID string, entities []contracts.Entity, group []int, confidence float64, certain bool, rationale string) (*contracts.EntityIdentityAction, error) {
	uids := make([]string, 0, len(group))
	for _, i := range group {
		uids = append(uids, entities[i].UID)
	}
	action := &contracts.EntityIdentityAction{
		UID:        contracts.NewUID(contracts.PrefixIdentity),
		CaseUID:    caseUID,
		Type:       "merge",
		EntityUIDs: uids,
		Confidence: confidence,
		Certain:    certain,
		Rationale:  rationale,
		Status:     contracts.IdentityPending,
		CreatedAt:  time.Now(),
	}
	if err := r.store.CreateIdentityAction(ctx, action); err != nil {
		return nil, err
	}
	if certain {
		if err := r.apply(ctx, action, "system"); err != nil {
			return nil, err
		}
	}
	r.logger.Info("identity merge proposed", "case_uid", caseUID,
		"action_uid", action.UID, "entities", len(uids), "certain", certain)
	return action, nil
}

// Approve applies a pending merge. Only pending actions can be approved.
func (r *Resolver) Approve(ctx context.Context, actionUID, decidedBy string) (*contracts.EntityIdentityAction, error) {
	action, err := r.store.GetIdentityAction(ctx, actionUID)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.IdentityPending {
		return nil, &contracts.ConflictError{
			Message: "identity action " + actionUID + " is not pending",
		}
	}
	if err := r.apply(ctx, action, decidedBy); err != nil {
		return nil, err
	}
	return action, nil
}

func (r *Resolver) apply(ctx context.Context, action *contracts.EntityIdentityAction, decidedBy string) error {
	canonical := action.EntityUIDs[0]
	for _, other := range action.EntityUIDs[1:] {
		if err := r.graph.ProjectSameAs(ctx, canonical, other, action.UID); err != nil {
			return err
		}
	}
	now := time.Now()
	action.Status = contracts.IdentityApproved
	action.DecidedBy = decidedBy
	action.DecidedAt = now
	return r.store.UpdateIdentityAction(ctx, action)
}

// Reject declines a pending merge. A reason is mandatory.
func (r *Resolver) Reject(ctx context.Context, actionUID, decidedBy, reason string) (*contracts.EntityIdentityAction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, contracts.NewProblem(contracts.CodeValidation,
			"rejection requires a reason", nil)
	}
	action, err := r.store.GetIdentityAction(ctx, actionUID)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.IdentityPending {
		return nil, &contracts.ConflictError{
			Message: "identity action " + actionUID + " is not pending",
		}
	}
	now := time.Now()
	action.Status = contracts.IdentityRejected
	action.Reason = reason
	action.DecidedBy = decidedBy
	action.DecidedAt = now
	if err := r.store.UpdateIdentityAction(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// Rollback reverses an approved merge by deleting its SAME_AS edges.
func (r *Resolver) Rollback(ctx context.Context, actionUID, decidedBy string) (*contracts.EntityIdentityAction, error) {
	action, err := r.store.GetIdentityAction(ctx, actionUID)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.IdentityApproved {
		return nil, &contracts.ConflictError{
			Message: "identity action " + actionUID + " is not approved",
		}
	}
	if err := r.graph.RemoveSameAs(ctx, actionUID); err != nil {
		return nil, err
	}
	now := time.Now()
	action.Status = contracts.IdentityRolledBack
	action.DecidedBy = decidedBy
	action.DecidedAt = now
	if err := r.store.UpdateIdentityAction(ctx, action); err != nil {
		return nil, err
	}
	r.logger.Info("identity merge rolled back", "action_uid", actionUID, "by", decidedBy)
	return action, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
