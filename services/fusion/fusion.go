// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fusion combines source claims into assertions under
// Dempster-Shafer evidence theory. Fusion is deterministic: claims are
// sorted by UID before folding, so the same claim set always yields the
// same assertions and the same conflict set.
package fusion

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/fusion")

// groupOverlapThreshold is the token-overlap bar for two claims to land
// in the same coherent group.
const groupOverlapThreshold = 0.3

// valueConflictThreshold is the per-pair Dempster conflict mass above
// which same-modality claims are recorded as a value conflict.
const valueConflictThreshold = 0.25

// mass is a Dempster-Shafer basic assignment over {true, false, Theta}.
type mass struct {
	t, f, u float64
}

// Result carries one fusion pass over a claim set.
type Result struct {
	Assertions []contracts.Assertion
	Conflicts  []contracts.ClaimConflict
}

// Fuser fuses source claims into assertions and records the audit trail.
type Fuser struct {
	audit  store.AuditStore
	logger *slog.Logger
}

func New(audit store.AuditStore, logger *slog.Logger) *Fuser {
	return &Fuser{audit: audit, logger: logger}
}

// Fuse combines claims into assertions. Empty input produces an empty
// result, an action with rationale "empty", and a rejected tool trace.
func (f *Fuser) Fuse(ctx context.Context, caseUID, traceID string, claims []contracts.SourceClaim) (*Result, error) {
	ctx, span := tracer.Start(ctx, "fusion.Fuse")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID), attribute.Int("claims", len(claims)))

	started := time.Now()
	if len(claims) == 0 {
		f.recordAudit(ctx, caseUID, traceID, "empty", "rejected", 0, 0, started)
		return &Result{}, nil
	}

	result := FuseClaims(caseUID, claims)

	f.recordAudit(ctx, caseUID, traceID,
		"dempster-shafer fusion over source claims", "ok",
		len(result.Assertions), len(result.Conflicts), started)
	f.logger.Info("claims fused", "case_uid", caseUID,
		"claims", len(claims), "assertions", len(result.Assertions), "conflicts", len(result.Conflicts))
	return result, nil
}

func (f *Fuser) recordAudit(ctx context.Context, caseUID, traceID, rationale, traceStatus string, assertions, conflicts int, started time.Time) {
	if f.audit == nil {
		return
	}
	action := &contracts.Action{
		UID:       contracts.NewUID(contracts.PrefixAction),
		CaseUID:   caseUID,
		Actor:     "system",
		Kind:      "assertion.fuse",
		TraceID:   traceID,
		Rationale: rationale,
		Outputs:   map[string]any{"assertions": assertions, "conflicts": conflicts},
		CreatedAt: time.Now(),
	}
	if err := f.audit.AppendAction(ctx, action); err != nil {
		f.logger.Error("failed to append fusion action", "error", err)
	}
	trace := &contracts.ToolTrace{
		UID:       contracts.NewUID(contracts.PrefixToolTrace),
		CaseUID:   caseUID,
		TraceID:   traceID,
		Tool:      "fusion.dempster_shafer",
		Status:    traceStatus,
		Duration:  time.Since(started),
		CreatedAt: time.Now(),
	}
	if err := f.audit.AppendToolTrace(ctx, trace); err != nil {
		f.logger.Error("failed to append fusion tool trace", "error", err)
	}
}

// FuseClaims is the pure fusion core.
func FuseClaims(caseUID string, claims []contracts.SourceClaim) *Result {
	ordered := make([]contracts.SourceClaim, len(claims))
	copy(ordered, claims)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UID < ordered[j].UID })

	groups := groupClaims(ordered)
	result := &Result{}

	for _, group := range groups {
		assertion, conflicts := fuseGroup(caseUID, group)
		result.Assertions = append(result.Assertions, assertion)
		result.Conflicts = append(result.Conflicts, conflicts...)
	}
	return result
}

// groupClaims greedily assigns each claim to the first group whose seed
// shares enough tokens. The input is already UID-sorted.
func groupClaims(claims []contracts.SourceClaim) [][]contracts.SourceClaim {
	var groups [][]contracts.SourceClaim
	for _, claim := range claims {
		placed := false
		for i, group := range groups {
			if tokenOverlap(group[0].Text, claim.Text) >= groupOverlapThreshold {
				groups[i] = append(groups[i], claim)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []contracts.SourceClaim{claim})
		}
	}
	return groups
}

func fuseGroup(caseUID string, group []contracts.SourceClaim) (contracts.Assertion, []contracts.ClaimConflict) {
	combined := claimMass(group[0])
	aggregateK := 0.0

	for _, claim := range group[1:] {
		next := claimMass(claim)
		var k float64
		combined, k = combine(combined, next)
		// Aggregate conflict never decreases.
		aggregateK = 1 - (1-aggregateK)*(1-k)
	}

	conflicts := detectConflicts(group)

	uids := make([]string, 0, len(group))
	var best contracts.SourceClaim
	var earliest time.Time
	for i, claim := range group {
		uids = append(uids, claim.UID)
		if i == 0 || claim.Confidence > best.Confidence {
			best = claim
		}
		if i == 0 || (!claim.CreatedAt.IsZero() && claim.CreatedAt.Before(earliest)) {
			earliest = claim.CreatedAt
		}
	}

	assertion := contracts.Assertion{
		UID:             contracts.NewUID(contracts.PrefixAssertion),
		CaseUID:         caseUID,
		Statement:       best.Text,
		SourceClaimUIDs: uids,
		Subject:         best.AttributedTo,
		OccurredAt:      earliest,
		CreatedAt:       time.Now(),
		Value: contracts.DSValue{
			Belief:         combined.t,
			Plausibility:   combined.t + combined.u,
			Uncertainty:    combined.u,
			Confidence:     combined.t + combined.u/2,
			ConflictDegree: aggregateK,
			SourceCount:    len(group),
			HasConflict:    len(conflicts) > 0,
		},
	}
	return assertion, conflicts
}

// claimMass maps a claim to a basic assignment from its confidence and
// source credibility. Denials put their mass on false.
func claimMass(c contracts.SourceClaim) mass {
	cred := c.Credibility
	if cred == 0 {
		cred = 0.5
	}
	s := clamp01(c.Confidence * cred)
	if c.Modality == contracts.ModalityDenied {
		return mass{f: s, u: 1 - s}
	}
	// Speculation carries half weight.
	if c.Modality == contracts.ModalitySpeculative {
		s /= 2
	}
	return mass{t: s, u: 1 - s}
}

// combine applies Dempster's rule to two assignments and returns the
// normalized result plus the pairwise conflict mass k.
func combine(a, b mass) (mass, float64) {
	k := a.t*b.f + a.f*b.t
	if k >= 1 {
		// Total conflict: fall back to full uncertainty.
		return mass{u: 1}, 1
	}
	norm := 1 - k
	return mass{
		t: (a.t*b.t + a.t*b.u + a.u*b.t) / norm,
		f: (a.f*b.f + a.f*b.u + a.u*b.f) / norm,
		u: (a.u * b.u) / norm,
	}, k
}

// detectConflicts scans UID-ordered pairs. Asserted-vs-denied pairs are
// modality conflicts; same-modality pairs with high Dempster conflict
// mass are value conflicts; residual high-conflict pairs are "other".
func detectConflicts(group []contracts.SourceClaim) []contracts.ClaimConflict {
	var conflicts []contracts.ClaimConflict
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			aDenied := a.Modality == contracts.ModalityDenied
			bDenied := b.Modality == contracts.ModalityDenied
			if aDenied != bDenied {
				conflicts = append(conflicts, contracts.ClaimConflict{
					ClaimUIDA: a.UID,
					ClaimUIDB: b.UID,
					Type:      contracts.ConflictModality,
					Rationale: "one claim asserts what the other denies",
				})
				continue
			}
			_, k := combine(claimMass(a), claimMass(b))
			if k > valueConflictThreshold {
				kind := contracts.ConflictValue
				if a.Modality != b.Modality {
					kind = contracts.ConflictOther
				}
				conflicts = append(conflicts, contracts.ClaimConflict{
					ClaimUIDA: a.UID,
					ClaimUIDB: b.UID,
					Type:      kind,
					Rationale: "claims assign conflicting belief mass to the same statement",
				})
			}
		}
	}
	return conflicts
}

func tokenOverlap(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, tok := range ta {
		set[tok] = true
	}
	shared := 0
	union := len(set)
	for _, tok := range tb {
		if set[tok] {
			shared++
			set[tok] = false
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
