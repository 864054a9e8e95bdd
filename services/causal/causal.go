// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package causal derives temporal-causal chains from fused assertions
// and turns hypotheses into grounded forecasts. The baseline chain is
// deterministic; LLM augmentation can only add to it, never weaken it.
package causal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
)

var tracer = otel.Tracer("services/causal")

// Link is one directed causal edge between two assertions.
type Link struct {
	SourceAssertionUID string  `json:"source_assertion_uid"`
	TargetAssertionUID string  `json:"target_assertion_uid"`
	TemporalConsistent bool    `json:"temporal_consistent"`
	Strength           float64 `json:"strength"`
	Rationale          string  `json:"rationale,omitempty"`
	Augmented          bool    `json:"augmented,omitempty"`
}

// Chain is the causal analysis of one case.
type Chain struct {
	CaseUID          string  `json:"case_uid"`
	Links            []Link  `json:"links"`
	ConsistencyScore float64 `json:"consistency_score"`
}

// Analyzer builds causal chains.
type Analyzer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewAnalyzer(client llm.Client, logger *slog.Logger) *Analyzer {
	return &Analyzer{llm: client, logger: logger}
}

// BuildChain links timestamp-sorted assertions pairwise and scores the
// temporal consistency of the result. A single assertion (or none)
// yields an empty chain with a perfect score: nothing contradicts.
func (a *Analyzer) BuildChain(ctx context.Context, caseUID string, assertions []contracts.Assertion, budget contracts.BudgetContext) (*Chain, error) {
	ctx, span := tracer.Start(ctx, "causal.BuildChain")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID), attribute.Int("assertions", len(assertions)))

	chain := BaselineChain(caseUID, assertions)
	a.augment(ctx, chain, assertions, budget)
	return chain, nil
}

// BaselineChain is the deterministic core: assertions sorted by
// occurrence, adjacent pairs linked.
func BaselineChain(caseUID string, assertions []contracts.Assertion) *Chain {
	dated := make([]contracts.Assertion, 0, len(assertions))
	for _, as := range assertions {
		if !as.OccurredAt.IsZero() {
			dated = append(dated, as)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].OccurredAt.Equal(dated[j].OccurredAt) {
			return dated[i].UID < dated[j].UID
		}
		return dated[i].OccurredAt.Before(dated[j].OccurredAt)
	})

	chain := &Chain{CaseUID: caseUID, ConsistencyScore: 1.0}
	if len(dated) < 2 {
		return chain
	}

	consistent := 0
	for i := 1; i < len(dated); i++ {
		src, tgt := dated[i-1], dated[i]
		link := Link{
			SourceAssertionUID: src.UID,
			TargetAssertionUID: tgt.UID,
			TemporalConsistent: !src.OccurredAt.After(tgt.OccurredAt),
			Strength:           (src.Value.Confidence + tgt.Value.Confidence) / 2,
		}
		if link.TemporalConsistent {
			consistent++
		}
		chain.Links = append(chain.Links, link)
	}
	chain.ConsistencyScore = float64(consistent) / float64(len(chain.Links))
	return chain
}

// augmentation is the structured LLM response shape.
type augmentation struct {
	Links []struct {
		Source    string `json:"source_assertion_uid"`
		Target    string `json:"target_assertion_uid"`
		Rationale string `json:"rationale"`
	} `json:"links"`
}

// augment asks the LLM for non-adjacent causal links and rationales. It
// only ever adds links; failures leave the baseline untouched.
func (a *Analyzer) augment(ctx context.Context, chain *Chain, assertions []contracts.Assertion, budget contracts.BudgetContext) {
	if len(assertions) < 2 {
		return
	}
	byUID := make(map[string]contracts.Assertion, len(assertions))
	var lines []string
	for _, as := range assertions {
		byUID[as.UID] = as
		lines = append(lines, fmt.Sprintf("%s (%s): %s", as.UID, as.OccurredAt.Format(time.RFC3339), as.Statement))
	}

	var aug augmentation
	if deg := a.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "causal_augment",
		PromptVersion: "v1",
		Prompt:        augmentPrompt(lines),
		Budget:        budget,
	}, &aug); deg != nil {
		a.logger.Warn("causal augmentation degraded", "case_uid", chain.CaseUID, "reason", deg.Reason)
		return
	}

	existing := make(map[string]bool, len(chain.Links))
	for _, l := range chain.Links {
		existing[l.SourceAssertionUID+">"+l.TargetAssertionUID] = true
	}
	for _, cand := range aug.Links {
		src, okS := byUID[cand.Source]
		tgt, okT := byUID[cand.Target]
		if !okS || !okT || cand.Source == cand.Target {
			continue
		}
		if existing[cand.Source+">"+cand.Target] {
			continue
		}
		chain.Links = append(chain.Links, Link{
			SourceAssertionUID: cand.Source,
			TargetAssertionUID: cand.Target,
			TemporalConsistent: src.OccurredAt.IsZero() || tgt.OccurredAt.IsZero() ||
				!src.OccurredAt.After(tgt.OccurredAt),
			Strength:  (src.Value.Confidence + tgt.Value.Confidence) / 2,
			Rationale: cand.Rationale,
			Augmented: true,
		})
		existing[cand.Source+">"+cand.Target] = true
	}
}

func augmentPrompt(lines []string) string {
	return fmt.Sprintf(`Identify causal links between the assertions below that go
beyond simple temporal adjacency.

Assertions:
%s

Return JSON:
{"links": [{"source_assertion_uid": "...", "target_assertion_uid": "...", "rationale": "..."}]}`,
		strings.Join(lines, "\n"))
}
