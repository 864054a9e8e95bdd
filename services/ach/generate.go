// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ach

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// maxGeneratedHypotheses bounds one generation round.
const maxGeneratedHypotheses = 5

type hypothesisDraft struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// GenerateHypotheses drafts competing explanations from the case's
// fused assertions. Idempotent: a case that already has hypotheses gets
// them back unchanged. New hypotheses start with uniform priors.
func (e *Engine) GenerateHypotheses(ctx context.Context, caseUID string, budget contracts.BudgetContext) ([]contracts.Hypothesis, error) {
	ctx, span := tracer.Start(ctx, "ach.GenerateHypotheses")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	existing, err := e.store.ListHypothesesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	assertions, err := e.store.ListAssertionsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	if len(assertions) == 0 {
		return nil, nil
	}

	drafts := e.draftHypotheses(ctx, caseUID, assertions, budget)
	if len(drafts) == 0 {
		return nil, nil
	}
	if len(drafts) > maxGeneratedHypotheses {
		drafts = drafts[:maxGeneratedHypotheses]
	}

	for _, d := range drafts {
		h := &contracts.Hypothesis{
			UID:         contracts.NewUID(contracts.PrefixHypothesis),
			CaseUID:     caseUID,
			Label:       d.Label,
			Description: d.Description,
			CreatedAt:   time.Now(),
		}
		if err := e.store.CreateHypothesis(ctx, h); err != nil {
			return nil, err
		}
	}
	if err := e.InitializePriors(ctx, caseUID, nil); err != nil {
		return nil, err
	}
	e.logger.Info("hypotheses generated", "case_uid", caseUID, "count", len(drafts))
	return e.sortedHypotheses(ctx, caseUID)
}

func (e *Engine) draftHypotheses(ctx context.Context, caseUID string, assertions []contracts.Assertion, budget contracts.BudgetContext) []hypothesisDraft {
	ordered := make([]contracts.Assertion, len(assertions))
	copy(ordered, assertions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Value.Belief == ordered[j].Value.Belief {
			return ordered[i].UID < ordered[j].UID
		}
		return ordered[i].Value.Belief > ordered[j].Value.Belief
	})
	if len(ordered) > 10 {
		ordered = ordered[:10]
	}

	var lines []string
	for _, a := range ordered {
		lines = append(lines, "- "+a.Statement)
	}
	var drafts []hypothesisDraft
	deg := e.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "ach_generate_hypotheses",
		PromptVersion: "v1",
		Prompt: fmt.Sprintf(
			"Propose mutually exclusive explanations for these findings as a JSON array of {label, description}:\n%s",
			strings.Join(lines, "\n")),
		Budget: budget,
	}, &drafts)
	if deg == nil {
		var valid []hypothesisDraft
		for _, d := range drafts {
			if strings.TrimSpace(d.Label) != "" {
				valid = append(valid, d)
			}
		}
		if len(valid) > 0 {
			return valid
		}
	} else {
		e.logger.Warn("hypothesis drafting degraded, using assertion fallback",
			"case_uid", caseUID, "reason", deg.Reason)
	}

	// Fallback: one literal hypothesis per top assertion, plus its
	// negation for the strongest one.
	var out []hypothesisDraft
	for i, a := range ordered {
		if i == 3 {
			break
		}
		out = append(out, hypothesisDraft{
			Label:       fmt.Sprintf("as-reported-%d", i+1),
			Description: a.Statement,
		})
	}
	out = append(out, hypothesisDraft{
		Label:       "reporting-inaccurate",
		Description: "The reporting misstates events: " + ordered[0].Statement,
	})
	return out
}
