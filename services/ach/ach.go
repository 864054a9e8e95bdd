// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ach maintains competing hypotheses under Bayesian updating
// (analysis of competing hypotheses). Posteriors across the live
// hypotheses of a case always sum to 1.0 within 1e-2, and the
// ProbabilityUpdate log is sufficient for deterministic replay.
package ach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/ach")

const (
	// priorSumTolerance bounds how far a user-supplied prior map may
	// deviate from summing to 1.0.
	priorSumTolerance = 0.01

	// evidenceProbFloor keeps P(E) away from zero during updates.
	evidenceProbFloor = 1e-10

	// likelihoodEpsilon keeps likelihoods in the open interval (0,1).
	likelihoodEpsilon = 1e-6
)

// Engine runs the ACH lifecycle for a case.
type Engine struct {
	store  store.Store
	llm    llm.Client
	bus    *eventbus.Bus
	logger *slog.Logger
}

func New(st store.Store, client llm.Client, bus *eventbus.Bus, logger *slog.Logger) *Engine {
	return &Engine{store: st, llm: client, bus: bus, logger: logger}
}

// InitializePriors sets priors for every hypothesis of the case. A nil
// or empty map yields uniform priors; a supplied map must cover every
// hypothesis and sum to 1.0 within the tolerance.
func (e *Engine) InitializePriors(ctx context.Context, caseUID string, priors map[string]float64) error {
	ctx, span := tracer.Start(ctx, "ach.InitializePriors")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	hypotheses, err := e.sortedHypotheses(ctx, caseUID)
	if err != nil {
		return err
	}
	if len(hypotheses) == 0 {
		return contracts.NewProblem(contracts.CodeValidation,
			"case has no hypotheses", map[string]any{"case_uid": caseUID})
	}

	if len(priors) > 0 {
		sum := 0.0
		for _, h := range hypotheses {
			p, ok := priors[h.UID]
			if !ok {
				return contracts.NewProblem(contracts.CodeInvalidPriors,
					"prior map misses hypothesis "+h.UID, nil)
			}
			sum += p
		}
		if math.Abs(sum-1.0) > priorSumTolerance {
			return contracts.NewProblem(contracts.CodeInvalidPriors,
				fmt.Sprintf("priors sum to %.4f, expected 1.0", sum), nil)
		}
		for _, h := range hypotheses {
			if err := e.store.UpdateHypothesisProbabilities(ctx, h.UID, priors[h.UID], priors[h.UID]); err != nil {
				return err
			}
		}
	} else {
		uniform := 1.0 / float64(len(hypotheses))
		for _, h := range hypotheses {
			if err := e.store.UpdateHypothesisProbabilities(ctx, h.UID, uniform, uniform); err != nil {
				return err
			}
		}
	}

	e.logger.Info("priors initialized", "case_uid", caseUID, "hypotheses", len(hypotheses))
	return nil
}

// assessmentItem is the structured LLM response shape for one hypothesis.
type assessmentItem struct {
	HypothesisUID string  `json:"hypothesis_uid"`
	Relation      string  `json:"relation"`
	Strength      float64 `json:"strength"`
	Rationale     string  `json:"rationale,omitempty"`
}

// AssessEvidence runs one LLM call producing a relation/strength triple
// per hypothesis and upserts each as an EvidenceAssessment. On LLM
// failure it returns an empty slice and changes no rows.
func (e *Engine) AssessEvidence(ctx context.Context, caseUID, evidenceUID, evidenceText string, budget contracts.BudgetContext) ([]contracts.EvidenceAssessment, error) {
	ctx, span := tracer.Start(ctx, "ach.AssessEvidence")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID), attribute.String("evidence_uid", evidenceUID))

	hypotheses, err := e.sortedHypotheses(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	if len(hypotheses) == 0 {
		return nil, nil
	}

	prompt := assessmentPrompt(hypotheses, evidenceText)
	var items []assessmentItem
	if deg := e.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "ach_assess_evidence",
		PromptVersion: "v1",
		Prompt:        prompt,
		Budget:        budget,
	}, &items); deg != nil {
		e.logger.Warn("evidence assessment degraded", "case_uid", caseUID,
			"evidence_uid", evidenceUID, "reason", deg.Reason)
		return []contracts.EvidenceAssessment{}, nil
	}

	byHyp := make(map[string]assessmentItem, len(items))
	for _, item := range items {
		byHyp[item.HypothesisUID] = item
	}

	var out []contracts.EvidenceAssessment
	for _, h := range hypotheses {
		item, ok := byHyp[h.UID]
		if !ok {
			item = assessmentItem{HypothesisUID: h.UID, Relation: string(contracts.RelationIrrelevant)}
		}
		relation := parseRelation(item.Relation)
		strength := clamp01(item.Strength)
		assessment := contracts.EvidenceAssessment{
			UID:           contracts.NewUID(contracts.PrefixAssessment),
			CaseUID:       caseUID,
			HypothesisUID: h.UID,
			EvidenceUID:   evidenceUID,
			Relation:      relation,
			Strength:      strength,
			Likelihood:    Likelihood(relation, strength),
			Rationale:     item.Rationale,
			CreatedAt:     time.Now(),
		}
		if err := e.store.UpsertAssessment(ctx, &assessment); err != nil {
			return nil, err
		}
		out = append(out, assessment)
	}
	return out, nil
}

// Likelihood maps a relation/strength pair to P(E|H). Support and
// contradict are symmetric around 0.5 (support(s)+contradict(s)=1);
// irrelevant is 0.5 regardless of strength. The result is clamped to
// the open interval (0,1).
func Likelihood(relation contracts.AssessmentRelation, strength float64) float64 {
	var l float64
	switch relation {
	case contracts.RelationSupport:
		l = 0.5 + strength/2
	case contracts.RelationContradict:
		l = 0.5 - strength/2
	default:
		l = 0.5
	}
	if l < likelihoodEpsilon {
		l = likelihoodEpsilon
	}
	if l > 1-likelihoodEpsilon {
		l = 1 - likelihoodEpsilon
	}
	return l
}

// BayesianUpdate applies the assessments of one evidence to the case
// posteriors: P(H|E) = P(E|H)P(H) / P(E), with P(E) floored and the
// result renormalized to sum exactly to 1.0. Each transition is
// appended to the ProbabilityUpdate log.
func (e *Engine) BayesianUpdate(ctx context.Context, caseUID, evidenceUID string) error {
	ctx, span := tracer.Start(ctx, "ach.BayesianUpdate")
	defer span.End()

	hypotheses, err := e.sortedHypotheses(ctx, caseUID)
	if err != nil {
		return err
	}
	likelihoods := make(map[string]float64, len(hypotheses))
	for _, h := range hypotheses {
		a, err := e.store.GetAssessment(ctx, h.UID, evidenceUID)
		if err != nil {
			if contracts.IsNotFound(err) {
				likelihoods[h.UID] = 0.5
				continue
			}
			return err
		}
		likelihoods[h.UID] = a.Likelihood
	}

	priors := make([]float64, len(hypotheses))
	ls := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		priors[i] = h.Posterior
		ls[i] = likelihoods[h.UID]
	}
	posteriors := applyBayes(priors, ls)

	for i, h := range hypotheses {
		if err := e.store.UpdateHypothesisProbabilities(ctx, h.UID, h.Prior, posteriors[i]); err != nil {
			return err
		}
		update := contracts.ProbabilityUpdate{
			CaseUID:       caseUID,
			EvidenceUID:   evidenceUID,
			HypothesisUID: h.UID,
			Prior:         priors[i],
			Posterior:     posteriors[i],
			Likelihood:    ls[i],
			CreatedAt:     time.Now(),
		}
		if err := e.store.AppendProbabilityUpdate(ctx, &update); err != nil {
			return err
		}
	}

	if e.bus != nil {
		e.bus.EmitAndWait(ctx, eventbus.Event{
			EventType: "hypothesis.updated",
			CaseUID:   caseUID,
			Payload:   map[string]any{"evidence_uid": evidenceUID, "hypotheses": len(hypotheses)},
		})
	}
	return nil
}

// applyBayes is the shared update kernel. Replay correctness depends on
// this being the only place posteriors are computed: same inputs, same
// order, same float operations.
func applyBayes(priors, likelihoods []float64) []float64 {
	pE := 0.0
	for i := range priors {
		pE += likelihoods[i] * priors[i]
	}
	if pE < evidenceProbFloor {
		pE = evidenceProbFloor
	}
	posteriors := make([]float64, len(priors))
	sum := 0.0
	for i := range priors {
		posteriors[i] = likelihoods[i] * priors[i] / pE
		sum += posteriors[i]
	}
	if sum > 0 {
		for i := range posteriors {
			posteriors[i] /= sum
		}
	}
	return posteriors
}

// Recalculate replays the full ProbabilityUpdate log for a case from
// the stored priors and writes back the resulting posteriors. The
// replayed posteriors match the sequential path exactly.
func (e *Engine) Recalculate(ctx context.Context, caseUID string) error {
	ctx, span := tracer.Start(ctx, "ach.Recalculate")
	defer span.End()

	hypotheses, err := e.sortedHypotheses(ctx, caseUID)
	if err != nil {
		return err
	}
	updates, err := e.store.ListProbabilityUpdates(ctx, caseUID)
	if err != nil {
		return err
	}

	// Evidence order is the order of first appearance in the log.
	var evidenceOrder []string
	seen := make(map[string]bool)
	likelihoodsByEvidence := make(map[string]map[string]float64)
	for _, u := range updates {
		if !seen[u.EvidenceUID] {
			seen[u.EvidenceUID] = true
			evidenceOrder = append(evidenceOrder, u.EvidenceUID)
			likelihoodsByEvidence[u.EvidenceUID] = make(map[string]float64)
		}
		likelihoodsByEvidence[u.EvidenceUID][u.HypothesisUID] = u.Likelihood
	}

	current := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		current[i] = h.Prior
	}
	for _, evidenceUID := range evidenceOrder {
		ls := make([]float64, len(hypotheses))
		for i, h := range hypotheses {
			l, ok := likelihoodsByEvidence[evidenceUID][h.UID]
			if !ok {
				l = 0.5
			}
			ls[i] = l
		}
		current = applyBayes(current, ls)
	}

	for i, h := range hypotheses {
		if err := e.store.UpdateHypothesisProbabilities(ctx, h.UID, h.Prior, current[i]); err != nil {
			return err
		}
	}
	e.logger.Info("posteriors recalculated", "case_uid", caseUID, "evidence_count", len(evidenceOrder))
	return nil
}

// Diagnosticity returns, per hypothesis, max over other hypotheses of
// P(E|H_i)/P(E|H_j). Higher means the evidence discriminates more.
func (e *Engine) Diagnosticity(ctx context.Context, caseUID, evidenceUID string) (map[string]float64, error) {
	hypotheses, err := e.sortedHypotheses(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	ls := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		a, err := e.store.GetAssessment(ctx, h.UID, evidenceUID)
		if err != nil {
			if contracts.IsNotFound(err) {
				ls[i] = 0.5
				continue
			}
			return nil, err
		}
		ls[i] = a.Likelihood
	}

	out := make(map[string]float64, len(hypotheses))
	for i, h := range hypotheses {
		best := 0.0
		for j := range hypotheses {
			if i == j {
				continue
			}
			ratio := ls[i] / ls[j]
			if ratio > best {
				best = ratio
			}
		}
		out[h.UID] = best
	}
	return out, nil
}

// OverrideAssessment replaces one (hypothesis, evidence) row with a
// manual judgment. Downstream posteriors are stale until the caller
// runs Recalculate.
func (e *Engine) OverrideAssessment(ctx context.Context, caseUID, hypothesisUID, evidenceUID string, relation contracts.AssessmentRelation, strength float64, rationale string) (*contracts.EvidenceAssessment, error) {
	existing, err := e.store.GetAssessment(ctx, hypothesisUID, evidenceUID)
	if err != nil && !contracts.IsNotFound(err) {
		return nil, err
	}
	strength = clamp01(strength)
	assessment := contracts.EvidenceAssessment{
		UID:           contracts.NewUID(contracts.PrefixAssessment),
		CaseUID:       caseUID,
		HypothesisUID: hypothesisUID,
		EvidenceUID:   evidenceUID,
		Relation:      relation,
		Strength:      strength,
		Likelihood:    Likelihood(relation, strength),
		Rationale:     rationale,
		Overridden:    true,
		CreatedAt:     time.Now(),
	}
	if existing != nil {
		assessment.CreatedAt = existing.CreatedAt
	}
	if err := e.store.UpsertAssessment(ctx, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (e *Engine) sortedHypotheses(ctx context.Context, caseUID string) ([]contracts.Hypothesis, error) {
	hypotheses, err := e.store.ListHypothesesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	sort.Slice(hypotheses, func(i, j int) bool { return hypotheses[i].UID < hypotheses[j].UID })
	return hypotheses, nil
}

func assessmentPrompt(hypotheses []contracts.Hypothesis, evidenceText string) string {
	type hypView struct {
		UID   string `json:"hypothesis_uid"`
		Label string `json:"label"`
	}
	views := make([]hypView, len(hypotheses))
	for i, h := range hypotheses {
		views[i] = hypView{UID: h.UID, Label: h.Label}
	}
	encoded, _ := json.Marshal(views)
	return fmt.Sprintf(`Assess how the evidence bears on each hypothesis.

Evidence:
%s

Hypotheses:
%s

Return a JSON array with one object per hypothesis:
[{"hypothesis_uid": "...", "relation": "support|contradict|irrelevant", "strength": 0.0-1.0, "rationale": "..."}]`,
		evidenceText, string(encoded))
}

func parseRelation(s string) contracts.AssessmentRelation {
	switch contracts.AssessmentRelation(s) {
	case contracts.RelationSupport, contracts.RelationContradict, contracts.RelationIrrelevant:
		return contracts.AssessmentRelation(s)
	default:
		return contracts.RelationIrrelevant
	}
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
