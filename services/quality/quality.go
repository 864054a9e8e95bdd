// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package quality scores the analytical health of a case: evidence
// coverage, conflict load, diagnosticity, bias markers and blind spots.
// The scorer only reads; it never mutates case state.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/identity"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/quality")

// Alert thresholds. Crossing one raises a quality alert on the case.
const (
	coverageAlertFloor     = 0.5
	conflictAlertCeiling   = 3
	diagnosticityAlertBar  = 1.5
	homogeneityUniqueFloor = 0.3
)

// Alert flags one crossed quality threshold.
type Alert struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Bias marks a structural bias pattern in the evidence base.
type Bias struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Blindspot marks an area the collection has not covered.
type Blindspot struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Scorecard is the quality assessment of one case.
type Scorecard struct {
	CaseUID             string      `json:"case_uid"`
	EvidenceCoverage    float64     `json:"evidence_coverage"`
	UnresolvedConflicts int         `json:"unresolved_conflicts"`
	AvgDiagnosticity    float64     `json:"avg_diagnosticity"`
	Score               float64     `json:"score"`
	Alerts              []Alert     `json:"alerts,omitempty"`
	Biases              []Bias      `json:"biases,omitempty"`
	Blindspots          []Blindspot `json:"blindspots,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Scorer computes case scorecards.
type Scorer struct {
	store  store.Store
	logger *slog.Logger
}

func NewScorer(st store.Store, logger *slog.Logger) *Scorer {
	return &Scorer{store: st, logger: logger}
}

// Score assembles the scorecard for a case.
func (s *Scorer) Score(ctx context.Context, caseUID string) (*Scorecard, error) {
	ctx, span := tracer.Start(ctx, "quality.Score")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	evidence, err := s.store.ListEvidenceByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	assessments, err := s.store.ListAssessmentsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	assertions, err := s.store.ListAssertionsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaimsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}

	card := &Scorecard{CaseUID: caseUID, CreatedAt: time.Now()}
	card.EvidenceCoverage = coverage(evidence, assessments)
	card.UnresolvedConflicts = unresolvedConflicts(assertions)
	card.AvgDiagnosticity = avgDiagnosticity(assessments)
	card.Alerts = alerts(card)
	card.Biases = detectBiases(claims, assessments)
	card.Blindspots = detectBlindspots(claims, assertions)
	card.Score = composite(card)

	s.logger.Info("case scored", "case_uid", caseUID, "score", card.Score,
		"alerts", len(card.Alerts), "biases", len(card.Biases), "blindspots", len(card.Blindspots))
	return card, nil
}

// coverage is the fraction of evidence with at least one assessment.
func coverage(evidence []contracts.Evidence, assessments []contracts.EvidenceAssessment) float64 {
	if len(evidence) == 0 {
		return 0
	}
	assessed := make(map[string]bool)
	for _, a := range assessments {
		assessed[a.EvidenceUID] = true
	}
	n := 0
	for _, e := range evidence {
		if assessed[e.UID] {
			n++
		}
	}
	return float64(n) / float64(len(evidence))
}

func unresolvedConflicts(assertions []contracts.Assertion) int {
	n := 0
	for _, a := range assertions {
		if a.Value.HasConflict {
			n++
		}
	}
	return n
}

// avgDiagnosticity averages, per evidence, the widest likelihood ratio
// across hypothesis pairs. Evidence with a single assessment carries no
// diagnostic signal and is skipped.
func avgDiagnosticity(assessments []contracts.EvidenceAssessment) float64 {
	byEvidence := make(map[string][]float64)
	for _, a := range assessments {
		byEvidence[a.EvidenceUID] = append(byEvidence[a.EvidenceUID], a.Likelihood)
	}
	total, n := 0.0, 0
	for _, ls := range byEvidence {
		if len(ls) < 2 {
			continue
		}
		sort.Float64s(ls)
		low, high := ls[0], ls[len(ls)-1]
		if low <= 0 {
			continue
		}
		total += high / low
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func alerts(card *Scorecard) []Alert {
	var out []Alert
	if card.EvidenceCoverage < coverageAlertFloor {
		out = append(out, Alert{
			Kind:     "low_evidence_coverage",
			Severity: "warning",
			Detail:   fmt.Sprintf("only %.0f%% of evidence is assessed", card.EvidenceCoverage*100),
		})
	}
	if card.UnresolvedConflicts > conflictAlertCeiling {
		out = append(out, Alert{
			Kind:     "unresolved_conflicts",
			Severity: "warning",
			Detail:   fmt.Sprintf("%d assertions carry unresolved conflicts", card.UnresolvedConflicts),
		})
	}
	if card.AvgDiagnosticity > 0 && card.AvgDiagnosticity < diagnosticityAlertBar {
		out = append(out, Alert{
			Kind:     "low_diagnosticity",
			Severity: "warning",
			Detail:   fmt.Sprintf("evidence barely discriminates between hypotheses (avg %.2f)", card.AvgDiagnosticity),
		})
	}
	return out
}

func detectBiases(claims []contracts.SourceClaim, assessments []contracts.EvidenceAssessment) []Bias {
	var out []Bias

	if len(claims) >= 2 {
		sources := make(map[string]bool)
		stances := make(map[string]bool)
		unique := make(map[string]bool)
		for _, c := range claims {
			if c.SourceName != "" {
				sources[c.SourceName] = true
			}
			if c.AttributedTo != "" {
				stances[c.AttributedTo] = true
			}
			unique[identity.Normalize(c.Text)] = true
		}
		if len(sources) == 1 {
			out = append(out, Bias{
				Kind:   "single_source",
				Detail: "every claim traces to one source",
			})
		}
		if len(stances) == 1 {
			out = append(out, Bias{
				Kind:   "single_stance",
				Detail: "every claim is attributed to the same actor",
			})
		}
		if len(claims) >= 3 {
			ratio := float64(len(unique)) / float64(len(claims))
			if ratio < homogeneityUniqueFloor {
				out = append(out, Bias{
					Kind:   "homogeneity",
					Detail: fmt.Sprintf("only %.0f%% of claims are unique statements", ratio*100),
				})
			}
		}
	}

	if len(assessments) > 0 {
		allSupport := true
		for _, a := range assessments {
			if a.Relation != contracts.RelationSupport {
				allSupport = false
				break
			}
		}
		if allSupport {
			out = append(out, Bias{
				Kind:   "confirmation",
				Detail: "no contradicting or irrelevant evidence was recorded",
			})
		}
	}
	return out
}

func detectBlindspots(claims []contracts.SourceClaim, assertions []contracts.Assertion) []Blindspot {
	var out []Blindspot
	if len(claims) > 0 && len(assertions) == 0 {
		out = append(out, Blindspot{
			Kind:     "missing_assertions",
			Severity: "LOW",
			Detail:   "claims were collected but never fused",
		})
	}
	if len(claims) >= 3 {
		times := make([]time.Time, 0, len(claims))
		for _, c := range claims {
			if !c.CreatedAt.IsZero() {
				times = append(times, c.CreatedAt)
			}
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		if len(times) >= 3 {
			spread := times[len(times)-1].Sub(times[0])
			if spread < time.Hour {
				out = append(out, Blindspot{
					Kind:     "narrow_temporal_spread",
					Severity: "LOW",
					Detail:   fmt.Sprintf("all claims fall within %s", spread.Round(time.Minute)),
				})
			}
			if gap, ok := widestGap(times); ok {
				out = append(out, Blindspot{
					Kind:     "collection_gap",
					Severity: "LOW",
					Detail:   fmt.Sprintf("a %s gap splits the collection window", gap.Round(time.Minute)),
				})
			}
		}
	}
	return out
}

// widestGap reports a collection gap wider than three times the median
// inter-claim interval.
func widestGap(times []time.Time) (time.Duration, bool) {
	gaps := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]))
	}
	ordered := append([]time.Duration(nil), gaps...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	median := ordered[len(ordered)/2]
	if median == 0 {
		return 0, false
	}
	widest := ordered[len(ordered)-1]
	if widest > 3*median {
		return widest, true
	}
	return 0, false
}

// composite folds the headline metrics into one [0,1] score.
func composite(card *Scorecard) float64 {
	diag := card.AvgDiagnosticity / 3
	if diag > 1 {
		diag = 1
	}
	penalty := float64(len(card.Alerts))*0.1 + float64(len(card.Biases))*0.05
	score := (card.EvidenceCoverage+diag)/2 - penalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
