// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package causal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

// reviewProbabilityBar sends high-stakes forecasts to human review.
const reviewProbabilityBar = 0.8

// Forecaster turns hypotheses into forecasts under the grounding gate.
type Forecaster struct {
	store  store.Store
	llm    llm.Client
	logger *slog.Logger
}

func NewForecaster(st store.Store, client llm.Client, logger *slog.Logger) *Forecaster {
	return &Forecaster{store: st, llm: client, logger: logger}
}

// scenarioDraft is the structured LLM response shape for one forecast.
type scenarioDraft struct {
	Scenario          string   `json:"scenario"`
	TriggerConditions []string `json:"trigger_conditions"`
}

// Generate produces one forecast per hypothesis of the case.
//
// The grounding gate is absolute: a numeric probability appears only on
// FACT-level forecasts, which require at least one source claim behind
// the hypothesis's supporting assertions. Everything else publishes as
// degraded, with the probability withheld. Trigger conditions start from
// the deterministic causal chain; the LLM draft can only add to them.
func (f *Forecaster) Generate(ctx context.Context, caseUID string, budget contracts.BudgetContext) ([]contracts.Forecast, error) {
	ctx, span := tracer.Start(ctx, "causal.GenerateForecasts")
	defer span.End()

	hypotheses, err := f.store.ListHypothesesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	all, err := f.store.ListAssertionsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	assertions := make(map[string]contracts.Assertion, len(all))
	for _, as := range all {
		assertions[as.UID] = as
	}
	chain := BaselineChain(caseUID, all)

	var forecasts []contracts.Forecast
	for _, h := range hypotheses {
		forecast := f.build(ctx, caseUID, h, hypotheses, assertions, chain.Links, budget)
		if err := f.store.CreateForecast(ctx, &forecast); err != nil {
			return nil, err
		}
		forecasts = append(forecasts, forecast)
	}
	f.logger.Info("forecasts generated", "case_uid", caseUID, "count", len(forecasts))
	return forecasts, nil
}

func (f *Forecaster) build(ctx context.Context, caseUID string, h contracts.Hypothesis, all []contracts.Hypothesis, assertions map[string]contracts.Assertion, links []Link, budget contracts.BudgetContext) contracts.Forecast {
	citations := claimCitations(h, assertions)
	grounded := len(citations) > 0
	level := contracts.Gate(contracts.LevelFact, grounded)

	forecast := contracts.Forecast{
		UID:               contracts.NewUID(contracts.PrefixForecast),
		CaseUID:           caseUID,
		HypothesisUID:     h.UID,
		Scenario:          h.Description,
		EvidenceCitations: citations,
		Alternatives:      alternatives(h, all),
		Level:             level,
		TriggerConditions: triggerBaseline(h, assertions, links),
		CreatedAt:         time.Now(),
	}

	var draft scenarioDraft
	if deg := f.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "forecast_scenario",
		PromptVersion: "v1",
		Prompt:        scenarioPrompt(h),
		Budget:        budget,
	}, &draft); deg == nil {
		if draft.Scenario != "" {
			forecast.Scenario = draft.Scenario
		}
		forecast.TriggerConditions = mergeConditions(forecast.TriggerConditions, draft.TriggerConditions)
	}
	if forecast.Scenario == "" {
		forecast.Scenario = h.Label
	}
	if forecast.TriggerConditions == nil {
		forecast.TriggerConditions = []string{}
	}

	if level == contracts.LevelFact {
		p := h.Posterior
		forecast.Probability = &p
	}

	switch {
	case level != contracts.LevelFact:
		forecast.Status = contracts.ForecastDegraded
	case (forecast.Probability != nil && *forecast.Probability >= reviewProbabilityBar) || len(all) > 1:
		forecast.Status = contracts.ForecastPendingReview
	default:
		forecast.Status = contracts.ForecastPublished
	}
	return forecast
}

// claimCitations is the union of the source claims behind the
// hypothesis's supporting assertions, deduplicated by claim UID.
func claimCitations(h contracts.Hypothesis, assertions map[string]contracts.Assertion) []contracts.EvidenceCitation {
	seen := make(map[string]bool)
	var out []contracts.EvidenceCitation
	for _, uid := range h.SupportingAssertionUIDs {
		as, ok := assertions[uid]
		if !ok {
			continue
		}
		for _, claimUID := range as.SourceClaimUIDs {
			if seen[claimUID] {
				continue
			}
			seen[claimUID] = true
			out = append(out, contracts.EvidenceCitation{
				EvidenceUID: claimUID,
				Score:       as.Value.Confidence,
			})
		}
	}
	return out
}

// triggerBaseline derives trigger conditions from the causal chain:
// every temporally consistent link touching a supporting assertion
// becomes an observable condition, and a confidence rise across such a
// link is a condition of its own.
func triggerBaseline(h contracts.Hypothesis, assertions map[string]contracts.Assertion, links []Link) []string {
	supporting := make(map[string]bool, len(h.SupportingAssertionUIDs))
	for _, uid := range h.SupportingAssertionUIDs {
		supporting[uid] = true
	}
	seen := make(map[string]bool)
	var out []string
	add := func(cond string) {
		if cond != "" && !seen[cond] {
			seen[cond] = true
			out = append(out, cond)
		}
	}
	for _, l := range links {
		if !l.TemporalConsistent {
			continue
		}
		if !supporting[l.SourceAssertionUID] && !supporting[l.TargetAssertionUID] {
			continue
		}
		src, okSrc := assertions[l.SourceAssertionUID]
		tgt, okTgt := assertions[l.TargetAssertionUID]
		if !okSrc || !okTgt {
			continue
		}
		add(fmt.Sprintf("%q observed after %q", tgt.Statement, src.Statement))
		if tgt.Value.Confidence > src.Value.Confidence {
			add(fmt.Sprintf("corroboration rising for %q", tgt.Statement))
		}
	}
	return out
}

// mergeConditions appends drafted conditions to the rule baseline. The
// draft augments, it never replaces.
func mergeConditions(baseline, drafted []string) []string {
	seen := make(map[string]bool, len(baseline))
	for _, c := range baseline {
		seen[c] = true
	}
	out := baseline
	for _, c := range drafted {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// alternatives lists the labels of the competing hypotheses. Forecasts
// never ship single-chain: with no competitors the placeholder states so
// explicitly.
func alternatives(h contracts.Hypothesis, all []contracts.Hypothesis) []string {
	var out []string
	for _, other := range all {
		if other.UID == h.UID {
			continue
		}
		out = append(out, other.Label)
	}
	if len(out) == 0 {
		return []string{"No alternative hypotheses available"}
	}
	return out
}

func scenarioPrompt(h contracts.Hypothesis) string {
	return fmt.Sprintf(`Write a concise forecast scenario for the hypothesis below and
list the observable conditions that would confirm it is unfolding.

Hypothesis: %s
Description: %s

Return JSON: {"scenario": "...", "trigger_conditions": ["...", "..."]}`,
		h.Label, h.Description)
}

// ---------------------------------------------------------------------------
// Backtesting
// ---------------------------------------------------------------------------

// BacktestReport scores past forecasts against realized outcomes.
type BacktestReport struct {
	Total           int     `json:"total"`
	PredictedAlerts int     `json:"predicted_alerts"`
	TruePositives   int     `json:"true_positives"`
	FalsePositives  int     `json:"false_positives"`
	FalseNegatives  int     `json:"false_negatives"`
	TrueNegatives   int     `json:"true_negatives"`
	Precision       float64 `json:"precision"`
	FalseAlarmRate  float64 `json:"false_alarm_rate"`
	MissedAlertRate float64 `json:"missed_alert_rate"`
}

// Backtest compares forecasts with outcomes keyed by forecast UID. A
// forecast predicts positive when its probability exceeds 0.5; forecasts
// without a probability never predict positive.
func Backtest(forecasts []contracts.Forecast, outcomes map[string]bool) BacktestReport {
	var report BacktestReport
	for _, fc := range forecasts {
		outcome, ok := outcomes[fc.UID]
		if !ok {
			continue
		}
		report.Total++
		predicted := fc.Probability != nil && *fc.Probability > 0.5
		if predicted {
			report.PredictedAlerts++
		}
		switch {
		case predicted && outcome:
			report.TruePositives++
		case predicted && !outcome:
			report.FalsePositives++
		case !predicted && outcome:
			report.FalseNegatives++
		default:
			report.TrueNegatives++
		}
	}
	if report.TruePositives+report.FalsePositives > 0 {
		report.Precision = float64(report.TruePositives) / float64(report.TruePositives+report.FalsePositives)
	}
	if report.FalsePositives+report.TrueNegatives > 0 {
		report.FalseAlarmRate = float64(report.FalsePositives) / float64(report.FalsePositives+report.TrueNegatives)
	}
	if report.FalseNegatives+report.TruePositives > 0 {
		report.MissedAlertRate = float64(report.FalseNegatives) / float64(report.FalseNegatives+report.TruePositives)
	}
	return report
}
