// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report assembles analyst-facing case reports. Section bodies
// carry grounding levels; a section with no citations can never claim
// FACT, no matter what the drafting model produced.
package report

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
	"github.com/AegiAI/aegi-core/services/quality"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/report")

// defaultSections is the order sections render in when the config does
// not choose.
var defaultSections = []contracts.ReportSectionType{
	contracts.SectionSummary,
	contracts.SectionFindings,
	contracts.SectionHypotheses,
	contracts.SectionForecasts,
	contracts.SectionNarratives,
	contracts.SectionQuality,
	contracts.SectionAnnex,
}

// Generator builds reports over a finished (or in-flight) case.
type Generator struct {
	store  store.Store
	scorer *quality.Scorer
	llm    llm.Client
	logger *slog.Logger
}

func NewGenerator(st store.Store, scorer *quality.Scorer, client llm.Client, logger *slog.Logger) *Generator {
	return &Generator{store: st, scorer: scorer, llm: client, logger: logger}
}

// Generate renders the configured sections and persists the report.
func (g *Generator) Generate(ctx context.Context, caseUID, traceID string, config contracts.ReportConfig, budget contracts.BudgetContext) (*contracts.Report, error) {
	ctx, span := tracer.Start(ctx, "report.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	c, err := g.store.GetCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}

	wanted := config.Sections
	if len(wanted) == 0 {
		wanted = defaultSections
	}
	if config.MaxSections > 0 && len(wanted) > config.MaxSections {
		wanted = wanted[:config.MaxSections]
	}

	report := &contracts.Report{
		UID:       contracts.NewUID(contracts.PrefixReport),
		CaseUID:   caseUID,
		Title:     fmt.Sprintf("Intelligence Report: %s", c.Title),
		Config:    config,
		TraceID:   traceID,
		CreatedAt: time.Now(),
	}

	for _, kind := range wanted {
		section, err := g.section(ctx, caseUID, kind, budget)
		if err != nil {
			return nil, err
		}
		if section != nil {
			report.Sections = append(report.Sections, *section)
		}
	}
	report.Markdown = renderMarkdown(report)

	if err := g.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}
	g.logger.Info("report generated", "case_uid", caseUID,
		"report_uid", report.UID, "sections", len(report.Sections))
	return report, nil
}

func (g *Generator) section(ctx context.Context, caseUID string, kind contracts.ReportSectionType, budget contracts.BudgetContext) (*contracts.ReportSection, error) {
	switch kind {
	case contracts.SectionSummary:
		return g.summarySection(ctx, caseUID, budget)
	case contracts.SectionFindings:
		return g.findingsSection(ctx, caseUID)
	case contracts.SectionHypotheses:
		return g.hypothesesSection(ctx, caseUID)
	case contracts.SectionForecasts:
		return g.forecastsSection(ctx, caseUID)
	case contracts.SectionNarratives:
		return g.narrativesSection(ctx, caseUID)
	case contracts.SectionQuality:
		return g.qualitySection(ctx, caseUID)
	case contracts.SectionAnnex:
		return g.annexSection(ctx, caseUID)
	default:
		return nil, contracts.NewProblem(contracts.CodeValidation,
			"unknown report section", map[string]any{"section": string(kind)})
	}
}

// summarySection drafts an executive summary with the LLM; when the
// model is unavailable the section still renders, marked degraded, from
// the leading assertions.
func (g *Generator) summarySection(ctx context.Context, caseUID string, budget contracts.BudgetContext) (*contracts.ReportSection, error) {
	assertions, err := g.store.ListAssertionsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	citations := assertionCitations(assertions)

	var lines []string
	for _, a := range topAssertions(assertions, 5) {
		lines = append(lines, "- "+a.Statement)
	}

	section := &contracts.ReportSection{
		Type:      contracts.SectionSummary,
		Title:     "Executive Summary",
		Citations: citations,
		Level:     contracts.Gate(contracts.LevelFact, len(citations) > 0),
	}

	res, deg := g.llm.Invoke(ctx, contracts.LLMInvocationRequest{
		PromptName:    "report_summary",
		PromptVersion: "v1",
		Prompt: fmt.Sprintf("Summarize the following findings in two short paragraphs:\n%s",
			strings.Join(lines, "\n")),
		Budget: budget,
	})
	if deg != nil {
		section.Degraded = true
		section.Body = strings.Join(lines, "\n")
		if section.Body == "" {
			section.Body = "No fused findings are available yet."
		}
		return section, nil
	}
	section.Body = res.Text
	return section, nil
}

func (g *Generator) findingsSection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	assertions, err := g.store.ListAssertionsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, a := range topAssertions(assertions, 10) {
		conflict := ""
		if a.Value.HasConflict {
			conflict = " (contested)"
		}
		fmt.Fprintf(&b, "- %s — belief %.2f, %d sources%s\n",
			a.Statement, a.Value.Belief, a.Value.SourceCount, conflict)
	}
	citations := assertionCitations(assertions)
	return &contracts.ReportSection{
		Type:      contracts.SectionFindings,
		Title:     "Key Findings",
		Body:      b.String(),
		Citations: citations,
		Level:     contracts.Gate(contracts.LevelFact, len(citations) > 0),
	}, nil
}

func (g *Generator) hypothesesSection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	hypotheses, err := g.store.ListHypothesesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	sort.Slice(hypotheses, func(i, j int) bool {
		if hypotheses[i].Posterior == hypotheses[j].Posterior {
			return hypotheses[i].UID < hypotheses[j].UID
		}
		return hypotheses[i].Posterior > hypotheses[j].Posterior
	})
	var b strings.Builder
	for _, h := range hypotheses {
		fmt.Fprintf(&b, "- %s: posterior %.3f (prior %.3f)\n", h.Label, h.Posterior, h.Prior)
	}
	return &contracts.ReportSection{
		Type:  contracts.SectionHypotheses,
		Title: "Competing Hypotheses",
		Body:  b.String(),
		Level: contracts.LevelInference,
	}, nil
}

func (g *Generator) forecastsSection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	forecasts, err := g.store.ListForecastsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	var citations []contracts.EvidenceCitation
	var b strings.Builder
	degraded := false
	for _, f := range forecasts {
		if f.Probability != nil {
			fmt.Fprintf(&b, "- %s — probability %.2f [%s]\n", f.Scenario, *f.Probability, f.Status)
		} else {
			fmt.Fprintf(&b, "- %s — probability withheld (insufficient grounding) [%s]\n", f.Scenario, f.Status)
			degraded = true
		}
		citations = append(citations, f.EvidenceCitations...)
	}
	return &contracts.ReportSection{
		Type:      contracts.SectionForecasts,
		Title:     "Forecasts",
		Body:      b.String(),
		Citations: citations,
		Level:     contracts.Gate(contracts.LevelFact, len(citations) > 0),
		Degraded:  degraded,
	}, nil
}

func (g *Generator) narrativesSection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	narratives, err := g.store.ListNarrativesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, n := range narratives {
		fmt.Fprintf(&b, "- %q: %d claims, %s to %s\n", n.Theme, len(n.SourceClaimUIDs),
			n.StartAt.Format("2006-01-02 15:04"), n.EndAt.Format("2006-01-02 15:04"))
	}
	return &contracts.ReportSection{
		Type:  contracts.SectionNarratives,
		Title: "Narratives",
		Body:  b.String(),
		Level: contracts.LevelInference,
	}, nil
}

func (g *Generator) qualitySection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	card, err := g.scorer.Score(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Overall score %.2f. Evidence coverage %.0f%%, %d unresolved conflicts, avg diagnosticity %.2f.\n",
		card.Score, card.EvidenceCoverage*100, card.UnresolvedConflicts, card.AvgDiagnosticity)
	for _, a := range card.Alerts {
		fmt.Fprintf(&b, "- ALERT %s: %s\n", a.Kind, a.Detail)
	}
	for _, bias := range card.Biases {
		fmt.Fprintf(&b, "- BIAS %s: %s\n", bias.Kind, bias.Detail)
	}
	for _, bs := range card.Blindspots {
		fmt.Fprintf(&b, "- BLINDSPOT %s: %s\n", bs.Kind, bs.Detail)
	}
	return &contracts.ReportSection{
		Type:  contracts.SectionQuality,
		Title: "Analytical Quality",
		Body:  b.String(),
		Level: contracts.LevelInference,
	}, nil
}

func (g *Generator) annexSection(ctx context.Context, caseUID string) (*contracts.ReportSection, error) {
	claims, err := g.store.ListClaimsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	var citations []contracts.EvidenceCitation
	var b strings.Builder
	for _, c := range claims {
		fmt.Fprintf(&b, "- [%s] %q (%s, confidence %.2f)\n", c.UID, c.Text, c.Modality, c.Confidence)
		citations = append(citations, contracts.EvidenceCitation{
			ChunkUID: c.ChunkUID,
			Quote:    c.Text,
			Source:   c.SourceName,
		})
	}
	return &contracts.ReportSection{
		Type:      contracts.SectionAnnex,
		Title:     "Evidence Annex",
		Body:      b.String(),
		Citations: citations,
		Level:     contracts.Gate(contracts.LevelFact, len(citations) > 0),
	}, nil
}

func topAssertions(assertions []contracts.Assertion, n int) []contracts.Assertion {
	ordered := make([]contracts.Assertion, len(assertions))
	copy(ordered, assertions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Value.Belief == ordered[j].Value.Belief {
			return ordered[i].UID < ordered[j].UID
		}
		return ordered[i].Value.Belief > ordered[j].Value.Belief
	})
	if len(ordered) > n {
		ordered = ordered[:n]
	}
	return ordered
}

func assertionCitations(assertions []contracts.Assertion) []contracts.EvidenceCitation {
	var out []contracts.EvidenceCitation
	for _, a := range assertions {
		for _, uid := range a.SourceClaimUIDs {
			out = append(out, contracts.EvidenceCitation{
				EvidenceUID: uid,
				Quote:       a.Statement,
				Score:       a.Value.Confidence,
			})
		}
	}
	return out
}

func renderMarkdown(r *contracts.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "_Generated %s_\n\n", r.CreatedAt.Format(time.RFC3339))
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if s.Degraded {
			b.WriteString("> Partially degraded output.\n\n")
		}
		b.WriteString(s.Body)
		if !strings.HasSuffix(s.Body, "\n") {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n_Grounding: %s_\n\n", s.Level)
	}
	return b.String()
}
