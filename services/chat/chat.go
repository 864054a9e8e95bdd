// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat answers analyst questions against a single case. Every
// answer is grounded: an answer without surviving citations is returned
// as a HYPOTHESIS with empty text rather than as prose the evidence
// does not back.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/identity"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/chat")

const (
	// retrievalCertaintyFloor filters semantic hits that merely resemble
	// the question.
	retrievalCertaintyFloor = 0.3
	retrievalTopK           = 8
	// minDistinctSources below which sources_insufficient is flagged.
	minDistinctSources = 2
)

// graphKeywords route a question through the knowledge graph step.
var graphKeywords = []string{
	"connected", "connection", "relationship", "related", "network",
	"path", "link", "between", "ties", "associates",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// citationRefPattern matches inline [N] references in answer text.
var citationRefPattern = regexp.MustCompile(`\[(\d+)\]`)

// Sink receives chat progress events for streaming transports. A nil
// sink drops them.
type Sink func(eventType string, payload map[string]any)

// Service executes grounded Q&A.
type Service struct {
	store  store.Store
	vector store.VectorIndex
	graph  store.GraphStore
	llm    llm.Client
	logger *slog.Logger
}

func NewService(st store.Store, vector store.VectorIndex, graph store.GraphStore, client llm.Client, logger *slog.Logger) *Service {
	return &Service{store: st, vector: vector, graph: graph, llm: client, logger: logger}
}

// candidate is one retrieved context item, pre-citation.
type candidate struct {
	citation contracts.EvidenceCitation
	text     string
	at       time.Time
}

// Ask plans, retrieves, and synthesizes an answer. The answer and its
// plan are persisted to the audit log keyed by trace ID, so a client
// can replay the exchange later.
func (s *Service) Ask(ctx context.Context, caseUID, question, traceID string, sink Sink, budget contracts.BudgetContext) (*contracts.Answer, error) {
	ctx, span := tracer.Start(ctx, "chat.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_uid", caseUID),
		attribute.String("trace_id", traceID),
	)

	if strings.TrimSpace(question) == "" {
		return nil, contracts.NewProblem(contracts.CodeValidation,
			"question must not be empty", nil)
	}
	if _, err := s.store.GetCase(ctx, caseUID); err != nil {
		return nil, err
	}

	plan := buildPlan(question)
	emit(sink, "chat.plan", map[string]any{"steps": plan})

	candidates, err := s.retrieve(ctx, caseUID, question, plan)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		emit(sink, "chat.citation", map[string]any{"citation": c.citation})
	}

	answer := s.synthesize(ctx, caseUID, question, traceID, candidates, budget)
	answer.Plan = plan
	answer.RiskFlags = riskFlags(question, answer, candidates)

	if err := s.persist(ctx, answer); err != nil {
		return nil, err
	}
	emit(sink, "chat.answer", map[string]any{"answer": answer})

	s.logger.Info("question answered", "case_uid", caseUID, "trace_id", traceID,
		"answer_type", answer.AnswerType.String(), "citations", len(answer.EvidenceCitations))
	return answer, nil
}

// Replay returns a previously persisted answer by its trace ID.
func (s *Service) Replay(ctx context.Context, traceID string) (*contracts.Answer, error) {
	action, err := s.store.GetActionByTraceID(ctx, traceID)
	if err != nil {
		return nil, err
	}
	raw, ok := action.Outputs["answer"]
	if !ok {
		return nil, contracts.NewProblem(contracts.CodeNotFound,
			"trace has no recorded answer", map[string]any{"trace_id": traceID})
	}
	// Outputs round-trip through JSON in the relational store, so the
	// recorded answer may come back as a generic map.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, contracts.NewProblem(contracts.CodeInternal, err.Error(), nil)
	}
	var answer contracts.Answer
	if err := json.Unmarshal(buf, &answer); err != nil {
		return nil, contracts.NewProblem(contracts.CodeInternal, err.Error(), nil)
	}
	return &answer, nil
}

// ----------------------------------------------------------------------------
// Planning
// ----------------------------------------------------------------------------

// buildPlan produces the executable step list. It always plans at least
// retrieval and synthesis; graph-shaped questions get a kg step.
func buildPlan(question string) []contracts.PlanStep {
	steps := []contracts.PlanStep{
		{Kind: "retrieve", Description: "semantic search over evidence chunks and claims"},
	}
	lower := strings.ToLower(question)
	for _, kw := range graphKeywords {
		if strings.Contains(lower, kw) {
			steps = append(steps, contracts.PlanStep{
				Kind:        "kg",
				Description: "walk the case knowledge graph for entity relations",
			})
			break
		}
	}
	steps = append(steps, contracts.PlanStep{
		Kind:        "synthesize",
		Description: "compose a cited answer from retrieved context",
	})
	return steps
}

// ----------------------------------------------------------------------------
// Retrieval
// ----------------------------------------------------------------------------

func (s *Service) retrieve(ctx context.Context, caseUID, question string, plan []contracts.PlanStep) ([]candidate, error) {
	var out []candidate

	vec, deg := s.llm.Embed(ctx, question)
	if deg != nil {
		s.logger.Warn("embedding degraded, falling back to keyword retrieval",
			"case_uid", caseUID, "reason", deg.Reason)
	} else {
		chunkHits, err := s.vector.Search(ctx, store.ClassChunk, caseUID, vec, retrievalTopK, retrievalCertaintyFloor)
		if err != nil {
			return nil, err
		}
		for _, h := range chunkHits {
			c := candidate{
				citation: contracts.EvidenceCitation{ChunkUID: h.UID, Quote: snippet(h.Text), Score: h.Certainty},
				text:     h.Text,
			}
			if chunk, err := s.store.GetChunk(ctx, h.UID); err == nil {
				c.at = chunk.CreatedAt
			}
			out = append(out, c)
		}
		claimHits, err := s.vector.Search(ctx, store.ClassClaim, caseUID, vec, retrievalTopK, retrievalCertaintyFloor)
		if err != nil {
			return nil, err
		}
		for _, h := range claimHits {
			c := candidate{
				citation: contracts.EvidenceCitation{EvidenceUID: h.UID, Quote: snippet(h.Text), Score: h.Certainty},
				text:     h.Text,
			}
			if claim, err := s.store.GetSourceClaim(ctx, h.UID); err == nil {
				c.citation.Source = claim.SourceName
				c.at = claim.CreatedAt
			}
			out = append(out, c)
		}
	}

	// An empty vector result is not the final word: claims in the
	// relational store may still match on keywords, for example before
	// the index has been populated.
	if len(out) == 0 {
		kw, err := s.keywordRetrieve(ctx, caseUID, question)
		if err != nil {
			return nil, err
		}
		out = kw
	}

	if hasStep(plan, "kg") {
		kg, err := s.graphRetrieve(ctx, caseUID, question)
		if err != nil {
			return nil, err
		}
		out = append(out, kg...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].citation.Score > out[j].citation.Score })
	if len(out) > retrievalTopK {
		out = out[:retrievalTopK]
	}
	return out, nil
}

// keywordRetrieve matches stored claims by token overlap. It backs both
// the degraded-embedder path and the empty-vector-result fallback.
func (s *Service) keywordRetrieve(ctx context.Context, caseUID, question string) ([]candidate, error) {
	claims, err := s.store.ListClaimsByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	qTokens := tokenSet(question)
	var out []candidate
	for _, c := range claims {
		overlap := 0
		for tok := range tokenSet(c.Text) {
			if qTokens[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := float64(overlap) / float64(len(qTokens))
		out = append(out, candidate{
			citation: contracts.EvidenceCitation{
				EvidenceUID: c.UID, Quote: snippet(c.Text), Source: c.SourceName, Score: score,
			},
			text: c.Text,
			at:   c.CreatedAt,
		})
	}
	return out, nil
}

// graphRetrieve surfaces relation facts whose endpoints are named in
// the question.
func (s *Service) graphRetrieve(ctx context.Context, caseUID, question string) ([]candidate, error) {
	sub, err := s.graph.FetchSubgraph(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	qTokens := tokenSet(question)
	mentioned := make(map[string]string) // entity UID -> name
	for uid, e := range sub.Entities {
		for tok := range tokenSet(e.Name) {
			if qTokens[tok] {
				mentioned[uid] = e.Name
				break
			}
		}
	}
	var out []candidate
	for _, r := range sub.Relations {
		srcName, srcOK := mentioned[r.SourceUID]
		tgtName, tgtOK := mentioned[r.TargetUID]
		if !srcOK && !tgtOK {
			continue
		}
		if !srcOK {
			srcName = sub.Entities[r.SourceUID].Name
		}
		if !tgtOK {
			tgtName = sub.Entities[r.TargetUID].Name
		}
		text := fmt.Sprintf("%s %s %s", srcName, strings.ToLower(strings.ReplaceAll(r.Type, "_", " ")), tgtName)
		claimUID := ""
		if len(r.SupportingClaimUID) > 0 {
			claimUID = r.SupportingClaimUID[0]
		}
		out = append(out, candidate{
			citation: contracts.EvidenceCitation{
				EvidenceUID: claimUID, Quote: text, Score: r.EvidenceStrength,
			},
			text: text,
			at:   r.CreatedAt,
		})
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Synthesis
// ----------------------------------------------------------------------------

// synthesize drafts the answer over the numbered context and keeps only
// the citations the draft actually references. No surviving citation
// means no answer.
func (s *Service) synthesize(ctx context.Context, caseUID, question, traceID string, candidates []candidate, budget contracts.BudgetContext) *contracts.Answer {
	answer := &contracts.Answer{
		TraceID:   traceID,
		CaseUID:   caseUID,
		Question:  question,
		CreatedAt: time.Now(),
	}

	if len(candidates) == 0 {
		answer.AnswerType = contracts.LevelHypothesis
		answer.CannotAnswerReason = contracts.RiskEvidenceInsufficient
		return answer
	}

	var ctxLines []string
	for i, c := range candidates {
		ctxLines = append(ctxLines, fmt.Sprintf("[%d] %s", i+1, c.text))
	}
	res, deg := s.llm.Invoke(ctx, contracts.LLMInvocationRequest{
		PromptName:    "chat_answer",
		PromptVersion: "v1",
		Prompt: fmt.Sprintf(
			"Answer the question using only the numbered context. Cite context as [N].\n\nQuestion: %s\n\nContext:\n%s",
			question, strings.Join(ctxLines, "\n")),
		Budget: budget,
	})

	var text string
	if deg != nil {
		// Extractive fallback: the strongest retrieved context, cited.
		text = fmt.Sprintf("%s [1]", candidates[0].text)
	} else {
		text = res.Text
	}

	cited := referencedCitations(text, candidates)
	if len(cited) == 0 {
		answer.AnswerText = ""
		answer.AnswerType = contracts.LevelHypothesis
		answer.CannotAnswerReason = contracts.RiskEvidenceInsufficient
		return answer
	}
	answer.AnswerText = text
	answer.EvidenceCitations = cited
	answer.AnswerType = contracts.Gate(contracts.LevelFact, true)
	return answer
}

// referencedCitations resolves [N] references against the candidate
// list, preserving first-reference order.
func referencedCitations(text string, candidates []candidate) []contracts.EvidenceCitation {
	seen := make(map[int]bool)
	var out []contracts.EvidenceCitation
	for _, m := range citationRefPattern.FindAllStringSubmatch(text, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n < 1 || n > len(candidates) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, candidates[n-1].citation)
	}
	return out
}

// ----------------------------------------------------------------------------
// Risk flags and persistence
// ----------------------------------------------------------------------------

func riskFlags(question string, answer *contracts.Answer, candidates []candidate) []string {
	var flags []string
	if answer.CannotAnswerReason == contracts.RiskEvidenceInsufficient {
		flags = append(flags, contracts.RiskEvidenceInsufficient)
		return flags
	}

	sources := make(map[string]bool)
	for _, c := range answer.EvidenceCitations {
		if c.Source != "" {
			sources[c.Source] = true
		}
	}
	if len(sources) < minDistinctSources {
		flags = append(flags, contracts.RiskSourcesInsufficient)
	}

	if years := yearPattern.FindAllString(question, -1); len(years) > 0 {
		wanted := make(map[string]bool)
		for _, y := range years {
			wanted[y] = true
		}
		match := false
		for _, c := range candidates {
			if !c.at.IsZero() && wanted[fmt.Sprintf("%d", c.at.Year())] {
				match = true
				break
			}
		}
		if !match {
			flags = append(flags, contracts.RiskTimeRangeConflict)
		}
	}
	return flags
}

func (s *Service) persist(ctx context.Context, answer *contracts.Answer) error {
	return s.store.AppendAction(ctx, &contracts.Action{
		UID:     contracts.NewUID(contracts.PrefixAction),
		CaseUID: answer.CaseUID,
		Actor:   "chat",
		Kind:    "chat.answer",
		TraceID: answer.TraceID,
		Inputs:  map[string]any{"question": answer.Question},
		Outputs: map[string]any{
			"answer":    answer,
			"plan":      answer.Plan,
			"citations": answer.EvidenceCitations,
		},
		CreatedAt: time.Now(),
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func emit(sink Sink, eventType string, payload map[string]any) {
	if sink != nil {
		sink(eventType, payload)
	}
}

func hasStep(plan []contracts.PlanStep, kind string) bool {
	for _, s := range plan {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func tokenSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(identity.Normalize(text)) {
		if len(tok) >= 3 {
			out[tok] = true
		}
	}
	return out
}

func snippet(text string) string {
	const limit = 240
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "…"
}
