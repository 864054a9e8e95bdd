// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package claims extracts source claims from evidence chunks. Every
// stored claim is anchored: its quote must occur verbatim in the chunk
// text, otherwise the candidate is dropped.
package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/claims")

// SourceMeta carries provenance the extractor stamps onto every claim.
type SourceMeta struct {
	SourceName  string
	Credibility float64
}

// Extractor turns chunk text into anchored source claims.
type Extractor struct {
	store  store.Store
	llm    llm.Client
	bus    *eventbus.Bus
	logger *slog.Logger
}

func NewExtractor(st store.Store, client llm.Client, bus *eventbus.Bus, logger *slog.Logger) *Extractor {
	return &Extractor{store: st, llm: client, bus: bus, logger: logger}
}

// candidate is the structured LLM response shape for one claim.
type candidate struct {
	Text         string  `json:"text"`
	Quote        string  `json:"quote"`
	Modality     string  `json:"modality"`
	AttributedTo string  `json:"attributed_to,omitempty"`
	Language     string  `json:"language,omitempty"`
	Translation  string  `json:"translation,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// ExtractFromChunk runs one structured LLM call over the chunk and
// persists the anchored candidates. On LLM failure it returns the
// degraded marker, records a failing tool trace, and stores nothing.
// Candidates whose quote does not occur in the chunk are dropped, never
// stored.
func (e *Extractor) ExtractFromChunk(ctx context.Context, chunk *contracts.Chunk, meta SourceMeta, traceID string, budget contracts.BudgetContext) ([]contracts.SourceClaim, *contracts.DegradedOutput, error) {
	ctx, span := tracer.Start(ctx, "claims.ExtractFromChunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_uid", chunk.CaseUID),
		attribute.String("chunk_uid", chunk.UID),
	)

	started := time.Now()
	var candidates []candidate
	if deg := e.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "claims_extract",
		PromptVersion: "v1",
		Prompt:        extractionPrompt(chunk.Text),
		Budget:        budget,
	}, &candidates); deg != nil {
		e.recordTrace(ctx, chunk, traceID, "error", deg.Detail, started)
		e.logger.Warn("claim extraction degraded",
			"chunk_uid", chunk.UID, "reason", deg.Reason)
		return nil, deg, nil
	}

	var claims []contracts.SourceClaim
	dropped := 0
	for _, c := range candidates {
		selector, ok := anchor(chunk.Text, c.Quote, c.Text)
		if !ok {
			dropped++
			continue
		}
		claim := contracts.SourceClaim{
			UID:          contracts.NewUID(contracts.PrefixSourceClaim),
			CaseUID:      chunk.CaseUID,
			ChunkUID:     chunk.UID,
			Text:         c.Text,
			Selectors:    []contracts.AnchorSelector{selector},
			Modality:     parseModality(c.Modality),
			AttributedTo: c.AttributedTo,
			Language:     c.Language,
			Translation:  c.Translation,
			Confidence:   clamp01(c.Confidence),
			SourceName:   meta.SourceName,
			Credibility:  meta.Credibility,
			CreatedAt:    time.Now(),
		}
		if err := claim.Validate(); err != nil {
			dropped++
			continue
		}
		if err := e.store.CreateSourceClaim(ctx, &claim); err != nil {
			return nil, nil, err
		}
		claims = append(claims, claim)
	}

	e.recordTrace(ctx, chunk, traceID, "ok",
		fmt.Sprintf("extracted=%d dropped=%d", len(claims), dropped), started)

	if e.bus != nil && len(claims) > 0 {
		claimUIDs := make([]string, 0, len(claims))
		for _, c := range claims {
			claimUIDs = append(claimUIDs, c.UID)
		}
		e.bus.Emit(ctx, eventbus.Event{
			EventType:      "claim.extracted",
			CaseUID:        chunk.CaseUID,
			SourceEventUID: fmt.Sprintf("claim:%s:%s:%d", chunk.CaseUID, chunk.UID, time.Now().Unix()),
			Payload: map[string]any{
				"chunk_uid":   chunk.UID,
				"claim_count": len(claims),
				"claim_uids":  claimUIDs,
			},
		})
	}

	e.logger.Info("claims extracted", "case_uid", chunk.CaseUID,
		"chunk_uid", chunk.UID, "claims", len(claims), "dropped", dropped)
	return claims, nil, nil
}

func (e *Extractor) recordTrace(ctx context.Context, chunk *contracts.Chunk, traceID, status, detail string, started time.Time) {
	trace := &contracts.ToolTrace{
		UID:       contracts.NewUID(contracts.PrefixToolTrace),
		CaseUID:   chunk.CaseUID,
		TraceID:   traceID,
		Tool:      "claims.extract",
		Status:    status,
		Request:   map[string]any{"chunk_uid": chunk.UID},
		Response:  map[string]any{"detail": detail},
		Duration:  time.Since(started),
		CreatedAt: time.Now(),
	}
	if status == "error" {
		trace.Error = detail
	}
	if err := e.store.AppendToolTrace(ctx, trace); err != nil {
		e.logger.Error("failed to append extraction trace", "error", err)
	}
}

// anchor builds a TextQuoteSelector for the candidate. The quote (or,
// failing that, the claim text itself) must occur verbatim in the chunk.
func anchor(chunkText, quote, claimText string) (contracts.AnchorSelector, bool) {
	exact := quote
	if exact == "" {
		exact = claimText
	}
	idx := strings.Index(chunkText, exact)
	if idx < 0 {
		return contracts.AnchorSelector{}, false
	}
	prefix := chunkText[max(0, idx-32):idx]
	end := idx + len(exact)
	suffix := chunkText[end:min(len(chunkText), end+32)]
	return contracts.AnchorSelector{
		Type:   "TextQuoteSelector",
		Exact:  exact,
		Prefix: prefix,
		Suffix: suffix,
		Start:  idx,
		End:    end,
	}, true
}

func extractionPrompt(text string) string {
	payload, _ := json.Marshal(text)
	return fmt.Sprintf(`Extract the factual claims made in the passage below.

Passage: %s

Return a JSON array:
[{"text": "...", "quote": "<verbatim substring of the passage>",
  "modality": "asserted|denied|reported|speculative",
  "attributed_to": "...", "language": "...", "confidence": 0.0-1.0}]

The quote field must be copied character-for-character from the passage.`, string(payload))
}

func parseModality(s string) contracts.ClaimModality {
	switch contracts.ClaimModality(s) {
	case contracts.ModalityAsserted, contracts.ModalityDenied,
		contracts.ModalityReported, contracts.ModalitySpeculative:
		return contracts.ClaimModality(s)
	default:
		return contracts.ModalityAsserted
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

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
