// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory records analysis outcomes so later cases can recall
// similar scenarios. Records persist in the relational store; their
// scenario text is mirrored into the vector index for recall.
package memory

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
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/memory")

// recallCertaintyFloor keeps barely-related memories out of recall.
const recallCertaintyFloor = 0.6

// Recorder writes and recalls analysis memories.
type Recorder struct {
	store  store.Store
	vector store.VectorIndex
	llm    llm.Client
	logger *slog.Logger
}

func NewRecorder(st store.Store, vector store.VectorIndex, client llm.Client, logger *slog.Logger) *Recorder {
	return &Recorder{store: st, vector: vector, llm: client, logger: logger}
}

// RecordCase distills the case's leading hypothesis into a memory
// record. Cases without hypotheses record nothing.
func (r *Recorder) RecordCase(ctx context.Context, caseUID string) (*contracts.AnalysisMemoryRecord, error) {
	ctx, span := tracer.Start(ctx, "memory.RecordCase")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	hypotheses, err := r.store.ListHypothesesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	if len(hypotheses) == 0 {
		return nil, nil
	}
	sort.Slice(hypotheses, func(i, j int) bool {
		if hypotheses[i].Posterior == hypotheses[j].Posterior {
			return hypotheses[i].UID < hypotheses[j].UID
		}
		return hypotheses[i].Posterior > hypotheses[j].Posterior
	})
	leading := hypotheses[0]

	narratives, err := r.store.ListNarrativesByCase(ctx, caseUID)
	if err != nil {
		return nil, err
	}
	tags := patternTags(narratives)

	record := &contracts.AnalysisMemoryRecord{
		UID:         contracts.NewUID(contracts.PrefixMemory),
		CaseUID:     caseUID,
		Scenario:    leading.Description,
		Conclusion:  fmt.Sprintf("%s (posterior %.2f)", leading.Label, leading.Posterior),
		PatternTags: tags,
		Confidence:  leading.Posterior,
		Outcome:     "unknown",
		CreatedAt:   time.Now(),
	}
	if record.Scenario == "" {
		record.Scenario = leading.Label
	}
	if err := r.store.CreateMemoryRecord(ctx, record); err != nil {
		return nil, err
	}

	if vec, deg := r.llm.Embed(ctx, record.Scenario); deg == nil {
		if err := r.vector.Upsert(ctx, store.ClassMemory, record.UID, caseUID, record.Scenario, vec); err != nil {
			r.logger.Warn("memory vector upsert failed", "memory_uid", record.UID, "error", err)
		}
	} else {
		r.logger.Warn("memory embedding degraded", "memory_uid", record.UID, "reason", deg.Reason)
	}

	r.logger.Info("analysis memory recorded", "case_uid", caseUID, "memory_uid", record.UID)
	return record, nil
}

// Recall returns memories of scenarios similar to the query, best first.
// Recall searches across cases: that is the point of keeping memories.
func (r *Recorder) Recall(ctx context.Context, scenario string, topK int) ([]contracts.AnalysisMemoryRecord, error) {
	ctx, span := tracer.Start(ctx, "memory.Recall")
	defer span.End()

	vec, deg := r.llm.Embed(ctx, scenario)
	if deg != nil {
		return nil, contracts.NewProblem(contracts.CodeInternal,
			"embedding unavailable for recall", map[string]any{"reason": string(deg.Reason)})
	}
	hits, err := r.vector.Search(ctx, store.ClassMemory, "", vec, topK, recallCertaintyFloor)
	if err != nil {
		return nil, err
	}

	var out []contracts.AnalysisMemoryRecord
	for _, hit := range hits {
		record, err := r.store.GetMemoryRecord(ctx, hit.UID)
		if err != nil {
			if contracts.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, *record)
	}
	return out, nil
}

// RecordOutcome closes the loop on a memory once reality has spoken.
// Outcome is "confirmed", "refuted" or "unknown"; accuracy is optional.
func (r *Recorder) RecordOutcome(ctx context.Context, uid, outcome string, accuracy *float64, lessons string) (*contracts.AnalysisMemoryRecord, error) {
	switch outcome {
	case "confirmed", "refuted", "unknown":
	default:
		return nil, contracts.NewProblem(contracts.CodeValidation,
			"outcome must be confirmed, refuted or unknown", map[string]any{"outcome": outcome})
	}
	record, err := r.store.GetMemoryRecord(ctx, uid)
	if err != nil {
		return nil, err
	}
	record.Outcome = outcome
	record.Accuracy = accuracy
	if lessons != "" {
		record.Lessons = lessons
	}
	record.UpdatedAt = time.Now()
	if err := r.store.UpdateMemoryRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// patternTags derives coarse tags from narrative themes.
func patternTags(narratives []contracts.Narrative) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, n := range narratives {
		for _, tok := range strings.Fields(n.Theme) {
			if len(tok) < 4 || seen[tok] {
				continue
			}
			seen[tok] = true
			tags = append(tags, tok)
		}
	}
	sort.Strings(tags)
	if len(tags) > 8 {
		tags = tags[:8]
	}
	return tags
}
