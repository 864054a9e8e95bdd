// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kg builds the case knowledge graph from fused assertions and
// runs the in-process analyses over it. Every node and edge is validated
// against the active ontology version before it reaches the graph;
// invalid extractions are skipped and reported, never silently written.
package kg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/identity"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/ontology"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/kg")

// Builder extracts graph structure from assertions.
type Builder struct {
	store    store.Store
	graph    store.GraphStore
	registry *ontology.Registry
	llm      llm.Client
	logger   *slog.Logger
}

func NewBuilder(st store.Store, graph store.GraphStore, registry *ontology.Registry, client llm.Client, logger *slog.Logger) *Builder {
	return &Builder{store: st, graph: graph, registry: registry, llm: client, logger: logger}
}

// SkippedItem records one extraction rejected by ontology validation.
type SkippedItem struct {
	Kind      string `json:"kind"` // "entity" | "event" | "relation"
	Name      string `json:"name"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// BuildResult is one graph build pass.
type BuildResult struct {
	Entities  []contracts.Entity
	Events    []contracts.Event
	Relations []contracts.RelationFact
	Skipped   []SkippedItem
}

// extraction is the structured LLM response shape for one assertion.
type extraction struct {
	Entities []struct {
		Name       string         `json:"name"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties,omitempty"`
	} `json:"entities"`
	Events []struct {
		Name       string    `json:"name"`
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurred_at,omitempty"`
	} `json:"events"`
	Relations []struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Type   string `json:"type"`
	} `json:"relations"`
}

// BuildFromAssertions extracts entities, events and relations from the
// assertions and upserts the valid ones. When the LLM is unavailable the
// rule-based fallback still extracts proper-noun entities, so the build
// degrades instead of failing.
func (b *Builder) BuildFromAssertions(ctx context.Context, caseUID, traceID string, assertions []contracts.Assertion, budget contracts.BudgetContext) (*BuildResult, error) {
	ctx, span := tracer.Start(ctx, "kg.BuildFromAssertions")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID), attribute.Int("assertions", len(assertions)))

	version := b.registry.Latest()
	result := &BuildResult{}
	entityByName := make(map[string]*contracts.Entity)

	for _, assertion := range assertions {
		ex := b.extract(ctx, assertion, budget)

		for _, cand := range ex.Entities {
			key := identity.Normalize(cand.Name)
			if key == "" {
				continue
			}
			if _, ok := entityByName[key]; ok {
				continue
			}
			entity := contracts.Entity{
				UID:        contracts.NewUID(contracts.PrefixEntity),
				CaseUID:    caseUID,
				Name:       cand.Name,
				Type:       cand.Type,
				Properties: cand.Properties,
				CreatedAt:  time.Now(),
			}
			if version != nil {
				if problem := b.registry.ValidateEntity(version.Version, &entity); problem != nil {
					result.Skipped = append(result.Skipped, SkippedItem{
						Kind: "entity", Name: cand.Name,
						ErrorCode: problem.ErrorCode, Message: problem.Message,
					})
					continue
				}
			}
			if err := b.graph.UpsertEntity(ctx, &entity); err != nil {
				return nil, err
			}
			entityByName[key] = &entity
			result.Entities = append(result.Entities, entity)
		}

		for _, cand := range ex.Events {
			event := contracts.Event{
				UID:        contracts.NewUID(contracts.PrefixEvent),
				CaseUID:    caseUID,
				Name:       cand.Name,
				Type:       cand.Type,
				OccurredAt: cand.OccurredAt,
				CreatedAt:  time.Now(),
			}
			if err := b.graph.UpsertEvent(ctx, &event); err != nil {
				return nil, err
			}
			result.Events = append(result.Events, event)
		}

		for _, cand := range ex.Relations {
			src, okS := entityByName[identity.Normalize(cand.Source)]
			tgt, okT := entityByName[identity.Normalize(cand.Target)]
			if !okS || !okT {
				result.Skipped = append(result.Skipped, SkippedItem{
					Kind: "relation", Name: cand.Type,
					ErrorCode: contracts.CodeValidation,
					Message:   "relation endpoint was not extracted as an entity",
				})
				continue
			}
			relation := contracts.RelationFact{
				UID:                contracts.NewUID(contracts.PrefixRelation),
				CaseUID:            caseUID,
				SourceUID:          src.UID,
				TargetUID:          tgt.UID,
				Type:               cand.Type,
				SupportingClaimUID: assertion.SourceClaimUIDs,
				EvidenceStrength:   assertion.Value.Confidence,
				HasConflict:        assertion.Value.HasConflict,
				CreatedAt:          time.Now(),
			}
			if version != nil {
				relation.OntologyVersion = version.Version
				if problem := b.registry.ValidateRelation(version.Version, &relation, src.Type, tgt.Type); problem != nil {
					result.Skipped = append(result.Skipped, SkippedItem{
						Kind: "relation", Name: cand.Type,
						ErrorCode: problem.ErrorCode, Message: problem.Message,
					})
					continue
				}
			}
			if err := b.store.CreateRelationFact(ctx, &relation); err != nil {
				return nil, err
			}
			if err := b.graph.UpsertRelation(ctx, &relation); err != nil {
				return nil, err
			}
			result.Relations = append(result.Relations, relation)
		}
	}

	b.recordAction(ctx, caseUID, traceID, result)
	b.logger.Info("knowledge graph built", "case_uid", caseUID,
		"entities", len(result.Entities), "events", len(result.Events),
		"relations", len(result.Relations), "skipped", len(result.Skipped))
	return result, nil
}

func (b *Builder) recordAction(ctx context.Context, caseUID, traceID string, result *BuildResult) {
	action := &contracts.Action{
		UID:     contracts.NewUID(contracts.PrefixAction),
		CaseUID: caseUID,
		Actor:   "system",
		Kind:    "kg.build",
		TraceID: traceID,
		Outputs: map[string]any{
			"entities":  len(result.Entities),
			"events":    len(result.Events),
			"relations": len(result.Relations),
			"skipped":   len(result.Skipped),
		},
		CreatedAt: time.Now(),
	}
	if err := b.store.AppendAction(ctx, action); err != nil {
		b.logger.Error("failed to append kg build action", "error", err)
	}
}

// extract runs the LLM extraction with a rule-based fallback.
func (b *Builder) extract(ctx context.Context, assertion contracts.Assertion, budget contracts.BudgetContext) extraction {
	var ex extraction
	deg := b.llm.InvokeStructured(ctx, contracts.LLMInvocationRequest{
		PromptName:    "kg_extract",
		PromptVersion: "v1",
		Prompt:        extractionPrompt(assertion.Statement),
		Budget:        budget,
	}, &ex)
	if deg == nil {
		return ex
	}
	b.logger.Warn("kg extraction degraded, using rule fallback",
		"assertion_uid", assertion.UID, "reason", deg.Reason)
	return ruleExtract(assertion.Statement)
}

// ruleExtract pulls capitalized token runs as untyped entities. It finds
// no events and no relations; the graph stays sparse but never empty of
// obviously named actors.
func ruleExtract(statement string) extraction {
	var ex extraction
	words := strings.Fields(statement)
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		run = nil
		for _, existing := range ex.Entities {
			if existing.Name == name {
				return
			}
		}
		ex.Entities = append(ex.Entities, struct {
			Name       string         `json:"name"`
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties,omitempty"`
		}{Name: name, Type: "Entity"})
	}
	for i, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		// Sentence-initial words are ambiguous; skip them.
		if unicode.IsUpper(first) && i > 0 {
			run = append(run, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return ex
}

func extractionPrompt(statement string) string {
	return fmt.Sprintf(`Extract the graph structure of the statement.

Statement: %s

Return JSON:
{"entities": [{"name": "...", "type": "...", "properties": {}}],
 "events": [{"name": "...", "type": "...", "occurred_at": "RFC3339 or omit"}],
 "relations": [{"source": "<entity name>", "target": "<entity name>", "type": "..."}]}

Use only entity and relation types from the published ontology.`, statement)
}
