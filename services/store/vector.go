// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"sync"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Vector classes. All use Vectorizer "none"; embeddings come from the
// LLM layer.
const (
	ClassChunk  = "EvidenceChunk"
	ClassClaim  = "ClaimText"
	ClassMemory = "AnalysisMemory"
)

// VectorHit is one semantic search result. Certainty is Weaviate's
// normalized [0,1] score.
type VectorHit struct {
	UID       string
	Certainty float64
	Text      string
}

// VectorIndex is the semantic retrieval surface used by chat, push
// matching, narrative clustering and memory recall.
type VectorIndex interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, class, uid, caseUID, text string, vector []float32) error
	Search(ctx context.Context, class, caseUID string, vector []float32, topK int, minCertainty float64) ([]VectorHit, error)
	DeleteByCase(ctx context.Context, class, caseUID string) error
}

// =============================================================================
// Weaviate implementation
// =============================================================================

// WeaviateIndex is the production VectorIndex.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateIndex dials the Weaviate instance at rawURL.
func NewWeaviateIndex(rawURL string, logger *slog.Logger) (*WeaviateIndex, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, logger: logger}, nil
}

func vectorClass(name string) *models.Class {
	return &models.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "recordUid", DataType: []string{"text"}},
			{Name: "caseUid", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
		},
	}
}

// EnsureSchema creates any missing class. Existing classes are left
// untouched.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	for _, name := range []string{ClassChunk, ClassClaim, ClassMemory} {
		_, err := w.client.Schema().ClassGetter().WithClassName(name).Do(ctx)
		if err == nil {
			continue
		}
		w.logger.Info("creating vector class", "class", name)
		if err := w.client.Schema().ClassCreator().WithClass(vectorClass(name)).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", name, err)
		}
	}
	return nil
}

func (w *WeaviateIndex) Upsert(ctx context.Context, class, uid, caseUID, text string, vector []float32) error {
	props := map[string]interface{}{
		"recordUid": uid,
		"caseUid":   caseUID,
		"content":   text,
	}
	_, err := w.client.Data().Creator().
		WithClassName(class).
		WithProperties(props).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", class, uid, err)
	}
	return nil
}

func (w *WeaviateIndex) Search(ctx context.Context, class, caseUID string, vector []float32, topK int, minCertainty float64) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	if minCertainty > 0 {
		nearVector = nearVector.WithCertainty(float32(minCertainty))
	}

	// Certainty is always [0,1]; distance varies by metric.
	fields := []graphql.Field{
		{Name: "recordUid"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	query := w.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK)
	if caseUID != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"caseUid"}).
			WithOperator(filters.Equal).
			WithValueString(caseUID))
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", class, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search %s: %s", class, result.Errors[0].Message)
	}

	return parseHits(result.Data, class)
}

func parseHits(data map[string]models.JSONObject, class string) ([]VectorHit, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return nil, nil
	}

	hits := make([]VectorHit, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := VectorHit{}
		if v, ok := obj["recordUid"].(string); ok {
			hit.UID = v
		}
		if v, ok := obj["content"].(string); ok {
			hit.Text = v
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				hit.Certainty = c
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (w *WeaviateIndex) DeleteByCase(ctx context.Context, class, caseUID string) error {
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(class).
		WithWhere(filters.Where().
			WithPath([]string{"caseUid"}).
			WithOperator(filters.Equal).
			WithValueString(caseUID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete %s by case: %w", class, err)
	}
	return nil
}

var _ VectorIndex = (*WeaviateIndex)(nil)

// =============================================================================
// In-memory implementation
// =============================================================================

type memVecEntry struct {
	uid     string
	caseUID string
	text    string
	vector  []float32
}

// MemoryVectorIndex is the brute-force cosine index used by tests and
// lightweight mode.
type MemoryVectorIndex struct {
	mu      sync.Mutex
	classes map[string][]memVecEntry
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{classes: make(map[string][]memVecEntry)}
}

func (m *MemoryVectorIndex) EnsureSchema(context.Context) error { return nil }

func (m *MemoryVectorIndex) Upsert(_ context.Context, class, uid, caseUID, text string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.classes[class]
	for i, e := range entries {
		if e.uid == uid {
			entries[i] = memVecEntry{uid: uid, caseUID: caseUID, text: text, vector: vector}
			return nil
		}
	}
	m.classes[class] = append(entries, memVecEntry{uid: uid, caseUID: caseUID, text: text, vector: vector})
	return nil
}

func (m *MemoryVectorIndex) Search(_ context.Context, class, caseUID string, vector []float32, topK int, minCertainty float64) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []VectorHit
	for _, e := range m.classes[class] {
		if caseUID != "" && e.caseUID != caseUID {
			continue
		}
		// Map cosine [-1,1] onto Weaviate's certainty [0,1].
		certainty := (cosine(vector, e.vector) + 1) / 2
		if certainty < minCertainty {
			continue
		}
		hits = append(hits, VectorHit{UID: e.uid, Certainty: certainty, Text: e.text})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Certainty > hits[j].Certainty })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryVectorIndex) DeleteByCase(_ context.Context, class, caseUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.classes[class]
	kept := entries[:0]
	for _, e := range entries {
		if e.caseUID != caseUID {
			kept = append(kept, e)
		}
	}
	m.classes[class] = kept
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorIndex = (*MemoryVectorIndex)(nil)
