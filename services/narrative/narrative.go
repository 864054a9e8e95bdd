// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package narrative clusters source claims into time-windowed narratives
// and flags suspected coordinated propagation. Clustering is
// deterministic for a given claim list and embedding provider.
package narrative

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// Config tunes clustering and coordination detection.
type Config struct {
	TimeWindowHours     float64
	SimilarityThreshold float64
	MinClusterSize      int
	BurstWindowHours    float64
	ConfidenceThreshold float64
}

// DefaultConfig mirrors the operational defaults.
func DefaultConfig() Config {
	return Config{
		TimeWindowHours:     48,
		SimilarityThreshold: 0.3,
		MinClusterSize:      3,
		BurstWindowHours:    1,
		ConfidenceThreshold: 0.6,
	}
}

// cosineThresholdFloor applies when embeddings are available: the
// embedding path demands at least this similarity regardless of config.
const cosineThresholdFloor = 0.6

// Builder builds narratives over a case's claims.
type Builder struct {
	config Config
	logger *slog.Logger
}

func New(config Config, logger *slog.Logger) *Builder {
	if config.MinClusterSize <= 0 {
		config.MinClusterSize = DefaultConfig().MinClusterSize
	}
	if config.ConfidenceThreshold == 0 {
		config.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	return &Builder{config: config, logger: logger}
}

// Build clusters claims greedily: sorted by CreatedAt, each claim joins
// the first cluster whose representative is inside the time window and
// meets the similarity bar, else starts a new cluster. embeddings may be
// nil; the token-overlap fallback is used for claims without a vector.
func (b *Builder) Build(caseUID string, claims []contracts.SourceClaim, embeddings map[string][]float32) []contracts.Narrative {
	ordered := make([]contracts.SourceClaim, len(claims))
	copy(ordered, claims)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].UID < ordered[j].UID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	window := time.Duration(b.config.TimeWindowHours * float64(time.Hour))

	var clusters [][]contracts.SourceClaim
	for _, claim := range ordered {
		placed := false
		for i, cluster := range clusters {
			rep := cluster[0]
			if claim.CreatedAt.Sub(rep.CreatedAt) > window {
				continue
			}
			if b.similar(rep, claim, embeddings) {
				clusters[i] = append(clusters[i], claim)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []contracts.SourceClaim{claim})
		}
	}

	narratives := make([]contracts.Narrative, 0, len(clusters))
	for _, cluster := range clusters {
		uids := make([]string, 0, len(cluster))
		for _, c := range cluster {
			uids = append(uids, c.UID)
		}
		narratives = append(narratives, contracts.Narrative{
			UID:             contracts.NewUID(contracts.PrefixNarrative),
			CaseUID:         caseUID,
			Theme:           theme(cluster),
			SourceClaimUIDs: uids,
			StartAt:         cluster[0].CreatedAt,
			EndAt:           cluster[len(cluster)-1].CreatedAt,
			CreatedAt:       time.Now(),
		})
	}
	b.logger.Debug("narratives built", "case_uid", caseUID, "claims", len(claims), "narratives", len(narratives))
	return narratives
}

// Trace returns the time-ordered chain of claims behind one narrative.
// The chain always resolves to leaf source claims, in non-decreasing
// CreatedAt.
func Trace(n *contracts.Narrative, claims []contracts.SourceClaim) []contracts.SourceClaim {
	byUID := make(map[string]contracts.SourceClaim, len(claims))
	for _, c := range claims {
		byUID[c.UID] = c
	}
	var chain []contracts.SourceClaim
	for _, uid := range n.SourceClaimUIDs {
		if c, ok := byUID[uid]; ok {
			chain = append(chain, c)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].CreatedAt.Before(chain[j].CreatedAt) })
	return chain
}

// DetectCoordination scans each narrative of at least MinClusterSize
// claims. A signal fires when mean pairwise similarity meets the
// threshold; confidence is (similarity + burst)/2, and signals under the
// confidence bar are labeled low_confidence with a false-positive
// rationale.
func (b *Builder) DetectCoordination(narratives []contracts.Narrative, claims []contracts.SourceClaim, embeddings map[string][]float32) []contracts.CoordinationSignal {
	byUID := make(map[string]contracts.SourceClaim, len(claims))
	for _, c := range claims {
		byUID[c.UID] = c
	}

	var signals []contracts.CoordinationSignal
	for _, n := range narratives {
		if len(n.SourceClaimUIDs) < b.config.MinClusterSize {
			continue
		}
		cluster := make([]contracts.SourceClaim, 0, len(n.SourceClaimUIDs))
		for _, uid := range n.SourceClaimUIDs {
			if c, ok := byUID[uid]; ok {
				cluster = append(cluster, c)
			}
		}
		if len(cluster) < b.config.MinClusterSize {
			continue
		}

		similarity := meanPairwiseSimilarity(cluster, embeddings)
		if similarity < b.config.SimilarityThreshold {
			continue
		}
		burst := b.burstShare(cluster)
		confidence := (similarity + burst) / 2

		signal := contracts.CoordinationSignal{
			NarrativeUID:    n.UID,
			SourceClaimUIDs: append([]string(nil), n.SourceClaimUIDs...),
			Similarity:      similarity,
			TimeBurst:       burst,
			Confidence:      confidence,
			Label:           "coordinated",
		}
		if confidence < b.config.ConfidenceThreshold {
			signal.Label = "low_confidence"
		}
		signal.FalsePositiveExplanation = fmt.Sprintf(
			"similarity=%.2f, time_burst=%.2f; natural propagation cannot be ruled out",
			similarity, burst)
		signals = append(signals, signal)
	}
	return signals
}

// burstShare is the fraction of cluster claims created inside the burst
// window from the earliest claim.
func (b *Builder) burstShare(cluster []contracts.SourceClaim) float64 {
	earliest := cluster[0].CreatedAt
	for _, c := range cluster[1:] {
		if c.CreatedAt.Before(earliest) {
			earliest = c.CreatedAt
		}
	}
	window := time.Duration(b.config.BurstWindowHours * float64(time.Hour))
	inside := 0
	for _, c := range cluster {
		if c.CreatedAt.Sub(earliest) <= window {
			inside++
		}
	}
	return float64(inside) / float64(len(cluster))
}

func (b *Builder) similar(a, c contracts.SourceClaim, embeddings map[string][]float32) bool {
	va, okA := embeddings[a.UID]
	vc, okC := embeddings[c.UID]
	if okA && okC {
		threshold := math.Max(b.config.SimilarityThreshold, cosineThresholdFloor)
		return cosine(va, vc) >= threshold
	}
	return jaccard(a.Text, c.Text) >= b.config.SimilarityThreshold
}

func meanPairwiseSimilarity(cluster []contracts.SourceClaim, embeddings map[string][]float32) float64 {
	var total float64
	pairs := 0
	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			va, okA := embeddings[cluster[i].UID]
			vb, okB := embeddings[cluster[j].UID]
			if okA && okB {
				total += cosine(va, vb)
			} else {
				total += jaccard(cluster[i].Text, cluster[j].Text)
			}
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// theme is the most frequent informative tokens of the cluster.
func theme(cluster []contracts.SourceClaim) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, c := range cluster {
		for _, tok := range strings.Fields(strings.ToLower(c.Text)) {
			if len(tok) < 4 {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 4 {
		order = order[:4]
	}
	return strings.Join(order, " ")
}

func jaccard(a, b string) float64 {
	ta := strings.Fields(strings.ToLower(a))
	tb := strings.Fields(strings.ToLower(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, tok := range ta {
		set[tok] = true
	}
	shared := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, tok := range tb {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if set[tok] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
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
