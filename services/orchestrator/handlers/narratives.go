// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/narrative"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// BuildNarratives clusters the case's claims into narratives and
// persists them. Claims without an embedding fall back to token
// overlap, so a degraded embedder degrades clustering quality, not the
// request.
func BuildNarratives(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.NarrativeBuildRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeBindingError(c, deps, err)
			return
		}
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		if _, err := deps.Store.GetCase(ctx, caseUID); err != nil {
			writeError(c, deps, err)
			return
		}
		claims, err := deps.Store.ListClaimsByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}

		builder := deps.Narratives
		if req.SimilarityThreshold > 0 || req.MinClusterSize > 0 {
			config := narrative.DefaultConfig()
			if req.SimilarityThreshold > 0 {
				config.SimilarityThreshold = req.SimilarityThreshold
			}
			if req.MinClusterSize > 0 {
				config.MinClusterSize = req.MinClusterSize
			}
			builder = narrative.New(config, deps.Logger)
		}

		narratives := builder.Build(caseUID, claims, embedClaims(ctx, deps, claims))
		for i := range narratives {
			if err := deps.Store.CreateNarrative(ctx, &narratives[i]); err != nil {
				writeError(c, deps, err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"narratives": narratives})
	}
}

// DetectCoordination scores the case's narratives for coordinated
// amplification signals.
func DetectCoordination(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		narratives, err := deps.Store.ListNarrativesByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		claims, err := deps.Store.ListClaimsByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		signals := deps.Narratives.DetectCoordination(narratives, claims, embedClaims(ctx, deps, claims))
		c.JSON(http.StatusOK, gin.H{"signals": signals})
	}
}

// TraceNarrative lists the claims behind one narrative in time order.
func TraceNarrative(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		n, err := deps.Store.GetNarrative(ctx, c.Param("nar"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		if n.CaseUID != c.Param("case") {
			writeError(c, deps, &contracts.NotFoundError{Kind: "narrative", UID: c.Param("nar")})
			return
		}
		claims, err := deps.Store.ListClaimsByCase(ctx, n.CaseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"narrative": n,
			"claims":    narrative.Trace(n, claims),
		})
	}
}

// embedClaims embeds claim texts for clustering. Degraded embeddings
// are simply absent from the map.
func embedClaims(ctx context.Context, deps *Deps, claims []contracts.SourceClaim) map[string][]float32 {
	embeddings := make(map[string][]float32, len(claims))
	for _, claim := range claims {
		if vec, deg := deps.LLM.Embed(ctx, claim.Text); deg == nil {
			embeddings[claim.UID] = vec
		}
	}
	return embeddings
}
