// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// InitializePriors seeds or resets the ACH probability table. An empty
// body distributes mass uniformly over the case's hypotheses.
func InitializePriors(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InitializePriorsRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeBindingError(c, deps, err)
			return
		}
		caseUID := c.Param("case")
		if err := deps.ACH.InitializePriors(c.Request.Context(), caseUID, req.Priors); err != nil {
			writeError(c, deps, err)
			return
		}
		hypotheses, err := deps.Store.ListHypothesesByCase(c.Request.Context(), caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hypotheses": hypotheses})
	}
}

// BayesianUpdate folds one piece of evidence into the posteriors. When
// the body carries evidence text the evidence is assessed against every
// hypothesis first.
func BayesianUpdate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.EvidenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		if req.EvidenceText != "" {
			if _, err := deps.ACH.AssessEvidence(ctx, caseUID, req.EvidenceUID,
				req.EvidenceText, deps.budget(newTraceID())); err != nil {
				writeError(c, deps, err)
				return
			}
		}
		if err := deps.ACH.BayesianUpdate(ctx, caseUID, req.EvidenceUID); err != nil {
			writeError(c, deps, err)
			return
		}
		hypotheses, err := deps.Store.ListHypothesesByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hypotheses": hypotheses})
	}
}

// Recalculate replays the full update sequence from priors.
func Recalculate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		if err := deps.ACH.Recalculate(ctx, caseUID); err != nil {
			writeError(c, deps, err)
			return
		}
		hypotheses, err := deps.Store.ListHypothesesByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hypotheses": hypotheses})
	}
}

// Diagnosticity reports how sharply one piece of evidence separates
// the hypotheses.
func Diagnosticity(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.EvidenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		scores, err := deps.ACH.Diagnosticity(c.Request.Context(), c.Param("case"), req.EvidenceUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"evidence_uid":  req.EvidenceUID,
			"diagnosticity": scores,
		})
	}
}

// OverrideAssessment applies a manual relation/strength judgment for
// one (hypothesis, evidence) pair.
func OverrideAssessment(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AssessmentOverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		assessment, err := deps.ACH.OverrideAssessment(c.Request.Context(),
			c.Param("case"), req.HypothesisUID, c.Param("uid"),
			contracts.AssessmentRelation(req.Relation), req.Strength, req.Rationale)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, assessment)
	}
}
