// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// BuildFromAssertions projects the case's fused assertions into the
// knowledge graph. Assertions that fail ontology validation come back
// in the skipped list; they never abort the build.
func BuildFromAssertions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		assertions, err := deps.Store.ListAssertionsByCase(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		traceID := newTraceID()
		result, err := deps.KG.BuildFromAssertions(ctx, caseUID, traceID, assertions, deps.budget(traceID))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Disambiguate runs entity resolution over the case's graph
// projection. Certain merges apply immediately; uncertain ones are
// queued for review on /api/entity-identity/pending.
func Disambiguate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caseUID := c.Param("case")
		if _, err := deps.Store.GetCase(ctx, caseUID); err != nil {
			writeError(c, deps, err)
			return
		}
		sub, err := deps.Graph.FetchSubgraph(ctx, caseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		entities := make([]contracts.Entity, 0, len(sub.Entities))
		for _, e := range sub.Entities {
			entities = append(entities, e)
		}
		// Map iteration order must not leak into proposal order.
		sort.Slice(entities, func(i, j int) bool { return entities[i].UID < entities[j].UID })

		actions, err := deps.Identity.Resolve(ctx, caseUID, entities)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

// UpgradeOntology publishes a new ontology version for the deployment.
func UpgradeOntology(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.OntologyUpgradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		if err := deps.Ontology.Publish(c.Request.Context(), req.Version); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, req.Version)
	}
}

// CompatibilityReport diffs an ontology version against a baseline.
// The baseline defaults to the latest published version and can be
// overridden with ?from=<version>.
func CompatibilityReport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		from := c.Query("from")
		if from == "" {
			latest := deps.Ontology.Latest()
			if latest == nil {
				writeError(c, deps, contracts.NewProblem(contracts.CodeNotFound,
					"no ontology versions published", nil))
				return
			}
			from = latest.Version
		}
		report, err := deps.Ontology.CompatibilityReport(from, c.Param("version"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
