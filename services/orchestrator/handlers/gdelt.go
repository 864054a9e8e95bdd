// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// PollGDELT triggers one poll cycle outside the scheduler.
func PollGDELT(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !configured(c, deps, deps.Monitor != nil, "the GDELT monitor") {
			return
		}
		stored, anomalies, err := deps.Monitor.PollOnce(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"stored":    stored,
			"anomalies": anomalies,
		})
	}
}

// GDELTMonitorStatus reports the scheduler's state.
func GDELTMonitorStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !configured(c, deps, deps.Monitor != nil, "the GDELT monitor") {
			return
		}
		c.JSON(http.StatusOK, deps.Monitor.Status())
	}
}

// ListGDELTEvents lists monitored events, optionally filtered by
// status (new | anomaly | ingested).
func ListGDELTEvents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		events, err := deps.Store.ListGDELTEvents(c.Request.Context(), c.Query("status"), limit)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// GetGDELTEvent returns one monitored event.
func GetGDELTEvent(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		event, err := deps.Store.GetGDELTEvent(c.Request.Context(), c.Param("uid"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

// IngestGDELTEvent promotes a monitored event into a case as an
// anchored chunk.
func IngestGDELTEvent(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !configured(c, deps, deps.Monitor != nil, "the GDELT monitor") {
			return
		}
		var req datatypes.GDELTIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		chunk, err := deps.Monitor.IngestToCase(c.Request.Context(), c.Param("uid"), req.CaseUID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"chunk": chunk})
	}
}

// GDELTStatsHandler summarizes the monitored event corpus.
func GDELTStatsHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := deps.Store.GDELTStats(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
