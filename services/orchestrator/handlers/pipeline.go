// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// StartPipelineRun starts an analysis run and returns its id
// immediately; progress is polled via GetPipelineRun.
func StartPipelineRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PipelineRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		traceID := newTraceID()
		runID, err := deps.Pipeline.StartRun(c.Request.Context(), req.CaseUID,
			req.Playbook, deps.budget(traceID))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		playbook := req.Playbook
		if playbook == "" {
			playbook = "full"
		}
		deps.Metrics.RecordPipelineRun(playbook)
		c.JSON(http.StatusAccepted, gin.H{
			"run_id":   runID,
			"case_uid": req.CaseUID,
			"playbook": playbook,
		})
	}
}

// ListPipelineRuns lists tracked runs, newest first.
func ListPipelineRuns(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": deps.Pipeline.Tracker().List()})
	}
}

// GetPipelineRun returns one run's stage-by-stage state.
func GetPipelineRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := deps.Pipeline.Tracker().Get(c.Param("run"))
		if !ok {
			writeError(c, deps, &contracts.NotFoundError{Kind: "pipeline run", UID: c.Param("run")})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// CancelPipelineRun aborts a running pipeline.
func CancelPipelineRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Pipeline.Cancel(c.Param("run")); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"run_id": c.Param("run"),
			"status": "cancelling",
		})
	}
}
