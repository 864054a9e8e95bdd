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

	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
)

// ListInvestigations lists runs, optionally filtered by case and
// status.
func ListInvestigations(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		investigations, err := deps.Store.ListInvestigations(c.Request.Context(),
			c.Query("case_uid"), c.Query("status"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"investigations": investigations})
	}
}

// GetInvestigation returns one run with its round log.
func GetInvestigation(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := deps.Store.GetInvestigation(c.Request.Context(), c.Param("uid"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// CancelInvestigation cooperatively signals an in-flight run. A run
// that is not running responds 409 investigation_not_running.
func CancelInvestigation(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !configured(c, deps, deps.Investigations != nil, "the investigation agent") {
			return
		}
		var req datatypes.CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeBindingError(c, deps, err)
			return
		}
		cancelledBy := req.CancelledBy
		if cancelledBy == "" {
			cancelledBy = middleware.GetUserID(c)
		}
		if err := deps.Investigations.CancelRun(c.Param("uid"), cancelledBy); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"uid":    c.Param("uid"),
			"status": "cancelling",
		})
	}
}
