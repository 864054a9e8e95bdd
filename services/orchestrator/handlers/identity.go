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

	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// PendingIdentityActions lists merge/split proposals awaiting review.
func PendingIdentityActions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		actions, err := deps.Store.ListPendingIdentityActions(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

// ApproveIdentityAction applies a pending merge proposal.
func ApproveIdentityAction(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IdentityDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		action, err := deps.Identity.Approve(c.Request.Context(), c.Param("uid"), req.DecidedBy)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, action)
	}
}

// RejectIdentityAction declines a pending merge proposal; a reason is
// mandatory.
func RejectIdentityAction(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IdentityDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		action, err := deps.Identity.Reject(c.Request.Context(), c.Param("uid"),
			req.DecidedBy, req.Reason)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, action)
	}
}
