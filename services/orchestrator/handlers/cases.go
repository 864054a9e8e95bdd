// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// CreateCase opens a new analytical workspace.
func CreateCase(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		now := time.Now()
		kase := &contracts.Case{
			UID:       contracts.NewUID(contracts.PrefixCase),
			Title:     req.Title,
			Summary:   req.Summary,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.CreateCase(c.Request.Context(), kase); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, kase)
	}
}

// ListCases returns every case.
func ListCases(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cases, err := deps.Store.ListCases(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cases": cases})
	}
}

// GetCase returns one case by UID.
func GetCase(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		kase, err := deps.Store.GetCase(c.Request.Context(), c.Param("case"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, kase)
	}
}
