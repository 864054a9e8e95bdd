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

// AskChat answers one grounded question against a case. Insufficient
// evidence is a 200 with cannot_answer_reason set, never an error.
func AskChat(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		traceID := req.TraceID
		if traceID == "" {
			traceID = newTraceID()
		}
		answer, err := deps.Chat.Ask(c.Request.Context(), c.Param("case"),
			req.Question, traceID, nil, deps.budget(traceID))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// ReplayChat returns the persisted answer for a trace id.
func ReplayChat(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		answer, err := deps.Chat.Replay(c.Request.Context(), c.Param("trace"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		// A trace recorded for another case is a miss, not a leak.
		if answer.CaseUID != c.Param("case") {
			writeError(c, deps, &contracts.NotFoundError{Kind: "answer", UID: c.Param("trace")})
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}
