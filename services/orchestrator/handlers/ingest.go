// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/ingest"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// maxUploadBytes caps one uploaded document body.
const maxUploadBytes = 10 << 20

// IngestDocument accepts a multipart upload (file + form fields) and
// runs the full ingestion sequence for it.
func IngestDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form datatypes.IngestDocumentForm
		if err := c.ShouldBind(&form); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			writeBindingError(c, deps, err)
			return
		}
		if fileHeader.Size > maxUploadBytes {
			writeError(c, deps, contracts.NewProblem(contracts.CodeValidation,
				"uploaded file too large", map[string]any{"max_bytes": maxUploadBytes}))
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			writeError(c, deps, err)
			return
		}
		defer file.Close()
		body, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(c, deps, err)
			return
		}

		title := form.Title
		if title == "" {
			title = fileHeader.Filename
		}
		result, err := deps.Ingest.IngestText(c.Request.Context(), form.CaseUID, ingest.Document{
			URL:         form.URL,
			Title:       title,
			SourceName:  form.SourceName,
			Text:        string(body),
			Credibility: form.Credibility,
		}, newTraceID())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

// ParseDocument previews the chunking of a raw text without writing
// anything: the selectors that ingestion would anchor.
func ParseDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestParseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		max := req.ChunkMaxChars
		if max <= 0 {
			max = 1200
		}
		selectors := ingest.Chunk(req.Text, max)
		c.JSON(http.StatusOK, gin.H{
			"chunk_count": len(selectors),
			"selectors":   selectors,
		})
	}
}
