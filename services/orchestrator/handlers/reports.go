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
)

// GenerateReport produces a structured report over the case. Sections
// whose synthesis degrades are marked degraded rather than failing the
// request.
func GenerateReport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var config contracts.ReportConfig
		if err := c.ShouldBindJSON(&config); err != nil && !errors.Is(err, io.EOF) {
			writeBindingError(c, deps, err)
			return
		}
		traceID := newTraceID()
		report, err := deps.Reports.Generate(c.Request.Context(), c.Param("case"),
			traceID, config, deps.budget(traceID))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, report)
	}
}

// GetReport returns the structured report.
func GetReport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := loadCaseReport(c, deps)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetReportMarkdown returns the rendered markdown body.
func GetReportMarkdown(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := loadCaseReport(c, deps)
		if !ok {
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown))
	}
}

// GetReportJSON returns the report sections as plain JSON without the
// markdown rendering.
func GetReportJSON(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := loadCaseReport(c, deps)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uid":      report.UID,
			"case_uid": report.CaseUID,
			"title":    report.Title,
			"sections": report.Sections,
			"config":   report.Config,
			"trace_id": report.TraceID,
		})
	}
}

func loadCaseReport(c *gin.Context, deps *Deps) (*contracts.Report, bool) {
	report, err := deps.Store.GetReport(c.Request.Context(), c.Param("report"))
	if err != nil {
		writeError(c, deps, err)
		return nil, false
	}
	if report.CaseUID != c.Param("case") {
		writeError(c, deps, &contracts.NotFoundError{Kind: "report", UID: c.Param("report")})
		return nil, false
	}
	return report, true
}
