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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
)

// ListMemory lists every analysis memory record.
func ListMemory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := deps.Store.ListMemoryRecords(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// MemoryOutcome records how a remembered analysis turned out, closing
// the calibration loop.
func MemoryOutcome(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.MemoryOutcomeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		record, err := deps.Memory.RecordOutcome(c.Request.Context(), c.Param("uid"),
			req.Outcome, req.Accuracy, req.Lessons)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// MemoryPatterns aggregates pattern tags across all memory records:
// occurrence counts plus mean outcome accuracy where known.
func MemoryPatterns(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := deps.Store.ListMemoryRecords(c.Request.Context())
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"patterns": aggregatePatterns(records)})
	}
}

// MemoryRecall returns the records most similar to a scenario.
func MemoryRecall(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		scenario := c.Query("scenario")
		if scenario == "" {
			writeError(c, deps, contracts.NewProblem(contracts.CodeValidation,
				"scenario query parameter is required", nil))
			return
		}
		topK := 5
		if raw := c.Query("top_k"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				topK = n
			}
		}
		records, err := deps.Memory.Recall(c.Request.Context(), scenario, topK)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func aggregatePatterns(records []contracts.AnalysisMemoryRecord) []datatypes.PatternSummary {
	type bucket struct {
		count    int
		accSum   float64
		accCount int
	}
	buckets := make(map[string]*bucket)
	for _, record := range records {
		for _, tag := range record.PatternTags {
			b := buckets[tag]
			if b == nil {
				b = &bucket{}
				buckets[tag] = b
			}
			b.count++
			if record.Accuracy != nil {
				b.accSum += *record.Accuracy
				b.accCount++
			}
		}
	}
	out := make([]datatypes.PatternSummary, 0, len(buckets))
	for tag, b := range buckets {
		summary := datatypes.PatternSummary{Tag: tag, Count: b.count}
		if b.accCount > 0 {
			mean := b.accSum / float64(b.accCount)
			summary.MeanAccuracy = &mean
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
