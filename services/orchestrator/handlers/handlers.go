// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the REST and websocket adapters of the
// analysis core. Handlers are thin: they bind input, call exactly one
// service operation, and translate its error into the shared body
// shape {error_code, message, details}.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/ach"
	"github.com/AegiAI/aegi-core/services/chat"
	"github.com/AegiAI/aegi-core/services/gdelt"
	"github.com/AegiAI/aegi-core/services/identity"
	"github.com/AegiAI/aegi-core/services/ingest"
	"github.com/AegiAI/aegi-core/services/investigation"
	"github.com/AegiAI/aegi-core/services/kg"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/memory"
	"github.com/AegiAI/aegi-core/services/narrative"
	"github.com/AegiAI/aegi-core/services/ontology"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
	"github.com/AegiAI/aegi-core/services/orchestrator/observability"
	"github.com/AegiAI/aegi-core/services/pipeline"
	"github.com/AegiAI/aegi-core/services/report"
	"github.com/AegiAI/aegi-core/services/store"
)

// Deps bundles everything the handlers call into. Fields left nil make
// the routes that need them respond 501.
type Deps struct {
	Store          store.Store
	Graph          store.GraphStore
	Vector         store.VectorIndex
	LLM            llm.Client
	ACH            *ach.Engine
	Chat           *chat.Service
	KG             *kg.Builder
	Ontology       *ontology.Registry
	Identity       *identity.Resolver
	Narratives     *narrative.Builder
	Reports        *report.Generator
	Memory         *memory.Recorder
	Ingest         *ingest.Service
	Pipeline       *pipeline.Runner
	Investigations *investigation.Agent
	Monitor        *gdelt.Monitor
	Validator      *middleware.TokenValidator
	Metrics        *observability.Metrics
	TaskTimeout    time.Duration
	Logger         *slog.Logger
}

// budget builds the per-request budget every LLM-touching operation
// runs under.
func (d *Deps) budget(traceID string) contracts.BudgetContext {
	b := contracts.BudgetContext{TraceID: traceID}
	if d.TaskTimeout > 0 {
		b.Deadline = time.Now().Add(d.TaskTimeout)
	}
	return b
}

// newTraceID mints the correlation id stamped on actions and answers.
func newTraceID() string {
	return contracts.NewUID("trace")
}

// statusFor maps an error code family onto its HTTP status.
func statusFor(code string) int {
	switch code {
	case contracts.CodeNotFound:
		return http.StatusNotFound
	case contracts.CodeConflict, contracts.CodeInvestigationNotRunning:
		return http.StatusConflict
	case contracts.CodePolicyDenied:
		return http.StatusForbidden
	case contracts.CodeRateLimited:
		return http.StatusTooManyRequests
	case contracts.CodeNotImplemented:
		return http.StatusNotImplemented
	case contracts.CodeInternal:
		return http.StatusInternalServerError
	default:
		// The validation family: validation_error, invalid_priors, the
		// ontology codes, subscription_invalid, anchor_missing.
		return http.StatusUnprocessableEntity
	}
}

// writeError translates a service error into the shared body shape.
func writeError(c *gin.Context, deps *Deps, err error) {
	var problem *contracts.ProblemDetail
	switch {
	case errors.As(err, &problem):
	case contracts.IsNotFound(err):
		problem = contracts.NewProblem(contracts.CodeNotFound, err.Error(), nil)
	case contracts.IsConflict(err):
		problem = contracts.NewProblem(contracts.CodeConflict, err.Error(), nil)
	default:
		problem = contracts.NewProblem(contracts.CodeInternal, err.Error(), nil)
	}
	deps.Metrics.RecordError(c.FullPath(), problem.ErrorCode)
	c.JSON(statusFor(problem.ErrorCode), problem)
}

// writeBindingError reports a malformed or invalid request body as 400.
func writeBindingError(c *gin.Context, deps *Deps, err error) {
	deps.Metrics.RecordError(c.FullPath(), contracts.CodeValidation)
	c.JSON(http.StatusBadRequest, contracts.NewProblem(contracts.CodeValidation,
		"request body failed validation", map[string]any{"binding": err.Error()}))
}

// configured reports whether an optional dependency is wired; when it
// is not, the route answers 501 instead of panicking.
func configured(c *gin.Context, deps *Deps, ok bool, feature string) bool {
	if ok {
		return true
	}
	writeError(c, deps, contracts.NewProblem(contracts.CodeNotImplemented,
		feature+" is not configured on this deployment", nil))
	return false
}
