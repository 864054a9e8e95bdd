// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the REST surface onto a gin engine. Route
// registration is the single place the full HTTP surface is visible.
package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AegiAI/aegi-core/services/orchestrator/handlers"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
	"github.com/AegiAI/aegi-core/services/orchestrator/observability"
)

// SetupRoutes registers every route on the engine. /health, /metrics
// and the websocket upgrade are unauthenticated; the websocket carries
// its token as a query parameter and everything else requires a bearer
// token.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {
	router.Use(requestMetrics(deps.Metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", handlers.ChatWebSocket(deps))

	auth := middleware.AuthMiddleware(deps.Validator)

	cases := router.Group("/cases", auth)
	{
		cases.POST("", handlers.CreateCase(deps))
		cases.GET("", handlers.ListCases(deps))
		cases.GET("/:case", handlers.GetCase(deps))

		hypotheses := cases.Group("/:case/hypotheses")
		{
			hypotheses.POST("/initialize-priors", handlers.InitializePriors(deps))
			hypotheses.POST("/bayesian-update", handlers.BayesianUpdate(deps))
			hypotheses.POST("/recalculate", handlers.Recalculate(deps))
			hypotheses.POST("/diagnosticity", handlers.Diagnosticity(deps))
		}
		cases.PUT("/:case/evidence-assessments/:uid", handlers.OverrideAssessment(deps))

		cases.POST("/:case/analysis/chat", handlers.AskChat(deps))
		cases.GET("/:case/analysis/chat/:trace", handlers.ReplayChat(deps))

		cases.POST("/:case/kg/build_from_assertions", handlers.BuildFromAssertions(deps))
		cases.POST("/:case/kg/disambiguate", handlers.Disambiguate(deps))
		cases.POST("/:case/ontology/upgrade", handlers.UpgradeOntology(deps))
		cases.GET("/:case/ontology/:version/compatibility_report", handlers.CompatibilityReport(deps))

		narratives := cases.Group("/:case/narratives")
		{
			narratives.POST("/build", handlers.BuildNarratives(deps))
			narratives.POST("/detect_coordination", handlers.DetectCoordination(deps))
			narratives.POST("/:nar/trace", handlers.TraceNarrative(deps))
		}

		reports := cases.Group("/:case/reports")
		{
			reports.POST("/generate", handlers.GenerateReport(deps))
			reports.GET("/:report", handlers.GetReport(deps))
			reports.GET("/:report/markdown", handlers.GetReportMarkdown(deps))
			reports.GET("/:report/json", handlers.GetReportJSON(deps))
		}
	}

	ingest := router.Group("/ingest", auth)
	{
		ingest.POST("/document", handlers.IngestDocument(deps))
		ingest.POST("/parse", handlers.ParseDocument(deps))
	}

	api := router.Group("/api", auth)
	{
		api.GET("/investigations", handlers.ListInvestigations(deps))
		api.GET("/investigations/:uid", handlers.GetInvestigation(deps))
		api.POST("/investigations/:uid/cancel", handlers.CancelInvestigation(deps))

		api.GET("/entity-identity/pending", handlers.PendingIdentityActions(deps))
		api.POST("/entity-identity/:uid/approve", handlers.ApproveIdentityAction(deps))
		api.POST("/entity-identity/:uid/reject", handlers.RejectIdentityAction(deps))

		api.GET("/memory", handlers.ListMemory(deps))
		api.POST("/memory/:uid/outcome", handlers.MemoryOutcome(deps))
		api.GET("/memory/patterns", handlers.MemoryPatterns(deps))
		api.GET("/memory/recall", handlers.MemoryRecall(deps))
	}

	subscriptions := router.Group("/subscriptions", auth)
	{
		subscriptions.POST("", handlers.CreateSubscription(deps))
		subscriptions.GET("", handlers.ListSubscriptions(deps))
		subscriptions.GET("/:uid", handlers.GetSubscription(deps))
		subscriptions.PATCH("/:uid", handlers.PatchSubscription(deps))
		subscriptions.DELETE("/:uid", handlers.DeleteSubscription(deps))
	}

	gdeltGroup := router.Group("/gdelt", auth)
	{
		gdeltGroup.POST("/monitor/poll", handlers.PollGDELT(deps))
		gdeltGroup.GET("/monitor/status", handlers.GDELTMonitorStatus(deps))
		gdeltGroup.GET("/events", handlers.ListGDELTEvents(deps))
		gdeltGroup.GET("/events/:uid", handlers.GetGDELTEvent(deps))
		gdeltGroup.POST("/events/:uid/ingest", handlers.IngestGDELTEvent(deps))
		gdeltGroup.GET("/stats", handlers.GDELTStatsHandler(deps))
	}

	pipelineGroup := router.Group("/pipeline", auth)
	{
		pipelineGroup.POST("/runs", handlers.StartPipelineRun(deps))
		pipelineGroup.GET("/runs", handlers.ListPipelineRuns(deps))
		pipelineGroup.GET("/runs/:run", handlers.GetPipelineRun(deps))
		pipelineGroup.POST("/runs/:run/cancel", handlers.CancelPipelineRun(deps))
	}
}

// requestMetrics records request counts and latency per route.
func requestMetrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(route, c.Request.Method, c.Writer.Status(), time.Since(started))
	}
}
