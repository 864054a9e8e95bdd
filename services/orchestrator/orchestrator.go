// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles the analysis core into one HTTP
// service: it wires every engine onto shared backends, registers the
// event-driven components on the bus, mounts the REST and websocket
// surface, and owns the process lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AegiAI/aegi-core/services/ach"
	"github.com/AegiAI/aegi-core/services/causal"
	"github.com/AegiAI/aegi-core/services/chat"
	"github.com/AegiAI/aegi-core/services/claims"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/fusion"
	"github.com/AegiAI/aegi-core/services/gdelt"
	"github.com/AegiAI/aegi-core/services/identity"
	"github.com/AegiAI/aegi-core/services/ingest"
	"github.com/AegiAI/aegi-core/services/investigation"
	"github.com/AegiAI/aegi-core/services/kg"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/memory"
	"github.com/AegiAI/aegi-core/services/narrative"
	"github.com/AegiAI/aegi-core/services/ontology"
	"github.com/AegiAI/aegi-core/services/orchestrator/handlers"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
	"github.com/AegiAI/aegi-core/services/orchestrator/observability"
	"github.com/AegiAI/aegi-core/services/orchestrator/routes"
	"github.com/AegiAI/aegi-core/services/pipeline"
	"github.com/AegiAI/aegi-core/services/push"
	"github.com/AegiAI/aegi-core/services/quality"
	"github.com/AegiAI/aegi-core/services/report"
	"github.com/AegiAI/aegi-core/services/retention"
	"github.com/AegiAI/aegi-core/services/store"
)

// Config holds service-level tunables. Zero values take defaults.
type Config struct {
	// JWTSecret signs and verifies bearer tokens. Empty runs the
	// service in local single-analyst mode with auth disabled.
	JWTSecret string

	// MaxConcurrentRuns caps simultaneous pipeline runs.
	MaxConcurrentRuns int64

	// TaskTimeout bounds each LLM-backed operation and each pipeline
	// stage. Default: 5 minutes.
	TaskTimeout time.Duration

	// ShutdownTimeout bounds graceful HTTP drain on stop.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// Push tunes the notification engine.
	Push push.Config

	// GDELT tunes the monitor poll loop.
	GDELT gdelt.Config

	// Ingest tunes chunking, retention stamping and the post-ingest
	// playbook.
	Ingest ingest.Config

	// Investigation bounds autonomous investigation runs.
	Investigation investigation.Config

	// Identity tunes entity resolution thresholds.
	Identity identity.Config

	// RetentionEnabled starts the background expiry sweeper.
	RetentionEnabled bool

	// Retention tunes the sweeper when enabled.
	Retention retention.Config

	// GinMode overrides the gin mode ("release", "debug", "test").
	GinMode string

	// TracingEnabled mounts the otelgin middleware. The caller is
	// responsible for installing a tracer provider.
	TracingEnabled bool
}

func (c *Config) applyDefaults() {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Backends carries the infrastructure a Service runs against. Store,
// Graph, Vector, Objects and LLM are required; the rest are optional
// and disable their feature when nil.
type Backends struct {
	Store   store.Store
	Graph   store.GraphStore
	Vector  store.VectorIndex
	Objects store.ObjectStore
	LLM     llm.Client

	// Fetcher supplies GDELT export rows; nil disables the monitor.
	Fetcher gdelt.Fetcher

	// Notifier delivers push notifications; nil disables push.
	Notifier push.Notifier

	// Searcher runs external searches for the investigation agent;
	// nil disables autonomous investigation.
	Searcher investigation.Runner
}

// Service is the assembled analysis core.
type Service struct {
	config  Config
	logger  *slog.Logger
	router  *gin.Engine
	bus     *eventbus.Bus
	metrics *observability.Metrics

	registry *ontology.Registry
	monitor  *gdelt.Monitor
	sweeper  *retention.Sweeper

	httpServer *http.Server
}

// New wires every engine onto the backends and mounts the routes. The
// returned service is not yet started: call Start for the background
// loops and Run (or Router for tests) for the HTTP surface.
func New(backends Backends, config Config, logger *slog.Logger) (*Service, error) {
	if backends.Store == nil || backends.Graph == nil || backends.Vector == nil ||
		backends.Objects == nil || backends.LLM == nil {
		return nil, errors.New("orchestrator: store, graph, vector, objects and llm backends are required")
	}
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	metrics := observability.InitMetrics()
	bus := eventbus.New()

	registry := ontology.NewRegistry(backends.Store, logger)
	extractor := claims.NewExtractor(backends.Store, backends.LLM, bus, logger)
	fuser := fusion.New(backends.Store, logger)
	kgBuilder := kg.NewBuilder(backends.Store, backends.Graph, registry, backends.LLM, logger)
	achEngine := ach.New(backends.Store, backends.LLM, bus, logger)
	analyzer := causal.NewAnalyzer(backends.LLM, logger)
	forecaster := causal.NewForecaster(backends.Store, backends.LLM, logger)
	narratives := narrative.New(narrative.DefaultConfig(), logger)
	scorer := quality.NewScorer(backends.Store, logger)
	recorder := memory.NewRecorder(backends.Store, backends.Vector, backends.LLM, logger)
	reports := report.NewGenerator(backends.Store, scorer, backends.LLM, logger)
	resolver := identity.NewResolver(backends.Store, backends.Graph, backends.LLM, config.Identity, logger)
	chatSvc := chat.NewService(backends.Store, backends.Vector, backends.Graph, backends.LLM, logger)

	runner := pipeline.NewRunner(pipeline.Deps{
		Store:      backends.Store,
		Graph:      backends.Graph,
		Vector:     backends.Vector,
		Bus:        bus,
		LLM:        backends.LLM,
		Extractor:  extractor,
		Fuser:      fuser,
		KG:         kgBuilder,
		ACH:        achEngine,
		Causal:     analyzer,
		Forecaster: forecaster,
		Narratives: narratives,
		Quality:    scorer,
		Memory:     recorder,
		Reports:    reports,
		Logger:     logger,
	}, pipeline.Config{
		MaxConcurrentRuns: config.MaxConcurrentRuns,
		StageTimeout:      config.TaskTimeout,
	})

	ingestSvc := ingest.NewService(backends.Store, backends.Objects, backends.Vector,
		backends.LLM, extractor, runner, config.Ingest, logger)

	var agent *investigation.Agent
	if backends.Searcher != nil {
		agent = investigation.NewAgent(backends.Store, backends.LLM, backends.Searcher,
			ingestSvc, config.Investigation, logger)
		agent.Register(bus)
	}

	if backends.Notifier != nil {
		pushEngine := push.NewEngine(backends.Store, backends.LLM, backends.Notifier,
			config.Push, logger)
		pushEngine.Register(bus)
	}

	var monitor *gdelt.Monitor
	if backends.Fetcher != nil {
		monitor = gdelt.NewMonitor(backends.Store, backends.Fetcher, bus, config.GDELT, logger)
	}

	var sweeper *retention.Sweeper
	if config.RetentionEnabled {
		sweeper = retention.NewSweeper(backends.Store, backends.Objects, config.Retention, logger)
	}

	// Anomaly counts come off the bus so scheduler polls and manual
	// polls are counted alike.
	bus.Subscribe("gdelt.anomaly_detected", func(ctx context.Context, ev eventbus.Event) error {
		kind, _ := ev.Payload["anomaly_type"].(string)
		if kind == "" {
			kind = "unknown"
		}
		metrics.RecordAnomaly(kind)
		return nil
	})

	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if config.TracingEnabled {
		router.Use(otelgin.Middleware("aegi-core"))
	}

	deps := &handlers.Deps{
		Store:          backends.Store,
		Graph:          backends.Graph,
		Vector:         backends.Vector,
		LLM:            backends.LLM,
		ACH:            achEngine,
		Chat:           chatSvc,
		KG:             kgBuilder,
		Ontology:       registry,
		Identity:       resolver,
		Narratives:     narratives,
		Reports:        reports,
		Memory:         recorder,
		Ingest:         ingestSvc,
		Pipeline:       runner,
		Investigations: agent,
		Monitor:        monitor,
		Validator:      middleware.NewTokenValidator(config.JWTSecret),
		Metrics:        metrics,
		TaskTimeout:    config.TaskTimeout,
		Logger:         logger,
	}
	routes.SetupRoutes(router, deps)

	return &Service{
		config:   config,
		logger:   logger,
		router:   router,
		bus:      bus,
		metrics:  metrics,
		registry: registry,
		monitor:  monitor,
		sweeper:  sweeper,
	}, nil
}

// Router exposes the gin engine for in-process testing.
func (s *Service) Router() *gin.Engine { return s.router }

// Bus exposes the event bus, mainly so embedders can attach handlers.
func (s *Service) Bus() *eventbus.Bus { return s.bus }

// Start loads the ontology mirror and starts the background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("load ontology versions: %w", err)
	}
	if s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			return fmt.Errorf("start gdelt monitor: %w", err)
		}
	}
	if s.sweeper != nil {
		if err := s.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start retention sweeper: %w", err)
		}
	}
	return nil
}

// Stop halts the background loops and waits for in-flight bus handlers
// up to the shutdown timeout.
func (s *Service) Stop(ctx context.Context) {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	drainCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.bus.Drain(drainCtx); err != nil {
		s.logger.Warn("event bus drain incomplete", "error", err)
	}
}

// Run serves HTTP on addr until ctx is cancelled, then drains
// connections within the shutdown timeout. Background loops must have
// been started separately via Start.
func (s *Service) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("orchestrator listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Stop(context.Background())
	return nil
}
