// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the analysis core HTTP server.
//
// Configuration is read from environment variables:
//
//   - AEGI_PORT: HTTP server port (default: 12210)
//   - AEGI_CONFIG: path to a YAML config file (see orchestrator.LoadConfig)
//   - AEGI_JWT_SECRET: bearer token secret; empty disables auth
//   - AEGI_LOG_LEVEL: minimum log level (default: info)
//   - AEGI_LOG_DIR: also write JSON logs to this directory
//   - LLM_BACKEND_TYPE: llm provider - openai, ollama, stub (default: stub)
//   - POSTGRES_DSN: relational store DSN; empty uses the in-memory store
//   - WEAVIATE_SERVICE_URL: vector index URL; empty uses in-memory
//   - NEO4J_URI / NEO4J_USER / NEO4J_PASSWORD: graph store; empty uses in-memory
//   - GCS_BUCKET: object store bucket; empty uses OBJECT_STORE_DIR on disk
//   - OBJECT_STORE_DIR: filesystem object store root (default: ./data/objects)
//   - GDELT_EXPORT_URL: enables the GDELT monitor when set
//   - RETENTION_ENABLED: "true" starts the expiry sweeper
//   - OTEL_EXPORTER_OTLP_ENDPOINT: trace collector (default: aegi-otel-collector:4317)
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AegiAI/aegi-core/pkg/logging"
	"github.com/AegiAI/aegi-core/services/gdelt"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/orchestrator"
	"github.com/AegiAI/aegi-core/services/store"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aegi-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("aegi-core")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newLLMClient() (llm.Client, error) {
	switch strings.ToLower(os.Getenv("LLM_BACKEND_TYPE")) {
	case "openai":
		return llm.NewOpenAIClient()
	case "ollama":
		return llm.NewOllamaClient()
	default:
		slog.Warn("no LLM backend configured, using stub responses")
		return llm.NewStubClient(), nil
	}
}

func buildBackends(ctx context.Context, logger *slog.Logger) (orchestrator.Backends, error) {
	var backends orchestrator.Backends

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{DSN: dsn}, logger)
		if err != nil {
			return backends, err
		}
		backends.Store = pg
	} else {
		slog.Warn("POSTGRES_DSN not set, state will not survive restarts")
		backends.Store = store.NewMemory()
	}

	if rawURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' "); rawURL != "" {
		index, err := store.NewWeaviateIndex(rawURL, logger)
		if err != nil {
			return backends, err
		}
		backends.Vector = index
	} else {
		backends.Vector = store.NewMemoryVectorIndex()
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		graph, err := store.NewNeo4jGraph(ctx, uri,
			os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"), logger)
		if err != nil {
			return backends, err
		}
		backends.Graph = graph
	} else {
		backends.Graph = store.NewMemoryGraph()
	}

	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		objects, err := store.NewGCSObjectStore(ctx, bucket)
		if err != nil {
			return backends, err
		}
		backends.Objects = objects
	} else {
		root := os.Getenv("OBJECT_STORE_DIR")
		if root == "" {
			root = "./data/objects"
		}
		objects, err := store.NewFSObjectStore(root)
		if err != nil {
			return backends, err
		}
		backends.Objects = objects
	}

	client, err := newLLMClient()
	if err != nil {
		return backends, err
	}
	backends.LLM = client

	if exportURL := os.Getenv("GDELT_EXPORT_URL"); exportURL != "" {
		backends.Fetcher = gdelt.NewHTTPFetcher(exportURL, nil)
	}

	return backends, nil
}

func main() {
	logger, closeLogs, err := logging.New(logging.Config{
		Level:   os.Getenv("AEGI_LOG_LEVEL"),
		JSON:    true,
		LogDir:  os.Getenv("AEGI_LOG_DIR"),
		Service: "orchestrator",
	})
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	port := os.Getenv("AEGI_PORT")
	if port == "" {
		port = "12210"
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := buildBackends(ctx, logger)
	if err != nil {
		log.Fatalf("failed to build backends: %v", err)
	}

	var config orchestrator.Config
	if path := os.Getenv("AEGI_CONFIG"); path != "" {
		config, err = orchestrator.LoadConfig(path)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	// Environment overrides win over the config file.
	if secret := os.Getenv("AEGI_JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}
	if strings.EqualFold(os.Getenv("RETENTION_ENABLED"), "true") {
		config.RetentionEnabled = true
	}
	config.TracingEnabled = true

	svc, err := orchestrator.New(backends, config, logger)
	if err != nil {
		log.Fatalf("failed to assemble orchestrator: %v", err)
	}

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("failed to start background services: %v", err)
	}

	if err := svc.Run(ctx, ":"+port); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("orchestrator stopped")
}
