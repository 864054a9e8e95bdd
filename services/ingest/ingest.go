// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest turns raw source documents into anchored case
// material: artifact identity and version rows, the stored body,
// paragraph chunks with TextQuoteSelector anchors, evidence rows,
// chunk embeddings, and optionally a first pass of claim extraction
// plus an enqueued pipeline run.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/claims"
	"github.com/AegiAI/aegi-core/services/investigation"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/ingest")

const anchorContext = 32

// Pipeline enqueues an analysis run once ingestion lands new material.
type Pipeline interface {
	StartRun(ctx context.Context, caseUID, playbook string, budget contracts.BudgetContext) (string, error)
}

// Document is one raw source to ingest.
type Document struct {
	URL         string  `json:"url,omitempty"`
	Title       string  `json:"title,omitempty"`
	SourceName  string  `json:"source_name,omitempty"`
	Text        string  `json:"text"`
	Credibility float64 `json:"credibility,omitempty"`
}

// Result reports what one ingestion produced.
type Result struct {
	ArtifactUID    string            `json:"artifact_uid"`
	VersionUID     string            `json:"version_uid"`
	ArtifactReused bool              `json:"artifact_reused"`
	Chunks         []contracts.Chunk `json:"chunks"`
	Claims         int               `json:"claims"`
	RunID          string            `json:"run_id,omitempty"`
}

// Config tunes chunking and retention stamping.
type Config struct {
	// ChunkMaxChars caps one chunk; paragraphs are packed up to it.
	ChunkMaxChars int
	// TTL stamps ExpiresAt on versions, chunks and evidence. Zero keeps
	// material indefinitely.
	TTL time.Duration
	// Playbook names the pipeline playbook enqueued after ingestion,
	// when a pipeline is wired.
	Playbook string
}

func (c *Config) applyDefaults() {
	if c.ChunkMaxChars <= 0 {
		c.ChunkMaxChars = 1200
	}
	if c.Playbook == "" {
		c.Playbook = "analysis"
	}
}

// Service is the ingestion pipeline front door.
type Service struct {
	store     store.Store
	objects   store.ObjectStore
	vector    store.VectorIndex
	llm       llm.Client
	extractor *claims.Extractor
	pipeline  Pipeline
	config    Config
	logger    *slog.Logger
}

// NewService wires the ingestion service. extractor and pipeline are
// optional; without them ingestion stops at chunks and embeddings.
func NewService(st store.Store, objects store.ObjectStore, vector store.VectorIndex, client llm.Client, extractor *claims.Extractor, pipeline Pipeline, config Config, logger *slog.Logger) *Service {
	config.applyDefaults()
	return &Service{
		store:     st,
		objects:   objects,
		vector:    vector,
		llm:       client,
		extractor: extractor,
		pipeline:  pipeline,
		config:    config,
		logger:    logger,
	}
}

// IngestText runs the full ingestion sequence for one document.
func (s *Service) IngestText(ctx context.Context, caseUID string, doc Document, traceID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestText")
	defer span.End()
	span.SetAttributes(attribute.String("case_uid", caseUID))

	if strings.TrimSpace(doc.Text) == "" {
		return nil, contracts.NewProblem(contracts.CodeValidation,
			"document text must not be empty", nil)
	}
	if _, err := s.store.GetCase(ctx, caseUID); err != nil {
		return nil, err
	}

	now := time.Now()
	canonical := canonicalURL(doc.URL, doc.Text)

	res := &Result{}
	artifact, err := s.store.GetArtifactByURL(ctx, caseUID, canonical)
	switch {
	case err == nil:
		res.ArtifactReused = true
	case contracts.IsNotFound(err):
		artifact = &contracts.ArtifactIdentity{
			UID:          contracts.NewUID(contracts.PrefixArtifact),
			CaseUID:      caseUID,
			CanonicalURL: canonical,
			Title:        doc.Title,
			SourceName:   sourceName(doc),
			CreatedAt:    now,
		}
		if err := s.store.CreateArtifact(ctx, artifact); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	res.ArtifactUID = artifact.UID

	var expiresAt time.Time
	if s.config.TTL > 0 {
		expiresAt = now.Add(s.config.TTL)
	}

	version := &contracts.ArtifactVersion{
		UID:         contracts.NewUID(contracts.PrefixArtifactVer),
		ArtifactUID: artifact.UID,
		CaseUID:     caseUID,
		ContentType: "text/plain; charset=utf-8",
		ContentHash: contentHash(doc.Text),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	version.StorageRef = "bodies/" + version.UID
	if err := s.objects.Put(ctx, version.StorageRef, strings.NewReader(doc.Text), version.ContentType); err != nil {
		return nil, fmt.Errorf("store body: %w", err)
	}
	if err := s.store.CreateArtifactVersion(ctx, version); err != nil {
		return nil, err
	}
	res.VersionUID = version.UID

	meta := claims.SourceMeta{SourceName: sourceName(doc), Credibility: doc.Credibility}
	if meta.Credibility <= 0 {
		meta.Credibility = 0.5
	}

	for i, sel := range Chunk(doc.Text, s.config.ChunkMaxChars) {
		chunk := contracts.Chunk{
			UID:        contracts.NewUID(contracts.PrefixChunk),
			CaseUID:    caseUID,
			VersionUID: version.UID,
			Ordinal:    i,
			Text:       sel.Exact,
			Selectors:  []contracts.AnchorSelector{sel},
			Health:     contracts.AnchorHealthy,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
		}
		if err := s.store.CreateChunk(ctx, &chunk); err != nil {
			return nil, err
		}
		if err := s.store.CreateEvidence(ctx, &contracts.Evidence{
			UID:       contracts.NewUID(contracts.PrefixEvidence),
			CaseUID:   caseUID,
			ChunkUID:  chunk.UID,
			Kind:      contracts.EvidenceDocument,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}); err != nil {
			return nil, err
		}

		if vec, deg := s.llm.Embed(ctx, chunk.Text); deg == nil {
			if err := s.vector.Upsert(ctx, store.ClassChunk, chunk.UID, caseUID, chunk.Text, vec); err != nil {
				s.logger.Warn("chunk vector upsert failed", "chunk_uid", chunk.UID, "error", err)
			}
		} else {
			s.logger.Warn("chunk embedding degraded", "chunk_uid", chunk.UID, "reason", deg.Reason)
		}

		if s.extractor != nil {
			extracted, deg, err := s.extractor.ExtractFromChunk(ctx, &chunk, meta, traceID, contracts.BudgetContext{TraceID: traceID})
			if err != nil {
				return nil, err
			}
			if deg != nil {
				s.logger.Warn("inline claim extraction degraded",
					"chunk_uid", chunk.UID, "reason", deg.Reason)
			}
			res.Claims += len(extracted)
		}
		res.Chunks = append(res.Chunks, chunk)
	}

	if s.pipeline != nil {
		runID, err := s.pipeline.StartRun(ctx, caseUID, s.config.Playbook, contracts.BudgetContext{TraceID: traceID})
		if err != nil {
			// A saturated pipeline is not an ingestion failure.
			s.logger.Warn("pipeline enqueue failed after ingest",
				"case_uid", caseUID, "error", err)
		} else {
			res.RunID = runID
		}
	}

	s.logger.Info("document ingested", "case_uid", caseUID,
		"artifact_uid", res.ArtifactUID, "version_uid", res.VersionUID,
		"chunks", len(res.Chunks), "claims", res.Claims)
	return res, nil
}

// IngestDocument adapts IngestText to the investigation agent's hook
// and reports the number of claims extracted.
func (s *Service) IngestDocument(ctx context.Context, caseUID string, doc investigation.Document, traceID string) (int, error) {
	res, err := s.IngestText(ctx, caseUID, Document{
		URL:   doc.URL,
		Title: doc.Title,
		Text:  doc.Text,
	}, traceID)
	if err != nil {
		return 0, err
	}
	return res.Claims, nil
}

var _ investigation.Ingestor = (*Service)(nil)

// ----------------------------------------------------------------------------
// Chunking
// ----------------------------------------------------------------------------

// Chunk splits text on blank lines and packs paragraphs into selectors
// of at most maxChars, preserving document order. Each selector anchors
// its chunk back into the full text with prefix/suffix context.
func Chunk(text string, maxChars int) []contracts.AnchorSelector {
	paragraphs := splitParagraphs(text)
	var spans [][2]int // start, end offsets into text
	for _, p := range paragraphs {
		if len(spans) > 0 {
			last := spans[len(spans)-1]
			if p.end-last[0] <= maxChars {
				spans[len(spans)-1][1] = p.end
				continue
			}
		}
		spans = append(spans, [2]int{p.start, p.end})
	}

	out := make([]contracts.AnchorSelector, 0, len(spans))
	for _, span := range spans {
		start, end := span[0], span[1]
		out = append(out, contracts.AnchorSelector{
			Type:   "TextQuoteSelector",
			Exact:  text[start:end],
			Prefix: text[maxInt(0, start-anchorContext):start],
			Suffix: text[end:minInt(len(text), end+anchorContext)],
			Start:  start,
			End:    end,
		})
	}
	return out
}

type paragraph struct {
	start, end int
}

// splitParagraphs finds the non-blank paragraph spans of the text.
func splitParagraphs(text string) []paragraph {
	var out []paragraph
	offset := 0
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			start := offset + strings.Index(block, trimmed)
			out = append(out, paragraph{start: start, end: start + len(trimmed)})
		}
		offset += len(block) + 2
	}
	return out
}

// ----------------------------------------------------------------------------
// Identity helpers
// ----------------------------------------------------------------------------

// canonicalURL normalizes the source URL for artifact identity: scheme
// and host lowercased, fragment and tracking parameters stripped.
// Documents without a URL are keyed by content hash.
func canonicalURL(raw, text string) string {
	if strings.TrimSpace(raw) == "" {
		return "text:" + contentHash(text)
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func sourceName(doc Document) string {
	if doc.SourceName != "" {
		return doc.SourceName
	}
	if u, err := url.Parse(doc.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return "direct upload"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
