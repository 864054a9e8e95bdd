// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides typed access to the three persistence backends
// of the analysis core: the relational store (Postgres) for audit-critical
// rows, the vector index (Weaviate) for embeddings, and the property
// graph (Neo4j) for entity/event/relation projections.
//
// Services depend on the narrow interfaces in this file, never on a
// concrete backend. The Postgres implementation is the production store;
// the in-memory implementation backs tests and lightweight mode.
package store

import (
	"context"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// =============================================================================
// Relational store interfaces
// =============================================================================

// CaseStore manages the top-level analytical workspaces.
type CaseStore interface {
	CreateCase(ctx context.Context, c *contracts.Case) error
	GetCase(ctx context.Context, uid string) (*contracts.Case, error)
	ListCases(ctx context.Context) ([]contracts.Case, error)
}

// ArtifactStore manages source identities, versions and chunks.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *contracts.ArtifactIdentity) error
	GetArtifactByURL(ctx context.Context, caseUID, canonicalURL string) (*contracts.ArtifactIdentity, error)
	CreateArtifactVersion(ctx context.Context, v *contracts.ArtifactVersion) error
	GetArtifactVersion(ctx context.Context, uid string) (*contracts.ArtifactVersion, error)
	CreateChunk(ctx context.Context, c *contracts.Chunk) error
	GetChunk(ctx context.Context, uid string) (*contracts.Chunk, error)
	ListChunksByCase(ctx context.Context, caseUID string) ([]contracts.Chunk, error)
}

// EvidenceStore manages the citable units.
type EvidenceStore interface {
	CreateEvidence(ctx context.Context, e *contracts.Evidence) error
	GetEvidence(ctx context.Context, uid string) (*contracts.Evidence, error)
	ListEvidenceByCase(ctx context.Context, caseUID string) ([]contracts.Evidence, error)
}

// ClaimStore manages source claims.
type ClaimStore interface {
	CreateSourceClaim(ctx context.Context, c *contracts.SourceClaim) error
	GetSourceClaim(ctx context.Context, uid string) (*contracts.SourceClaim, error)
	ListClaimsByCase(ctx context.Context, caseUID string) ([]contracts.SourceClaim, error)
	ListClaimsByChunk(ctx context.Context, chunkUID string) ([]contracts.SourceClaim, error)
}

// AssertionStore manages fused assertions.
type AssertionStore interface {
	CreateAssertion(ctx context.Context, a *contracts.Assertion) error
	GetAssertion(ctx context.Context, uid string) (*contracts.Assertion, error)
	ListAssertionsByCase(ctx context.Context, caseUID string) ([]contracts.Assertion, error)
}

// HypothesisStore manages competing explanations and their probability
// trail.
type HypothesisStore interface {
	CreateHypothesis(ctx context.Context, h *contracts.Hypothesis) error
	GetHypothesis(ctx context.Context, uid string) (*contracts.Hypothesis, error)
	ListHypothesesByCase(ctx context.Context, caseUID string) ([]contracts.Hypothesis, error)
	UpdateHypothesisProbabilities(ctx context.Context, uid string, prior, posterior float64) error

	UpsertAssessment(ctx context.Context, a *contracts.EvidenceAssessment) error
	GetAssessment(ctx context.Context, hypothesisUID, evidenceUID string) (*contracts.EvidenceAssessment, error)
	ListAssessmentsByCase(ctx context.Context, caseUID string) ([]contracts.EvidenceAssessment, error)
	ListAssessmentsByEvidence(ctx context.Context, evidenceUID string) ([]contracts.EvidenceAssessment, error)

	AppendProbabilityUpdate(ctx context.Context, u *contracts.ProbabilityUpdate) error
	ListProbabilityUpdates(ctx context.Context, caseUID string) ([]contracts.ProbabilityUpdate, error)
}

// NarrativeStore manages claim clusters.
type NarrativeStore interface {
	CreateNarrative(ctx context.Context, n *contracts.Narrative) error
	GetNarrative(ctx context.Context, uid string) (*contracts.Narrative, error)
	ListNarrativesByCase(ctx context.Context, caseUID string) ([]contracts.Narrative, error)
}

// RelationStore manages relation facts mirrored into the graph.
type RelationStore interface {
	CreateRelationFact(ctx context.Context, r *contracts.RelationFact) error
	ListRelationsByCase(ctx context.Context, caseUID string) ([]contracts.RelationFact, error)
}

// IdentityStore manages merge/split proposals.
type IdentityStore interface {
	CreateIdentityAction(ctx context.Context, a *contracts.EntityIdentityAction) error
	GetIdentityAction(ctx context.Context, uid string) (*contracts.EntityIdentityAction, error)
	ListPendingIdentityActions(ctx context.Context) ([]contracts.EntityIdentityAction, error)
	UpdateIdentityAction(ctx context.Context, a *contracts.EntityIdentityAction) error
}

// OntologyStore mirrors published ontology versions for cross-process
// persistence.
type OntologyStore interface {
	SaveOntologyVersion(ctx context.Context, v *contracts.OntologyVersion) error
	GetOntologyVersion(ctx context.Context, version string) (*contracts.OntologyVersion, error)
	ListOntologyVersions(ctx context.Context) ([]contracts.OntologyVersion, error)
}

// AuditStore records actions and tool traces.
type AuditStore interface {
	AppendAction(ctx context.Context, a *contracts.Action) error
	ListActionsByCase(ctx context.Context, caseUID string) ([]contracts.Action, error)
	GetActionByTraceID(ctx context.Context, traceID string) (*contracts.Action, error)
	AppendToolTrace(ctx context.Context, t *contracts.ToolTrace) error
	ListToolTraces(ctx context.Context, traceID string) ([]contracts.ToolTrace, error)
}

// SubscriptionStore manages push subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *contracts.Subscription) error
	GetSubscription(ctx context.Context, uid string) (*contracts.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]contracts.Subscription, error)
	ListEnabledSubscriptions(ctx context.Context) ([]contracts.Subscription, error)
	UpdateSubscription(ctx context.Context, s *contracts.Subscription) error
	DeleteSubscription(ctx context.Context, uid string) error
}

// PushStore provides the dedup and delivery audit rows of the push
// engine.
type PushStore interface {
	GetEventLogBySourceUID(ctx context.Context, sourceEventUID string) (*contracts.EventLog, error)
	CreateEventLog(ctx context.Context, e *contracts.EventLog) error
	UpdateEventLog(ctx context.Context, e *contracts.EventLog) error
	CreatePushLog(ctx context.Context, p *contracts.PushLog) error
	ListPushLogsByEvent(ctx context.Context, eventUID string) ([]contracts.PushLog, error)
	CountDeliveredSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// MemoryStore manages analysis memory records.
type MemoryStore interface {
	CreateMemoryRecord(ctx context.Context, m *contracts.AnalysisMemoryRecord) error
	GetMemoryRecord(ctx context.Context, uid string) (*contracts.AnalysisMemoryRecord, error)
	ListMemoryRecords(ctx context.Context) ([]contracts.AnalysisMemoryRecord, error)
	UpdateMemoryRecord(ctx context.Context, m *contracts.AnalysisMemoryRecord) error
}

// InvestigationStore manages investigation runs.
type InvestigationStore interface {
	CreateInvestigation(ctx context.Context, i *contracts.Investigation) error
	GetInvestigation(ctx context.Context, uid string) (*contracts.Investigation, error)
	UpdateInvestigation(ctx context.Context, i *contracts.Investigation) error
	ListInvestigations(ctx context.Context, caseUID, status string) ([]contracts.Investigation, error)
}

// GDELTStore persists monitored external events.
type GDELTStore interface {
	SaveGDELTEvent(ctx context.Context, e *contracts.GDELTEvent) error
	GetGDELTEvent(ctx context.Context, uid string) (*contracts.GDELTEvent, error)
	ListGDELTEvents(ctx context.Context, status string, limit int) ([]contracts.GDELTEvent, error)
	UpdateGDELTEventStatus(ctx context.Context, uid, status, anomalyType string) error
	CountEventsByCountrySince(ctx context.Context, country string, since time.Time) (int, error)
	GDELTStats(ctx context.Context) (*contracts.GDELTStats, error)
}

// ForecastStore persists generated forecasts.
type ForecastStore interface {
	CreateForecast(ctx context.Context, f *contracts.Forecast) error
	GetForecast(ctx context.Context, uid string) (*contracts.Forecast, error)
	ListForecastsByCase(ctx context.Context, caseUID string) ([]contracts.Forecast, error)
}

// ReportStore persists generated reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r *contracts.Report) error
	GetReport(ctx context.Context, uid string) (*contracts.Report, error)
}

// RetentionStore exposes the expiry sweep the retention loop runs.
type RetentionStore interface {
	MarkExpired(ctx context.Context, now time.Time, batchSize int) (int, error)
	ListHardDeletable(ctx context.Context, graceCutoff time.Time, batchSize int) ([]contracts.ArtifactVersion, error)
	HardDelete(ctx context.Context, versionUIDs []string) (int, error)
}

// Store is the full relational façade.
type Store interface {
	CaseStore
	ArtifactStore
	EvidenceStore
	ClaimStore
	AssertionStore
	HypothesisStore
	NarrativeStore
	RelationStore
	IdentityStore
	OntologyStore
	AuditStore
	SubscriptionStore
	PushStore
	MemoryStore
	InvestigationStore
	GDELTStore
	ForecastStore
	ReportStore
	RetentionStore
}
