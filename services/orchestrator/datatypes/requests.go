// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response bodies of the REST
// surface. Validation rules live in the binding tags; handlers bind and
// translate violations into the shared error body.
package datatypes

import "github.com/AegiAI/aegi-core/pkg/contracts"

// CreateCaseRequest opens a new analytical workspace.
type CreateCaseRequest struct {
	Title   string `json:"title" binding:"required"`
	Summary string `json:"summary,omitempty"`
}

// InitializePriorsRequest seeds the ACH probability table. An empty
// priors map distributes uniformly over existing hypotheses.
type InitializePriorsRequest struct {
	Priors map[string]float64 `json:"priors"`
}

// EvidenceRequest addresses one evidence row for ACH operations.
type EvidenceRequest struct {
	EvidenceUID  string `json:"evidence_uid" binding:"required"`
	EvidenceText string `json:"evidence_text,omitempty"`
}

// AssessmentOverrideRequest is the manual analyst override for one
// (hypothesis, evidence) pair.
type AssessmentOverrideRequest struct {
	HypothesisUID string  `json:"hypothesis_uid" binding:"required,uid"`
	Relation      string  `json:"relation" binding:"required,oneof=support contradict irrelevant"`
	Strength      float64 `json:"strength" binding:"min=0,max=1"`
	Rationale     string  `json:"rationale,omitempty"`
}

// ChatRequest asks one grounded question against the case.
type ChatRequest struct {
	Question string `json:"question" binding:"required"`
	TraceID  string `json:"trace_id,omitempty"`
}

// NarrativeBuildRequest tunes a clustering pass. Zeroes use defaults.
type NarrativeBuildRequest struct {
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" binding:"min=0,max=1"`
	MinClusterSize      int     `json:"min_cluster_size,omitempty" binding:"min=0"`
}

// IngestParseRequest previews chunking for a raw text without
// persisting anything.
type IngestParseRequest struct {
	Text          string `json:"text" binding:"required"`
	ChunkMaxChars int    `json:"chunk_max_chars,omitempty" binding:"min=0"`
}

// IngestDocumentForm is the multipart form accompanying a document
// upload.
type IngestDocumentForm struct {
	CaseUID     string  `form:"case_uid" binding:"required,uid"`
	URL         string  `form:"url"`
	Title       string  `form:"title"`
	SourceName  string  `form:"source_name"`
	Credibility float64 `form:"credibility"`
}

// SubscriptionCreateRequest registers a standing interest.
type SubscriptionCreateRequest struct {
	UserID            string   `json:"user_id" binding:"required"`
	Type              string   `json:"sub_type" binding:"required,oneof=case entity region topic global"`
	Target            string   `json:"sub_target" binding:"required"`
	PriorityThreshold string   `json:"priority_threshold" binding:"omitempty,oneof=info warning critical"`
	EventTypes        []string `json:"event_types,omitempty"`
	InterestText      string   `json:"interest_text,omitempty"`
}

// SubscriptionPatchRequest updates mutable subscription fields. Nil
// pointers leave the field untouched.
type SubscriptionPatchRequest struct {
	Target            *string   `json:"sub_target,omitempty"`
	PriorityThreshold *string   `json:"priority_threshold,omitempty" binding:"omitempty,oneof=info warning critical"`
	EventTypes        *[]string `json:"event_types,omitempty"`
	InterestText      *string   `json:"interest_text,omitempty"`
	Enabled           *bool     `json:"enabled,omitempty"`
}

// IdentityDecisionRequest approves or rejects a merge/split proposal.
type IdentityDecisionRequest struct {
	DecidedBy string `json:"decided_by" binding:"required"`
	Reason    string `json:"reason,omitempty"`
}

// MemoryOutcomeRequest records how a remembered analysis turned out.
type MemoryOutcomeRequest struct {
	Outcome  string   `json:"outcome" binding:"required"`
	Accuracy *float64 `json:"accuracy,omitempty" binding:"omitempty,min=0,max=1"`
	Lessons  string   `json:"lessons,omitempty"`
}

// GDELTIngestRequest promotes a monitored event into a case.
type GDELTIngestRequest struct {
	CaseUID string `json:"case_uid" binding:"required,uid"`
}

// PipelineRunRequest starts an analysis run.
type PipelineRunRequest struct {
	CaseUID  string `json:"case_uid" binding:"required,uid"`
	Playbook string `json:"playbook,omitempty" binding:"omitempty,oneof=full collect analysis"`
}

// CancelRequest carries the cancelling principal.
type CancelRequest struct {
	CancelledBy string `json:"cancelled_by,omitempty"`
}

// PatternSummary is one aggregated pattern tag across memory records.
type PatternSummary struct {
	Tag          string   `json:"tag"`
	Count        int      `json:"count"`
	MeanAccuracy *float64 `json:"mean_accuracy,omitempty"`
}

// OntologyUpgradeRequest publishes a new ontology version.
type OntologyUpgradeRequest struct {
	Version contracts.OntologyVersion `json:"version" binding:"required"`
}
