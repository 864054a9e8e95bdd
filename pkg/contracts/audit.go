// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// Action is the audit row every mutating operation emits at least once.
type Action struct {
	UID       string         `json:"uid"`
	CaseUID   string         `json:"case_uid"`
	Actor     string         `json:"actor"`
	Kind      string         `json:"kind"` // e.g. "assertion.fuse", "kg.build"
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolTrace records one call to an external capability: request,
// response or error, policy decision, duration.
type ToolTrace struct {
	UID       string         `json:"uid"`
	CaseUID   string         `json:"case_uid"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"`
	Tool      string         `json:"tool"`
	Status    string         `json:"status"` // "ok" | "failed" | "rejected"
	Request   map[string]any `json:"request,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
	Policy    string         `json:"policy_decision,omitempty"`
	Duration  time.Duration  `json:"duration"`
	CreatedAt time.Time      `json:"created_at"`
}

// SubscriptionType scopes what a subscription matches against.
type SubscriptionType string

const (
	SubCase   SubscriptionType = "case"
	SubEntity SubscriptionType = "entity"
	SubRegion SubscriptionType = "region"
	SubTopic  SubscriptionType = "topic"
	SubGlobal SubscriptionType = "global"
)

// Subscription is a user's standing interest in bus events.
// An empty EventTypes list matches every event type. Target "*" is the
// wildcard for the chosen scope.
type Subscription struct {
	UID               string           `json:"uid"`
	UserID            string           `json:"user_id"`
	Type              SubscriptionType `json:"sub_type"`
	Target            string           `json:"sub_target"`
	PriorityThreshold string           `json:"priority_threshold"` // info|warning|critical
	EventTypes        []string         `json:"event_types,omitempty"`
	Enabled           bool             `json:"enabled"`
	InterestText      string           `json:"interest_text,omitempty"`
	InterestVector    []float32        `json:"-"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// EventLog is the dedup record: exactly one row per distinct
// SourceEventUID.
type EventLog struct {
	UID            string    `json:"uid"`
	SourceEventUID string    `json:"source_event_uid"`
	EventType      string    `json:"event_type"`
	CaseUID        string    `json:"case_uid,omitempty"`
	Status         string    `json:"status"` // "processing" | "done"
	PushCount      int       `json:"push_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PushLog is one delivery attempt with its terminal status.
type PushLog struct {
	UID         string    `json:"uid"`
	EventUID    string    `json:"event_uid"` // EventLog.UID
	UserID      string    `json:"user_id"`
	MatchMethod string    `json:"match_method"` // "rule" | "semantic"
	MatchScore  float64   `json:"match_score"`
	MatchReason string    `json:"match_reason,omitempty"`
	Status      string    `json:"status"` // "delivered" | "failed" | "throttled"
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnalysisMemoryRecord is a recorded scenario with its eventual
// real-world outcome, embedded for recall.
type AnalysisMemoryRecord struct {
	UID         string    `json:"uid"`
	CaseUID     string    `json:"case_uid"`
	Scenario    string    `json:"scenario"`
	Conclusion  string    `json:"conclusion"`
	PatternTags []string  `json:"pattern_tags,omitempty"`
	Confidence  float64   `json:"confidence"`
	Outcome     string    `json:"outcome,omitempty"`
	Accuracy    *float64  `json:"accuracy,omitempty"` // [0,1], set by outcome update
	Lessons     string    `json:"lessons,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InvestigationStatus is the lifecycle state of an investigation run.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "pending"
	InvestigationRunning   InvestigationStatus = "running"
	InvestigationCompleted InvestigationStatus = "completed"
	InvestigationCancelled InvestigationStatus = "cancelled"
	InvestigationFailed    InvestigationStatus = "failed"
)

// InvestigationRound logs one round of evidence collection.
type InvestigationRound struct {
	Round           int       `json:"round"`
	Queries         []string  `json:"queries"`
	URLsFetched     int       `json:"urls_fetched"`
	ClaimsExtracted int       `json:"claims_extracted"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Investigation is one event-triggered evidence collection run.
type Investigation struct {
	UID          string               `json:"uid"`
	CaseUID      string               `json:"case_uid"`
	TriggerEvent string               `json:"trigger_event"`
	TriggerUID   string               `json:"trigger_uid,omitempty"`
	MaxRounds    int                  `json:"max_rounds"`
	Rounds       []InvestigationRound `json:"rounds"`
	Status       InvestigationStatus  `json:"status"`
	TotalClaims  int                  `json:"total_claims"`
	GapResolved  bool                 `json:"gap_resolved"`
	CancelledBy  string               `json:"cancelled_by,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	CompletedAt  time.Time            `json:"completed_at,omitempty"`
}
