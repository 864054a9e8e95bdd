// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// Hypothesis is a labeled competing explanation. Posterior probabilities
// across all live hypotheses of a case sum to 1.0 within 1e-2.
type Hypothesis struct {
	UID                     string    `json:"uid"`
	CaseUID                 string    `json:"case_uid"`
	Label                   string    `json:"label"`
	Description             string    `json:"description,omitempty"`
	Prior                   float64   `json:"prior"`
	Posterior               float64   `json:"posterior"`
	SupportingAssertionUIDs []string  `json:"supporting_assertion_uids"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// AssessmentRelation is the analyst-facing relation between a piece of
// evidence and a hypothesis.
type AssessmentRelation string

const (
	RelationSupport    AssessmentRelation = "support"
	RelationContradict AssessmentRelation = "contradict"
	RelationIrrelevant AssessmentRelation = "irrelevant"
)

// EvidenceAssessment holds the relation/strength judgment for one
// (hypothesis, evidence) pair plus the derived likelihood P(E|H).
// Unique by (HypothesisUID, EvidenceUID); repeats upsert.
type EvidenceAssessment struct {
	UID           string             `json:"uid"`
	CaseUID       string             `json:"case_uid"`
	HypothesisUID string             `json:"hypothesis_uid"`
	EvidenceUID   string             `json:"evidence_uid"`
	Relation      AssessmentRelation `json:"relation"`
	Strength      float64            `json:"strength"`   // [0,1]
	Likelihood    float64            `json:"likelihood"` // P(E|H), open (0,1)
	Rationale     string             `json:"rationale,omitempty"`
	Overridden    bool               `json:"overridden"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ProbabilityUpdate is one append-only prior -> posterior transition.
// The log is sufficient for deterministic replay.
type ProbabilityUpdate struct {
	ID            int64     `json:"id"`
	CaseUID       string    `json:"case_uid"`
	EvidenceUID   string    `json:"evidence_uid"`
	HypothesisUID string    `json:"hypothesis_uid"`
	Prior         float64   `json:"prior"`
	Posterior     float64   `json:"posterior"`
	Likelihood    float64   `json:"likelihood"`
	CreatedAt     time.Time `json:"created_at"`
}

// ForecastStatus is the review state of a scenario forecast.
type ForecastStatus string

const (
	ForecastPublished     ForecastStatus = "published"
	ForecastPendingReview ForecastStatus = "pending_review"
	ForecastDegraded      ForecastStatus = "degraded"
)

// Forecast is one scenario per hypothesis. Probability is nil unless the
// grounding gate allows FACT. Alternatives is always non-empty:
// single-chain forecasts are forbidden.
type Forecast struct {
	UID               string             `json:"uid"`
	CaseUID           string             `json:"case_uid"`
	HypothesisUID     string             `json:"hypothesis_uid"`
	Scenario          string             `json:"scenario"`
	Probability       *float64           `json:"probability,omitempty"`
	TriggerConditions []string           `json:"trigger_conditions"`
	EvidenceCitations []EvidenceCitation `json:"evidence_citations"`
	Alternatives      []string           `json:"alternatives"`
	Level             GroundingLevel     `json:"grounding_level"`
	Status            ForecastStatus     `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
}
