// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// ClaimModality distinguishes asserted statements from denials, reported
// speech, and speculation.
type ClaimModality string

const (
	ModalityAsserted    ClaimModality = "asserted"
	ModalityDenied      ClaimModality = "denied"
	ModalityReported    ClaimModality = "reported"
	ModalitySpeculative ClaimModality = "speculative"
)

// SourceClaim is a verbatim quotation attributable to a chunk.
//
// Invariant: Selectors is never empty. Extraction rejects anchorless
// outputs before they reach the store.
type SourceClaim struct {
	UID          string           `json:"uid"`
	CaseUID      string           `json:"case_uid"`
	ChunkUID     string           `json:"chunk_uid"`
	Text         string           `json:"text"`
	Selectors    []AnchorSelector `json:"selectors"`
	Modality     ClaimModality    `json:"modality"`
	AttributedTo string           `json:"attributed_to,omitempty"`
	Language     string           `json:"language,omitempty"`
	Translation  string           `json:"translation,omitempty"`
	Confidence   float64          `json:"confidence"` // [0,1]
	SourceName   string           `json:"source_name,omitempty"`
	Credibility  float64          `json:"credibility"` // [0,1] source credibility
	CreatedAt    time.Time        `json:"created_at"`
}

// Validate enforces the anchor invariant.
func (c *SourceClaim) Validate() *ProblemDetail {
	if len(c.Selectors) == 0 {
		return NewProblem(CodeAnchorMissing,
			"source claim has an empty anchor set", map[string]any{"claim_uid": c.UID})
	}
	if c.Text == "" {
		return NewProblem(CodeValidation, "source claim text is empty", nil)
	}
	return nil
}

// DSValue carries the Dempster-Shafer outputs of fusion.
type DSValue struct {
	Belief         float64 `json:"belief"`          // m_true
	Plausibility   float64 `json:"plausibility"`    // m_true + m_uncertain
	Uncertainty    float64 `json:"uncertainty"`     // m_uncertain
	Confidence     float64 `json:"confidence"`      // pignistic: m_true + m_uncertain/2
	ConflictDegree float64 `json:"conflict_degree"` // aggregate K
	SourceCount    int     `json:"source_count"`
	HasConflict    bool    `json:"has_conflict"`
}

// Assertion is a fused factual claim derived from one or more
// SourceClaims. SourceClaimUIDs is never empty.
type Assertion struct {
	UID             string    `json:"uid"`
	CaseUID         string    `json:"case_uid"`
	Statement       string    `json:"statement"`
	SourceClaimUIDs []string  `json:"source_claim_uids"`
	Value           DSValue   `json:"value"`
	Subject         string    `json:"subject,omitempty"`
	OccurredAt      time.Time `json:"occurred_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate enforces the non-empty provenance invariant.
func (a *Assertion) Validate() *ProblemDetail {
	if len(a.SourceClaimUIDs) == 0 {
		return NewProblem(CodeValidation,
			"assertion references no source claims", map[string]any{"assertion_uid": a.UID})
	}
	return nil
}

// ConflictType classifies a pairwise claim conflict found during fusion.
type ConflictType string

const (
	ConflictValue    ConflictType = "value_conflict"
	ConflictModality ConflictType = "modality_conflict"
	ConflictOther    ConflictType = "other"
)

// ClaimConflict records a conflicting claim pair. Conflicts are retained,
// never silently dropped.
type ClaimConflict struct {
	ClaimUIDA string       `json:"claim_uid_a"`
	ClaimUIDB string       `json:"claim_uid_b"`
	Type      ConflictType `json:"conflict_type"`
	Rationale string       `json:"rationale"`
}

// Narrative is a time-windowed, similarity-based cluster of source
// claims. Conflicting narratives co-exist; the builder never merges them.
type Narrative struct {
	UID             string    `json:"uid"`
	CaseUID         string    `json:"case_uid"`
	Theme           string    `json:"theme"`
	SourceClaimUIDs []string  `json:"source_claim_uids"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// CoordinationSignal is a statistical marker of suspected coordinated
// propagation. It always names its cluster and, below the confidence
// bar, carries a false-positive rationale.
type CoordinationSignal struct {
	NarrativeUID             string   `json:"narrative_uid"`
	SourceClaimUIDs          []string `json:"source_claim_uids"`
	Similarity               float64  `json:"similarity"`
	TimeBurst                float64  `json:"time_burst"`
	Confidence               float64  `json:"confidence"`
	Label                    string   `json:"label"` // "coordinated" | "low_confidence"
	FalsePositiveExplanation string   `json:"false_positive_explanation"`
}
