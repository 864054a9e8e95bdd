// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// Risk flags attached to a grounded answer.
const (
	RiskEvidenceInsufficient = "evidence_insufficient"
	RiskSourcesInsufficient  = "sources_insufficient"
	RiskTimeRangeConflict    = "time_range_conflict"
)

// PlanStep is one step of a query plan.
type PlanStep struct {
	Kind        string `json:"kind"` // "retrieve" | "kg" | "synthesize" | ...
	Description string `json:"description"`
}

// Answer is the grounded Q&A result (AnswerV1 on the wire). When no
// citation survives the grounding gate, AnswerText is empty,
// AnswerType is HYPOTHESIS and CannotAnswerReason is set; the request
// still succeeds.
type Answer struct {
	TraceID            string             `json:"trace_id"`
	CaseUID            string             `json:"case_uid"`
	Question           string             `json:"question"`
	AnswerText         string             `json:"answer_text"`
	AnswerType         GroundingLevel     `json:"answer_type"`
	EvidenceCitations  []EvidenceCitation `json:"evidence_citations"`
	RiskFlags          []string           `json:"risk_flags,omitempty"`
	CannotAnswerReason string             `json:"cannot_answer_reason,omitempty"`
	Plan               []PlanStep         `json:"plan,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}
