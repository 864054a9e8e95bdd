// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// ReportSectionType enumerates the typed sections of an analysis report.
type ReportSectionType string

const (
	SectionSummary    ReportSectionType = "summary"
	SectionFindings   ReportSectionType = "key_findings"
	SectionHypotheses ReportSectionType = "hypotheses"
	SectionForecasts  ReportSectionType = "forecasts"
	SectionNarratives ReportSectionType = "narratives"
	SectionQuality    ReportSectionType = "quality"
	SectionAnnex      ReportSectionType = "evidence_annex"
)

// ReportSection is one typed section with inline [N] citations resolved
// against Citations.
type ReportSection struct {
	Type      ReportSectionType  `json:"type"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Citations []EvidenceCitation `json:"citations,omitempty"`
	Level     GroundingLevel     `json:"grounding_level"`
	Degraded  bool               `json:"degraded,omitempty"`
}

// ReportConfig selects which sections a generation run produces.
type ReportConfig struct {
	Sections    []ReportSectionType `json:"sections,omitempty"`
	Audience    string              `json:"audience,omitempty"`
	MaxSections int                 `json:"max_sections,omitempty"`
}

// Report is a structured analytical report over one case.
type Report struct {
	UID       string          `json:"uid"`
	CaseUID   string          `json:"case_uid"`
	Title     string          `json:"title"`
	Sections  []ReportSection `json:"sections"`
	Markdown  string          `json:"markdown"`
	Config    ReportConfig    `json:"config"`
	TraceID   string          `json:"trace_id"`
	CreatedAt time.Time       `json:"created_at"`
}
