// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// Case is the top-level analytical workspace. Every other record is
// owned by a case through CaseUID. Cases are soft-immutable after
// creation.
type Case struct {
	UID       string    `json:"uid"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactIdentity is the canonical identity of a source, keyed by URL.
type ArtifactIdentity struct {
	UID          string    `json:"uid"`
	CaseUID      string    `json:"case_uid"`
	CanonicalURL string    `json:"canonical_url"`
	Title        string    `json:"title,omitempty"`
	SourceName   string    `json:"source_name,omitempty"`
	Credibility  float64   `json:"credibility"` // [0,1]
	CreatedAt    time.Time `json:"created_at"`
}

// ArtifactVersion is one stored rendering of an artifact. Versions are
// append-only; chunks and evidence reference a version, never the
// identity directly.
type ArtifactVersion struct {
	UID         string    `json:"uid"`
	ArtifactUID string    `json:"artifact_uid"`
	CaseUID     string    `json:"case_uid"`
	StorageRef  string    `json:"storage_ref"`
	ContentType string    `json:"content_type"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Expired     bool      `json:"expired"`
}

// AnchorHealth tracks whether an anchor's selector still locates its
// quote in the original artifact.
type AnchorHealth string

const (
	AnchorHealthy  AnchorHealth = "healthy"
	AnchorDegraded AnchorHealth = "degraded"
	AnchorOrphaned AnchorHealth = "orphaned"
)

// AnchorSelector re-locates a quotation inside an artifact version.
// Exact is the verbatim quote; Prefix/Suffix disambiguate repeated text.
type AnchorSelector struct {
	Type   string `json:"type"` // "TextQuoteSelector"
	Exact  string `json:"exact"`
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`
	Start  int    `json:"start,omitempty"`
	End    int    `json:"end,omitempty"`
}

// Chunk is an ordered, text-bearing slice of an artifact version.
type Chunk struct {
	UID        string           `json:"uid"`
	CaseUID    string           `json:"case_uid"`
	VersionUID string           `json:"version_uid"`
	Ordinal    int              `json:"ordinal"`
	Text       string           `json:"text"`
	Selectors  []AnchorSelector `json:"selectors"`
	Health     AnchorHealth     `json:"anchor_health"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at,omitempty"`
	Expired    bool             `json:"expired"`
}

// EvidenceKind classifies the citable unit.
type EvidenceKind string

const (
	EvidenceDocument EvidenceKind = "document"
	EvidenceExternal EvidenceKind = "external"
	EvidenceDerived  EvidenceKind = "derived"
)

// Evidence pairs a chunk with a case and carries retention metadata.
type Evidence struct {
	UID       string       `json:"uid"`
	CaseUID   string       `json:"case_uid"`
	ChunkUID  string       `json:"chunk_uid"`
	Kind      EvidenceKind `json:"kind"`
	HasPII    bool         `json:"has_pii"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	Expired   bool         `json:"expired"`
}

// EvidenceCitation points an analytical output back at the evidence that
// grounds it. FACT-level outputs carry at least one.
type EvidenceCitation struct {
	EvidenceUID string  `json:"evidence_uid"`
	ChunkUID    string  `json:"chunk_uid,omitempty"`
	Quote       string  `json:"quote,omitempty"`
	Source      string  `json:"source,omitempty"`
	Score       float64 `json:"score,omitempty"`
}
