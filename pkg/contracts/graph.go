// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// Entity is a graph-projected node with a typed ontology class.
type Entity struct {
	UID        string         `json:"uid"`
	CaseUID    string         `json:"case_uid"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Aliases    []string       `json:"aliases,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Event is a graph-projected occurrence with temporal bounds.
type Event struct {
	UID        string         `json:"uid"`
	CaseUID    string         `json:"case_uid"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
	EndedAt    time.Time      `json:"ended_at,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RelationFact is a typed edge between two entities with provenance,
// optional temporal validity and the ontology version that governed the
// write. Conflicting relations are flagged but retained.
type RelationFact struct {
	UID                string    `json:"uid"`
	CaseUID            string    `json:"case_uid"`
	SourceUID          string    `json:"source_uid"`
	TargetUID          string    `json:"target_uid"`
	Type               string    `json:"type"`
	SupportingClaimUID []string  `json:"supporting_claim_uids"`
	EvidenceStrength   float64   `json:"evidence_strength"` // [0,1]
	HasConflict        bool      `json:"has_conflict"`
	ValidFrom          time.Time `json:"valid_from,omitempty"`
	ValidTo            time.Time `json:"valid_to,omitempty"`
	OntologyVersion    string    `json:"ontology_version"`
	CreatedAt          time.Time `json:"created_at"`
}

// IdentityActionStatus is the review state of a merge/split proposal.
type IdentityActionStatus string

const (
	IdentityPending    IdentityActionStatus = "pending"
	IdentityApproved   IdentityActionStatus = "approved"
	IdentityRejected   IdentityActionStatus = "rejected"
	IdentityRolledBack IdentityActionStatus = "rolled_back"
)

// EntityIdentityAction is a pending/approved/rejected merge or split
// proposal against the graph.
type EntityIdentityAction struct {
	UID        string               `json:"uid"`
	CaseUID    string               `json:"case_uid"`
	Type       string               `json:"type"` // "merge" | "split"
	EntityUIDs []string             `json:"entity_uids"`
	Confidence float64              `json:"confidence"`
	Certain    bool                 `json:"certain"`
	Rationale  string               `json:"rationale,omitempty"`
	Status     IdentityActionStatus `json:"status"`
	Reason     string               `json:"reason,omitempty"` // rejection reason
	DecidedBy  string               `json:"decided_by,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	DecidedAt  time.Time            `json:"decided_at,omitempty"`
}

// =============================================================================
// Ontology
// =============================================================================

// PropertySpec describes one property of an ontology type.
type PropertySpec struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// TypeSpec is one entity or event type in an ontology version.
type TypeSpec struct {
	Name        string         `json:"name"`
	Properties  []PropertySpec `json:"properties,omitempty"`
	Deprecated  bool           `json:"deprecated,omitempty"`
	ReplacedBy  string         `json:"replaced_by,omitempty"`
	Description string         `json:"description,omitempty"`
}

// RelationSpec is one relation type with domain/range constraints.
type RelationSpec struct {
	Name        string   `json:"name"`
	Domain      []string `json:"domain,omitempty"`      // allowed source entity types
	Range       []string `json:"range,omitempty"`       // allowed target entity types
	Cardinality string   `json:"cardinality,omitempty"` // "one" | "many"
	Deprecated  bool     `json:"deprecated,omitempty"`
	ReplacedBy  string   `json:"replaced_by,omitempty"`
	Description string   `json:"description,omitempty"`
}

// OntologyVersion is an immutable, named snapshot of the typed schema
// that governs graph writes.
type OntologyVersion struct {
	Version       string         `json:"version"`
	EntityTypes   []TypeSpec     `json:"entity_types"`
	EventTypes    []TypeSpec     `json:"event_types"`
	RelationTypes []RelationSpec `json:"relation_types"`
	PublishedAt   time.Time      `json:"published_at"`
}

// ChangeLevel classifies one ontology change.
type ChangeLevel int

const (
	ChangeCompatible ChangeLevel = iota
	ChangeDeprecated
	ChangeBreaking
)

// String returns the wire form of a change level.
func (c ChangeLevel) String() string {
	switch c {
	case ChangeCompatible:
		return "COMPATIBLE"
	case ChangeDeprecated:
		return "DEPRECATED"
	case ChangeBreaking:
		return "BREAKING"
	default:
		return "UNKNOWN"
	}
}

// OntologyChange is one classified difference between two versions.
type OntologyChange struct {
	TypeName string      `json:"type_name"`
	Kind     string      `json:"kind"` // entity | event | relation
	Level    ChangeLevel `json:"level"`
	Detail   string      `json:"detail"`
}

// CompatibilityReport is the diff between two ontology versions.
// OverallLevel is the maximum level over all changes.
type CompatibilityReport struct {
	FromVersion  string           `json:"from_version"`
	ToVersion    string           `json:"to_version"`
	Changes      []OntologyChange `json:"changes"`
	OverallLevel ChangeLevel      `json:"overall_level"`
}
