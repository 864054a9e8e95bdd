// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "fmt"

// Error codes shared between services and the HTTP adapters. The adapter
// maps each code family onto one HTTP status; services never reference
// HTTP statuses directly.
const (
	CodeValidation              = "validation_error"
	CodeInvalidPriors           = "invalid_priors"
	CodeNotFound                = "not_found"
	CodeConflict                = "conflict"
	CodePolicyDenied            = "policy_denied"
	CodeRateLimited             = "rate_limited"
	CodeInternal                = "internal_error"
	CodeNotImplemented          = "not_implemented"
	CodeOntologyMissingProps    = "ontology_entity_missing_properties"
	CodeOntologyUnknownType     = "ontology_unknown_type"
	CodeOntologyDomainViolation = "ontology_relation_domain_violation"
	CodeOntologyRangeViolation  = "ontology_relation_range_violation"
	CodeOntologyDeprecatedType  = "ontology_deprecated_type"
	CodeEvidenceInsufficient    = "evidence_insufficient"
	CodeAnchorMissing           = "anchor_missing"
	CodeInvestigationNotRunning = "investigation_not_running"
	CodeSubscriptionInvalid     = "subscription_invalid"
)

// ProblemDetail is the structured failure value for validation-style
// errors. It doubles as the HTTP error body `{error_code, message,
// details}`.
type ProblemDetail struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Error implements the error interface so a ProblemDetail can travel as
// an error when a service method genuinely fails.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.ErrorCode, p.Message)
}

// NewProblem builds a ProblemDetail with optional detail pairs.
func NewProblem(code, message string, details map[string]any) *ProblemDetail {
	return &ProblemDetail{ErrorCode: code, Message: message, Details: details}
}

// IsProblem checks whether err is a *ProblemDetail.
func IsProblem(err error) bool {
	_, ok := err.(*ProblemDetail)
	return ok
}

// NotFoundError marks an addressed resource as missing.
type NotFoundError struct {
	Kind string
	UID  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.UID)
}

// IsNotFound checks whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// ConflictError marks an illegal state transition, e.g. cancelling an
// investigation that is not running.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// IsConflict checks whether err is a *ConflictError.
func IsConflict(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
