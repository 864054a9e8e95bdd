// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contracts holds the shared value types of the AEGI analysis core:
// grounding levels, UIDs, LLM invocation envelopes, and the persisted
// domain records (claims, assertions, hypotheses, narratives, audit rows).
//
// Everything in this package is a plain value type with no I/O. Services
// validate these records at their ingress; stores persist them as-is.
package contracts

import "fmt"

// GroundingLevel orders analytical outputs by increasing evidential support.
//
// # Description
//
// HYPOTHESIS carries no citation requirement, INFERENCE is partially
// supported, FACT requires at least one valid evidence citation. Every
// LLM-facing component stamps its output with the highest level the
// grounding gate permits and never higher.
type GroundingLevel int

const (
	// LevelHypothesis is the floor: no evidence required.
	LevelHypothesis GroundingLevel = iota

	// LevelInference indicates partial evidential support.
	LevelInference

	// LevelFact requires at least one valid evidence citation.
	LevelFact
)

// String returns the wire representation used in JSON payloads.
func (l GroundingLevel) String() string {
	switch l {
	case LevelHypothesis:
		return "HYPOTHESIS"
	case LevelInference:
		return "INFERENCE"
	case LevelFact:
		return "FACT"
	default:
		return fmt.Sprintf("GroundingLevel(%d)", int(l))
	}
}

// MarshalJSON encodes the level as its string form.
func (l GroundingLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (l *GroundingLevel) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"HYPOTHESIS"`:
		*l = LevelHypothesis
	case `"INFERENCE"`:
		*l = LevelInference
	case `"FACT"`:
		*l = LevelFact
	default:
		return fmt.Errorf("unknown grounding level %s", string(b))
	}
	return nil
}

// MaxPermittedLevel is the grounding gate.
//
// # Description
//
// Pure function mapping evidence presence to the highest permissible
// grounding level. Callers stamp their outputs with
// min(declared, MaxPermittedLevel(hasCitation)).
//
// # Inputs
//
//   - hasCitation: true when at least one valid evidence citation exists.
//
// # Outputs
//
//   - GroundingLevel: LevelFact when cited, LevelHypothesis otherwise.
func MaxPermittedLevel(hasCitation bool) GroundingLevel {
	if hasCitation {
		return LevelFact
	}
	return LevelHypothesis
}

// Gate downgrades a declared level to what the evidence supports.
func Gate(declared GroundingLevel, hasCitation bool) GroundingLevel {
	max := MaxPermittedLevel(hasCitation)
	if declared > max {
		return max
	}
	return declared
}
