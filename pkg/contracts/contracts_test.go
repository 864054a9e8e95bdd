// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMaxPermittedLevel_NoCitation(t *testing.T) {
	if got := MaxPermittedLevel(false); got != LevelHypothesis {
		t.Errorf("no citation should cap at HYPOTHESIS, got %s", got)
	}
}

func TestMaxPermittedLevel_WithCitation(t *testing.T) {
	if got := MaxPermittedLevel(true); got != LevelFact {
		t.Errorf("citation present should allow FACT, got %s", got)
	}
}

func TestGate_DowngradesFactWithoutCitation(t *testing.T) {
	if got := Gate(LevelFact, false); got != LevelHypothesis {
		t.Errorf("FACT without citation must downgrade to HYPOTHESIS, got %s", got)
	}
	if got := Gate(LevelInference, false); got != LevelHypothesis {
		t.Errorf("INFERENCE without citation must downgrade to HYPOTHESIS, got %s", got)
	}
}

func TestGate_KeepsDeclaredWhenPermitted(t *testing.T) {
	if got := Gate(LevelInference, true); got != LevelInference {
		t.Errorf("declared INFERENCE with citation should stay INFERENCE, got %s", got)
	}
}

func TestGroundingLevel_JSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(LevelFact)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"FACT"` {
		t.Errorf("expected \"FACT\", got %s", b)
	}
	var l GroundingLevel
	if err := json.Unmarshal([]byte(`"HYPOTHESIS"`), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if l != LevelHypothesis {
		t.Errorf("expected HYPOTHESIS, got %s", l)
	}
}

func TestNewUID_PrefixAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		uid := NewUID(PrefixSourceClaim)
		if !strings.HasPrefix(uid, "clm_") {
			t.Fatalf("bad prefix: %s", uid)
		}
		if seen[uid] {
			t.Fatalf("UID reused: %s", uid)
		}
		seen[uid] = true
	}
}

func TestSourceClaim_RejectsEmptySelectors(t *testing.T) {
	claim := &SourceClaim{UID: "clm_1", Text: "quoted text"}
	problem := claim.Validate()
	if problem == nil {
		t.Fatal("empty selector set must be rejected")
	}
	if problem.ErrorCode != CodeAnchorMissing {
		t.Errorf("expected %s, got %s", CodeAnchorMissing, problem.ErrorCode)
	}
}

func TestAssertion_RejectsEmptyProvenance(t *testing.T) {
	a := &Assertion{UID: "ast_1", Statement: "something happened"}
	if a.Validate() == nil {
		t.Fatal("assertion without source claims must be rejected")
	}
}

func TestErrorHelpers(t *testing.T) {
	var err error = &NotFoundError{Kind: "case", UID: "case_x"}
	if !IsNotFound(err) {
		t.Error("IsNotFound should match NotFoundError")
	}
	if IsConflict(err) {
		t.Error("IsConflict should not match NotFoundError")
	}
	err = &ConflictError{Message: "already cancelled"}
	if !IsConflict(err) {
		t.Error("IsConflict should match ConflictError")
	}
}
