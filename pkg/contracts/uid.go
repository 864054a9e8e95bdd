// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"strings"

	"github.com/google/uuid"
)

// UID prefixes for every persisted record kind. UIDs are `<prefix>_<hex>`
// and are never reused.
const (
	PrefixCase          = "case"
	PrefixArtifact      = "art"
	PrefixArtifactVer   = "artv"
	PrefixChunk         = "chk"
	PrefixSourceClaim   = "clm"
	PrefixEvidence      = "evd"
	PrefixAssertion     = "ast"
	PrefixHypothesis    = "hyp"
	PrefixAssessment    = "asm"
	PrefixNarrative     = "nar"
	PrefixRelation      = "rel"
	PrefixEntity        = "ent"
	PrefixEvent         = "evt"
	PrefixIdentity      = "ida"
	PrefixOntology      = "ont"
	PrefixAction        = "act"
	PrefixToolTrace     = "trc"
	PrefixSubscription  = "sub"
	PrefixEventLog      = "elog"
	PrefixPushLog       = "plog"
	PrefixMemory        = "mem"
	PrefixInvestigation = "inv"
	PrefixForecast      = "fct"
	PrefixReport        = "rpt"
	PrefixRun           = "run"
)

// NewUID mints a globally unique text UID with the given prefix.
//
// The hex part is a random UUIDv4 with dashes stripped, giving 32 hex
// characters. Minting never fails and never reuses an identifier.
func NewUID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// UIDPrefix returns the prefix of a UID, or "" when malformed.
func UIDPrefix(uid string) string {
	i := strings.LastIndex(uid, "_")
	if i <= 0 {
		return ""
	}
	return uid[:i]
}
