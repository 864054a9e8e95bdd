// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// =============================================================================
// LLM Invocation Envelope
// =============================================================================

// DegradedReason classifies why an LLM or external capability call
// produced a degraded result instead of an answer.
type DegradedReason string

const (
	// ReasonModelUnavailable means the backing model errored or is down.
	ReasonModelUnavailable DegradedReason = "MODEL_UNAVAILABLE"

	// ReasonBudgetExceeded means the BudgetContext deadline or token
	// budget was breached before a usable answer arrived.
	ReasonBudgetExceeded DegradedReason = "BUDGET_EXCEEDED"
)

// DegradedOutput is the value returned when an LLM or external capability
// fails. Failure is data, not control flow: callers receive this instead
// of an error, downgrade their grounding level, and continue.
type DegradedOutput struct {
	Reason  DegradedReason `json:"reason"`
	Detail  string         `json:"detail,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// BudgetContext bounds a single LLM or external HTTP call.
//
// # Fields
//
//   - Deadline: absolute wall-clock deadline; zero means no deadline.
//   - MaxTokens: output token cap; zero means backend default.
//   - TraceID: correlation id threaded through tool traces.
type BudgetContext struct {
	Deadline  time.Time `json:"deadline,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// Remaining returns the time left before the deadline, or a large value
// when no deadline is set.
func (b BudgetContext) Remaining() time.Duration {
	if b.Deadline.IsZero() {
		return 24 * time.Hour
	}
	return time.Until(b.Deadline)
}

// Exhausted reports whether the deadline has passed.
func (b BudgetContext) Exhausted() bool {
	return !b.Deadline.IsZero() && time.Now().After(b.Deadline)
}

// LLMInvocationRequest names exactly what a component is asking of the
// model: prompt text plus versioned prompt identity and a budget.
type LLMInvocationRequest struct {
	ModelID       string        `json:"model_id,omitempty"`
	PromptName    string        `json:"prompt_name"`
	PromptVersion string        `json:"prompt_version"`
	Prompt        string        `json:"prompt"`
	System        string        `json:"system,omitempty"`
	Temperature   float32       `json:"temperature,omitempty"`
	Budget        BudgetContext `json:"budget"`
}

// LLMInvocationResult is the successful counterpart of DegradedOutput.
type LLMInvocationResult struct {
	Text         string        `json:"text"`
	ModelID      string        `json:"model_id"`
	TraceID      string        `json:"trace_id"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}
