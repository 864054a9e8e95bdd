// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the model backends behind three capabilities:
// invoke, invoke-structured, and embed. All three honor the supplied
// BudgetContext and surface failure as a DegradedOutput value rather
// than an error, so callers downgrade their grounding level and
// continue instead of unwinding.
package llm

import (
	"context"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// Client is the standard interface for any LLM backend.
//
// # Description
//
// Invoke runs a free-text completion. InvokeStructured runs a completion
// whose response is parsed as JSON into out. Embed returns a vector for
// the given text. Every method returns a *DegradedOutput (not an error)
// when the backend is unavailable or the budget is exhausted; exactly
// one of the result and the degraded output is non-nil.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	Invoke(ctx context.Context, req contracts.LLMInvocationRequest) (*contracts.LLMInvocationResult, *contracts.DegradedOutput)
	InvokeStructured(ctx context.Context, req contracts.LLMInvocationRequest, out any) *contracts.DegradedOutput
	Embed(ctx context.Context, text string) ([]float32, *contracts.DegradedOutput)
}

// degraded builds a DegradedOutput preserving the request trace id.
func degraded(reason contracts.DegradedReason, detail string, req contracts.LLMInvocationRequest) *contracts.DegradedOutput {
	return &contracts.DegradedOutput{
		Reason:  reason,
		Detail:  detail,
		TraceID: req.Budget.TraceID,
	}
}

// budgetCtx derives a context honoring the budget deadline. The cancel
// func must always be called.
func budgetCtx(ctx context.Context, b contracts.BudgetContext) (context.Context, context.CancelFunc) {
	if b.Deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, b.Deadline)
}
