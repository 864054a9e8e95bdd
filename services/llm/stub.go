// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"sync"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// StubClient is a deterministic in-memory Client for tests and degraded
// deployments. Responses are keyed by prompt name; unknown prompts echo
// the prompt text. Embeddings are derived from token hashes, so equal
// texts always embed identically and similar texts land near each other.
type StubClient struct {
	mu        sync.Mutex
	Responses map[string]string // prompt name -> canned reply
	Fail      bool              // force MODEL_UNAVAILABLE on every call
	FailEmbed bool
	Calls     []contracts.LLMInvocationRequest
	Dim       int
}

// NewStubClient returns a stub with 64-dimensional embeddings.
func NewStubClient() *StubClient {
	return &StubClient{Responses: make(map[string]string), Dim: 64}
}

// Invoke implements Client.
func (s *StubClient) Invoke(ctx context.Context, req contracts.LLMInvocationRequest) (*contracts.LLMInvocationResult, *contracts.DegradedOutput) {
	s.mu.Lock()
	s.Calls = append(s.Calls, req)
	fail := s.Fail
	text, ok := s.Responses[req.PromptName]
	s.mu.Unlock()

	if fail {
		return nil, degraded(contracts.ReasonModelUnavailable, "stub configured to fail", req)
	}
	if req.Budget.Exhausted() {
		return nil, degraded(contracts.ReasonBudgetExceeded, "budget deadline passed", req)
	}
	if !ok {
		text = req.Prompt
	}
	return &contracts.LLMInvocationResult{
		Text:    text,
		ModelID: "stub",
		TraceID: req.Budget.TraceID,
	}, nil
}

// InvokeStructured implements Client.
func (s *StubClient) InvokeStructured(ctx context.Context, req contracts.LLMInvocationRequest, out any) *contracts.DegradedOutput {
	res, deg := s.Invoke(ctx, req)
	if deg != nil {
		return deg
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), out); err != nil {
		return degraded(contracts.ReasonModelUnavailable, err.Error(), req)
	}
	return nil
}

// Embed implements Client. The vector is a normalized bag-of-tokens
// hash, stable across processes.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, *contracts.DegradedOutput) {
	s.mu.Lock()
	failEmbed := s.FailEmbed
	dim := s.Dim
	s.mu.Unlock()

	if failEmbed {
		return nil, &contracts.DegradedOutput{
			Reason: contracts.ReasonModelUnavailable,
			Detail: "stub embedder configured to fail",
		}
	}
	if dim == 0 {
		dim = 64
	}

	vec := make([]float32, dim)
	token := make([]rune, 0, 16)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(token)))
		vec[int(h.Sum32())%dim]++
		token = token[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ',' {
			flush()
			continue
		}
		token = append(token, r)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

// SetResponse registers a canned reply for a prompt name.
func (s *StubClient) SetResponse(promptName, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses[promptName] = reply
}

var _ Client = (*StubClient)(nil)
