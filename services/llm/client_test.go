// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                              `{"a":1}`,
		"```json\n{\"a\":1}\n```":                `{"a":1}`,
		"Here is the answer:\n[{\"a\":1}]\nDone": `[{"a":1}]`,
	}
	for in, want := range cases {
		assert.Equal(t, want, extractJSON(in))
	}
}

func TestStub_FailureIsDegradedNotError(t *testing.T) {
	stub := NewStubClient()
	stub.Fail = true

	res, deg := stub.Invoke(context.Background(), contracts.LLMInvocationRequest{PromptName: "x"})
	assert.Nil(t, res)
	require.NotNil(t, deg)
	assert.Equal(t, contracts.ReasonModelUnavailable, deg.Reason)
}

func TestStub_BudgetExceeded(t *testing.T) {
	stub := NewStubClient()
	req := contracts.LLMInvocationRequest{
		PromptName: "x",
		Budget:     contracts.BudgetContext{Deadline: time.Now().Add(-time.Second)},
	}
	_, deg := stub.Invoke(context.Background(), req)
	require.NotNil(t, deg)
	assert.Equal(t, contracts.ReasonBudgetExceeded, deg.Reason)
}

func TestStub_StructuredRoundTrip(t *testing.T) {
	stub := NewStubClient()
	stub.SetResponse("plan", `{"steps":["retrieve","answer"]}`)

	var out struct {
		Steps []string `json:"steps"`
	}
	deg := stub.InvokeStructured(context.Background(),
		contracts.LLMInvocationRequest{PromptName: "plan"}, &out)
	require.Nil(t, deg)
	assert.Equal(t, []string{"retrieve", "answer"}, out.Steps)
}

func TestStub_EmbeddingDeterministicAndNormalized(t *testing.T) {
	stub := NewStubClient()
	a1, deg := stub.Embed(context.Background(), "missile deployment confirmed")
	require.Nil(t, deg)
	a2, _ := stub.Embed(context.Background(), "missile deployment confirmed")
	assert.Equal(t, a1, a2, "equal text must embed identically")

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5, "embedding should be unit length")
}
