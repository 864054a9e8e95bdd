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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// OpenAIClient talks to the OpenAI chat and embedding APIs. It also
// serves any OpenAI-compatible endpoint (Ollama, vLLM) when a base URL
// is supplied.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	embedModel string
}

// NewOpenAIClient builds a client from environment configuration.
//
// # Description
//
// Reads OPENAI_API_KEY (or the container secret at
// /run/secrets/openai_api_key), OPENAI_MODEL, OPENAI_EMBED_MODEL and
// the optional OPENAI_BASE_URL for OpenAI-compatible backends.
//
// # Outputs
//
//   - *OpenAIClient: ready for concurrent use.
//   - error: non-nil when no API key can be found.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = string(openai.LargeEmbedding3)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
		slog.Info("Using OpenAI-compatible endpoint", "base_url", cfg.BaseURL)
	}

	slog.Info("Initializing OpenAI client", "model", model, "embed_model", embedModel)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Invoke implements Client.
func (o *OpenAIClient) Invoke(ctx context.Context, req contracts.LLMInvocationRequest) (*contracts.LLMInvocationResult, *contracts.DegradedOutput) {
	if req.Budget.Exhausted() {
		return nil, degraded(contracts.ReasonBudgetExceeded, "budget deadline passed before invocation", req)
	}
	ctx, cancel := budgetCtx(ctx, req.Budget)
	defer cancel()

	model := req.ModelID
	if model == "" {
		model = o.model
	}
	system := req.System
	if system == "" {
		system = "You are an intelligence analysis assistant. Be precise and cite only provided material."
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
	}
	if req.Budget.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.Budget.MaxTokens
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, degraded(contracts.ReasonBudgetExceeded, err.Error(), req)
		}
		slog.Error("OpenAI API call failed", "prompt", req.PromptName, "error", err)
		return nil, degraded(contracts.ReasonModelUnavailable, err.Error(), req)
	}
	if len(resp.Choices) == 0 {
		return nil, degraded(contracts.ReasonModelUnavailable, "OpenAI returned no choices", req)
	}

	return &contracts.LLMInvocationResult{
		Text:         resp.Choices[0].Message.Content,
		ModelID:      model,
		TraceID:      req.Budget.TraceID,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}

// InvokeStructured implements Client. The model is instructed to answer
// with a single JSON object; the reply is unmarshalled into out.
func (o *OpenAIClient) InvokeStructured(ctx context.Context, req contracts.LLMInvocationRequest, out any) *contracts.DegradedOutput {
	if req.System == "" {
		req.System = "Respond with a single JSON object and nothing else."
	}
	res, deg := o.Invoke(ctx, req)
	if deg != nil {
		return deg
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), out); err != nil {
		slog.Warn("Structured LLM reply did not parse", "prompt", req.PromptName, "error", err)
		return degraded(contracts.ReasonModelUnavailable,
			fmt.Sprintf("unparseable structured reply: %v", err), req)
	}
	return nil
}

// Embed implements Client.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, *contracts.DegradedOutput) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: []string{text},
	})
	if err != nil {
		slog.Error("OpenAI embedding call failed", "error", err)
		return nil, &contracts.DegradedOutput{
			Reason: contracts.ReasonModelUnavailable,
			Detail: err.Error(),
		}
	}
	if len(resp.Data) == 0 {
		return nil, &contracts.DegradedOutput{
			Reason: contracts.ReasonModelUnavailable,
			Detail: "embedding response carried no vectors",
		}
	}
	return resp.Data[0].Embedding, nil
}

// extractJSON strips code fences and surrounding prose, keeping the
// outermost {...} or [...] block. Models wrap JSON despite instructions.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text
	}
	return text[start : end+1]
}

var _ Client = (*OpenAIClient)(nil)
