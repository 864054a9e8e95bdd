// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

// NewOllamaClient builds a client for a local Ollama daemon through its
// OpenAI-compatible endpoint.
//
// Reads OLLAMA_HOST (default http://aegi-ollama:11434), OLLAMA_MODEL
// and OLLAMA_EMBED_MODEL. Ollama ignores the API key but the OpenAI SDK
// requires one, so a placeholder is used.
func NewOllamaClient() (*OpenAIClient, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://aegi-ollama:11434"
		slog.Warn("OLLAMA_HOST not set, defaulting", "host", host)
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "llama3.1:8b"
		slog.Warn("OLLAMA_MODEL not set, defaulting", "model", model)
	}
	embedModel := os.Getenv("OLLAMA_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = fmt.Sprintf("%s/v1", host)

	slog.Info("Initializing Ollama client", "host", host, "model", model)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		embedModel: embedModel,
	}, nil
}
