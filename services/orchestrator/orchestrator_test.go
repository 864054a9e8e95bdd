// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
	"github.com/AegiAI/aegi-core/services/store"
)

func newTestService(t *testing.T, config Config) (*Service, *store.Memory) {
	t.Helper()
	objects, err := store.NewFSObjectStore(t.TempDir())
	require.NoError(t, err)

	st := store.NewMemory()
	config.GinMode = "test"
	svc, err := New(Backends{
		Store:   st,
		Graph:   store.NewMemoryGraph(),
		Vector:  store.NewMemoryVectorIndex(),
		Objects: objects,
		LLM:     llm.NewStubClient(),
	}, config, slog.Default())
	require.NoError(t, err)
	return svc, st
}

func doJSON(t *testing.T, svc *Service, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewRequiresBackends(t *testing.T) {
	_, err := New(Backends{}, Config{}, slog.Default())
	require.Error(t, err)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	svc, _ := newTestService(t, Config{JWTSecret: "sekrit"})

	rec := doJSON(t, svc, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doJSON(t, svc, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthGatesTheAPISurface(t *testing.T) {
	svc, _ := newTestService(t, Config{JWTSecret: "sekrit"})

	rec := doJSON(t, svc, http.MethodGet, "/cases", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "policy_denied", decodeBody(t, rec)["error_code"])

	token, err := middleware.NewTokenValidator("sekrit").Issue("analyst-7", time.Minute)
	require.NoError(t, err)
	rec = doJSON(t, svc, http.MethodGet, "/cases", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCaseLifecycle(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	rec := doJSON(t, svc, http.MethodPost, "/cases", map[string]any{
		"title":   "Port disruption",
		"summary": "Unexplained congestion at a transshipment hub.",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	uid, _ := created["uid"].(string)
	require.NotEmpty(t, uid)

	rec = doJSON(t, svc, http.MethodGet, "/cases/"+uid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Port disruption", decodeBody(t, rec)["title"])

	rec = doJSON(t, svc, http.MethodGet, "/cases/case_missing", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error_code"])
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/cases", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rec)["error_code"])
}

func TestInitializePriorsOverHTTP(t *testing.T) {
	svc, st := newTestService(t, Config{})
	ctx := context.Background()

	kase := &contracts.Case{UID: contracts.NewUID(contracts.PrefixCase), Title: "t"}
	require.NoError(t, st.CreateCase(ctx, kase))

	// No hypotheses yet: the validation family maps to 422.
	rec := doJSON(t, svc, http.MethodPost, "/cases/"+kase.UID+"/hypotheses/initialize-priors", nil, "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rec)["error_code"])

	for _, label := range []string{"deliberate", "accidental"} {
		require.NoError(t, st.CreateHypothesis(ctx, &contracts.Hypothesis{
			UID:     contracts.NewUID(contracts.PrefixHypothesis),
			CaseUID: kase.UID,
			Label:   label,
		}))
	}

	rec = doJSON(t, svc, http.MethodPost, "/cases/"+kase.UID+"/hypotheses/initialize-priors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	hypotheses, err := st.ListHypothesesByCase(ctx, kase.UID)
	require.NoError(t, err)
	for _, h := range hypotheses {
		assert.InDelta(t, 0.5, h.Posterior, 1e-9)
	}
}

func TestPipelineRunOverHTTP(t *testing.T) {
	svc, st := newTestService(t, Config{})
	ctx := context.Background()

	kase := &contracts.Case{UID: contracts.NewUID(contracts.PrefixCase), Title: "t"}
	require.NoError(t, st.CreateCase(ctx, kase))

	rec := doJSON(t, svc, http.MethodPost, "/pipeline/runs", map[string]any{
		"case_uid": kase.UID,
		"playbook": "analysis",
	}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID, _ := decodeBody(t, rec)["run_id"].(string)
	require.NotEmpty(t, runID)

	rec = doJSON(t, svc, http.MethodGet, "/pipeline/runs/"+runID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodGet, "/pipeline/runs/run_missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPlaybookRejected(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	// oneof binding catches it before the runner does.
	rec := doJSON(t, svc, http.MethodPost, "/pipeline/runs", map[string]any{
		"case_uid": "case_x",
		"playbook": "destroy-everything",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionCRUDOverHTTP(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	rec := doJSON(t, svc, http.MethodPost, "/subscriptions", map[string]any{
		"user_id": "analyst-1",
		"type":    "topic",
		"target":  "shipping",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	uid, _ := decodeBody(t, rec)["uid"].(string)
	require.NotEmpty(t, uid)

	rec = doJSON(t, svc, http.MethodPatch, "/subscriptions/"+uid, map[string]any{
		"enabled": false,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["enabled"])

	rec = doJSON(t, svc, http.MethodDelete, "/subscriptions/"+uid, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, svc, http.MethodGet, "/subscriptions/"+uid, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfiguredFeaturesAnswer501(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	rec := doJSON(t, svc, http.MethodPost, "/gdelt/monitor/poll", nil, "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "not_implemented", decodeBody(t, rec)["error_code"])

	rec = doJSON(t, svc, http.MethodPost, "/api/investigations/inv_x/cancel", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestStartAndStop(t *testing.T) {
	svc, st := newTestService(t, Config{})
	ctx := context.Background()

	require.NoError(t, st.SaveOntologyVersion(ctx, &contracts.OntologyVersion{
		Version:     "v1",
		EntityTypes: []contracts.TypeSpec{{Name: "Person"}},
		PublishedAt: time.Now(),
	}))

	require.NoError(t, svc.Start(ctx))
	svc.Stop(ctx)
}
