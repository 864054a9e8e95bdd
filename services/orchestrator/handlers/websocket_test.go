// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
)

func wsURL(srv *httptest.Server, query string) string {
	return strings.Replace(srv.URL, "http", "ws", 1) + "/ws?" + query
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives,
// collecting every type seen along the way.
func readUntil(t *testing.T, conn *websocket.Conn, wanted string) (wsServerFrame, []string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	var seen []string
	for {
		var frame wsServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		seen = append(seen, frame.Type)
		if frame.Type == wanted {
			return frame, seen
		}
	}
}

func TestWebsocketChatRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.router.GET("/ws", ChatWebSocket(f.deps))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	caseUID := f.newCase(t)
	conn := dialWS(t, srv, "case_uid="+caseUID)

	require.NoError(t, conn.WriteJSON(wsClientFrame{
		Type:    "chat.send",
		ID:      "q1",
		Message: "What changed at the terminal?",
	}))

	done, seen := readUntil(t, conn, "chat.done")
	assert.Equal(t, "q1", done.ID)
	assert.Contains(t, seen, "chat.plan")
	assert.NotNil(t, done.Payload["answer"])

	// The answer was persisted before chat.done went out, so history
	// sees it immediately.
	require.NoError(t, conn.WriteJSON(wsClientFrame{Type: "chat.history", ID: "h1"}))
	history, _ := readUntil(t, conn, "history.result")
	assert.Equal(t, float64(1), history.Payload["count"])
}

func TestWebsocketUnknownTypeKeepsConnection(t *testing.T) {
	f := newFixture(t)
	f.router.GET("/ws", ChatWebSocket(f.deps))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dialWS(t, srv, "case_uid="+f.newCase(t))

	require.NoError(t, conn.WriteJSON(wsClientFrame{Type: "chat.rewind", ID: "x"}))
	frame, _ := readUntil(t, conn, "chat.error")
	assert.Equal(t, "validation_error", frame.ErrorCode)

	// Connection survives: history still answers.
	require.NoError(t, conn.WriteJSON(wsClientFrame{Type: "chat.history", ID: "h1"}))
	readUntil(t, conn, "history.result")
}

func TestWebsocketSendWithoutCaseRejected(t *testing.T) {
	f := newFixture(t)
	f.router.GET("/ws", ChatWebSocket(f.deps))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dialWS(t, srv, "")
	require.NoError(t, conn.WriteJSON(wsClientFrame{
		Type: "chat.send", ID: "q1", Message: "hello",
	}))
	frame, _ := readUntil(t, conn, "chat.error")
	assert.Equal(t, "validation_error", frame.ErrorCode)
}

func TestWebsocketBadTokenCloses4001(t *testing.T) {
	f := newFixture(t)
	f.deps.Validator = middleware.NewTokenValidator("sekrit")
	f.router.GET("/ws", ChatWebSocket(f.deps))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=garbage"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame wsServerFrame
	err = conn.ReadJSON(&frame)
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeCodeAuthFailure, closeErr.Code)
}
