// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// closeCodeAuthFailure is sent when the token query parameter fails
// validation.
const closeCodeAuthFailure = 4001

// historyDefaultLimit caps chat.history replies without an explicit
// limit.
const historyDefaultLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClientFrame is any frame a client may send.
type wsClientFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// wsServerFrame is any frame the server sends back.
type wsServerFrame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer only.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(frame wsServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

// ChatWebSocket runs the streaming chat session.
//
// # Description
//
// The client connects to /ws?token=<jwt>&case_uid=<case>. Frames are
// JSON. Client types: chat.send {id, message}, chat.abort {id},
// chat.history {limit}. The server streams the plan, citations and the
// answer as they materialize, then chat.done; failures yield
// chat.error. Unknown frame types yield chat.error without closing the
// connection. A bad token closes the socket with code 4001.
func ChatWebSocket(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		userID, err := deps.Validator.Validate(c.Query("token"))
		if err != nil {
			deadline := time.Now().Add(time.Second)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCodeAuthFailure, "authentication failed"),
				deadline)
			return
		}
		caseUID := c.Query("case_uid")

		deps.Metrics.WebsocketOpened()
		defer deps.Metrics.WebsocketClosed()
		deps.Logger.Info("websocket session started", "user_id", userID, "case_uid", caseUID)

		session := &wsSession{
			conn:    &wsConn{ws: ws},
			deps:    deps,
			caseUID: caseUID,
			userID:  userID,
			active:  make(map[string]context.CancelFunc),
		}
		defer session.abortAll()

		for {
			var frame wsClientFrame
			if err := ws.ReadJSON(&frame); err != nil {
				deps.Logger.Info("websocket session closed", "user_id", userID, "error", err.Error())
				return
			}
			session.dispatch(c.Request.Context(), frame)
		}
	}
}

// wsSession tracks the in-flight questions of one connection.
type wsSession struct {
	conn    *wsConn
	deps    *Deps
	caseUID string
	userID  string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func (s *wsSession) dispatch(ctx context.Context, frame wsClientFrame) {
	switch frame.Type {
	case "chat.send":
		s.handleSend(ctx, frame)
	case "chat.abort":
		s.handleAbort(frame)
	case "chat.history":
		s.handleHistory(ctx, frame)
	default:
		s.sendError(frame.ID, contracts.CodeValidation,
			"unknown message type "+frame.Type)
	}
}

func (s *wsSession) handleSend(ctx context.Context, frame wsClientFrame) {
	if frame.ID == "" || frame.Message == "" {
		s.sendError(frame.ID, contracts.CodeValidation, "chat.send requires id and message")
		return
	}
	if s.caseUID == "" {
		s.sendError(frame.ID, contracts.CodeValidation, "connection has no case_uid")
		return
	}

	// The question outlives the frame read; only chat.abort or
	// connection teardown cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if _, dup := s.active[frame.ID]; dup {
		s.mu.Unlock()
		cancel()
		s.sendError(frame.ID, contracts.CodeConflict, "question id already in flight")
		return
	}
	s.active[frame.ID] = cancel
	s.mu.Unlock()

	s.deps.Metrics.ChatStreamStarted()
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, frame.ID)
			s.mu.Unlock()
			cancel()
		}()

		traceID := newTraceID()
		sink := func(eventType string, payload map[string]any) {
			_ = s.conn.send(wsServerFrame{Type: eventType, ID: frame.ID, Payload: payload})
		}
		answer, err := s.deps.Chat.Ask(runCtx, s.caseUID, frame.Message, traceID,
			sink, s.deps.budget(traceID))
		if err != nil {
			if runCtx.Err() != nil {
				s.sendError(frame.ID, "cancelled", "question aborted")
				return
			}
			code := contracts.CodeInternal
			var problem *contracts.ProblemDetail
			if errors.As(err, &problem) {
				code = problem.ErrorCode
			} else if contracts.IsNotFound(err) {
				code = contracts.CodeNotFound
			}
			s.sendError(frame.ID, code, err.Error())
			return
		}
		_ = s.conn.send(wsServerFrame{
			Type:    "chat.done",
			ID:      frame.ID,
			Payload: map[string]any{"answer": answer},
		})
	}()
}

func (s *wsSession) handleAbort(frame wsClientFrame) {
	s.mu.Lock()
	cancel := s.active[frame.ID]
	s.mu.Unlock()
	if cancel == nil {
		s.sendError(frame.ID, contracts.CodeNotFound, "no in-flight question with that id")
		return
	}
	cancel()
}

// handleHistory replays the case's persisted answers, newest last.
func (s *wsSession) handleHistory(ctx context.Context, frame wsClientFrame) {
	limit := frame.Limit
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	actions, err := s.deps.Store.ListActionsByCase(ctx, s.caseUID)
	if err != nil {
		s.sendError(frame.ID, contracts.CodeInternal, err.Error())
		return
	}
	var answers []any
	for _, action := range actions {
		if action.Kind != "chat.answer" {
			continue
		}
		if raw, ok := action.Outputs["answer"]; ok {
			answers = append(answers, raw)
		}
	}
	if len(answers) > limit {
		answers = answers[len(answers)-limit:]
	}
	_ = s.conn.send(wsServerFrame{
		Type:    "history.result",
		ID:      frame.ID,
		Payload: map[string]any{"answers": answers, "count": len(answers)},
	})
}

func (s *wsSession) sendError(id, code, message string) {
	_ = s.conn.send(wsServerFrame{
		Type:      "chat.error",
		ID:        id,
		ErrorCode: code,
		Message:   message,
	})
}

func (s *wsSession) abortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.active {
		cancel()
		delete(s.active, id)
	}
}
