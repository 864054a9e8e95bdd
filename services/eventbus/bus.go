// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eventbus provides the in-process typed pub/sub used to cross
// component boundaries without tight coupling.
//
// # Description
//
// Handlers register per event type or under the "*" wildcard. Emission
// comes in two flavors: EmitAndWait runs every handler to completion on
// the caller's goroutine; Emit schedules each handler on its own
// goroutine (fire-and-forget) and Drain awaits all outstanding handlers.
// Handler failures are logged and isolated - one handler can never break
// another.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The handler list is
// read-heavy and guarded by an RWMutex on mutation.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity levels carried by events, ordered info < warning < critical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SeverityRank maps a severity to its ordering; unknown severities rank
// as info.
func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Event is an immutable value record delivered to handlers.
// SourceEventUID is the dedup key; it is auto-generated when absent.
type Event struct {
	EventType      string         `json:"event_type"`
	CaseUID        string         `json:"case_uid,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Severity       string         `json:"severity"`
	SourceEventUID string         `json:"source_event_uid"`
	Entities       []string       `json:"entities,omitempty"`
	Regions        []string       `json:"regions,omitempty"`
	Topics         []string       `json:"topics,omitempty"`
	EmittedAt      time.Time      `json:"emitted_at"`
}

// Handler processes one event. Returned errors are logged, never
// propagated to the emitter or to sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Bus is the in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	inflight sync.WaitGroup
}

// New creates an empty bus. Most callers use the process-wide instance
// from Get() instead.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for one event type or the "*" wildcard.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// EmitAndWait delivers the event to every matching handler in
// registration order and returns when all have completed.
func (b *Bus) EmitAndWait(ctx context.Context, ev Event) {
	ev = b.finalize(ev)
	for _, h := range b.matching(ev.EventType) {
		b.invoke(ctx, h, ev)
	}
}

// Emit schedules every matching handler on its own goroutine and returns
// immediately. Outstanding handlers are tracked for Drain.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	ev = b.finalize(ev)
	for _, h := range b.matching(ev.EventType) {
		h := h
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.invoke(ctx, h, ev)
		}()
	}
}

// Drain blocks until every handler spawned by Emit has finished, or the
// context is cancelled.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// matching snapshots the handlers for an event type plus wildcards.
func (b *Bus) matching(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[eventType])+len(b.handlers[Wildcard]))
	out = append(out, b.handlers[eventType]...)
	out = append(out, b.handlers[Wildcard]...)
	return out
}

// invoke runs one handler with panic and error isolation.
func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", ev.EventType,
				"source_event_uid", ev.SourceEventUID,
				"panic", r)
		}
	}()
	if err := h(ctx, ev); err != nil {
		slog.Warn("event handler failed",
			"event_type", ev.EventType,
			"source_event_uid", ev.SourceEventUID,
			"error", err)
	}
}

// finalize stamps the emission time, default severity and dedup UID.
func (b *Bus) finalize(ev Event) Event {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	if ev.SourceEventUID == "" {
		ev.SourceEventUID = fmt.Sprintf("%s:%s", ev.EventType, uuid.NewString())
	}
	return ev
}

// =============================================================================
// Process-wide instance
// =============================================================================

var (
	globalMu  sync.Mutex
	globalBus *Bus
)

// Get returns the process-wide bus, creating it on first use.
func Get() *Bus {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalBus == nil {
		globalBus = New()
	}
	return globalBus
}

// Reset discards the process-wide bus. Test hook only.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalBus = nil
}
