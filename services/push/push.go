// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package push fans bus events out to subscribed users. The engine
// hangs off the bus wildcard, dedups by source event UID, matches by
// rule then by interest-vector similarity, keeps the best candidate per
// user, throttles per user per hour, and audits every delivery attempt.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/eventbus"
	"github.com/AegiAI/aegi-core/services/llm"
	"github.com/AegiAI/aegi-core/services/store"
)

var tracer = otel.Tracer("services/push")

// Notifier delivers one notification to one user. Implementations are
// transport-specific (websocket, webhook, mail).
type Notifier interface {
	Notify(ctx context.Context, userID string, ev eventbus.Event, reason string) error
}

// Config tunes matching and throttling.
type Config struct {
	MaxPushPerHour    int
	SemanticThreshold float64
	// DeliveriesPerSecond paces outbound notifications across all users.
	DeliveriesPerSecond float64
}

func (c *Config) applyDefaults() {
	if c.MaxPushPerHour <= 0 {
		c.MaxPushPerHour = 10
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.5
	}
	if c.DeliveriesPerSecond <= 0 {
		c.DeliveriesPerSecond = 20
	}
}

// Engine is the push pipeline.
type Engine struct {
	store    store.Store
	llm      llm.Client
	notifier Notifier
	config   Config
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(st store.Store, client llm.Client, notifier Notifier, config Config, logger *slog.Logger) *Engine {
	config.applyDefaults()
	return &Engine{
		store:    st,
		llm:      client,
		notifier: notifier,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.DeliveriesPerSecond), 1),
		logger:   logger,
		now:      time.Now,
	}
}

// Register hangs the engine off the bus wildcard.
func (e *Engine) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.Wildcard, e.HandleEvent)
}

// candidate is one potential delivery for one user.
type candidate struct {
	userID string
	method string // "rule" | "semantic"
	score  float64
	reason string
}

// HandleEvent runs the seven-step push sequence for one event:
// dedup, load subscriptions, rule match, semantic match, best candidate
// per user, throttle, deliver and audit.
func (e *Engine) HandleEvent(ctx context.Context, ev eventbus.Event) error {
	ctx, span := tracer.Start(ctx, "push.HandleEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_type", ev.EventType),
		attribute.String("source_event_uid", ev.SourceEventUID),
	)

	// Step 1: dedup on the source event UID.
	if _, err := e.store.GetEventLogBySourceUID(ctx, ev.SourceEventUID); err == nil {
		return nil
	} else if !contracts.IsNotFound(err) {
		return err
	}
	eventLog := &contracts.EventLog{
		UID:            contracts.NewUID(contracts.PrefixEventLog),
		SourceEventUID: ev.SourceEventUID,
		EventType:      ev.EventType,
		CaseUID:        ev.CaseUID,
		Status:         "processing",
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateEventLog(ctx, eventLog); err != nil {
		if contracts.IsConflict(err) {
			return nil // a concurrent handler won the race
		}
		return err
	}

	// Step 2: load enabled subscriptions.
	subs, err := e.store.ListEnabledSubscriptions(ctx)
	if err != nil {
		return err
	}

	// Steps 3 and 4: rule match, then semantic match for the rest.
	candidates := e.match(ctx, ev, subs)

	// Step 5: keep the best candidate per user.
	best := bestPerUser(candidates)

	// Steps 6 and 7: throttle, deliver, audit.
	delivered := 0
	for _, c := range best {
		status, errMsg := e.deliver(ctx, ev, c)
		if status == "delivered" {
			delivered++
		}
		if err := e.store.CreatePushLog(ctx, &contracts.PushLog{
			UID:         contracts.NewUID(contracts.PrefixPushLog),
			EventUID:    eventLog.UID,
			UserID:      c.userID,
			MatchMethod: c.method,
			MatchScore:  c.score,
			MatchReason: c.reason,
			Status:      status,
			Error:       errMsg,
			CreatedAt:   e.now(),
		}); err != nil {
			return err
		}
	}

	eventLog.Status = "done"
	eventLog.PushCount = delivered
	eventLog.UpdatedAt = e.now()
	if err := e.store.UpdateEventLog(ctx, eventLog); err != nil {
		return err
	}
	e.logger.Info("event pushed", "event_type", ev.EventType,
		"candidates", len(best), "delivered", delivered)
	return nil
}

func (e *Engine) match(ctx context.Context, ev eventbus.Event, subs []contracts.Subscription) []candidate {
	var out []candidate
	var eventVec []float32
	eventVecReady := false

	for _, sub := range subs {
		if !eventTypeAllowed(sub, ev.EventType) {
			continue
		}
		if eventbus.SeverityRank(ev.Severity) < eventbus.SeverityRank(sub.PriorityThreshold) {
			continue
		}

		if reason, ok := ruleMatch(sub, ev); ok {
			out = append(out, candidate{
				userID: sub.UserID, method: "rule", score: 1.0, reason: reason,
			})
			continue
		}

		if len(sub.InterestVector) == 0 {
			continue
		}
		if !eventVecReady {
			vec, deg := e.llm.Embed(ctx, eventText(ev))
			if deg != nil {
				e.logger.Warn("event embedding degraded, semantic matching skipped",
					"event_type", ev.EventType, "reason", deg.Reason)
				eventVecReady = true // do not retry per subscription
				continue
			}
			eventVec = vec
			eventVecReady = true
		}
		if eventVec == nil {
			continue
		}
		sim := cosine(eventVec, sub.InterestVector)
		if sim >= e.config.SemanticThreshold {
			out = append(out, candidate{
				userID: sub.UserID, method: "semantic", score: sim,
				reason: fmt.Sprintf("interest %q similarity %.2f", sub.InterestText, sim),
			})
		}
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, ev eventbus.Event, c candidate) (string, string) {
	// Critical events bypass the hourly cap.
	if ev.Severity != eventbus.SeverityCritical {
		since := e.now().Add(-time.Hour)
		n, err := e.store.CountDeliveredSince(ctx, c.userID, since)
		if err != nil {
			return "failed", err.Error()
		}
		if n >= e.config.MaxPushPerHour {
			return "throttled", ""
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "failed", err.Error()
	}
	if err := e.notifier.Notify(ctx, c.userID, ev, c.reason); err != nil {
		return "failed", err.Error()
	}
	return "delivered", ""
}

// ----------------------------------------------------------------------------
// Matching helpers
// ----------------------------------------------------------------------------

func eventTypeAllowed(sub contracts.Subscription, eventType string) bool {
	if len(sub.EventTypes) == 0 {
		return true
	}
	for _, t := range sub.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// ruleMatch decides scope membership. Target "*" is the scope wildcard.
func ruleMatch(sub contracts.Subscription, ev eventbus.Event) (string, bool) {
	switch sub.Type {
	case contracts.SubGlobal:
		return "global subscription", true
	case contracts.SubCase:
		if sub.Target == "*" || (ev.CaseUID != "" && sub.Target == ev.CaseUID) {
			return "case " + ev.CaseUID, true
		}
	case contracts.SubEntity:
		if tagMatch(sub.Target, ev.Entities) {
			return "entity " + sub.Target, true
		}
	case contracts.SubRegion:
		if tagMatch(sub.Target, ev.Regions) {
			return "region " + sub.Target, true
		}
	case contracts.SubTopic:
		if tagMatch(sub.Target, ev.Topics) {
			return "topic " + sub.Target, true
		}
	}
	return "", false
}

func tagMatch(target string, tags []string) bool {
	if target == "*" {
		return len(tags) > 0
	}
	for _, tag := range tags {
		if strings.EqualFold(tag, target) {
			return true
		}
	}
	return false
}

func bestPerUser(candidates []candidate) []candidate {
	byUser := make(map[string]candidate)
	for _, c := range candidates {
		cur, ok := byUser[c.userID]
		if !ok || c.score > cur.score {
			byUser[c.userID] = c
		}
	}
	out := make([]candidate, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

// eventText flattens an event into matchable text for embedding.
func eventText(ev eventbus.Event) string {
	parts := []string{ev.EventType}
	parts = append(parts, ev.Entities...)
	parts = append(parts, ev.Regions...)
	parts = append(parts, ev.Topics...)
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := ev.Payload[k].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
