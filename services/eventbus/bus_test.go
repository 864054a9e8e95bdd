// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAndWait_DeliversInOrder(t *testing.T) {
	bus := New()
	var order []int
	bus.Subscribe("pipeline.completed", func(ctx context.Context, ev Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe("pipeline.completed", func(ctx context.Context, ev Event) error {
		order = append(order, 2)
		return nil
	})

	bus.EmitAndWait(context.Background(), Event{EventType: "pipeline.completed"})
	assert.Equal(t, []int{1, 2}, order)
}

func TestWildcard_ReceivesEverything(t *testing.T) {
	bus := New()
	var count atomic.Int32
	bus.Subscribe(Wildcard, func(ctx context.Context, ev Event) error {
		count.Add(1)
		return nil
	})

	bus.EmitAndWait(context.Background(), Event{EventType: "claim.extracted"})
	bus.EmitAndWait(context.Background(), Event{EventType: "gdelt.anomaly_detected"})
	assert.Equal(t, int32(2), count.Load())
}

func TestHandlerFailure_DoesNotBreakSiblings(t *testing.T) {
	bus := New()
	var reached bool
	bus.Subscribe("x", func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})
	bus.Subscribe("x", func(ctx context.Context, ev Event) error {
		panic("worse")
	})
	bus.Subscribe("x", func(ctx context.Context, ev Event) error {
		reached = true
		return nil
	})

	bus.EmitAndWait(context.Background(), Event{EventType: "x"})
	assert.True(t, reached, "later handlers must still run after a failure and a panic")
}

func TestEmitAndDrain(t *testing.T) {
	bus := New()
	var count atomic.Int32
	bus.Subscribe("slow", func(ctx context.Context, ev Event) error {
		time.Sleep(10 * time.Millisecond)
		count.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		bus.Emit(context.Background(), Event{EventType: "slow"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Drain(ctx))
	assert.Equal(t, int32(5), count.Load())
}

func TestFinalize_AutoGeneratesSourceEventUID(t *testing.T) {
	bus := New()
	var got Event
	bus.Subscribe("y", func(ctx context.Context, ev Event) error {
		got = ev
		return nil
	})

	bus.EmitAndWait(context.Background(), Event{EventType: "y"})
	assert.NotEmpty(t, got.SourceEventUID)
	assert.Equal(t, SeverityInfo, got.Severity)
	assert.False(t, got.EmittedAt.IsZero())
}

func TestGetReset_Singleton(t *testing.T) {
	Reset()
	a := Get()
	b := Get()
	assert.Same(t, a, b)
	Reset()
	assert.NotSame(t, a, Get())
	Reset()
}

func TestSeverityRank_Ordering(t *testing.T) {
	assert.Less(t, SeverityRank(SeverityInfo), SeverityRank(SeverityWarning))
	assert.Less(t, SeverityRank(SeverityWarning), SeverityRank(SeverityCritical))
	assert.Equal(t, 0, SeverityRank("unknown"))
}
