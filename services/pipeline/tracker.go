// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Stage result statuses.
const (
	StageSuccess = "success"
	StageSkipped = "skipped"
	StageError   = "error"
)

// StageResult is the outcome of one executed stage.
type StageResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Run is a snapshot of one pipeline execution.
type Run struct {
	RunID        string        `json:"run_id"`
	CaseUID      string        `json:"case_uid"`
	Playbook     string        `json:"playbook"`
	Status       string        `json:"status"`
	CurrentStage string        `json:"current_stage,omitempty"`
	ProgressPct  float64       `json:"progress_pct"`
	StagesTotal  int           `json:"stages_total"`
	Stages       []StageResult `json:"stages"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Tracker holds run state and fans snapshots out to subscribers. All
// methods are safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*Run
	subs map[string][]chan Run
}

func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*Run),
		subs: make(map[string][]chan Run),
	}
}

func (t *Tracker) start(runID, caseUID, playbook string, stagesTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &Run{
		RunID:       runID,
		CaseUID:     caseUID,
		Playbook:    playbook,
		Status:      RunRunning,
		StagesTotal: stagesTotal,
		StartedAt:   time.Now(),
	}
	t.publishLocked(runID)
}

func (t *Tracker) stageStarted(runID, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[runID]; ok {
		run.CurrentStage = stage
		t.publishLocked(runID)
	}
}

func (t *Tracker) stageFinished(runID string, result StageResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.Stages = append(run.Stages, result)
	if run.StagesTotal > 0 {
		run.ProgressPct = 100 * float64(len(run.Stages)) / float64(run.StagesTotal)
	}
	t.publishLocked(runID)
}

func (t *Tracker) finish(runID, status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.Status = status
	run.CurrentStage = ""
	run.Error = errMsg
	run.CompletedAt = time.Now()
	if status == RunCompleted {
		run.ProgressPct = 100
	}
	t.publishLocked(runID)
	for _, ch := range t.subs[runID] {
		close(ch)
	}
	delete(t.subs, runID)
}

// Get returns a copy of the run state.
func (t *Tracker) Get(runID string) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return Run{}, false
	}
	return snapshot(run), true
}

// List returns all known runs, newest first.
func (t *Tracker) List() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Run, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, snapshot(run))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Subscribe delivers a snapshot on every state change until the run
// finishes, then closes the channel. Slow subscribers drop intermediate
// snapshots rather than block the pipeline.
func (t *Tracker) Subscribe(runID string) (<-chan Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return nil, false
	}
	ch := make(chan Run, 16)
	if run.Status != RunRunning {
		ch <- snapshot(run)
		close(ch)
		return ch, true
	}
	t.subs[runID] = append(t.subs[runID], ch)
	return ch, true
}

// Cleanup drops finished runs older than the cutoff and reports how
// many were removed.
func (t *Tracker) Cleanup(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, run := range t.runs {
		if run.Status != RunRunning && !run.CompletedAt.IsZero() && run.CompletedAt.Before(cutoff) {
			delete(t.runs, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) publishLocked(runID string) {
	run := t.runs[runID]
	for _, ch := range t.subs[runID] {
		select {
		case ch <- snapshot(run):
		default:
		}
	}
}

func snapshot(run *Run) Run {
	out := *run
	out.Stages = append([]StageResult(nil), run.Stages...)
	return out
}
