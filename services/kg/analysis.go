// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kg

import (
	"sort"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

// The analyses below run in-process over a fetched subgraph. The graph
// database stores structure; it never computes. SAME_AS pairs count as
// edges so merged identities analyze as one connected unit.

// adjacency builds the undirected neighbor map of a subgraph.
func adjacency(sub *store.Subgraph) map[string][]string {
	adj := make(map[string][]string)
	add := func(a, b string) {
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for uid := range sub.Entities {
		if _, ok := adj[uid]; !ok {
			adj[uid] = nil
		}
	}
	for _, r := range sub.Relations {
		add(r.SourceUID, r.TargetUID)
	}
	for _, pair := range sub.SameAs {
		add(pair[0], pair[1])
	}
	return adj
}

func sortedNodes(adj map[string][]string) []string {
	nodes := make([]string, 0, len(adj))
	for uid := range adj {
		nodes = append(nodes, uid)
	}
	sort.Strings(nodes)
	return nodes
}

// Communities clusters entities by label propagation. Deterministic:
// nodes iterate in sorted order and ties resolve to the smallest label.
func Communities(sub *store.Subgraph) [][]string {
	adj := adjacency(sub)
	nodes := sortedNodes(adj)

	label := make(map[string]string, len(nodes))
	for _, uid := range nodes {
		label[uid] = uid
	}

	for iter := 0; iter < 20; iter++ {
		changed := false
		for _, uid := range nodes {
			counts := make(map[string]int)
			for _, n := range adj[uid] {
				counts[label[n]]++
			}
			if len(counts) == 0 {
				continue
			}
			best, bestCount := label[uid], 0
			candidates := make([]string, 0, len(counts))
			for l := range counts {
				candidates = append(candidates, l)
			}
			sort.Strings(candidates)
			for _, l := range candidates {
				if counts[l] > bestCount {
					best, bestCount = l, counts[l]
				}
			}
			if best != label[uid] {
				label[uid] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	groups := make(map[string][]string)
	for _, uid := range nodes {
		groups[label[uid]] = append(groups[label[uid]], uid)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		sort.Strings(groups[k])
		out = append(out, groups[k])
	}
	return out
}

// DegreeCentrality returns degree / (n-1) per entity.
func DegreeCentrality(sub *store.Subgraph) map[string]float64 {
	adj := adjacency(sub)
	n := len(adj)
	out := make(map[string]float64, n)
	for uid, neighbors := range adj {
		if n <= 1 {
			out[uid] = 0
			continue
		}
		out[uid] = float64(len(neighbors)) / float64(n-1)
	}
	return out
}

// PageRank runs the standard power iteration with damping 0.85.
func PageRank(sub *store.Subgraph) map[string]float64 {
	const (
		damping = 0.85
		iters   = 30
	)
	adj := adjacency(sub)
	nodes := sortedNodes(adj)
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	rank := make(map[string]float64, n)
	for _, uid := range nodes {
		rank[uid] = 1.0 / float64(n)
	}
	for i := 0; i < iters; i++ {
		next := make(map[string]float64, n)
		for _, uid := range nodes {
			next[uid] = (1 - damping) / float64(n)
		}
		for _, uid := range nodes {
			out := adj[uid]
			if len(out) == 0 {
				// Dangling mass spreads evenly.
				share := damping * rank[uid] / float64(n)
				for _, v := range nodes {
					next[v] += share
				}
				continue
			}
			share := damping * rank[uid] / float64(len(out))
			for _, v := range out {
				next[v] += share
			}
		}
		rank = next
	}
	return rank
}

// Betweenness runs Brandes' algorithm over the undirected subgraph.
func Betweenness(sub *store.Subgraph) map[string]float64 {
	adj := adjacency(sub)
	nodes := sortedNodes(adj)
	bc := make(map[string]float64, len(nodes))
	for _, uid := range nodes {
		bc[uid] = 0
	}

	for _, s := range nodes {
		var stack []string
		pred := make(map[string][]string)
		sigma := map[string]float64{s: 1}
		dist := map[string]int{s: 0}
		queue := []string{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if _, seen := dist[w]; !seen {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[string]float64)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w]
			}
		}
	}
	// Undirected graphs count each pair twice.
	for uid := range bc {
		bc[uid] /= 2
	}
	return bc
}

// ShortestPath returns the BFS path between two entities, inclusive, or
// nil when disconnected.
func ShortestPath(sub *store.Subgraph, from, to string) []string {
	adj := adjacency(sub)
	if _, ok := adj[from]; !ok {
		return nil
	}
	if from == to {
		return []string{from}
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		neighbors := append([]string(nil), adj[v]...)
		sort.Strings(neighbors)
		for _, w := range neighbors {
			if _, seen := prev[w]; seen {
				continue
			}
			prev[w] = v
			if w == to {
				var path []string
				for at := to; at != ""; at = prev[at] {
					path = append([]string{at}, path...)
				}
				return path
			}
			queue = append(queue, w)
		}
	}
	return nil
}

// Timeline returns the case events ordered by occurrence; undated events
// sort last by creation time.
func Timeline(sub *store.Subgraph) []contracts.Event {
	events := make([]contracts.Event, 0, len(sub.Events))
	for _, e := range sub.Events {
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		switch {
		case a.OccurredAt.IsZero() && b.OccurredAt.IsZero():
			return a.CreatedAt.Before(b.CreatedAt)
		case a.OccurredAt.IsZero():
			return false
		case b.OccurredAt.IsZero():
			return true
		case a.OccurredAt.Equal(b.OccurredAt):
			return a.UID < b.UID
		default:
			return a.OccurredAt.Before(b.OccurredAt)
		}
	})
	return events
}

// GapReport lists structural blind spots of a case graph.
type GapReport struct {
	IsolatedEntities    []string  `json:"isolated_entities"`
	UndatedEvents       []string  `json:"undated_events"`
	ConflictedRelations []string  `json:"conflicted_relations"`
	EarliestEvent       time.Time `json:"earliest_event,omitempty"`
	LatestEvent         time.Time `json:"latest_event,omitempty"`
}

// Gaps reports entities without relations, events without timestamps and
// relations built on conflicted evidence.
func Gaps(sub *store.Subgraph) GapReport {
	adj := adjacency(sub)
	var report GapReport
	for _, uid := range sortedNodes(adj) {
		if len(adj[uid]) == 0 {
			report.IsolatedEntities = append(report.IsolatedEntities, uid)
		}
	}
	for _, e := range Timeline(sub) {
		if e.OccurredAt.IsZero() {
			report.UndatedEvents = append(report.UndatedEvents, e.UID)
			continue
		}
		if report.EarliestEvent.IsZero() {
			report.EarliestEvent = e.OccurredAt
		}
		report.LatestEvent = e.OccurredAt
	}
	for _, r := range sub.Relations {
		if r.HasConflict {
			report.ConflictedRelations = append(report.ConflictedRelations, r.UID)
		}
	}
	sort.Strings(report.ConflictedRelations)
	return report
}
