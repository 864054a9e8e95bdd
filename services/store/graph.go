// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// Subgraph is a case's graph projection fetched into memory. The
// analysis routines (communities, centrality, paths) run over this
// snapshot rather than inside the graph database.
type Subgraph struct {
	Entities  map[string]contracts.Entity
	Events    map[string]contracts.Event
	Relations []contracts.RelationFact
	// SameAs holds approved identity merges as undirected pairs.
	SameAs [][2]string
}

// GraphStore is the property-graph surface used by the KG pipeline and
// the identity service. Identity merges are projected as SAME_AS edges,
// never destructive node merges, so a rollback is an edge removal.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e *contracts.Entity) error
	UpsertEvent(ctx context.Context, e *contracts.Event) error
	UpsertRelation(ctx context.Context, r *contracts.RelationFact) error
	ProjectSameAs(ctx context.Context, uidA, uidB, actionUID string) error
	RemoveSameAs(ctx context.Context, actionUID string) error
	FetchSubgraph(ctx context.Context, caseUID string) (*Subgraph, error)
	DeleteCaseGraph(ctx context.Context, caseUID string) error
	Close(ctx context.Context) error
}

// =============================================================================
// Neo4j implementation
// =============================================================================

// Neo4jGraph is the production GraphStore.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// NewNeo4jGraph dials the database and verifies connectivity.
func NewNeo4jGraph(ctx context.Context, uri, user, password string, logger *slog.Logger) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Neo4jGraph{driver: driver, logger: logger}, nil
}

func (g *Neo4jGraph) Close(ctx context.Context) error { return g.driver.Close(ctx) }

func (g *Neo4jGraph) write(ctx context.Context, cypher string, params map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	return err
}

func (g *Neo4jGraph) UpsertEntity(ctx context.Context, e *contracts.Entity) error {
	err := g.write(ctx, `
		MERGE (n:Entity {uid: $uid})
		SET n.case_uid = $case_uid, n.name = $name, n.type = $type,
		    n.aliases = $aliases, n.created_at = $created_at`,
		map[string]any{
			"uid":        e.UID,
			"case_uid":   e.CaseUID,
			"name":       e.Name,
			"type":       e.Type,
			"aliases":    e.Aliases,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.UID, err)
	}
	return nil
}

func (g *Neo4jGraph) UpsertEvent(ctx context.Context, e *contracts.Event) error {
	params := map[string]any{
		"uid":         e.UID,
		"case_uid":    e.CaseUID,
		"name":        e.Name,
		"type":        e.Type,
		"created_at":  e.CreatedAt.Format(time.RFC3339),
		"occurred_at": "",
		"ended_at":    "",
	}
	if !e.OccurredAt.IsZero() {
		params["occurred_at"] = e.OccurredAt.Format(time.RFC3339)
	}
	if !e.EndedAt.IsZero() {
		params["ended_at"] = e.EndedAt.Format(time.RFC3339)
	}
	err := g.write(ctx, `
		MERGE (n:Event {uid: $uid})
		SET n.case_uid = $case_uid, n.name = $name, n.type = $type,
		    n.occurred_at = $occurred_at, n.ended_at = $ended_at,
		    n.created_at = $created_at`, params)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.UID, err)
	}
	return nil
}

func (g *Neo4jGraph) UpsertRelation(ctx context.Context, r *contracts.RelationFact) error {
	err := g.write(ctx, `
		MATCH (a {uid: $source_uid}), (b {uid: $target_uid})
		MERGE (a)-[rel:RELATES {uid: $uid}]->(b)
		SET rel.case_uid = $case_uid, rel.type = $type,
		    rel.evidence_strength = $strength, rel.has_conflict = $has_conflict,
		    rel.supporting_claim_uids = $claims, rel.ontology_version = $ontology_version,
		    rel.valid_from = $valid_from, rel.valid_to = $valid_to`,
		map[string]any{
			"uid":              r.UID,
			"case_uid":         r.CaseUID,
			"source_uid":       r.SourceUID,
			"target_uid":       r.TargetUID,
			"type":             r.Type,
			"strength":         r.EvidenceStrength,
			"has_conflict":     r.HasConflict,
			"claims":           r.SupportingClaimUID,
			"ontology_version": r.OntologyVersion,
			"valid_from":       formatOrEmpty(r.ValidFrom),
			"valid_to":         formatOrEmpty(r.ValidTo),
		})
	if err != nil {
		return fmt.Errorf("upsert relation %s: %w", r.UID, err)
	}
	return nil
}

func formatOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (g *Neo4jGraph) ProjectSameAs(ctx context.Context, uidA, uidB, actionUID string) error {
	err := g.write(ctx, `
		MATCH (a:Entity {uid: $a}), (b:Entity {uid: $b})
		MERGE (a)-[s:SAME_AS {action_uid: $action_uid}]->(b)`,
		map[string]any{"a": uidA, "b": uidB, "action_uid": actionUID})
	if err != nil {
		return fmt.Errorf("project same_as %s: %w", actionUID, err)
	}
	return nil
}

func (g *Neo4jGraph) RemoveSameAs(ctx context.Context, actionUID string) error {
	err := g.write(ctx, `
		MATCH ()-[s:SAME_AS {action_uid: $action_uid}]-() DELETE s`,
		map[string]any{"action_uid": actionUID})
	if err != nil {
		return fmt.Errorf("remove same_as %s: %w", actionUID, err)
	}
	return nil
}

func (g *Neo4jGraph) FetchSubgraph(ctx context.Context, caseUID string) (*Subgraph, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	sub := &Subgraph{
		Entities: make(map[string]contracts.Entity),
		Events:   make(map[string]contracts.Event),
	}

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodes, err := tx.Run(ctx,
			`MATCH (n {case_uid: $case_uid}) RETURN labels(n) AS labels, n`, map[string]any{"case_uid": caseUID})
		if err != nil {
			return nil, err
		}
		for nodes.Next(ctx) {
			record := nodes.Record()
			labels, _ := record.Get("labels")
			raw, _ := record.Get("n")
			node, ok := raw.(neo4j.Node)
			if !ok {
				continue
			}
			if hasLabel(labels, "Entity") {
				sub.Entities[nodeString(node, "uid")] = nodeToEntity(node)
			} else if hasLabel(labels, "Event") {
				sub.Events[nodeString(node, "uid")] = nodeToEvent(node)
			}
		}
		if err := nodes.Err(); err != nil {
			return nil, err
		}

		rels, err := tx.Run(ctx, `
			MATCH (a)-[r:RELATES {case_uid: $case_uid}]->(b)
			RETURN r, a.uid AS source, b.uid AS target`, map[string]any{"case_uid": caseUID})
		if err != nil {
			return nil, err
		}
		for rels.Next(ctx) {
			record := rels.Record()
			raw, _ := record.Get("r")
			rel, ok := raw.(neo4j.Relationship)
			if !ok {
				continue
			}
			source, _ := record.Get("source")
			target, _ := record.Get("target")
			sub.Relations = append(sub.Relations, relToFact(rel, toString(source), toString(target), caseUID))
		}
		if err := rels.Err(); err != nil {
			return nil, err
		}

		same, err := tx.Run(ctx, `
			MATCH (a:Entity {case_uid: $case_uid})-[:SAME_AS]-(b:Entity)
			WHERE a.uid < b.uid
			RETURN DISTINCT a.uid AS a, b.uid AS b`, map[string]any{"case_uid": caseUID})
		if err != nil {
			return nil, err
		}
		for same.Next(ctx) {
			record := same.Record()
			a, _ := record.Get("a")
			b, _ := record.Get("b")
			sub.SameAs = append(sub.SameAs, [2]string{toString(a), toString(b)})
		}
		return nil, same.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fetch subgraph %s: %w", caseUID, err)
	}
	return sub, nil
}

func (g *Neo4jGraph) DeleteCaseGraph(ctx context.Context, caseUID string) error {
	err := g.write(ctx,
		`MATCH (n {case_uid: $case_uid}) DETACH DELETE n`, map[string]any{"case_uid": caseUID})
	if err != nil {
		return fmt.Errorf("delete case graph %s: %w", caseUID, err)
	}
	return nil
}

func hasLabel(labels any, want string) bool {
	list, ok := labels.([]any)
	if !ok {
		return false
	}
	for _, l := range list {
		if s, ok := l.(string); ok && s == want {
			return true
		}
	}
	return false
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func nodeString(n neo4j.Node, key string) string {
	if v, ok := n.Props[key]; ok {
		return toString(v)
	}
	return ""
}

func nodeTime(n neo4j.Node, key string) time.Time {
	s := nodeString(n, key)
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nodeToEntity(n neo4j.Node) contracts.Entity {
	e := contracts.Entity{
		UID:       nodeString(n, "uid"),
		CaseUID:   nodeString(n, "case_uid"),
		Name:      nodeString(n, "name"),
		Type:      nodeString(n, "type"),
		CreatedAt: nodeTime(n, "created_at"),
	}
	if raw, ok := n.Props["aliases"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				e.Aliases = append(e.Aliases, s)
			}
		}
	}
	return e
}

func nodeToEvent(n neo4j.Node) contracts.Event {
	return contracts.Event{
		UID:        nodeString(n, "uid"),
		CaseUID:    nodeString(n, "case_uid"),
		Name:       nodeString(n, "name"),
		Type:       nodeString(n, "type"),
		OccurredAt: nodeTime(n, "occurred_at"),
		EndedAt:    nodeTime(n, "ended_at"),
		CreatedAt:  nodeTime(n, "created_at"),
	}
}

func relToFact(r neo4j.Relationship, source, target, caseUID string) contracts.RelationFact {
	fact := contracts.RelationFact{
		CaseUID:   caseUID,
		SourceUID: source,
		TargetUID: target,
	}
	if v, ok := r.Props["uid"].(string); ok {
		fact.UID = v
	}
	if v, ok := r.Props["type"].(string); ok {
		fact.Type = v
	}
	if v, ok := r.Props["evidence_strength"].(float64); ok {
		fact.EvidenceStrength = v
	}
	if v, ok := r.Props["has_conflict"].(bool); ok {
		fact.HasConflict = v
	}
	if v, ok := r.Props["ontology_version"].(string); ok {
		fact.OntologyVersion = v
	}
	if raw, ok := r.Props["supporting_claim_uids"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				fact.SupportingClaimUID = append(fact.SupportingClaimUID, s)
			}
		}
	}
	return fact
}

var _ GraphStore = (*Neo4jGraph)(nil)

// =============================================================================
// In-memory implementation
// =============================================================================

// MemoryGraph backs tests and lightweight mode.
type MemoryGraph struct {
	mu        sync.Mutex
	entities  map[string]contracts.Entity
	events    map[string]contracts.Event
	relations map[string]contracts.RelationFact
	sameAs    map[string][2]string // action_uid -> pair
}

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities:  make(map[string]contracts.Entity),
		events:    make(map[string]contracts.Event),
		relations: make(map[string]contracts.RelationFact),
		sameAs:    make(map[string][2]string),
	}
}

func (g *MemoryGraph) UpsertEntity(_ context.Context, e *contracts.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[e.UID] = *e
	return nil
}

func (g *MemoryGraph) UpsertEvent(_ context.Context, e *contracts.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[e.UID] = *e
	return nil
}

func (g *MemoryGraph) UpsertRelation(_ context.Context, r *contracts.RelationFact) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relations[r.UID] = *r
	return nil
}

func (g *MemoryGraph) ProjectSameAs(_ context.Context, uidA, uidB, actionUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[uidA]; !ok {
		return notFound("entity", uidA)
	}
	if _, ok := g.entities[uidB]; !ok {
		return notFound("entity", uidB)
	}
	g.sameAs[actionUID] = [2]string{uidA, uidB}
	return nil
}

func (g *MemoryGraph) RemoveSameAs(_ context.Context, actionUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sameAs, actionUID)
	return nil
}

func (g *MemoryGraph) FetchSubgraph(_ context.Context, caseUID string) (*Subgraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub := &Subgraph{
		Entities: make(map[string]contracts.Entity),
		Events:   make(map[string]contracts.Event),
	}
	for uid, e := range g.entities {
		if e.CaseUID == caseUID {
			sub.Entities[uid] = e
		}
	}
	for uid, e := range g.events {
		if e.CaseUID == caseUID {
			sub.Events[uid] = e
		}
	}
	for _, r := range g.relations {
		if r.CaseUID == caseUID {
			sub.Relations = append(sub.Relations, r)
		}
	}
	for _, pair := range g.sameAs {
		if e, ok := g.entities[pair[0]]; ok && e.CaseUID == caseUID {
			sub.SameAs = append(sub.SameAs, pair)
		}
	}
	return sub, nil
}

func (g *MemoryGraph) DeleteCaseGraph(_ context.Context, caseUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for uid, e := range g.entities {
		if e.CaseUID == caseUID {
			delete(g.entities, uid)
		}
	}
	for uid, e := range g.events {
		if e.CaseUID == caseUID {
			delete(g.events, uid)
		}
	}
	for uid, r := range g.relations {
		if r.CaseUID == caseUID {
			delete(g.relations, uid)
		}
	}
	return nil
}

func (g *MemoryGraph) Close(context.Context) error { return nil }

var _ GraphStore = (*MemoryGraph)(nil)
