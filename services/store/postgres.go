// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// Postgres is the production relational store. Rows keep their query
// keys in typed columns and the full record in a JSONB doc column, so
// schema churn in the contract structs does not force a migration for
// every added field.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig carries the connection settings read from the
// environment by the orchestrator boot path.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgres opens the pool, verifies connectivity, and runs pending
// migrations.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Postgres{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// DB exposes the pool for health checks.
func (p *Postgres) DB() *sql.DB { return p.db }

func marshalDoc(v any) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal doc: %w", err)
	}
	return doc, nil
}

// insertDoc writes one (uid, case_uid, doc) row into table.
func (p *Postgres) insertDoc(ctx context.Context, table, uid, caseUID string, v any) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (uid, case_uid, doc, created_at) VALUES ($1, $2, $3, NOW())`, table)
	if _, err := p.db.ExecContext(ctx, query, uid, caseUID, doc); err != nil {
		if isUniqueViolation(err) {
			return &contracts.ConflictError{Message: fmt.Sprintf("%s %s exists", table, uid)}
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) getDoc(ctx context.Context, table, uid string, out any) error {
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE uid = $1`, table)
	var doc []byte
	err := p.db.QueryRowContext(ctx, query, uid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(table, uid)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", table, err)
	}
	return json.Unmarshal(doc, out)
}

func (p *Postgres) updateDoc(ctx context.Context, table, uid string, v any) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET doc = $2 WHERE uid = $1`, table)
	res, err := p.db.ExecContext(ctx, query, uid, doc)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(table, uid)
	}
	return nil
}

// listDocs scans every doc matched by query into a slice of T.
func listDocs[T any](ctx context.Context, p *Postgres, query string, args ...any) ([]T, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ---------------------------------------------------------------------------
// CaseStore

func (p *Postgres) CreateCase(ctx context.Context, c *contracts.Case) error {
	return p.insertDoc(ctx, "cases", c.UID, c.UID, c)
}

func (p *Postgres) GetCase(ctx context.Context, uid string) (*contracts.Case, error) {
	var c contracts.Case
	if err := p.getDoc(ctx, "cases", uid, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) ListCases(ctx context.Context) ([]contracts.Case, error) {
	return listDocs[contracts.Case](ctx, p, `SELECT doc FROM cases ORDER BY created_at`)
}

// ---------------------------------------------------------------------------
// ArtifactStore

func (p *Postgres) CreateArtifact(ctx context.Context, a *contracts.ArtifactIdentity) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO artifacts (uid, case_uid, canonical_url, doc, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		a.UID, a.CaseUID, a.CanonicalURL, doc)
	if isUniqueViolation(err) {
		return &contracts.ConflictError{Message: "artifact exists for " + a.CanonicalURL}
	}
	if err != nil {
		return fmt.Errorf("insert artifacts: %w", err)
	}
	return nil
}

func (p *Postgres) GetArtifactByURL(ctx context.Context, caseUID, canonicalURL string) (*contracts.ArtifactIdentity, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM artifacts WHERE case_uid = $1 AND canonical_url = $2`,
		caseUID, canonicalURL).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("artifact", canonicalURL)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	var a contracts.ArtifactIdentity
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) CreateArtifactVersion(ctx context.Context, v *contracts.ArtifactVersion) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if !v.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: v.ExpiresAt, Valid: true}
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO artifact_versions (uid, case_uid, artifact_uid, expires_at, expired, doc, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, NOW())`,
		v.UID, v.CaseUID, v.ArtifactUID, expires, doc)
	if err != nil {
		return fmt.Errorf("insert artifact_versions: %w", err)
	}
	return nil
}

func (p *Postgres) GetArtifactVersion(ctx context.Context, uid string) (*contracts.ArtifactVersion, error) {
	var v contracts.ArtifactVersion
	if err := p.getDoc(ctx, "artifact_versions", uid, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Postgres) CreateChunk(ctx context.Context, c *contracts.Chunk) error {
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if !c.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: c.ExpiresAt, Valid: true}
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO chunks (uid, case_uid, version_uid, ordinal, expires_at, expired, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, NOW())`,
		c.UID, c.CaseUID, c.VersionUID, c.Ordinal, expires, doc)
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (p *Postgres) GetChunk(ctx context.Context, uid string) (*contracts.Chunk, error) {
	var c contracts.Chunk
	if err := p.getDoc(ctx, "chunks", uid, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) ListChunksByCase(ctx context.Context, caseUID string) ([]contracts.Chunk, error) {
	return listDocs[contracts.Chunk](ctx, p,
		`SELECT doc FROM chunks WHERE case_uid = $1 ORDER BY ordinal`, caseUID)
}

// ---------------------------------------------------------------------------
// EvidenceStore

func (p *Postgres) CreateEvidence(ctx context.Context, e *contracts.Evidence) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if !e.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: e.ExpiresAt, Valid: true}
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO evidence (uid, case_uid, chunk_uid, expires_at, expired, doc, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, NOW())`,
		e.UID, e.CaseUID, e.ChunkUID, expires, doc)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (p *Postgres) GetEvidence(ctx context.Context, uid string) (*contracts.Evidence, error) {
	var e contracts.Evidence
	if err := p.getDoc(ctx, "evidence", uid, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) ListEvidenceByCase(ctx context.Context, caseUID string) ([]contracts.Evidence, error) {
	return listDocs[contracts.Evidence](ctx, p,
		`SELECT doc FROM evidence WHERE case_uid = $1 ORDER BY created_at`, caseUID)
}

// ---------------------------------------------------------------------------
// ClaimStore

func (p *Postgres) CreateSourceClaim(ctx context.Context, c *contracts.SourceClaim) error {
	if problem := c.Validate(); problem != nil {
		return problem
	}
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO source_claims (uid, case_uid, chunk_uid, doc, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		c.UID, c.CaseUID, c.ChunkUID, doc)
	if err != nil {
		return fmt.Errorf("insert source_claims: %w", err)
	}
	return nil
}

func (p *Postgres) GetSourceClaim(ctx context.Context, uid string) (*contracts.SourceClaim, error) {
	var c contracts.SourceClaim
	if err := p.getDoc(ctx, "source_claims", uid, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) ListClaimsByCase(ctx context.Context, caseUID string) ([]contracts.SourceClaim, error) {
	return listDocs[contracts.SourceClaim](ctx, p,
		`SELECT doc FROM source_claims WHERE case_uid = $1 ORDER BY created_at`, caseUID)
}

func (p *Postgres) ListClaimsByChunk(ctx context.Context, chunkUID string) ([]contracts.SourceClaim, error) {
	return listDocs[contracts.SourceClaim](ctx, p,
		`SELECT doc FROM source_claims WHERE chunk_uid = $1 ORDER BY created_at`, chunkUID)
}

// ---------------------------------------------------------------------------
// AssertionStore

func (p *Postgres) CreateAssertion(ctx context.Context, a *contracts.Assertion) error {
	if problem := a.Validate(); problem != nil {
		return problem
	}
	return p.insertDoc(ctx, "assertions", a.UID, a.CaseUID, a)
}

func (p *Postgres) GetAssertion(ctx context.Context, uid string) (*contracts.Assertion, error) {
	var a contracts.Assertion
	if err := p.getDoc(ctx, "assertions", uid, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) ListAssertionsByCase(ctx context.Context, caseUID string) ([]contracts.Assertion, error) {
	return listDocs[contracts.Assertion](ctx, p,
		`SELECT doc FROM assertions WHERE case_uid = $1 ORDER BY created_at`, caseUID)
}

// ---------------------------------------------------------------------------
// HypothesisStore

func (p *Postgres) CreateHypothesis(ctx context.Context, h *contracts.Hypothesis) error {
	return p.insertDoc(ctx, "hypotheses", h.UID, h.CaseUID, h)
}

func (p *Postgres) GetHypothesis(ctx context.Context, uid string) (*contracts.Hypothesis, error) {
	var h contracts.Hypothesis
	if err := p.getDoc(ctx, "hypotheses", uid, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (p *Postgres) ListHypothesesByCase(ctx context.Context, caseUID string) ([]contracts.Hypothesis, error) {
	return listDocs[contracts.Hypothesis](ctx, p,
		`SELECT doc FROM hypotheses WHERE case_uid = $1 ORDER BY uid`, caseUID)
}

func (p *Postgres) UpdateHypothesisProbabilities(ctx context.Context, uid string, prior, posterior float64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE hypotheses
		 SET doc = jsonb_set(jsonb_set(doc, '{prior}', to_jsonb($2::float8)), '{posterior}', to_jsonb($3::float8))
		 WHERE uid = $1`,
		uid, prior, posterior)
	if err != nil {
		return fmt.Errorf("update hypothesis probabilities: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("hypothesis", uid)
	}
	return nil
}

func (p *Postgres) UpsertAssessment(ctx context.Context, a *contracts.EvidenceAssessment) error {
	a.UpdatedAt = time.Now()
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	// One row per (hypothesis_uid, evidence_uid); re-assessment replaces
	// the doc in place and keeps the original uid.
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO evidence_assessments (uid, case_uid, hypothesis_uid, evidence_uid, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (hypothesis_uid, evidence_uid)
		 DO UPDATE SET doc = jsonb_set(EXCLUDED.doc, '{uid}', evidence_assessments.doc -> 'uid')`,
		a.UID, a.CaseUID, a.HypothesisUID, a.EvidenceUID, doc)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}
	return nil
}

func (p *Postgres) GetAssessment(ctx context.Context, hypothesisUID, evidenceUID string) (*contracts.EvidenceAssessment, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM evidence_assessments WHERE hypothesis_uid = $1 AND evidence_uid = $2`,
		hypothesisUID, evidenceUID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("evidence_assessment", hypothesisUID+"/"+evidenceUID)
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	var a contracts.EvidenceAssessment
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) ListAssessmentsByCase(ctx context.Context, caseUID string) ([]contracts.EvidenceAssessment, error) {
	return listDocs[contracts.EvidenceAssessment](ctx, p,
		`SELECT doc FROM evidence_assessments WHERE case_uid = $1 ORDER BY uid`, caseUID)
}

func (p *Postgres) ListAssessmentsByEvidence(ctx context.Context, evidenceUID string) ([]contracts.EvidenceAssessment, error) {
	return listDocs[contracts.EvidenceAssessment](ctx, p,
		`SELECT doc FROM evidence_assessments WHERE evidence_uid = $1 ORDER BY hypothesis_uid`, evidenceUID)
}

func (p *Postgres) AppendProbabilityUpdate(ctx context.Context, u *contracts.ProbabilityUpdate) error {
	doc, err := marshalDoc(u)
	if err != nil {
		return err
	}
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO probability_updates (case_uid, doc, created_at)
		 VALUES ($1, $2, NOW()) RETURNING id`,
		u.CaseUID, doc).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("append probability update: %w", err)
	}
	return nil
}

func (p *Postgres) ListProbabilityUpdates(ctx context.Context, caseUID string) ([]contracts.ProbabilityUpdate, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, doc FROM probability_updates WHERE case_uid = $1 ORDER BY id`, caseUID)
	if err != nil {
		return nil, fmt.Errorf("list probability updates: %w", err)
	}
	defer rows.Close()

	var out []contracts.ProbabilityUpdate
	for rows.Next() {
		var id int64
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var u contracts.ProbabilityUpdate
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, err
		}
		u.ID = id
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// NarrativeStore

func (p *Postgres) CreateNarrative(ctx context.Context, n *contracts.Narrative) error {
	return p.insertDoc(ctx, "narratives", n.UID, n.CaseUID, n)
}

func (p *Postgres) GetNarrative(ctx context.Context, uid string) (*contracts.Narrative, error) {
	var n contracts.Narrative
	if err := p.getDoc(ctx, "narratives", uid, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (p *Postgres) ListNarrativesByCase(ctx context.Context, caseUID string) ([]contracts.Narrative, error) {
	return listDocs[contracts.Narrative](ctx, p,
		`SELECT doc FROM narratives WHERE case_uid = $1 ORDER BY uid`, caseUID)
}

// ---------------------------------------------------------------------------
// RelationStore

func (p *Postgres) CreateRelationFact(ctx context.Context, r *contracts.RelationFact) error {
	return p.insertDoc(ctx, "relation_facts", r.UID, r.CaseUID, r)
}

func (p *Postgres) ListRelationsByCase(ctx context.Context, caseUID string) ([]contracts.RelationFact, error) {
	return listDocs[contracts.RelationFact](ctx, p,
		`SELECT doc FROM relation_facts WHERE case_uid = $1 ORDER BY uid`, caseUID)
}

// ---------------------------------------------------------------------------
// IdentityStore

func (p *Postgres) CreateIdentityAction(ctx context.Context, a *contracts.EntityIdentityAction) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO identity_actions (uid, status, doc, created_at) VALUES ($1, $2, $3, NOW())`,
		a.UID, string(a.Status), doc)
	if err != nil {
		return fmt.Errorf("insert identity_actions: %w", err)
	}
	return nil
}

func (p *Postgres) GetIdentityAction(ctx context.Context, uid string) (*contracts.EntityIdentityAction, error) {
	var a contracts.EntityIdentityAction
	if err := p.getDoc(ctx, "identity_actions", uid, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) ListPendingIdentityActions(ctx context.Context) ([]contracts.EntityIdentityAction, error) {
	return listDocs[contracts.EntityIdentityAction](ctx, p,
		`SELECT doc FROM identity_actions WHERE status = $1 ORDER BY created_at`,
		string(contracts.IdentityPending))
}

func (p *Postgres) UpdateIdentityAction(ctx context.Context, a *contracts.EntityIdentityAction) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE identity_actions SET status = $2, doc = $3 WHERE uid = $1`,
		a.UID, string(a.Status), doc)
	if err != nil {
		return fmt.Errorf("update identity_actions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("identity_action", a.UID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OntologyStore

func (p *Postgres) SaveOntologyVersion(ctx context.Context, v *contracts.OntologyVersion) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO ontology_versions (version, doc, created_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (version) DO UPDATE SET doc = EXCLUDED.doc`,
		v.Version, doc)
	if err != nil {
		return fmt.Errorf("save ontology version: %w", err)
	}
	return nil
}

func (p *Postgres) GetOntologyVersion(ctx context.Context, version string) (*contracts.OntologyVersion, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM ontology_versions WHERE version = $1`, version).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("ontology_version", version)
	}
	if err != nil {
		return nil, fmt.Errorf("get ontology version: %w", err)
	}
	var v contracts.OntologyVersion
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Postgres) ListOntologyVersions(ctx context.Context) ([]contracts.OntologyVersion, error) {
	return listDocs[contracts.OntologyVersion](ctx, p,
		`SELECT doc FROM ontology_versions ORDER BY version`)
}

// ---------------------------------------------------------------------------
// AuditStore

func (p *Postgres) AppendAction(ctx context.Context, a *contracts.Action) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO actions (uid, case_uid, trace_id, doc, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		a.UID, a.CaseUID, a.TraceID, doc)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (p *Postgres) ListActionsByCase(ctx context.Context, caseUID string) ([]contracts.Action, error) {
	return listDocs[contracts.Action](ctx, p,
		`SELECT doc FROM actions WHERE case_uid = $1 ORDER BY created_at`, caseUID)
}

func (p *Postgres) GetActionByTraceID(ctx context.Context, traceID string) (*contracts.Action, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM actions WHERE trace_id = $1 ORDER BY created_at DESC LIMIT 1`,
		traceID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("action", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	var a contracts.Action
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) AppendToolTrace(ctx context.Context, t *contracts.ToolTrace) error {
	doc, err := marshalDoc(t)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO tool_traces (uid, trace_id, doc, created_at) VALUES ($1, $2, $3, NOW())`,
		t.UID, t.TraceID, doc)
	if err != nil {
		return fmt.Errorf("append tool trace: %w", err)
	}
	return nil
}

func (p *Postgres) ListToolTraces(ctx context.Context, traceID string) ([]contracts.ToolTrace, error) {
	return listDocs[contracts.ToolTrace](ctx, p,
		`SELECT doc FROM tool_traces WHERE trace_id = $1 ORDER BY created_at`, traceID)
}

// ---------------------------------------------------------------------------
// SubscriptionStore

func (p *Postgres) CreateSubscription(ctx context.Context, s *contracts.Subscription) error {
	doc, err := marshalDoc(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (uid, user_id, enabled, interest_vector, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		s.UID, s.UserID, s.Enabled, pq.Array(s.InterestVector), doc)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (p *Postgres) GetSubscription(ctx context.Context, uid string) (*contracts.Subscription, error) {
	s, err := p.scanSubscription(ctx,
		`SELECT doc, interest_vector FROM subscriptions WHERE uid = $1`, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("subscription", uid)
	}
	return s, err
}

func (p *Postgres) scanSubscription(ctx context.Context, query string, args ...any) (*contracts.Subscription, error) {
	var doc []byte
	var vec pq.Float32Array
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&doc, &vec); err != nil {
		return nil, err
	}
	var s contracts.Subscription
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, err
	}
	s.InterestVector = []float32(vec)
	return &s, nil
}

func (p *Postgres) listSubscriptions(ctx context.Context, query string, args ...any) ([]contracts.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []contracts.Subscription
	for rows.Next() {
		var doc []byte
		var vec pq.Float32Array
		if err := rows.Scan(&doc, &vec); err != nil {
			return nil, err
		}
		var s contracts.Subscription
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, err
		}
		s.InterestVector = []float32(vec)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptionsByUser(ctx context.Context, userID string) ([]contracts.Subscription, error) {
	return p.listSubscriptions(ctx,
		`SELECT doc, interest_vector FROM subscriptions WHERE user_id = $1 ORDER BY uid`, userID)
}

func (p *Postgres) ListEnabledSubscriptions(ctx context.Context) ([]contracts.Subscription, error) {
	return p.listSubscriptions(ctx,
		`SELECT doc, interest_vector FROM subscriptions WHERE enabled ORDER BY uid`)
}

func (p *Postgres) UpdateSubscription(ctx context.Context, s *contracts.Subscription) error {
	doc, err := marshalDoc(s)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE subscriptions SET user_id = $2, enabled = $3, interest_vector = $4, doc = $5 WHERE uid = $1`,
		s.UID, s.UserID, s.Enabled, pq.Array(s.InterestVector), doc)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("subscription", s.UID)
	}
	return nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, uid string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("subscription", uid)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PushStore

func (p *Postgres) GetEventLogBySourceUID(ctx context.Context, sourceEventUID string) (*contracts.EventLog, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM event_logs WHERE source_event_uid = $1`, sourceEventUID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("event_log", sourceEventUID)
	}
	if err != nil {
		return nil, fmt.Errorf("get event log: %w", err)
	}
	var e contracts.EventLog
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) CreateEventLog(ctx context.Context, e *contracts.EventLog) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO event_logs (uid, source_event_uid, doc, created_at) VALUES ($1, $2, $3, NOW())`,
		e.UID, e.SourceEventUID, doc)
	if isUniqueViolation(err) {
		return &contracts.ConflictError{Message: "event log exists for " + e.SourceEventUID}
	}
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateEventLog(ctx context.Context, e *contracts.EventLog) error {
	e.UpdatedAt = time.Now()
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE event_logs SET doc = $2 WHERE source_event_uid = $1`, e.SourceEventUID, doc)
	if err != nil {
		return fmt.Errorf("update event log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("event_log", e.SourceEventUID)
	}
	return nil
}

func (p *Postgres) CreatePushLog(ctx context.Context, pl *contracts.PushLog) error {
	doc, err := marshalDoc(pl)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO push_logs (uid, event_uid, user_id, status, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pl.UID, pl.EventUID, pl.UserID, pl.Status, doc, pl.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert push log: %w", err)
	}
	return nil
}

func (p *Postgres) ListPushLogsByEvent(ctx context.Context, eventUID string) ([]contracts.PushLog, error) {
	return listDocs[contracts.PushLog](ctx, p,
		`SELECT doc FROM push_logs WHERE event_uid = $1 ORDER BY created_at`, eventUID)
}

func (p *Postgres) CountDeliveredSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM push_logs WHERE user_id = $1 AND status = 'delivered' AND created_at > $2`,
		userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count delivered: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// MemoryStore

func (p *Postgres) CreateMemoryRecord(ctx context.Context, r *contracts.AnalysisMemoryRecord) error {
	return p.insertDoc(ctx, "memory_records", r.UID, r.CaseUID, r)
}

func (p *Postgres) GetMemoryRecord(ctx context.Context, uid string) (*contracts.AnalysisMemoryRecord, error) {
	var r contracts.AnalysisMemoryRecord
	if err := p.getDoc(ctx, "memory_records", uid, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) ListMemoryRecords(ctx context.Context) ([]contracts.AnalysisMemoryRecord, error) {
	return listDocs[contracts.AnalysisMemoryRecord](ctx, p,
		`SELECT doc FROM memory_records ORDER BY created_at`)
}

func (p *Postgres) UpdateMemoryRecord(ctx context.Context, r *contracts.AnalysisMemoryRecord) error {
	r.UpdatedAt = time.Now()
	return p.updateDoc(ctx, "memory_records", r.UID, r)
}

// ---------------------------------------------------------------------------
// InvestigationStore

func (p *Postgres) CreateInvestigation(ctx context.Context, i *contracts.Investigation) error {
	doc, err := marshalDoc(i)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO investigations (uid, case_uid, status, doc, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		i.UID, i.CaseUID, string(i.Status), doc)
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

func (p *Postgres) GetInvestigation(ctx context.Context, uid string) (*contracts.Investigation, error) {
	var i contracts.Investigation
	if err := p.getDoc(ctx, "investigations", uid, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (p *Postgres) UpdateInvestigation(ctx context.Context, i *contracts.Investigation) error {
	doc, err := marshalDoc(i)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE investigations SET status = $2, doc = $3 WHERE uid = $1`,
		i.UID, string(i.Status), doc)
	if err != nil {
		return fmt.Errorf("update investigation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("investigation", i.UID)
	}
	return nil
}

func (p *Postgres) ListInvestigations(ctx context.Context, caseUID, status string) ([]contracts.Investigation, error) {
	query := `SELECT doc FROM investigations WHERE ($1 = '' OR case_uid = $1) AND ($2 = '' OR status = $2) ORDER BY created_at`
	return listDocs[contracts.Investigation](ctx, p, query, caseUID, status)
}

// ---------------------------------------------------------------------------
// GDELTStore

func (p *Postgres) SaveGDELTEvent(ctx context.Context, e *contracts.GDELTEvent) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO gdelt_events (uid, global_event_id, status, country, event_date, polled_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (global_event_id) DO NOTHING`,
		e.UID, e.GlobalEventID, e.Status, e.Country, e.EventDate, e.PolledAt, doc)
	if err != nil {
		return fmt.Errorf("save gdelt event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &contracts.ConflictError{Message: "gdelt event exists for " + e.GlobalEventID}
	}
	return nil
}

func (p *Postgres) GetGDELTEvent(ctx context.Context, uid string) (*contracts.GDELTEvent, error) {
	var e contracts.GDELTEvent
	if err := p.getDoc(ctx, "gdelt_events", uid, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) ListGDELTEvents(ctx context.Context, status string, limit int) ([]contracts.GDELTEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return listDocs[contracts.GDELTEvent](ctx, p,
		`SELECT doc FROM gdelt_events WHERE ($1 = '' OR status = $1) ORDER BY polled_at DESC LIMIT $2`,
		status, limit)
}

func (p *Postgres) UpdateGDELTEventStatus(ctx context.Context, uid, status, anomalyType string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE gdelt_events
		 SET status = $2,
		     doc = jsonb_set(jsonb_set(doc, '{status}', to_jsonb($2::text)), '{anomaly_type}', to_jsonb($3::text))
		 WHERE uid = $1`,
		uid, status, anomalyType)
	if err != nil {
		return fmt.Errorf("update gdelt status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("gdelt_event", uid)
	}
	return nil
}

func (p *Postgres) CountEventsByCountrySince(ctx context.Context, country string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gdelt_events WHERE country = $1 AND event_date > $2`,
		country, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count gdelt events: %w", err)
	}
	return count, nil
}

func (p *Postgres) GDELTStats(ctx context.Context) (*contracts.GDELTStats, error) {
	stats := &contracts.GDELTStats{
		ByCountry:   make(map[string]int),
		ByCAMEORoot: make(map[string]int),
	}
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'anomaly'),
		        COUNT(*) FILTER (WHERE status = 'ingested'),
		        COALESCE(MAX(polled_at), 'epoch'::timestamptz)
		 FROM gdelt_events`).Scan(&stats.TotalEvents, &stats.Anomalies, &stats.Ingested, &stats.LastPolledAt)
	if err != nil {
		return nil, fmt.Errorf("gdelt stats: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT country, doc->>'cameo_root', COUNT(*) FROM gdelt_events GROUP BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("gdelt stats breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var country, root string
		var n int
		if err := rows.Scan(&country, &root, &n); err != nil {
			return nil, err
		}
		if country != "" {
			stats.ByCountry[country] += n
		}
		stats.ByCAMEORoot[root] += n
	}
	return stats, rows.Err()
}

// ---------------------------------------------------------------------------
// ForecastStore

func (p *Postgres) CreateForecast(ctx context.Context, f *contracts.Forecast) error {
	return p.insertDoc(ctx, "forecasts", f.UID, f.CaseUID, f)
}

func (p *Postgres) GetForecast(ctx context.Context, uid string) (*contracts.Forecast, error) {
	var f contracts.Forecast
	if err := p.getDoc(ctx, "forecasts", uid, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *Postgres) ListForecastsByCase(ctx context.Context, caseUID string) ([]contracts.Forecast, error) {
	return listDocs[contracts.Forecast](ctx, p,
		`SELECT doc FROM forecasts WHERE case_uid = $1 ORDER BY uid`, caseUID)
}

// ---------------------------------------------------------------------------
// ReportStore

func (p *Postgres) CreateReport(ctx context.Context, r *contracts.Report) error {
	return p.insertDoc(ctx, "reports", r.UID, r.CaseUID, r)
}

func (p *Postgres) GetReport(ctx context.Context, uid string) (*contracts.Report, error) {
	var r contracts.Report
	if err := p.getDoc(ctx, "reports", uid, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// RetentionStore

func (p *Postgres) MarkExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	total := 0

	// A version stays live while any claim still cites one of its chunks.
	res, err := p.db.ExecContext(ctx,
		`UPDATE artifact_versions v SET expired = TRUE, doc = jsonb_set(doc, '{expired}', 'true')
		 WHERE v.uid IN (
		   SELECT uid FROM artifact_versions
		   WHERE NOT expired AND expires_at IS NOT NULL AND expires_at < $1
		     AND NOT EXISTS (
		       SELECT 1 FROM chunks c JOIN source_claims sc ON sc.chunk_uid = c.uid
		       WHERE c.version_uid = artifact_versions.uid)
		   LIMIT $2)`,
		now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("mark versions expired: %w", err)
	}
	n, _ := res.RowsAffected()
	total += int(n)

	res, err = p.db.ExecContext(ctx,
		`UPDATE chunks SET expired = TRUE, doc = jsonb_set(doc, '{expired}', 'true')
		 WHERE uid IN (
		   SELECT uid FROM chunks
		   WHERE NOT expired AND expires_at IS NOT NULL AND expires_at < $1
		     AND NOT EXISTS (SELECT 1 FROM source_claims sc WHERE sc.chunk_uid = chunks.uid)
		   LIMIT $2)`,
		now, batchSize)
	if err != nil {
		return total, fmt.Errorf("mark chunks expired: %w", err)
	}
	n, _ = res.RowsAffected()
	total += int(n)

	res, err = p.db.ExecContext(ctx,
		`UPDATE evidence SET expired = TRUE, doc = jsonb_set(doc, '{expired}', 'true')
		 WHERE uid IN (
		   SELECT uid FROM evidence
		   WHERE NOT expired AND expires_at IS NOT NULL AND expires_at < $1
		   LIMIT $2)`,
		now, batchSize)
	if err != nil {
		return total, fmt.Errorf("mark evidence expired: %w", err)
	}
	n, _ = res.RowsAffected()
	total += int(n)

	return total, nil
}

func (p *Postgres) ListHardDeletable(ctx context.Context, graceCutoff time.Time, batchSize int) ([]contracts.ArtifactVersion, error) {
	return listDocs[contracts.ArtifactVersion](ctx, p,
		`SELECT doc FROM artifact_versions
		 WHERE expired AND expires_at IS NOT NULL AND expires_at < $1
		 LIMIT $2`,
		graceCutoff, batchSize)
}

func (p *Postgres) HardDelete(ctx context.Context, versionUIDs []string) (int, error) {
	if len(versionUIDs) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin hard delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM evidence WHERE chunk_uid IN (SELECT uid FROM chunks WHERE version_uid = ANY($1))`,
		pq.Array(versionUIDs)); err != nil {
		return 0, fmt.Errorf("hard delete evidence: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE version_uid = ANY($1)`, pq.Array(versionUIDs)); err != nil {
		return 0, fmt.Errorf("hard delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM artifact_versions WHERE uid = ANY($1)`, pq.Array(versionUIDs))
	if err != nil {
		return 0, fmt.Errorf("hard delete versions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hard delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ Store = (*Postgres)(nil)
