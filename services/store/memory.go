// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// Memory is the in-memory Store used by tests and lightweight mode.
// All methods are safe for concurrent use behind a single mutex; the
// dataset sizes involved make finer locking pointless.
type Memory struct {
	mu sync.Mutex

	cases          map[string]contracts.Case
	artifacts      map[string]contracts.ArtifactIdentity
	versions       map[string]contracts.ArtifactVersion
	chunks         map[string]contracts.Chunk
	evidence       map[string]contracts.Evidence
	claims         map[string]contracts.SourceClaim
	assertions     map[string]contracts.Assertion
	hypotheses     map[string]contracts.Hypothesis
	assessments    map[string]contracts.EvidenceAssessment // key hyp|evd
	probUpdates    []contracts.ProbabilityUpdate
	narratives     map[string]contracts.Narrative
	relations      map[string]contracts.RelationFact
	identities     map[string]contracts.EntityIdentityAction
	ontologies     map[string]contracts.OntologyVersion
	actions        []contracts.Action
	toolTraces     []contracts.ToolTrace
	subscriptions  map[string]contracts.Subscription
	eventLogs      map[string]contracts.EventLog // key source_event_uid
	pushLogs       []contracts.PushLog
	memories       map[string]contracts.AnalysisMemoryRecord
	investigations map[string]contracts.Investigation
	gdeltEvents    map[string]contracts.GDELTEvent
	forecasts      map[string]contracts.Forecast
	reports        map[string]contracts.Report
	nextProbID     int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cases:          make(map[string]contracts.Case),
		artifacts:      make(map[string]contracts.ArtifactIdentity),
		versions:       make(map[string]contracts.ArtifactVersion),
		chunks:         make(map[string]contracts.Chunk),
		evidence:       make(map[string]contracts.Evidence),
		claims:         make(map[string]contracts.SourceClaim),
		assertions:     make(map[string]contracts.Assertion),
		hypotheses:     make(map[string]contracts.Hypothesis),
		assessments:    make(map[string]contracts.EvidenceAssessment),
		narratives:     make(map[string]contracts.Narrative),
		relations:      make(map[string]contracts.RelationFact),
		identities:     make(map[string]contracts.EntityIdentityAction),
		ontologies:     make(map[string]contracts.OntologyVersion),
		subscriptions:  make(map[string]contracts.Subscription),
		eventLogs:      make(map[string]contracts.EventLog),
		memories:       make(map[string]contracts.AnalysisMemoryRecord),
		investigations: make(map[string]contracts.Investigation),
		gdeltEvents:    make(map[string]contracts.GDELTEvent),
		forecasts:      make(map[string]contracts.Forecast),
		reports:        make(map[string]contracts.Report),
	}
}

func notFound(kind, uid string) error {
	return &contracts.NotFoundError{Kind: kind, UID: uid}
}

// ---------------------------------------------------------------------------
// CaseStore

func (m *Memory) CreateCase(_ context.Context, c *contracts.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.UID] = *c
	return nil
}

func (m *Memory) GetCase(_ context.Context, uid string) (*contracts.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[uid]
	if !ok {
		return nil, notFound("case", uid)
	}
	return &c, nil
}

func (m *Memory) ListCases(_ context.Context) ([]contracts.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.Case, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// ArtifactStore

func (m *Memory) CreateArtifact(_ context.Context, a *contracts.ArtifactIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.UID] = *a
	return nil
}

func (m *Memory) GetArtifactByURL(_ context.Context, caseUID, canonicalURL string) (*contracts.ArtifactIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.CaseUID == caseUID && a.CanonicalURL == canonicalURL {
			a := a
			return &a, nil
		}
	}
	return nil, notFound("artifact", canonicalURL)
}

func (m *Memory) CreateArtifactVersion(_ context.Context, v *contracts.ArtifactVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[v.UID] = *v
	return nil
}

func (m *Memory) GetArtifactVersion(_ context.Context, uid string) (*contracts.ArtifactVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[uid]
	if !ok {
		return nil, notFound("artifact_version", uid)
	}
	return &v, nil
}

func (m *Memory) CreateChunk(_ context.Context, c *contracts.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[c.UID] = *c
	return nil
}

func (m *Memory) GetChunk(_ context.Context, uid string) (*contracts.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[uid]
	if !ok {
		return nil, notFound("chunk", uid)
	}
	return &c, nil
}

func (m *Memory) ListChunksByCase(_ context.Context, caseUID string) ([]contracts.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Chunk
	for _, c := range m.chunks {
		if c.CaseUID == caseUID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// ---------------------------------------------------------------------------
// EvidenceStore

func (m *Memory) CreateEvidence(_ context.Context, e *contracts.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evidence[e.UID] = *e
	return nil
}

func (m *Memory) GetEvidence(_ context.Context, uid string) (*contracts.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evidence[uid]
	if !ok {
		return nil, notFound("evidence", uid)
	}
	return &e, nil
}

func (m *Memory) ListEvidenceByCase(_ context.Context, caseUID string) ([]contracts.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Evidence
	for _, e := range m.evidence {
		if e.CaseUID == caseUID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// ClaimStore

func (m *Memory) CreateSourceClaim(_ context.Context, c *contracts.SourceClaim) error {
	if problem := c.Validate(); problem != nil {
		return problem
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[c.UID] = *c
	return nil
}

func (m *Memory) GetSourceClaim(_ context.Context, uid string) (*contracts.SourceClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[uid]
	if !ok {
		return nil, notFound("source_claim", uid)
	}
	return &c, nil
}

func (m *Memory) ListClaimsByCase(_ context.Context, caseUID string) ([]contracts.SourceClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.SourceClaim
	for _, c := range m.claims {
		if c.CaseUID == caseUID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListClaimsByChunk(_ context.Context, chunkUID string) ([]contracts.SourceClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.SourceClaim
	for _, c := range m.claims {
		if c.ChunkUID == chunkUID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// AssertionStore

func (m *Memory) CreateAssertion(_ context.Context, a *contracts.Assertion) error {
	if problem := a.Validate(); problem != nil {
		return problem
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertions[a.UID] = *a
	return nil
}

func (m *Memory) GetAssertion(_ context.Context, uid string) (*contracts.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assertions[uid]
	if !ok {
		return nil, notFound("assertion", uid)
	}
	return &a, nil
}

func (m *Memory) ListAssertionsByCase(_ context.Context, caseUID string) ([]contracts.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Assertion
	for _, a := range m.assertions {
		if a.CaseUID == caseUID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// HypothesisStore

func (m *Memory) CreateHypothesis(_ context.Context, h *contracts.Hypothesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hypotheses[h.UID] = *h
	return nil
}

func (m *Memory) GetHypothesis(_ context.Context, uid string) (*contracts.Hypothesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hypotheses[uid]
	if !ok {
		return nil, notFound("hypothesis", uid)
	}
	return &h, nil
}

func (m *Memory) ListHypothesesByCase(_ context.Context, caseUID string) ([]contracts.Hypothesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Hypothesis
	for _, h := range m.hypotheses {
		if h.CaseUID == caseUID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *Memory) UpdateHypothesisProbabilities(_ context.Context, uid string, prior, posterior float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hypotheses[uid]
	if !ok {
		return notFound("hypothesis", uid)
	}
	h.Prior = prior
	h.Posterior = posterior
	h.UpdatedAt = time.Now()
	m.hypotheses[uid] = h
	return nil
}

func assessmentKey(hypUID, evdUID string) string { return hypUID + "|" + evdUID }

func (m *Memory) UpsertAssessment(_ context.Context, a *contracts.EvidenceAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assessmentKey(a.HypothesisUID, a.EvidenceUID)
	if existing, ok := m.assessments[key]; ok {
		a.UID = existing.UID
		a.CreatedAt = existing.CreatedAt
	}
	a.UpdatedAt = time.Now()
	m.assessments[key] = *a
	return nil
}

func (m *Memory) GetAssessment(_ context.Context, hypothesisUID, evidenceUID string) (*contracts.EvidenceAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[assessmentKey(hypothesisUID, evidenceUID)]
	if !ok {
		return nil, notFound("evidence_assessment", hypothesisUID+"/"+evidenceUID)
	}
	return &a, nil
}

func (m *Memory) ListAssessmentsByCase(_ context.Context, caseUID string) ([]contracts.EvidenceAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.EvidenceAssessment
	for _, a := range m.assessments {
		if a.CaseUID == caseUID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *Memory) ListAssessmentsByEvidence(_ context.Context, evidenceUID string) ([]contracts.EvidenceAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.EvidenceAssessment
	for _, a := range m.assessments {
		if a.EvidenceUID == evidenceUID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HypothesisUID < out[j].HypothesisUID })
	return out, nil
}

func (m *Memory) AppendProbabilityUpdate(_ context.Context, u *contracts.ProbabilityUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProbID++
	u.ID = m.nextProbID
	m.probUpdates = append(m.probUpdates, *u)
	return nil
}

func (m *Memory) ListProbabilityUpdates(_ context.Context, caseUID string) ([]contracts.ProbabilityUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.ProbabilityUpdate
	for _, u := range m.probUpdates {
		if u.CaseUID == caseUID {
			out = append(out, u)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// NarrativeStore

func (m *Memory) CreateNarrative(_ context.Context, n *contracts.Narrative) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.narratives[n.UID] = *n
	return nil
}

func (m *Memory) GetNarrative(_ context.Context, uid string) (*contracts.Narrative, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.narratives[uid]
	if !ok {
		return nil, notFound("narrative", uid)
	}
	return &n, nil
}

func (m *Memory) ListNarrativesByCase(_ context.Context, caseUID string) ([]contracts.Narrative, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Narrative
	for _, n := range m.narratives {
		if n.CaseUID == caseUID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// ---------------------------------------------------------------------------
// RelationStore

func (m *Memory) CreateRelationFact(_ context.Context, r *contracts.RelationFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[r.UID] = *r
	return nil
}

func (m *Memory) ListRelationsByCase(_ context.Context, caseUID string) ([]contracts.RelationFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.RelationFact
	for _, r := range m.relations {
		if r.CaseUID == caseUID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// ---------------------------------------------------------------------------
// IdentityStore

func (m *Memory) CreateIdentityAction(_ context.Context, a *contracts.EntityIdentityAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[a.UID] = *a
	return nil
}

func (m *Memory) GetIdentityAction(_ context.Context, uid string) (*contracts.EntityIdentityAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.identities[uid]
	if !ok {
		return nil, notFound("identity_action", uid)
	}
	return &a, nil
}

func (m *Memory) ListPendingIdentityActions(_ context.Context) ([]contracts.EntityIdentityAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.EntityIdentityAction
	for _, a := range m.identities {
		if a.Status == contracts.IdentityPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateIdentityAction(_ context.Context, a *contracts.EntityIdentityAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[a.UID]; !ok {
		return notFound("identity_action", a.UID)
	}
	m.identities[a.UID] = *a
	return nil
}

// ---------------------------------------------------------------------------
// OntologyStore

func (m *Memory) SaveOntologyVersion(_ context.Context, v *contracts.OntologyVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ontologies[v.Version] = *v
	return nil
}

func (m *Memory) GetOntologyVersion(_ context.Context, version string) (*contracts.OntologyVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ontologies[version]
	if !ok {
		return nil, notFound("ontology_version", version)
	}
	return &v, nil
}

func (m *Memory) ListOntologyVersions(_ context.Context) ([]contracts.OntologyVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.OntologyVersion, 0, len(m.ontologies))
	for _, v := range m.ontologies {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ---------------------------------------------------------------------------
// AuditStore

func (m *Memory) AppendAction(_ context.Context, a *contracts.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, *a)
	return nil
}

func (m *Memory) ListActionsByCase(_ context.Context, caseUID string) ([]contracts.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Action
	for _, a := range m.actions {
		if a.CaseUID == caseUID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) GetActionByTraceID(_ context.Context, traceID string) (*contracts.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.actions) - 1; i >= 0; i-- {
		if m.actions[i].TraceID == traceID {
			a := m.actions[i]
			return &a, nil
		}
	}
	return nil, notFound("action", traceID)
}

func (m *Memory) AppendToolTrace(_ context.Context, t *contracts.ToolTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolTraces = append(m.toolTraces, *t)
	return nil
}

func (m *Memory) ListToolTraces(_ context.Context, traceID string) ([]contracts.ToolTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.ToolTrace
	for _, t := range m.toolTraces {
		if t.TraceID == traceID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// SubscriptionStore

func (m *Memory) CreateSubscription(_ context.Context, s *contracts.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.UID] = *s
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, uid string) (*contracts.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[uid]
	if !ok {
		return nil, notFound("subscription", uid)
	}
	return &s, nil
}

func (m *Memory) ListSubscriptionsByUser(_ context.Context, userID string) ([]contracts.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *Memory) ListEnabledSubscriptions(_ context.Context) ([]contracts.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Subscription
	for _, s := range m.subscriptions {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *Memory) UpdateSubscription(_ context.Context, s *contracts.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.UID]; !ok {
		return notFound("subscription", s.UID)
	}
	m.subscriptions[s.UID] = *s
	return nil
}

func (m *Memory) DeleteSubscription(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[uid]; !ok {
		return notFound("subscription", uid)
	}
	delete(m.subscriptions, uid)
	return nil
}

// ---------------------------------------------------------------------------
// PushStore

func (m *Memory) GetEventLogBySourceUID(_ context.Context, sourceEventUID string) (*contracts.EventLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.eventLogs[sourceEventUID]
	if !ok {
		return nil, notFound("event_log", sourceEventUID)
	}
	return &e, nil
}

func (m *Memory) CreateEventLog(_ context.Context, e *contracts.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.eventLogs[e.SourceEventUID]; exists {
		return &contracts.ConflictError{Message: "event log exists for " + e.SourceEventUID}
	}
	m.eventLogs[e.SourceEventUID] = *e
	return nil
}

func (m *Memory) UpdateEventLog(_ context.Context, e *contracts.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.eventLogs[e.SourceEventUID]; !ok {
		return notFound("event_log", e.SourceEventUID)
	}
	e.UpdatedAt = time.Now()
	m.eventLogs[e.SourceEventUID] = *e
	return nil
}

func (m *Memory) CreatePushLog(_ context.Context, p *contracts.PushLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushLogs = append(m.pushLogs, *p)
	return nil
}

func (m *Memory) ListPushLogsByEvent(_ context.Context, eventUID string) ([]contracts.PushLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.PushLog
	for _, p := range m.pushLogs {
		if p.EventUID == eventUID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CountDeliveredSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.pushLogs {
		if p.UserID == userID && p.Status == "delivered" && p.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// MemoryStore (analysis memory)

func (m *Memory) CreateMemoryRecord(_ context.Context, r *contracts.AnalysisMemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories[r.UID] = *r
	return nil
}

func (m *Memory) GetMemoryRecord(_ context.Context, uid string) (*contracts.AnalysisMemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.memories[uid]
	if !ok {
		return nil, notFound("memory_record", uid)
	}
	return &r, nil
}

func (m *Memory) ListMemoryRecords(_ context.Context) ([]contracts.AnalysisMemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.AnalysisMemoryRecord, 0, len(m.memories))
	for _, r := range m.memories {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateMemoryRecord(_ context.Context, r *contracts.AnalysisMemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memories[r.UID]; !ok {
		return notFound("memory_record", r.UID)
	}
	r.UpdatedAt = time.Now()
	m.memories[r.UID] = *r
	return nil
}

// ---------------------------------------------------------------------------
// InvestigationStore

func (m *Memory) CreateInvestigation(_ context.Context, i *contracts.Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investigations[i.UID] = *i
	return nil
}

func (m *Memory) GetInvestigation(_ context.Context, uid string) (*contracts.Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.investigations[uid]
	if !ok {
		return nil, notFound("investigation", uid)
	}
	return &i, nil
}

func (m *Memory) UpdateInvestigation(_ context.Context, i *contracts.Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.investigations[i.UID]; !ok {
		return notFound("investigation", i.UID)
	}
	m.investigations[i.UID] = *i
	return nil
}

func (m *Memory) ListInvestigations(_ context.Context, caseUID, status string) ([]contracts.Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Investigation
	for _, i := range m.investigations {
		if caseUID != "" && i.CaseUID != caseUID {
			continue
		}
		if status != "" && string(i.Status) != status {
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// GDELTStore

func (m *Memory) SaveGDELTEvent(_ context.Context, e *contracts.GDELTEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.gdeltEvents {
		if existing.GlobalEventID == e.GlobalEventID {
			return &contracts.ConflictError{Message: "gdelt event exists for " + e.GlobalEventID}
		}
	}
	m.gdeltEvents[e.UID] = *e
	return nil
}

func (m *Memory) GetGDELTEvent(_ context.Context, uid string) (*contracts.GDELTEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.gdeltEvents[uid]
	if !ok {
		return nil, notFound("gdelt_event", uid)
	}
	return &e, nil
}

func (m *Memory) ListGDELTEvents(_ context.Context, status string, limit int) ([]contracts.GDELTEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.GDELTEvent
	for _, e := range m.gdeltEvents {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolledAt.After(out[j].PolledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateGDELTEventStatus(_ context.Context, uid, status, anomalyType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.gdeltEvents[uid]
	if !ok {
		return notFound("gdelt_event", uid)
	}
	e.Status = status
	if anomalyType != "" {
		e.AnomalyType = anomalyType
	}
	m.gdeltEvents[uid] = e
	return nil
}

func (m *Memory) CountEventsByCountrySince(_ context.Context, country string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.gdeltEvents {
		if e.Country == country && e.EventDate.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GDELTStats(_ context.Context) (*contracts.GDELTStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &contracts.GDELTStats{
		ByCountry:   make(map[string]int),
		ByCAMEORoot: make(map[string]int),
	}
	for _, e := range m.gdeltEvents {
		stats.TotalEvents++
		switch e.Status {
		case "anomaly":
			stats.Anomalies++
		case "ingested":
			stats.Ingested++
		}
		if e.Country != "" {
			stats.ByCountry[e.Country]++
		}
		stats.ByCAMEORoot[e.CAMEORoot]++
		if e.PolledAt.After(stats.LastPolledAt) {
			stats.LastPolledAt = e.PolledAt
		}
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// ForecastStore

func (m *Memory) CreateForecast(_ context.Context, f *contracts.Forecast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts[f.UID] = *f
	return nil
}

func (m *Memory) GetForecast(_ context.Context, uid string) (*contracts.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forecasts[uid]
	if !ok {
		return nil, notFound("forecast", uid)
	}
	return &f, nil
}

func (m *Memory) ListForecastsByCase(_ context.Context, caseUID string) ([]contracts.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.Forecast
	for _, f := range m.forecasts {
		if f.CaseUID == caseUID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// ---------------------------------------------------------------------------
// ReportStore

func (m *Memory) CreateReport(_ context.Context, r *contracts.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.UID] = *r
	return nil
}

func (m *Memory) GetReport(_ context.Context, uid string) (*contracts.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[uid]
	if !ok {
		return nil, notFound("report", uid)
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// RetentionStore

func (m *Memory) MarkExpired(_ context.Context, now time.Time, batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := 0
	for uid, v := range m.versions {
		if marked >= batchSize {
			break
		}
		if !v.Expired && !v.ExpiresAt.IsZero() && v.ExpiresAt.Before(now) && !m.versionReferencedLocked(uid) {
			v.Expired = true
			m.versions[uid] = v
			marked++
		}
	}
	for uid, c := range m.chunks {
		if marked >= batchSize {
			break
		}
		if !c.Expired && !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now) && !m.chunkReferencedLocked(uid) {
			c.Expired = true
			m.chunks[uid] = c
			marked++
		}
	}
	for uid, e := range m.evidence {
		if marked >= batchSize {
			break
		}
		if !e.Expired && !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now) {
			e.Expired = true
			m.evidence[uid] = e
			marked++
		}
	}
	return marked, nil
}

// versionReferencedLocked reports whether any claim still cites a chunk
// of this version. Caller holds the lock.
func (m *Memory) versionReferencedLocked(versionUID string) bool {
	for _, c := range m.chunks {
		if c.VersionUID == versionUID && m.chunkReferencedLocked(c.UID) {
			return true
		}
	}
	return false
}

func (m *Memory) chunkReferencedLocked(chunkUID string) bool {
	for _, cl := range m.claims {
		if cl.ChunkUID == chunkUID {
			return true
		}
	}
	return false
}

func (m *Memory) ListHardDeletable(_ context.Context, graceCutoff time.Time, batchSize int) ([]contracts.ArtifactVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.ArtifactVersion
	for _, v := range m.versions {
		if v.Expired && !v.ExpiresAt.IsZero() && v.ExpiresAt.Before(graceCutoff) {
			out = append(out, v)
			if len(out) >= batchSize {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) HardDelete(_ context.Context, versionUIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, uid := range versionUIDs {
		if _, ok := m.versions[uid]; !ok {
			continue
		}
		delete(m.versions, uid)
		for cuid, c := range m.chunks {
			if c.VersionUID == uid {
				delete(m.chunks, cuid)
				for euid, e := range m.evidence {
					if e.ChunkUID == cuid {
						delete(m.evidence, euid)
					}
				}
			}
		}
		deleted++
	}
	return deleted, nil
}

var _ Store = (*Memory)(nil)
