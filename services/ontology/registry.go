// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ontology holds the versioned typed schema that governs graph
// writes: registry, compatibility diff, and payload validation.
package ontology

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/store"
)

// Registry is the process-wide version map with a database mirror.
// Published versions are immutable.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]contracts.OntologyVersion
	mirror   store.OntologyStore
	logger   *slog.Logger
}

// NewRegistry builds a registry. mirror may be nil for tests.
func NewRegistry(mirror store.OntologyStore, logger *slog.Logger) *Registry {
	return &Registry{
		versions: make(map[string]contracts.OntologyVersion),
		mirror:   mirror,
		logger:   logger,
	}
}

// LoadFromStore hydrates the in-process map from the mirror.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.mirror == nil {
		return nil
	}
	versions, err := r.mirror.ListOntologyVersions(ctx)
	if err != nil {
		return fmt.Errorf("load ontology versions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range versions {
		r.versions[v.Version] = v
	}
	r.logger.Info("ontology registry loaded", "versions", len(versions))
	return nil
}

// Publish registers a new immutable version. Republishing an existing
// version is a conflict.
func (r *Registry) Publish(ctx context.Context, v contracts.OntologyVersion) error {
	if v.Version == "" {
		return contracts.NewProblem(contracts.CodeValidation, "ontology version name is empty", nil)
	}
	r.mu.Lock()
	if _, exists := r.versions[v.Version]; exists {
		r.mu.Unlock()
		return &contracts.ConflictError{Message: "ontology version " + v.Version + " already published"}
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = time.Now()
	}
	r.versions[v.Version] = v
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.SaveOntologyVersion(ctx, &v); err != nil {
			return fmt.Errorf("mirror ontology version: %w", err)
		}
	}
	r.logger.Info("ontology version published", "version", v.Version,
		"entity_types", len(v.EntityTypes), "relation_types", len(v.RelationTypes))
	return nil
}

// PublishLegacy accepts the legacy list-of-names shape: bare type names
// become property-less specs.
func (r *Registry) PublishLegacy(ctx context.Context, version string, entityNames, eventNames, relationNames []string) error {
	v := contracts.OntologyVersion{Version: version, PublishedAt: time.Now()}
	for _, name := range entityNames {
		v.EntityTypes = append(v.EntityTypes, contracts.TypeSpec{Name: name})
	}
	for _, name := range eventNames {
		v.EventTypes = append(v.EventTypes, contracts.TypeSpec{Name: name})
	}
	for _, name := range relationNames {
		v.RelationTypes = append(v.RelationTypes, contracts.RelationSpec{Name: name})
	}
	return r.Publish(ctx, v)
}

// Get returns one version.
func (r *Registry) Get(version string) (*contracts.OntologyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[version]
	if !ok {
		return nil, &contracts.NotFoundError{Kind: "ontology_version", UID: version}
	}
	return &v, nil
}

// Latest returns the lexically greatest version, or nil when empty.
func (r *Registry) Latest() *contracts.OntologyVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.versions {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	v := r.versions[names[len(names)-1]]
	return &v
}

// List returns all versions sorted by name.
func (r *Registry) List() []contracts.OntologyVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.OntologyVersion, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
