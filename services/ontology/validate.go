// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ontology

import (
	"fmt"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// ValidateEntity checks an entity payload against one version. Returns
// nil on success.
func (r *Registry) ValidateEntity(version string, e *contracts.Entity) *contracts.ProblemDetail {
	v, err := r.Get(version)
	if err != nil {
		return contracts.NewProblem(contracts.CodeNotFound,
			"ontology version not found", map[string]any{"version": version})
	}

	spec := findType(v.EntityTypes, e.Type)
	if spec == nil {
		spec = findType(v.EventTypes, e.Type)
	}
	if spec == nil {
		return contracts.NewProblem(contracts.CodeOntologyUnknownType,
			fmt.Sprintf("entity type %q is not in ontology %s", e.Type, version),
			map[string]any{"type": e.Type})
	}
	if spec.Deprecated {
		return contracts.NewProblem(contracts.CodeOntologyDeprecatedType,
			fmt.Sprintf("entity type %q is deprecated", e.Type),
			map[string]any{"type": e.Type, "replaced_by": spec.ReplacedBy})
	}

	var missing []string
	for _, p := range spec.Properties {
		if !p.Required {
			continue
		}
		if _, ok := e.Properties[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return contracts.NewProblem(contracts.CodeOntologyMissingProps,
			fmt.Sprintf("entity %q misses required properties", e.Name),
			map[string]any{"type": e.Type, "missing": missing})
	}
	return nil
}

// ValidateRelation checks a relation payload. Domain/range types are
// checked only when both endpoint types are provided.
func (r *Registry) ValidateRelation(version string, rel *contracts.RelationFact, sourceType, targetType string) *contracts.ProblemDetail {
	v, err := r.Get(version)
	if err != nil {
		return contracts.NewProblem(contracts.CodeNotFound,
			"ontology version not found", map[string]any{"version": version})
	}

	spec := findRelation(v.RelationTypes, rel.Type)
	if spec == nil {
		return contracts.NewProblem(contracts.CodeOntologyUnknownType,
			fmt.Sprintf("relation type %q is not in ontology %s", rel.Type, version),
			map[string]any{"type": rel.Type})
	}
	if spec.Deprecated {
		return contracts.NewProblem(contracts.CodeOntologyDeprecatedType,
			fmt.Sprintf("relation type %q is deprecated", rel.Type),
			map[string]any{"type": rel.Type, "replaced_by": spec.ReplacedBy})
	}

	if sourceType != "" && len(spec.Domain) > 0 && !contains(spec.Domain, sourceType) {
		return contracts.NewProblem(contracts.CodeOntologyDomainViolation,
			fmt.Sprintf("source type %q is outside the domain of %q", sourceType, rel.Type),
			map[string]any{"source_type": sourceType, "domain": spec.Domain})
	}
	if targetType != "" && len(spec.Range) > 0 && !contains(spec.Range, targetType) {
		return contracts.NewProblem(contracts.CodeOntologyRangeViolation,
			fmt.Sprintf("target type %q is outside the range of %q", targetType, rel.Type),
			map[string]any{"target_type": targetType, "range": spec.Range})
	}
	return nil
}

func findType(specs []contracts.TypeSpec, name string) *contracts.TypeSpec {
	for i := range specs {
		if specs[i].Name == name {
			return &specs[i]
		}
	}
	return nil
}

func findRelation(specs []contracts.RelationSpec, name string) *contracts.RelationSpec {
	for i := range specs {
		if specs[i].Name == name {
			return &specs[i]
		}
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
