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

// CompatibilityReport classifies every difference between two published
// versions. OverallLevel is the maximum over all changes:
// COMPATIBLE (added optional property, description change),
// DEPRECATED (type marked deprecated with a replacement pointer),
// BREAKING (removed type, removed required property, narrowed
// domain/range, cardinality tightened many -> one).
func (r *Registry) CompatibilityReport(fromVersion, toVersion string) (*contracts.CompatibilityReport, error) {
	from, err := r.Get(fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := r.Get(toVersion)
	if err != nil {
		return nil, err
	}

	report := &contracts.CompatibilityReport{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
	}
	report.Changes = append(report.Changes, diffTypeSpecs(from.EntityTypes, to.EntityTypes, "entity")...)
	report.Changes = append(report.Changes, diffTypeSpecs(from.EventTypes, to.EventTypes, "event")...)
	report.Changes = append(report.Changes, diffRelationSpecs(from.RelationTypes, to.RelationTypes)...)

	for _, c := range report.Changes {
		if c.Level > report.OverallLevel {
			report.OverallLevel = c.Level
		}
	}
	return report, nil
}

func diffTypeSpecs(from, to []contracts.TypeSpec, kind string) []contracts.OntologyChange {
	var changes []contracts.OntologyChange
	toByName := make(map[string]contracts.TypeSpec, len(to))
	for _, t := range to {
		toByName[t.Name] = t
	}

	for _, old := range from {
		next, exists := toByName[old.Name]
		if !exists {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeBreaking,
				Detail: "type removed",
			})
			continue
		}
		if next.Deprecated && !old.Deprecated {
			detail := "type deprecated"
			if next.ReplacedBy != "" {
				detail = fmt.Sprintf("type deprecated, replaced by %s", next.ReplacedBy)
			}
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeDeprecated, Detail: detail,
			})
		}
		changes = append(changes, diffProperties(old, next, kind)...)
	}

	fromNames := make(map[string]bool, len(from))
	for _, t := range from {
		fromNames[t.Name] = true
	}
	for _, t := range to {
		if !fromNames[t.Name] {
			changes = append(changes, contracts.OntologyChange{
				TypeName: t.Name, Kind: kind, Level: contracts.ChangeCompatible,
				Detail: "type added",
			})
		}
	}
	return changes
}

func diffProperties(old, next contracts.TypeSpec, kind string) []contracts.OntologyChange {
	var changes []contracts.OntologyChange
	nextProps := make(map[string]contracts.PropertySpec, len(next.Properties))
	for _, p := range next.Properties {
		nextProps[p.Name] = p
	}

	for _, p := range old.Properties {
		np, exists := nextProps[p.Name]
		switch {
		case !exists && p.Required:
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeBreaking,
				Detail: fmt.Sprintf("required property %s removed", p.Name),
			})
		case !exists:
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeCompatible,
				Detail: fmt.Sprintf("optional property %s removed", p.Name),
			})
		case !p.Required && np.Required:
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeBreaking,
				Detail: fmt.Sprintf("property %s became required", p.Name),
			})
		case p.Description != np.Description:
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: kind, Level: contracts.ChangeCompatible,
				Detail: fmt.Sprintf("property %s description changed", p.Name),
			})
		}
	}

	oldProps := make(map[string]bool, len(old.Properties))
	for _, p := range old.Properties {
		oldProps[p.Name] = true
	}
	for _, p := range next.Properties {
		if oldProps[p.Name] {
			continue
		}
		level := contracts.ChangeCompatible
		detail := fmt.Sprintf("optional property %s added", p.Name)
		if p.Required {
			level = contracts.ChangeBreaking
			detail = fmt.Sprintf("required property %s added", p.Name)
		}
		changes = append(changes, contracts.OntologyChange{
			TypeName: old.Name, Kind: kind, Level: level, Detail: detail,
		})
	}
	return changes
}

func diffRelationSpecs(from, to []contracts.RelationSpec) []contracts.OntologyChange {
	var changes []contracts.OntologyChange
	toByName := make(map[string]contracts.RelationSpec, len(to))
	for _, rel := range to {
		toByName[rel.Name] = rel
	}

	for _, old := range from {
		next, exists := toByName[old.Name]
		if !exists {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: "relation", Level: contracts.ChangeBreaking,
				Detail: "relation removed",
			})
			continue
		}
		if next.Deprecated && !old.Deprecated {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: "relation", Level: contracts.ChangeDeprecated,
				Detail: "relation deprecated",
			})
		}
		if narrowed(old.Domain, next.Domain) {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: "relation", Level: contracts.ChangeBreaking,
				Detail: "domain narrowed",
			})
		}
		if narrowed(old.Range, next.Range) {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: "relation", Level: contracts.ChangeBreaking,
				Detail: "range narrowed",
			})
		}
		if old.Cardinality == "many" && next.Cardinality == "one" {
			changes = append(changes, contracts.OntologyChange{
				TypeName: old.Name, Kind: "relation", Level: contracts.ChangeBreaking,
				Detail: "cardinality tightened many -> one",
			})
		}
	}

	fromNames := make(map[string]bool, len(from))
	for _, rel := range from {
		fromNames[rel.Name] = true
	}
	for _, rel := range to {
		if !fromNames[rel.Name] {
			changes = append(changes, contracts.OntologyChange{
				TypeName: rel.Name, Kind: "relation", Level: contracts.ChangeCompatible,
				Detail: "relation added",
			})
		}
	}
	return changes
}

// narrowed reports whether next drops members of old. An empty old list
// means unconstrained, so any non-empty next narrows it.
func narrowed(old, next []string) bool {
	if len(old) == 0 {
		return len(next) > 0
	}
	if len(next) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(next))
	for _, t := range next {
		allowed[t] = true
	}
	for _, t := range old {
		if !allowed[t] {
			return true
		}
	}
	return false
}
