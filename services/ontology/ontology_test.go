// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ontology

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(nil, slog.Default())
}

func baseVersion() contracts.OntologyVersion {
	return contracts.OntologyVersion{
		Version: "v1",
		EntityTypes: []contracts.TypeSpec{
			{Name: "Person", Properties: []contracts.PropertySpec{
				{Name: "name", Required: true},
				{Name: "role"},
			}},
			{Name: "Organization"},
		},
		EventTypes: []contracts.TypeSpec{{Name: "Deployment"}},
		RelationTypes: []contracts.RelationSpec{
			{Name: "member_of", Domain: []string{"Person"}, Range: []string{"Organization"}, Cardinality: "many"},
			{Name: "located_in"},
		},
	}
}

func TestPublishIsImmutable(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, baseVersion()))
	err := r.Publish(ctx, baseVersion())
	assert.True(t, contracts.IsConflict(err))
}

func TestLegacyListOfNames(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.PublishLegacy(context.Background(), "legacy",
		[]string{"Person"}, []string{"Protest"}, []string{"attended"}))

	v, err := r.Get("legacy")
	require.NoError(t, err)
	assert.Len(t, v.EntityTypes, 1)
	assert.Empty(t, v.EntityTypes[0].Properties)
}

func TestCompatibilityLevels(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, baseVersion()))

	v2 := baseVersion()
	v2.Version = "v2"
	// Added optional property: compatible.
	v2.EntityTypes[0].Properties = append(v2.EntityTypes[0].Properties,
		contracts.PropertySpec{Name: "nationality"})
	// Deprecated type with pointer.
	v2.EventTypes[0].Deprecated = true
	v2.EventTypes[0].ReplacedBy = "MilitaryMovement"
	require.NoError(t, r.Publish(ctx, v2))

	report, err := r.CompatibilityReport("v1", "v2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ChangeDeprecated, report.OverallLevel)

	v3 := baseVersion()
	v3.Version = "v3"
	// Narrow the member_of domain and drop a required property: breaking.
	v3.RelationTypes[0].Domain = []string{}
	v3.RelationTypes[0].Range = []string{"Organization", "Person"}
	v3.EntityTypes[0].Properties = v3.EntityTypes[0].Properties[1:]
	v3.RelationTypes[1].Domain = []string{"Person"}
	require.NoError(t, r.Publish(ctx, v3))

	report, err = r.CompatibilityReport("v1", "v3")
	require.NoError(t, err)
	assert.Equal(t, contracts.ChangeBreaking, report.OverallLevel)

	var sawRequiredRemoval, sawNarrowing bool
	for _, c := range report.Changes {
		if c.Detail == "required property name removed" {
			sawRequiredRemoval = true
		}
		if c.TypeName == "located_in" && c.Detail == "domain narrowed" {
			sawNarrowing = true
		}
	}
	assert.True(t, sawRequiredRemoval)
	assert.True(t, sawNarrowing)
}

func TestCompatibleChangeNeverBreaking(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, baseVersion()))

	v2 := baseVersion()
	v2.Version = "v2"
	v2.EntityTypes = append(v2.EntityTypes, contracts.TypeSpec{Name: "Vessel"})
	v2.RelationTypes = append(v2.RelationTypes, contracts.RelationSpec{Name: "operates"})
	require.NoError(t, r.Publish(ctx, v2))

	report, err := r.CompatibilityReport("v1", "v2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ChangeCompatible, report.OverallLevel)
	for _, c := range report.Changes {
		assert.NotEqual(t, contracts.ChangeBreaking, c.Level)
	}
}

func TestValidateEntity(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Publish(context.Background(), baseVersion()))

	ok := &contracts.Entity{Name: "J. Petrov", Type: "Person",
		Properties: map[string]any{"name": "J. Petrov"}}
	assert.Nil(t, r.ValidateEntity("v1", ok))

	missing := &contracts.Entity{Name: "J. Petrov", Type: "Person"}
	problem := r.ValidateEntity("v1", missing)
	require.NotNil(t, problem)
	assert.Equal(t, contracts.CodeOntologyMissingProps, problem.ErrorCode)

	unknown := &contracts.Entity{Name: "X", Type: "Spacecraft"}
	problem = r.ValidateEntity("v1", unknown)
	require.NotNil(t, problem)
	assert.Equal(t, contracts.CodeOntologyUnknownType, problem.ErrorCode)
}

func TestValidateRelationDomainRange(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Publish(context.Background(), baseVersion()))

	rel := &contracts.RelationFact{Type: "member_of"}
	assert.Nil(t, r.ValidateRelation("v1", rel, "Person", "Organization"))

	problem := r.ValidateRelation("v1", rel, "Organization", "Organization")
	require.NotNil(t, problem)
	assert.Equal(t, contracts.CodeOntologyDomainViolation, problem.ErrorCode)

	problem = r.ValidateRelation("v1", rel, "Person", "Person")
	require.NotNil(t, problem)
	assert.Equal(t, contracts.CodeOntologyRangeViolation, problem.ErrorCode)

	// Endpoint types unknown: domain/range not enforced.
	assert.Nil(t, r.ValidateRelation("v1", rel, "", ""))
}
