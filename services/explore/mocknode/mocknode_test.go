// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mocknode

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/crypto"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/query"
	"github.com/lca1/glowing-bear/services/explore/resolver"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testDataset = `
ontology:
  - path: /E/age/
    label: Age
    valueType: NUMERICAL
    isInteger: true
  - path: /E/diagnosis/
    label: Diagnosis
    valueType: TEXT
  - path: /E/smoker/
    label: Smoker
    valueType: CATEGORICAL
    encryptionId: "17"
  - path: /E/modifiers/severity/
    label: Severity
    valueType: TEXT
    appliedPath: /E/diagnosis/%
patients:
  - id: 3
    observations:
      - concept: /E/age/
        value: "61"
      - concept: /E/diagnosis/
        value: flu
      - concept: /E/diagnosis/
        modifier: /E/modifiers/severity/
        value: high
  - id: 1
    observations:
      - concept: /E/age/
        value: "35"
      - concept: /E/smoker/
  - id: 2
    observations:
      - concept: /E/age/
        value: "44"
      - concept: /E/diagnosis/
        value: covid
cohorts:
  elderly: [3, 2]
`

func loadTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := ParseDataset([]byte(testDataset))
	require.NoError(t, err)
	return ds
}

func TestParseDataset_Invalid(t *testing.T) {
	_, err := ParseDataset([]byte("ontology:\n  - path: /x/\n    valueType: DATE\n"))
	assert.ErrorContains(t, err, "unknown value type")

	_, err = ParseDataset([]byte("patients:\n  - id: 1\n  - id: 1\n"))
	assert.ErrorContains(t, err, "duplicate patient")

	_, err = ParseDataset([]byte(":::"))
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	ds := loadTestDataset(t)

	tests := []struct {
		name   string
		panels []i2b2.Panel
		want   []int64
	}{
		{"no panels", nil, []int64{}},
		{"existence", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "/E/diagnosis/"}}}}, []int64{2, 3}},
		{"greater", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "/E/age/", Operator: "GT", Value: "40"}}}}, []int64{2, 3}},
		{"between", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "/E/age/", Operator: "BETWEEN", Value: "30 and 50"}}}}, []int64{1, 2}},
		{"in", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "/E/diagnosis/", Operator: "IN", Value: "'flu','measles'"}}}}, []int64{3}},
		{"like", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "/E/diagnosis/", Operator: "LIKE[begin]", Value: "co"}}}}, []int64{2}},
		{"or items", []i2b2.Panel{{Items: []i2b2.Item{
			{QueryTerm: "/E/smoker/"},
			{QueryTerm: "/E/diagnosis/", Operator: "LIKE[exact]", Value: "flu"},
		}}}, []int64{1, 3}},
		{"and panels", []i2b2.Panel{
			{Items: []i2b2.Item{{QueryTerm: "/E/diagnosis/"}}},
			{Items: []i2b2.Item{{QueryTerm: "/E/age/", Operator: "LT", Value: "50"}}},
		}, []int64{2}},
		{"not panel", []i2b2.Panel{
			{Items: []i2b2.Item{{QueryTerm: "/E/age/"}}},
			{Not: true, Items: []i2b2.Item{{QueryTerm: "/E/diagnosis/"}}},
		}, []int64{1}},
		{"encrypted term", []i2b2.Panel{{Items: []i2b2.Item{{QueryTerm: "17", Encrypted: true}}}}, []int64{1}},
		{"modifier", []i2b2.Panel{{Items: []i2b2.Item{{
			QueryTerm: "/E/diagnosis/",
			Modifier:  &i2b2.Modifier{ModifierKey: "/E/modifiers/severity/", AppliedPath: "/E/diagnosis/%"},
			Operator:  "LIKE[exact]",
			Value:     "high",
		}}}}, []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ds.Evaluate(tt.panels))
		})
	}
}

// =============================================================================
// End to end through the real client
// =============================================================================

type federation struct {
	nodes  network.Static
	client *transport.Client
	keys   *crypto.EphemeralKeys
}

func newFederation(t *testing.T, cfgs ...Config) *federation {
	t.Helper()
	ds := loadTestDataset(t)

	f := &federation{}
	for i, cfg := range cfgs {
		cfg.Logger = logging.Nop()
		srv := httptest.NewServer(New(ds, cfg).Handler())
		t.Cleanup(srv.Close)
		f.nodes = append(f.nodes, network.Node{Index: i, Name: cfg.Name, URL: srv.URL})
	}
	f.client = transport.NewClient(transport.Options{Token: transport.StaticToken("tok"), Logger: logging.Nop()})

	keys, err := crypto.NewEphemeralKeys(crypto.PlainScheme{})
	require.NoError(t, err)
	t.Cleanup(keys.Close)
	f.keys = keys
	return f
}

func TestEndToEnd_ExploreQuery(t *testing.T) {
	f := newFederation(t, Config{Name: "a", Token: "tok"}, Config{Name: "b", Token: "tok"})
	svc := query.NewService(f.client, f.nodes, f.keys, query.WithLogger(logging.Nop()))

	age := constraint.NewConceptConstraint(&constraint.TreeNode{Path: "/E/age/", ValueType: constraint.ValueTypeNumerical, IsInteger: true})
	age.ApplyNumericalOperator = true
	age.NumericalOperator = constraint.NumericalGreater
	age.NumValue = 40

	results, err := svc.ExploreQuery(context.Background(), query.NewExploreQuery(age, false))
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		counts, err := f.keys.DecryptIntegers(context.Background(), []string{r.Result.EncryptedCount})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, counts, r.Node.Name)

		ids, err := f.keys.DecryptIntegers(context.Background(), r.Result.EncryptedPatientList)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, ids)
	}
}

func TestEndToEnd_WrongTokenFailsQuery(t *testing.T) {
	f := newFederation(t, Config{Name: "a", Token: "tok"}, Config{Name: "b", Token: "other"})
	svc := query.NewService(f.client, f.nodes, f.keys, query.WithLogger(logging.Nop()))

	c := constraint.NewConceptConstraint(&constraint.TreeNode{Path: "/E/age/", ValueType: constraint.ValueTypeNumerical})
	_, err := svc.ExploreQuery(context.Background(), query.NewExploreQuery(c, false))

	var nodeErr *query.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "b", nodeErr.Node.Name)
}

func TestEndToEnd_CohortPatientList(t *testing.T) {
	f := newFederation(t, Config{Name: "a"}, Config{Name: "b"})
	session := &extensions.AuthInfo{UserID: "alice", Roles: []string{extensions.RolePatientList}}
	svc := cohorts.NewService(session, transport.NewPatientListFanout(f.client, f.nodes), f.keys,
		cohorts.WithLogger(logging.Nop()))
	defer svc.Close()

	lists, err := svc.GetList(context.Background(), "elderly")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{2, 3}, {2, 3}}, lists.Lists)
	assert.Equal(t, "a", lists.Nodes[0].Name)
}

func TestEndToEnd_PatientListDenied(t *testing.T) {
	f := newFederation(t, Config{Name: "a"}, Config{Name: "b", DenyPatientLists: true})
	session := &extensions.AuthInfo{UserID: "alice", Roles: []string{extensions.RolePatientList}}
	svc := cohorts.NewService(session, transport.NewPatientListFanout(f.client, f.nodes), f.keys,
		cohorts.WithLogger(logging.Nop()))
	defer svc.Close()

	_, err := svc.GetList(context.Background(), "elderly")
	var authErr *cohorts.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "alice", authErr.User)

	st, _ := svc.Status("elderly")
	assert.Equal(t, cohorts.StatusError, st)
}

func TestEndToEnd_ReverseMapping(t *testing.T) {
	f := newFederation(t, Config{Name: "a"})
	mapper := mapping.NewReverseMapper(resolver.NewNodeResolver(f.client, f.nodes, logging.Nop()), nil, nil, logging.Nop())

	got, err := mapper.MapPanels(context.Background(), []i2b2.Panel{
		{PanelTiming: i2b2.TimingAny, Items: []i2b2.Item{{QueryTerm: "/E/age/", Operator: "GE", Value: "40", Type: "NUMBER"}}},
		{PanelTiming: i2b2.TimingAny, Items: []i2b2.Item{{
			QueryTerm: "/E/diagnosis/",
			Modifier:  &i2b2.Modifier{ModifierKey: "/E/modifiers/severity/", AppliedPath: "/E/diagnosis/%"},
			Operator:  "LIKE[exact]",
			Value:     "high",
		}}},
	}, nil, nil)
	require.NoError(t, err)

	comb, ok := constraint.AsCombination(got)
	require.True(t, ok)
	require.Len(t, comb.Children, 2)

	age, ok := constraint.AsConcept(comb.Children[0])
	require.True(t, ok)
	assert.True(t, age.ApplyNumericalOperator)
	assert.Equal(t, 40.0, age.NumValue)

	severity, ok := constraint.AsConcept(comb.Children[1])
	require.True(t, ok)
	require.NotNil(t, severity.Concept.Modifier)
	assert.Equal(t, "/E/diagnosis/modifiers/severity/", severity.Concept.Path)
	assert.Equal(t, "high", severity.TextOperatorValue)

	panels, err := mapping.ForwardMapper{}.MapConstraint(got)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, loadTestDataset(t).Evaluate(panels))
}
