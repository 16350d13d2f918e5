// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/network"
)

// Node API paths.
const (
	PathExploreQuery       = "/node/explore/query?sync=true"
	PathCohortsPatientList = "/node/explore/cohorts/patient-list"
	PathSearchConcept      = "/node/explore/search/concept"
	PathSearchModifier     = "/node/explore/search/modifier"
)

// OperationInfo asks a search endpoint for the node itself, not its children.
const OperationInfo = "info"

// =============================================================================
// Explore Query
// =============================================================================

// ExploreQueryRequest is the body of an explore query.
type ExploreQueryRequest struct {
	ID    string           `json:"id"`
	Query ExploreQueryBody `json:"query"`
}

// ExploreQueryBody holds the query definition.
type ExploreQueryBody struct {
	QueryTiming   i2b2.Timing  `json:"queryTiming"`
	UserPublicKey string       `json:"userPublicKey"`
	Panels        []i2b2.Panel `json:"panels"`
}

// ExploreQueryResult is one node's answer. Fields are ciphertexts under the
// user's ephemeral key.
type ExploreQueryResult struct {
	EncryptedCount       string   `json:"encryptedCount"`
	EncryptedPatientList []string `json:"encryptedPatientList,omitempty"`
	Status               string   `json:"status,omitempty"`
	QueryID              int64    `json:"queryID,omitempty"`
}

type exploreQueryResponse struct {
	ID     string             `json:"id"`
	Result ExploreQueryResult `json:"result"`
}

// PostQuery runs an explore query on one node. Only ctx bounds the call.
func (c *Client) PostQuery(ctx context.Context, node network.Node, req ExploreQueryRequest) (*ExploreQueryResult, error) {
	var resp exploreQueryResponse
	if err := c.postJSON(ctx, node.Endpoint(PathExploreQuery), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// =============================================================================
// Cohorts Patient List
// =============================================================================

// PatientListRequest asks each node for the encrypted patient list of a
// saved cohort.
type PatientListRequest struct {
	ID            string `json:"id"`
	CohortName    string `json:"cohortName"`
	UserPublicKey string `json:"userPublicKey"`
}

// PatientListResult is one node's encrypted patient list.
type PatientListResult struct {
	Results []string `json:"results"`
}

// NodePatientList pairs a node with its answer.
type NodePatientList struct {
	Node   network.Node
	Result PatientListResult
}

// PostCohortsPatientList fetches one node's encrypted patient list.
func (c *Client) PostCohortsPatientList(ctx context.Context, node network.Node, req PatientListRequest) (*PatientListResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var resp PatientListResult
	if err := c.postJSON(ctx, node.Endpoint(PathCohortsPatientList), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PatientListFanout sends a patient-list request to every node.
type PatientListFanout struct {
	client *Client
	nodes  network.NodeSource
}

// NewPatientListFanout returns a fanout over the nodes of src.
func NewPatientListFanout(client *Client, src network.NodeSource) *PatientListFanout {
	return &PatientListFanout{client: client, nodes: src}
}

// PostCohortsPatientListAllNodes queries all nodes concurrently. Answers are
// returned in node order. The first failure cancels the others.
func (f *PatientListFanout) PostCohortsPatientListAllNodes(ctx context.Context, req PatientListRequest) ([]NodePatientList, error) {
	nodes := f.nodes.Nodes()
	if len(nodes) == 0 {
		return nil, network.ErrNoNodes
	}

	out := make([]NodePatientList, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		g.Go(func() error {
			res, err := f.client.PostCohortsPatientList(gctx, node, req)
			if err != nil {
				return fmt.Errorf("node %s: %w", node.Name, err)
			}
			out[i] = NodePatientList{Node: node, Result: *res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Ontology Search
// =============================================================================

// SearchConceptRequest is the body of a concept search.
type SearchConceptRequest struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
}

// SearchModifierRequest is the body of a modifier search.
type SearchModifierRequest struct {
	Path           string `json:"path"`
	AppliedPath    string `json:"appliedPath"`
	AppliedConcept string `json:"appliedConcept"`
	Operation      string `json:"operation"`
}

// SearchResponse lists the matching ontology nodes.
type SearchResponse struct {
	Results []*constraint.TreeNode `json:"results"`
}

// SearchConceptInfo returns the tree nodes a node knows for path.
func (c *Client) SearchConceptInfo(ctx context.Context, node network.Node, path string) ([]*constraint.TreeNode, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var resp SearchResponse
	req := SearchConceptRequest{Path: path, Operation: OperationInfo}
	if err := c.postJSON(ctx, node.Endpoint(PathSearchConcept), req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchModifierInfo returns the tree nodes a node knows for a modifier
// applied on appliedConcept.
func (c *Client) SearchModifierInfo(ctx context.Context, node network.Node, modifierKey, appliedPath, appliedConcept string) ([]*constraint.TreeNode, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var resp SearchResponse
	req := SearchModifierRequest{
		Path:           modifierKey,
		AppliedPath:    appliedPath,
		AppliedConcept: appliedConcept,
		Operation:      OperationInfo,
	}
	if err := c.postJSON(ctx, node.Endpoint(PathSearchModifier), req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}
