// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mocknode is a development federation node.
//
// # Description
//
// It serves the node endpoints the explore client calls, backed by a small
// in-memory Dataset. Queries are evaluated in the clear and the answers
// encrypted with crypto.PlainScheme for the requesting user's public key,
// so the whole client pipeline can run locally without a real federation.
//
// # Limitations
//
//   - Panel timing is not evaluated.
//   - Ciphertexts are not secure; never expose a mock node to real data.
package mocknode

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/crypto"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

// Config configures a Server.
type Config struct {
	// Name identifies the node in logs and traces.
	Name string

	// Token, when set, is required as a bearer token on every request.
	Token string

	// DenyPatientLists answers every patient-list request with 403.
	DenyPatientLists bool

	Logger *logging.Logger
}

// Server serves one Dataset.
type Server struct {
	cfg     Config
	dataset *Dataset
	scheme  crypto.PlainScheme
	router  *gin.Engine
	logger  *logging.Logger
}

// New returns a node serving ds.
func New(ds *Dataset, cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "mock-node"
	}
	s := &Server{
		cfg:     cfg,
		dataset: ds,
		logger:  logging.OrDefault(cfg.Logger).With("node", cfg.Name),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Name))

	node := router.Group("/node/explore")
	if cfg.Token != "" {
		node.Use(s.requireToken())
	}
	node.POST("/query", s.handleQuery)
	node.POST("/cohorts/patient-list", s.handlePatientList)
	node.POST("/search/concept", s.handleSearchConcept)
	node.POST("/search/modifier", s.handleSearchModifier)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requireToken() gin.HandlerFunc {
	provider := extensions.NewStaticTokenProvider(s.cfg.Token, extensions.AuthInfo{UserID: "federation"})
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if _, err := provider.Validate(c.Request.Context(), token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type queryResponse struct {
	ID     string                       `json:"id"`
	Result transport.ExploreQueryResult `json:"result"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req transport.ExploreQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Query.UserPublicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user public key"})
		return
	}

	ids := s.dataset.Evaluate(req.Query.Panels)
	s.logger.Info("explore query answered", "query_id", req.ID, "panels", len(req.Query.Panels))

	c.JSON(http.StatusOK, queryResponse{
		ID: req.ID,
		Result: transport.ExploreQueryResult{
			EncryptedCount:       s.scheme.EncryptInt(req.Query.UserPublicKey, int64(len(ids))),
			EncryptedPatientList: s.encryptAll(req.Query.UserPublicKey, ids),
			Status:               "available",
		},
	})
}

func (s *Server) handlePatientList(c *gin.Context) {
	var req transport.PatientListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.DenyPatientLists {
		c.JSON(http.StatusForbidden, gin.H{"error": "patient lists are not allowed"})
		return
	}
	ids, ok := s.dataset.Cohorts[req.CohortName]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cohort " + req.CohortName})
		return
	}

	s.logger.Info("patient list answered", "request_id", req.ID, "cohort", req.CohortName)
	c.JSON(http.StatusOK, transport.PatientListResult{
		Results: s.encryptAll(req.UserPublicKey, sortedIDs(ids)),
	})
}

func (s *Server) handleSearchConcept(c *gin.Context) {
	var req transport.SearchConceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := []*constraint.TreeNode{}
	if e, ok := s.dataset.conceptByPath(req.Path); ok {
		results = append(results, e.TreeNode())
	}
	c.JSON(http.StatusOK, transport.SearchResponse{Results: results})
}

func (s *Server) handleSearchModifier(c *gin.Context) {
	var req transport.SearchModifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := []*constraint.TreeNode{}
	if e, ok := s.dataset.modifier(req.Path, req.AppliedPath); ok {
		if _, known := s.dataset.conceptByPath(req.AppliedConcept); known {
			results = append(results, e.TreeNode())
		}
	}
	c.JSON(http.StatusOK, transport.SearchResponse{Results: results})
}

func (s *Server) encryptAll(publicKey string, ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.scheme.EncryptInt(publicKey, id)
	}
	return out
}
