// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway exposes the explore operations over HTTP.
//
// # Description
//
// The gateway is the local controller surface a UI talks to. It runs
// explore queries, reverse maps saved panels, and serves the session's
// cohort patient-list cache, including a websocket stream of status
// transitions. All /v1 routes require a bearer token; only the status
// websocket accepts it as the access_token query parameter.
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/explore/query
//	POST   /v1/explore/reverse
//	GET    /v1/cohorts/status
//	GET    /v1/cohorts/:name/patient-list
//	PUT    /v1/cohorts/:name/patient-list
//	DELETE /v1/cohorts/:name/patient-list
//	GET    /v1/cohorts/:name/status/ws
//	GET    /v1/alerts
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/pkg/validation"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/query"
)

// ServiceName names the gateway in traces.
const ServiceName = "glowingbear-gateway"

// QueryRunner runs explore queries.
type QueryRunner interface {
	ExploreQuery(ctx context.Context, q query.ExploreQuery) ([]query.NodeResult, error)
}

// PanelMapper reverse maps saved panels.
type PanelMapper interface {
	MapPanels(ctx context.Context, panels []i2b2.Panel, timings []i2b2.Timing, nots []bool) (constraint.Constraint, error)
}

// Config holds the gateway collaborators. Query, Reverse, Sessions and
// Auth are required.
type Config struct {
	Query    QueryRunner
	Reverse  PanelMapper
	Sessions *Sessions
	Auth     extensions.AuthProvider

	// Alerts is served on /v1/alerts. Optional.
	Alerts *alerts.Buffer

	// Metrics and Gatherer back /metrics. Optional.
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	// AllowedOrigins lists the browser origins, such as
	// "https://explore.hospital.org", allowed to open the status websocket
	// besides the gateway's own host.
	AllowedOrigins []string

	Logger *logging.Logger
}

// Server is the gateway HTTP handler.
type Server struct {
	cfg      Config
	router   *gin.Engine
	upgrader *websocket.Upgrader
	logger   *logging.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		upgrader: newUpgrader(cfg.AllowedOrigins),
		logger:   logging.OrDefault(cfg.Logger),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(s.recordRequests())

	router.GET("/health", s.handleHealth)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	v1.Use(AuthMiddleware(cfg.Auth, StatusStreamRoute))
	{
		explore := v1.Group("/explore")
		explore.POST("/query", s.handleExploreQuery)
		explore.POST("/reverse", s.handleReverse)

		cohortRoutes := v1.Group("/cohorts")
		cohortRoutes.GET("/status", s.handleStatuses)

		named := cohortRoutes.Group("/:name", requireCohortName())
		named.GET("/patient-list", s.handleGetList)
		named.PUT("/patient-list", s.handleInsertList)
		named.DELETE("/patient-list", s.handleRemoveList)
		named.GET("/status/ws", s.handleStatusStream)

		v1.GET("/alerts", s.handleAlerts)
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// =============================================================================
// Request and response bodies
// =============================================================================

// ExploreQueryRequest is the body of POST /v1/explore/query.
type ExploreQueryRequest struct {
	ID                         string              `json:"id,omitempty"`
	QueryTimingSameInstanceNum bool                `json:"queryTimingSameInstanceNum"`
	Constraint                 constraint.Document `json:"constraint"`
}

// ExploreQueryResponse answers POST /v1/explore/query.
type ExploreQueryResponse struct {
	ID      string             `json:"id"`
	Results []query.NodeResult `json:"results"`
}

// ReverseRequest is the body of POST /v1/explore/reverse.
type ReverseRequest struct {
	Panels []i2b2.Panel `json:"panels"`
}

// ReverseResponse answers POST /v1/explore/reverse.
type ReverseResponse struct {
	Constraint constraint.Document `json:"constraint"`
}

// PatientListBody is the body of PUT /v1/cohorts/:name/patient-list.
type PatientListBody struct {
	Nodes []network.Node `json:"nodes"`
	Lists [][]int64      `json:"lists"`
}

// StatusEvent is one message of the status stream.
type StatusEvent struct {
	Cohort string                  `json:"cohort"`
	Status cohorts.OperationStatus `json:"status"`
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleExploreQuery(c *gin.Context) {
	var req ExploreQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := query.NewExploreQuery(req.Constraint.Constraint, req.QueryTimingSameInstanceNum)
	if req.ID != "" {
		q.ID = req.ID
	}
	results, err := s.cfg.Query.ExploreQuery(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ExploreQueryResponse{ID: q.ID, Results: results})
}

func (s *Server) handleReverse(c *gin.Context) {
	var req ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.cfg.Reverse.MapPanels(c.Request.Context(), req.Panels, nil, nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ReverseResponse{Constraint: constraint.Document{Constraint: out}})
}

func (s *Server) handleStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, s.cohortsFor(c).Statuses())
}

func (s *Server) handleGetList(c *gin.Context) {
	name := c.Param("name")
	svc := s.cohortsFor(c)

	lists, err := svc.GetList(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	if lists == nil {
		st, _ := svc.Status(name)
		c.JSON(http.StatusAccepted, StatusEvent{Cohort: name, Status: st})
		return
	}
	c.JSON(http.StatusOK, lists)
}

func (s *Server) handleInsertList(c *gin.Context) {
	var body PatientListBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body.Nodes) != len(body.Lists) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nodes and lists differ in length"})
		return
	}
	if err := s.cohortsFor(c).InsertPatientList(c.Param("name"), body.Nodes, body.Lists); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) handleRemoveList(c *gin.Context) {
	s.cohortsFor(c).RemovePatientList(c.Param("name"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.cfg.Alerts == nil {
		c.JSON(http.StatusOK, []alerts.Alert{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Alerts.Alerts())
}

// =============================================================================
// Helpers
// =============================================================================

// requireCohortName rejects requests whose :name is not a valid cohort name.
func requireCohortName() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := validation.ValidateCohortName(c.Param("name")); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) cohortsFor(c *gin.Context) *cohorts.Service {
	return s.cfg.Sessions.For(GetAuthInfo(c))
}

func (s *Server) recordRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.cfg.Metrics.RecordHTTPRequest(route, strconv.Itoa(c.Writer.Status()))
	}
}

// fail writes err with the status code matching its kind.
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", c.FullPath(), "error", err)
	} else {
		s.logger.Warn("request rejected", "route", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var authErr *cohorts.AuthorizationError
	var nodeErr *query.NodeError
	switch {
	case errors.As(err, &authErr), errors.Is(err, extensions.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, cohorts.ErrCohortExists):
		return http.StatusConflict
	case errors.Is(err, mapping.ErrEncryptedItem):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mapping.ErrEmptyPanel),
		errors.Is(err, mapping.ErrEmptyConstraint),
		errors.Is(err, mapping.ErrUnsupportedNesting),
		errors.Is(err, constraint.ErrInvalidJSON),
		errors.Is(err, validation.ErrInvalidCohortName):
		return http.StatusBadRequest
	case errors.Is(err, mapping.ErrConceptNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrQueryTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, network.ErrNoNodes), errors.Is(err, cohorts.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &nodeErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
