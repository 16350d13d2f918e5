// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lca1/glowing-bear/cmd/glowingbear/config"
	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
	"github.com/lca1/glowing-bear/services/explore/gateway"
	"github.com/lca1/glowing-bear/services/explore/mocknode"
	"github.com/lca1/glowing-bear/services/explore/observability"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// serve
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local explore gateway",
		Long: `Serves explore queries, reverse mapping and the cohort patient-list
cache over HTTP for a UI. Node changes in the config file are applied
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == 0 {
				port = a.cfg.Gateway.Port
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			return wrapCommandError("serve", a.runServe(cmd.Context(), addr))
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "address to listen on")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config)")
	return cmd
}

func (a *app) runServe(ctx context.Context, addr string) error {
	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:  gateway.ServiceName,
		OTLPEndpoint: a.cfg.Telemetry.OTelEndpoint,
		Stdout:       a.cfg.Telemetry.Stdout,
		Registerer:   reg,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics := observability.NewMetrics(reg)
	e, err := newExplorer(a.cfg, a.logger, metrics)
	if err != nil {
		return err
	}
	defer e.close()

	audit := extensions.NewLogAuditLogger(a.logger.With("component", "audit"))
	sessions := gateway.NewSessions(func(session cohorts.Session) *cohorts.Service {
		return e.newCohorts(session, audit)
	})
	defer sessions.Close()

	srv := gateway.New(gateway.Config{
		Query:          e.query,
		Reverse:        e.reverse,
		Sessions:       sessions,
		Auth:           extensions.NewStaticTokenProvider(a.cfg.User.Token, a.cfg.AuthInfo()),
		Alerts:         e.alerts,
		Metrics:        metrics,
		Gatherer:       reg,
		AllowedOrigins: a.cfg.Gateway.AllowedOrigins,
		Logger:         a.logger,
	})

	watcher, err := config.NewWatcher(a.configPath, func(cfg config.Config) {
		if err := e.applyConfig(cfg); err != nil {
			a.logger.Warn("node list not applied", "error", err)
			return
		}
		a.logger.Info("node list updated", "nodes", e.nodes.Len())
	}, config.DefaultDebounce, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("config watch disabled", "error", err)
	}
	defer watcher.Stop()

	a.printer.Success("gateway listening on http://" + addr)
	return serveHTTP(ctx, &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, a.logger)
}

// =============================================================================
// mock-node
// =============================================================================

func newMockNodeCmd(a *app) *cobra.Command {
	var (
		datasetPath string
		addr        string
		cfg         mocknode.Config
	)

	cmd := &cobra.Command{
		Use:   "mock-node",
		Short: "Serve a YAML dataset as a federation node",
		Long: `Runs a node answering the explore, patient-list and ontology search
endpoints from a local dataset file. Answers are encoded with the plain
development scheme.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := mocknode.LoadDataset(datasetPath)
			if err != nil {
				return &CommandError{Command: "mock-node", ExitCode: exitUsage, Wrapped: err}
			}
			gin.SetMode(gin.ReleaseMode)
			cfg.Logger = a.logger
			node := mocknode.New(ds, cfg)

			a.printer.Success(fmt.Sprintf("%s serving %d patients on http://%s", cfg.Name, len(ds.Patients), addr))
			return wrapCommandError("mock-node", serveHTTP(cmd.Context(), &http.Server{
				Addr:              addr,
				Handler:           node.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}, a.logger))
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "dataset YAML file")
	cmd.Flags().StringVar(&addr, "addr", "localhost:8090", "address to listen on")
	cmd.Flags().StringVar(&cfg.Name, "name", "node-0", "node name")
	cmd.Flags().StringVar(&cfg.Token, "token", "", "bearer token required from clients")
	cmd.Flags().BoolVar(&cfg.DenyPatientLists, "deny-patient-lists", false, "answer patient-list requests with 403")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "addr", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
