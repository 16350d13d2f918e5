// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"time"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/query"
	"github.com/lca1/glowing-bear/services/explore/resolver"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// Config is the content of ~/.glowingbear/config.yaml.
type Config struct {
	Version   string          `yaml:"version"`
	Nodes     []NodeConfig    `yaml:"nodes" validate:"required,min=1,dive"`
	User      UserConfig      `yaml:"user"`
	Query     QueryConfig     `yaml:"query"`
	Transport TransportConfig `yaml:"transport"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// NodeConfig is one federation node.
type NodeConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// UserConfig is the local session.
type UserConfig struct {
	Name  string   `yaml:"name" validate:"required"`
	Roles []string `yaml:"roles" validate:"dive,oneof=patient_list count_per_site"`

	// Token authenticates the user against the nodes and the gateway.
	Token string `yaml:"token"`
}

// QueryConfig bounds explore queries.
type QueryConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// TransportConfig tunes the node HTTP client. Timeout bounds ontology
// searches and patient-list requests; explore queries use Query.Timeout.
type TransportConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// ResolverConfig configures the ontology lookup cache.
type ResolverConfig struct {
	// CacheDir holds the persistent cache. Empty keeps it in memory.
	CacheDir string        `yaml:"cacheDir"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// GatewayConfig configures the serve command.
type GatewayConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// AllowedOrigins are browser origins allowed to open the status
	// websocket besides the gateway's own host.
	AllowedOrigins []string `yaml:"allowedOrigins" validate:"dive,url"`
}

// TelemetryConfig selects the trace exporter of the serve command.
type TelemetryConfig struct {
	// OTelEndpoint is an OTLP gRPC collector address. Empty disables OTLP.
	OTelEndpoint string `yaml:"otelEndpoint" validate:"omitempty,hostname_port"`

	// Stdout prints spans to stdout when no endpoint is set.
	Stdout bool `yaml:"stdout"`
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() Config {
	return Config{
		Version: CurrentConfigVersion,
		Nodes: []NodeConfig{
			{Name: "node-0", URL: "http://localhost:8090"},
		},
		User: UserConfig{
			Name:  "test",
			Roles: []string{extensions.RolePatientList},
			Token: "change-me",
		},
		Query:     QueryConfig{Timeout: query.DefaultTimeout},
		Transport: TransportConfig{Timeout: 2 * time.Minute, Burst: 10},
		Resolver:  ResolverConfig{CacheDir: "~/.glowingbear/resolver", TTL: resolver.DefaultTTL},
		Logging:   LoggingConfig{Level: "info"},
		Gateway:   GatewayConfig{Port: 8080},
	}
}

// NetworkNodes converts the node list.
func (c Config) NetworkNodes() []network.Node {
	out := make([]network.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = network.Node{Index: i, Name: n.Name, URL: n.URL}
	}
	return out
}

// AuthInfo returns the configured session.
func (c Config) AuthInfo() extensions.AuthInfo {
	return extensions.AuthInfo{
		UserID: c.User.Name,
		Roles:  append([]string(nil), c.User.Roles...),
	}
}

// TransportOptions returns the node client options.
func (c Config) TransportOptions(logger *logging.Logger) transport.Options {
	return transport.Options{
		Timeout:           c.Transport.Timeout,
		RequestsPerSecond: c.Transport.RequestsPerSecond,
		Burst:             c.Transport.Burst,
		Token:             transport.StaticToken(c.User.Token),
		Logger:            logger,
	}
}

// LoggerConfig returns the pkg/logging config for service.
func (c Config) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format := logging.FormatAuto
	if c.Logging.JSON {
		format = logging.FormatJSON
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		Format:  format,
	}
}
