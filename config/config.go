// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config provides configuration loading for an Ockam node: vault
// and identity storage, which transports to bind and dial, secure channel
// defaults, the forwarding hub to register with, and ambient logging and
// metrics settings.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration, usually loaded from a YAML
// file named after the running environment (e.g. config/production.yaml).
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Vault       VaultConfig       `yaml:"vault" json:"vault"`
	Identity    IdentityConfig    `yaml:"identity" json:"identity"`
	Transports  []TransportConfig `yaml:"transports" json:"transports"`
	Channel     ChannelConfig     `yaml:"channel" json:"channel"`
	Portal      []PortalConfig    `yaml:"portals" json:"portals"`
	Forwarder   ForwarderConfig   `yaml:"forwarder" json:"forwarder"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      HealthConfig      `yaml:"health" json:"health"`
}

// VaultConfig selects where signing and secret-exchange key material lives.
type VaultConfig struct {
	Type      string `yaml:"type" json:"type"` // memory, file
	Directory string `yaml:"directory" json:"directory"`
}

// IdentityConfig controls the node's own identity and the trust policy
// applied to peers during a secure channel handshake.
type IdentityConfig struct {
	// Alias names the identity's signing key within the vault.
	Alias              string        `yaml:"alias" json:"alias"`
	CredentialTTL      time.Duration `yaml:"credential_ttl" json:"credential_ttl"`
	RequireCredential  bool          `yaml:"require_credential" json:"require_credential"`
	TrustedAuthorities []string      `yaml:"trusted_authorities" json:"trusted_authorities"`
}

// TransportConfig describes one listener or dialer this node exposes.
type TransportConfig struct {
	Kind string `yaml:"kind" json:"kind"` // tcp, udp, websocket
	// BindAddr, if set, makes this transport listen for inbound connections.
	BindAddr string `yaml:"bind_addr,omitempty" json:"bind_addr,omitempty"`
}

// ChannelConfig sets defaults for every secure channel this node negotiates.
type ChannelConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	RekeyAfter       time.Duration `yaml:"rekey_after" json:"rekey_after"`
}

// PortalConfig describes one inlet this node should listen on, bridging it
// to an outlet reachable via OutletRoute.
type PortalConfig struct {
	Name        string   `yaml:"name" json:"name"`
	BindAddr    string   `yaml:"bind_addr" json:"bind_addr"`
	OutletRoute []string `yaml:"outlet_route" json:"outlet_route"`
	MaxPayload  int      `yaml:"max_payload" json:"max_payload"`
}

// ForwarderConfig controls whether this node registers a RemoteForwarder
// with a forwarding hub on startup.
type ForwarderConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	HubRoute          []string      `yaml:"hub_route" json:"hub_route"`
	Alias             string        `yaml:"alias" json:"alias"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
}

// LoggingConfig controls the node's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the liveness/readiness HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile reads and parses a YAML config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidationIssue is one problem ValidateConfiguration found. Level "error"
// fails loading; anything else is advisory only.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks cfg for combinations the node cannot start
// with (a portal without bind_addr, an empty forwarder hub route) and
// combinations that are merely surprising (metrics disabled in production).
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Forwarder.Enabled && len(cfg.Forwarder.HubRoute) == 0 {
		issues = append(issues, ValidationIssue{
			Field:   "forwarder.hub_route",
			Message: "forwarder is enabled but hub_route is empty",
			Level:   "error",
		})
	}

	seen := make(map[string]bool, len(cfg.Portal))
	for _, p := range cfg.Portal {
		if p.BindAddr == "" {
			issues = append(issues, ValidationIssue{
				Field:   "portals[" + p.Name + "].bind_addr",
				Message: "portal has no bind_addr",
				Level:   "error",
			})
		}
		if seen[p.Name] {
			issues = append(issues, ValidationIssue{
				Field:   "portals[" + p.Name + "]",
				Message: "duplicate portal name",
				Level:   "error",
			})
		}
		seen[p.Name] = true
	}

	if cfg.Environment == "production" && !cfg.Metrics.Enabled {
		issues = append(issues, ValidationIssue{
			Field:   "metrics.enabled",
			Message: "metrics are disabled in production",
			Level:   "warning",
		})
	}

	return issues
}

// setDefaults fills in zero-valued fields with sane node defaults.
func setDefaults(cfg *Config) {
	if cfg.Vault.Type == "" {
		cfg.Vault.Type = "memory"
	}
	if cfg.Channel.HandshakeTimeout == 0 {
		cfg.Channel.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Forwarder.HeartbeatInterval == 0 {
		cfg.Forwarder.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9091"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
