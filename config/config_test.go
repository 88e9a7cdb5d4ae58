package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "node.yaml", `
environment: staging
vault:
  type: file
  directory: /var/lib/ockam/vault
identity:
  alias: edge-1
transports:
  - kind: tcp
    bind_addr: "0.0.0.0:4000"
forwarder:
  enabled: true
  hub_route: ["hub"]
  alias: edge-1
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "file", cfg.Vault.Type)
	assert.Equal(t, "edge-1", cfg.Identity.Alias)
	require.Len(t, cfg.Transports, 1)
	assert.Equal(t, "tcp", cfg.Transports[0].Kind)
	assert.True(t, cfg.Forwarder.Enabled)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "memory", cfg.Vault.Type)
	assert.Equal(t, 10*time.Second, cfg.Channel.HandshakeTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("OCKAM_TEST_DIR", "/tmp/ockam")

	out := SubstituteEnvVars("${OCKAM_TEST_DIR}/vault")
	assert.Equal(t, "/tmp/ockam/vault", out)

	out = SubstituteEnvVars("${OCKAM_TEST_MISSING:/default/path}")
	assert.Equal(t, "/default/path", out)
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("OCKAM_TEST_ALIAS", "resolved-alias")

	cfg := &Config{Identity: IdentityConfig{Alias: "${OCKAM_TEST_ALIAS}"}}
	SubstituteEnvVarsInConfig(cfg)
	assert.Equal(t, "resolved-alias", cfg.Identity.Alias)
}

func TestValidateConfigurationCatchesMissingHubRoute(t *testing.T) {
	cfg := &Config{Forwarder: ForwarderConfig{Enabled: true}}
	issues := ValidateConfiguration(cfg)

	require.Len(t, issues, 1)
	assert.Equal(t, "error", issues[0].Level)
	assert.Equal(t, "forwarder.hub_route", issues[0].Field)
}

func TestValidateConfigurationCatchesDuplicatePortals(t *testing.T) {
	cfg := &Config{Portal: []PortalConfig{
		{Name: "web", BindAddr: "127.0.0.1:8080"},
		{Name: "web", BindAddr: "127.0.0.1:8081"},
	}}
	issues := ValidateConfiguration(cfg)

	found := false
	for _, i := range issues {
		if i.Message == "duplicate portal name" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLoadFallsBackToDefaultsWithoutAnyFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test"})
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "memory", cfg.Vault.Type)
}

func TestEnvironmentHelpers(t *testing.T) {
	t.Setenv("OCKAM_ENV", "production")
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}
