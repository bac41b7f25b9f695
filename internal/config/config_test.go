// ABOUTME: Tests for configuration loading, defaults, and validation
// ABOUTME: Covers env var expansion and duration parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
database:
  path: /tmp/glasshouse.db
agent:
  command: claude
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/glasshouse.db", cfg.Database.Path)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, "127.0.0.1:8265", cfg.Server.HTTPAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: 0.0.0.0:9000
database:
  path: /var/lib/glasshouse/state.db
agent:
  command: claude
  args: ["--output-format", "stream-json"]
  working_dir: /srv/workspaces
auth:
  jwt_secret: super-secret
  token_ttl: 2h
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"--output-format", "stream-json"}, cfg.Agent.Args)
	assert.Equal(t, "/srv/workspaces", cfg.Agent.WorkingDir)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("GLASSHOUSE_TEST_SECRET", "from-env")
	t.Setenv("GLASSHOUSE_TEST_DB", "/tmp/env.db")

	cfg, err := Load(writeConfig(t, `
database:
  path: ${GLASSHOUSE_TEST_DB}
agent:
  command: claude
auth:
  jwt_secret: ${GLASSHOUSE_TEST_SECRET}
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: ${GLASSHOUSE_DEFINITELY_UNSET_VAR}
agent:
  command: claude
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_MissingAgentCommand(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/x.db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.command is required")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
logging:
  level: verbose
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
logging:
  format: xml
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoad_InvalidTokenTTL(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
auth:
  token_ttl: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_ttl")
}
