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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9090
  read_timeout: 5s
database:
  dsn: postgres://localhost/credentials
secret_store:
  address: https://vault:8200
  token: file-token
  mount: kv
auth:
  jwt_secret: file-secret
sweeper:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, "kv", cfg.SecretStore.Mount)
	assert.False(t, cfg.Sweeper.Enabled)
	assert.Equal(t, "credentials", cfg.Engine.PathPrefix, "defaults survive partial files")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/file
secret_store:
  address: https://vault:8200
  token: file-token
auth:
  jwt_secret: file-secret
`)
	t.Setenv("DATABASE_URL", "postgres://localhost/env")
	t.Setenv("VAULT_TOKEN", "env-token")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/env", cfg.Database.DSN)
	assert.Equal(t, "env-token", cfg.SecretStore.Token)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestValidateMissingRequiredValues(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/credentials
secret_store:
  address: https://vault:8200
  token: t
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret")
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/env")
	t.Setenv("VAULT_ADDR", "https://vault:8200")
	t.Setenv("VAULT_TOKEN", "t")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "@hourly", cfg.Sweeper.Schedule)
}
