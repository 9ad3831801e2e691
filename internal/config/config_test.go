package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/sante.db
jwt:
  secret: file-secret
  expiry_hours: 2
access:
  grant_validity: 48h
pin:
  max_attempts: 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/sante.db", cfg.Database.Path)
	assert.Equal(t, 48*time.Hour, cfg.Access.GrantValidity)
	assert.Equal(t, 3, cfg.PIN.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.PIN.Lockout)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL())
	assert.Equal(t, "access-grants", cfg.Outbox.Channel)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: file-secret
`)
	t.Setenv("SANTE_JWT_SECRET", "env-secret")
	t.Setenv("SANTE_DATABASE_URL", "postgres://sante@db/sante")
	t.Setenv("SANTE_PORT", "7000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "postgres://sante@db/sante", cfg.Database.URL)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
jwt:
  secret: s
`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "database.driver")

	path = writeConfig(t, "server:\n  port: 1\n")
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "jwt.secret")
}
