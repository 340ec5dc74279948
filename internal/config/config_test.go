package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, found, err := Load(New())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Lock.Threshold)
	assert.Zero(t, cfg.Petitions.ApprovalTTL)
	assert.True(t, cfg.Audit.RecordFailures)
	assert.Equal(t, 8*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "http://localhost:8080", cfg.IssuerURL())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "configs"), 0o755))
	yaml := `
server:
  port: 9090
database:
  driver: SQLite
  sqlite_path: /tmp/x.db
lock:
  threshold: 12h
petitions:
  approval_ttl: 1h
audit:
  record_failures: false
auth:
  issuer: https://stayward.example
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "stayward.yaml"), []byte(yaml), 0o644))

	cfg, found, err := Load(New())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLitePath)
	assert.Equal(t, 12*time.Hour, cfg.Lock.Threshold)
	assert.Equal(t, time.Hour, cfg.Petitions.ApprovalTTL)
	assert.False(t, cfg.Audit.RecordFailures)
	assert.Equal(t, "https://stayward.example", cfg.IssuerURL())
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOCK_THRESHOLD", "48h")
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg, _, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Lock.Threshold)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"DATABASE_DRIVER":        "mysql",
		"LOCK_THRESHOLD":         "soon",
		"PETITIONS_APPROVAL_TTL": "-1h",
		"SERVER_PORT":            "0",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(env, val)
			_, _, err := Load(New())
			assert.Error(t, err)
		})
	}
}
