package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofquorum/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PROOFQUORUM_DATABASE_URL", "")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)

	assert.Empty(t, cfg.Database.URL)
	assert.EqualValues(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.EqualValues(t, 3, cfg.Consensus.RetryAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Consensus.RetryBase)
	assert.Equal(t, 10*time.Second, cfg.Hooks.Timeout)
	assert.EqualValues(t, 5, cfg.Hooks.BreakerFailures)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 20, cfg.Queue.DefaultLimit)
	assert.Equal(t, 100, cfg.Queue.MaxLimit)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PROOFQUORUM_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://fallback/db")
	t.Setenv("PROOFQUORUM_LOG_LEVEL", "debug")
	t.Setenv("PROOFQUORUM_OUTBOX_BATCH_SIZE", "7")
	t.Setenv("PROOFQUORUM_CONSENSUS_RETRY_BASE", "100ms")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback/db", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Outbox.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Consensus.RetryBase)
}

func TestLoad_PrefixedDatabaseURLWins(t *testing.T) {
	t.Setenv("PROOFQUORUM_DATABASE_URL", "postgres://primary/db")
	t.Setenv("DATABASE_URL", "postgres://fallback/db")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://primary/db", cfg.Database.URL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proofd.yaml")
	body := []byte("log:\n  format: console\nqueue:\n  default_limit: 5\n  max_limit: 10\nhooks:\n  timeout: 3s\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := config.Load(config.NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Queue.DefaultLimit)
	assert.Equal(t, 10, cfg.Queue.MaxLimit)
	assert.Equal(t, 3*time.Second, cfg.Hooks.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(config.NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	v := config.NewViper()
	v.Set("log.level", "loud")
	v.Set("log.format", "xml")
	v.Set("queue.default_limit", 50)
	v.Set("queue.max_limit", 10)

	_, err := config.Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "queue limits")
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	log, err := config.LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("dropped")
	log.Warn().Str("proof_id", "p1").Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"proof_id":"p1"`)

	_, err = config.LogConfig{Level: "loud"}.Logger(&buf)
	assert.Error(t, err)
}
