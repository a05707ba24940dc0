package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/papertrader")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadAppliesDefaultsWithoutOverrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.Pipeline.ExecutorAutoExecute)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrentBots)
}

func TestLoadFailsWithoutDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFailsWithoutJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/papertrader")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFailsOnInvalidExecutorThreshold(t *testing.T) {
	requiredEnv(t)
	t.Setenv("EXECUTOR_AUTO_EXECUTE_THRESHOLD", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesYAMLFileAsDefaultLayer(t *testing.T) {
	requiredEnv(t)

	path := filepath.Join(t.TempDir(), "papertrader.yaml")
	yaml := []byte("risk:\n  max_daily_loss: 12000\n  max_consecutive_losses: 9\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 9, cfg.Risk.MaxConsecutiveLosses)
}

func TestLoadEnvVarOverridesYAMLFile(t *testing.T) {
	requiredEnv(t)

	path := filepath.Join(t.TempDir(), "papertrader.yaml")
	yaml := []byte("risk:\n  max_daily_loss: 12000\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RISK_MAX_DAILY_LOSS", "99999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 99999.0, cfg.Risk.MaxDailyLoss)
}

func TestLoadFailsOnUnreadableConfigFile(t *testing.T) {
	requiredEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
