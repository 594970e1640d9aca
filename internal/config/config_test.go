package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  bind_addr: ":9999"
rate_limit:
  pre_auth_messages: 5
court:
  arbiter_stake: 40
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.BindAddr)
	assert.Equal(t, 5, cfg.RateLimit.PreAuthMessages)
	assert.Equal(t, 40, cfg.Court.ArbiterStake)
}

func TestLoadConfig_MissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_FillsOnlyZeroFields(t *testing.T) {
	cfg := &Config{}
	cfg.Server.BindAddr = ":1234"
	cfg.applyDefaults()

	assert.Equal(t, ":1234", cfg.Server.BindAddr, "an explicitly set field must not be overwritten")
	assert.Equal(t, 256*1024, cfg.Server.FrameMaxBytes)
	assert.Equal(t, 4096, cfg.Server.ContentMaxChars)
	assert.Equal(t, 20, cfg.Server.PerIPConnCap)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.PreAuthWindow)
	assert.Equal(t, 25, cfg.Court.ArbiterStake)
	assert.Equal(t, 1200, cfg.Court.MinArbiterRating)
	assert.Equal(t, "file", cfg.Ratings.Backend)
	assert.Equal(t, "ratings.json", cfg.Ratings.FilePath)
	assert.Equal(t, ":9090", cfg.Metrics.BindAddr)
	assert.Equal(t, "agentchat:events", cfg.Events.RedisChannel)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8788", cfg.Admin.HTTPAddr)
}

func TestApplyEnvOverrides_TakesPriorityOverFileValue(t *testing.T) {
	cfg := &Config{}
	cfg.Server.BindAddr = ":1234"

	t.Setenv("RELAY_BIND_ADDR", ":5555")
	t.Setenv("RELAY_ADMIN_KEY", "super-secret")
	t.Setenv("RELAY_METRICS_ENABLED", "1")
	t.Setenv("RELAY_FRAME_MAX_BYTES", "999")

	cfg.applyEnvOverrides()
	assert.Equal(t, ":5555", cfg.Server.BindAddr)
	assert.Equal(t, "super-secret", cfg.Admin.Key)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 999, cfg.Server.FrameMaxBytes)
}

func TestGetEnvBool_AcceptsTrueAnd1Only(t *testing.T) {
	t.Setenv("TEST_BOOL_FLAG", "true")
	assert.True(t, getEnvBool("TEST_BOOL_FLAG", false))

	t.Setenv("TEST_BOOL_FLAG", "yes")
	assert.False(t, getEnvBool("TEST_BOOL_FLAG", false), "only \"true\" or \"1\" are recognized")
}

func TestGetEnvInt_FallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("TEST_INT_FLAG", "not-a-number")
	assert.Equal(t, 7, getEnvInt("TEST_INT_FLAG", 7))
}
