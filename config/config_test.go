package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsplane/opsplane/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "OPS_STATUS", cfg.Streams.StatusStream)
	assert.Equal(t, "ops.status", cfg.Streams.StatusSubjectPrefix)
	assert.Equal(t, 2, cfg.Consumer.Count)
	assert.Equal(t, time.Hour, cfg.Consumer.MaxLockDuration.Std())
	assert.Equal(t, 15*time.Second, cfg.Consumer.RenewInterval.Std())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"nats": {"url": "nats://broker:4222"},
		"consumer": {"count": 4, "renewInterval": "5s", "maxLockDuration": "10m"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 4, cfg.Consumer.Count)
	assert.Equal(t, 5*time.Second, cfg.Consumer.RenewInterval.Std())
	assert.Equal(t, 10*time.Minute, cfg.Consumer.MaxLockDuration.Std())
	// Untouched sections keep their defaults.
	assert.Equal(t, "OPS_DEPLOY", cfg.Streams.DeployStream)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nats": {"url": "nats://file:4222"}}`), 0o600))

	t.Setenv("OPSPLANE_NATS_URL", "nats://env:4222")
	t.Setenv("OPSPLANE_CONSUMER_COUNT", "8")
	t.Setenv("OPSPLANE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 8, cfg.Consumer.Count)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"zero consumers", func(c *Config) { c.Consumer.Count = 0 }},
		{"negative renew interval", func(c *Config) { c.Consumer.RenewInterval = Duration(-time.Second) }},
		{"lock shorter than renew", func(c *Config) { c.Consumer.MaxLockDuration = Duration(time.Second) }},
		{"empty status stream", func(c *Config) { c.Streams.StatusStream = "" }},
		{"empty sessions bucket", func(c *Config) { c.Streams.SessionsBucket = "" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())

	out, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"5m0s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}
