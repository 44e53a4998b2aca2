package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/rendis/stepwise/pkg/schema"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	require.NoError(t, cfg.validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeSettings(t, `
log_level: debug
log_format: json
max_parallel: 4
default_timeout: 45s
retry_backoff: exponential
retry_delay: 250ms
retry_max_delay: 5s
http_rate_limit: 2.5
metrics_addr: ":9464"
telemetry:
  enabled: true
  endpoint: localhost:4317
  sample_rate: 0.5
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 2.5, cfg.HTTPRateLimit)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "stepwise", cfg.Telemetry.ServiceName)

	backoff := cfg.backoff()
	assert.Equal(t, schema.BackoffExponential, backoff.Strategy)
	assert.Equal(t, 250*time.Millisecond, backoff.Delay)
	assert.Equal(t, 5*time.Second, backoff.MaxDelay)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	_, err := loadConfig(writeSettings(t, "log_levle: debug\n"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestLoadConfigEmptyFile(t *testing.T) {
	cfg, err := loadConfig(writeSettings(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"negative parallel", func(c *Config) { c.MaxParallel = -1 }},
		{"zero timeout", func(c *Config) { c.DefaultTimeout = 0 }},
		{"backoff", func(c *Config) { c.RetryBackoff = "fibonacci" }},
		{"metrics addr", func(c *Config) { c.MetricsAddr = "not an address" }},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true }},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

// resolveWith runs a bare command carrying the global flags and returns the
// configuration it resolved.
func resolveWith(t *testing.T, args ...string) Config {
	t.Helper()
	var got Config
	cmd := &cli.Command{
		Name:  "probe",
		Flags: globalFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			got = cfg
			return err
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"probe"}, args...)))
	return got
}

func TestResolveConfigLayering(t *testing.T) {
	settings := writeSettings(t, "log_level: warn\nmax_parallel: 2\nretry_delay: 2s\n")

	t.Run("file over defaults", func(t *testing.T) {
		cfg := resolveWith(t, "--config", settings)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 2, cfg.MaxParallel)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("STEPWISE_LOG_LEVEL", "error")
		t.Setenv("STEPWISE_MAX_PARALLEL", "8")
		cfg := resolveWith(t, "--config", settings)
		assert.Equal(t, "error", cfg.LogLevel)
		assert.Equal(t, 8, cfg.MaxParallel)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("STEPWISE_LOG_LEVEL", "error")
		cfg := resolveWith(t, "--config", settings, "--log-level", "debug", "--retry-delay", "10ms")
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 10*time.Millisecond, cfg.RetryDelay)
	})

	t.Run("otel endpoint enables tracing", func(t *testing.T) {
		cfg := resolveWith(t, "--config", settings, "--otel-endpoint", "collector:4317", "--otel-insecure")
		assert.True(t, cfg.Telemetry.Enabled)
		assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
		assert.True(t, cfg.Telemetry.Insecure)
	})
}
