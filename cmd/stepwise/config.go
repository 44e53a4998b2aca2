package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/telemetry"
	"github.com/rendis/stepwise/pkg/schema"
)

// Config holds all stepwise CLI configuration.
// Priority: flags > env vars > settings.yaml > defaults.
type Config struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	MaxParallel    int           `yaml:"max_parallel" validate:"gte=0"`
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gt=0"`
	RetryBackoff   string        `yaml:"retry_backoff" validate:"oneof=constant linear exponential"`
	RetryDelay     time.Duration `yaml:"retry_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gte=0"`

	HTTPRateLimit float64 `yaml:"http_rate_limit" validate:"gte=0"`
	HTTPBurst     int     `yaml:"http_burst" validate:"gte=0"`

	HistoryDB   string `yaml:"history_db"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "text",
		DefaultTimeout: engine.DefaultStepTimeout,
		RetryBackoff:   string(schema.BackoffConstant),
		RetryDelay:     time.Second,
		HistoryDB:      filepath.Join(stepwiseDir(), "history.db"),
		Telemetry: telemetry.Config{
			ServiceName: "stepwise",
			SampleRate:  1,
		},
	}
}

func stepwiseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepwise"
	}
	return filepath.Join(home, ".stepwise")
}

func settingsPath() string {
	return filepath.Join(stepwiseDir(), "settings.yaml")
}

// loadConfig layers the settings file over the defaults. A missing file is
// not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = settingsPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read settings %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, schema.NewErrorf(schema.ErrCodeValidation, "parse settings %s: %v", path, err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag that was set on the command line
// or through its STEPWISE_* environment variable.
func applyFlags(cfg *Config, cmd *cli.Command) {
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
	if cmd.IsSet("max-parallel") {
		cfg.MaxParallel = cmd.Int("max-parallel")
	}
	if cmd.IsSet("timeout") {
		cfg.DefaultTimeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("retry-backoff") {
		cfg.RetryBackoff = cmd.String("retry-backoff")
	}
	if cmd.IsSet("retry-delay") {
		cfg.RetryDelay = cmd.Duration("retry-delay")
	}
	if cmd.IsSet("history-db") {
		cfg.HistoryDB = cmd.String("history-db")
	}
	if cmd.IsSet("metrics-addr") {
		cfg.MetricsAddr = cmd.String("metrics-addr")
	}
	if cmd.IsSet("otel-endpoint") {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = cmd.String("otel-endpoint")
	}
	if cmd.IsSet("otel-insecure") {
		cfg.Telemetry.Insecure = cmd.Bool("otel-insecure")
	}
	if cmd.IsSet("otel-sample-rate") {
		cfg.Telemetry.SampleRate = cmd.Float("otel-sample-rate")
	}
}

func (c Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid configuration: %v", err).WithCause(err)
	}
	return nil
}

// backoff is the engine policy used when a definition has no retry block.
func (c Config) backoff() engine.BackoffPolicy {
	return engine.BackoffPolicy{
		Strategy: schema.BackoffStrategy(c.RetryBackoff),
		Delay:    c.RetryDelay,
		MaxDelay: c.RetryMaxDelay,
	}
}

func (c Config) builtinConfig() actions.BuiltinConfig {
	return actions.BuiltinConfig{
		HTTP: actions.HTTPConfig{
			RequestsPerSecond: c.HTTPRateLimit,
			Burst:             c.HTTPBurst,
		},
	}
}

// globalFlags are shared by every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to settings file (default ~/.stepwise/settings.yaml)",
			Sources: cli.EnvVars("STEPWISE_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("STEPWISE_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Sources: cli.EnvVars("STEPWISE_LOG_FORMAT"),
		},
		&cli.IntFlag{
			Name:    "max-parallel",
			Usage:   "Cap on concurrently running parallel steps (0 = unbounded)",
			Sources: cli.EnvVars("STEPWISE_MAX_PARALLEL"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Per-attempt timeout for steps that declare none",
			Sources: cli.EnvVars("STEPWISE_DEFAULT_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "retry-backoff",
			Usage:   "Backoff between attempts (constant, linear, exponential)",
			Sources: cli.EnvVars("STEPWISE_RETRY_BACKOFF"),
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "Base delay between attempts",
			Sources: cli.EnvVars("STEPWISE_RETRY_DELAY"),
		},
		&cli.StringFlag{
			Name:    "history-db",
			Usage:   "Path to the run history database",
			Sources: cli.EnvVars("STEPWISE_HISTORY_DB"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Listen address for the Prometheus /metrics endpoint",
			Sources: cli.EnvVars("STEPWISE_METRICS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "otel-endpoint",
			Usage:   "OTLP gRPC endpoint; enables tracing when set",
			Sources: cli.EnvVars("STEPWISE_OTEL_ENDPOINT"),
		},
		&cli.BoolFlag{
			Name:    "otel-insecure",
			Usage:   "Disable TLS for the OTLP exporter",
			Sources: cli.EnvVars("STEPWISE_OTEL_INSECURE"),
		},
		&cli.FloatFlag{
			Name:    "otel-sample-rate",
			Usage:   "Fraction of runs to trace (0..1)",
			Sources: cli.EnvVars("STEPWISE_OTEL_SAMPLE_RATE"),
		},
	}
}

// resolveConfig builds the effective configuration for a command.
func resolveConfig(cmd *cli.Command) (Config, error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, cmd)
	return cfg, cfg.validate()
}
