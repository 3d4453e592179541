package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/ecs-deploy/internal/shell/ecs"
	"github.com/artpar/ecs-deploy/internal/shell/metrics"
	"github.com/artpar/ecs-deploy/internal/shell/notify"
	"github.com/artpar/ecs-deploy/internal/shell/workers"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Log     LogConfig     `mapstructure:"log"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AWSConfig holds AWS access configuration. Empty values fall back to the
// standard AWS environment and shared config files.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// RateLimit is the number of ECS API calls per second shared by all
	// deploy-many workers. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// ECS converts the section to the gateway configuration.
func (c AWSConfig) ECS() ecs.Config {
	return ecs.Config{
		Region:          c.Region,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		RateLimit:       c.RateLimit,
		Burst:           c.Burst,
	}
}

// DeployConfig holds deployment defaults.
type DeployConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// WorkerCount, JitterMin and JitterMax configure deploy-many.
	WorkerCount int           `mapstructure:"worker_count"`
	JitterMin   time.Duration `mapstructure:"jitter_min"`
	JitterMax   time.Duration `mapstructure:"jitter_max"`
}

// FanOut converts the section to the fan-out configuration.
func (c DeployConfig) FanOut() workers.FanOutConfig {
	return workers.FanOutConfig{
		Workers:   c.WorkerCount,
		JitterMin: c.JitterMin,
		JitterMax: c.JitterMax,
	}
}

// SlackConfig holds notification configuration.
type SlackConfig struct {
	// Enabled switches notifications on or off explicitly. Unset means on
	// whenever a token or webhook endpoint is configured.
	Enabled         *bool  `mapstructure:"enabled"`
	Muted           bool   `mapstructure:"muted"`
	Token           string `mapstructure:"token"`
	WebhookEndpoint string `mapstructure:"webhook_endpoint"`
	Channel         string `mapstructure:"channel"`
	BaseURL         string `mapstructure:"base_url"`
	ConsoleRegion   string `mapstructure:"console_region"`
}

// Notify converts the section to the notifier configuration.
func (c SlackConfig) Notify() notify.SlackConfig {
	cfg := notify.DefaultSlackConfig()
	cfg.Enabled = c.Token != "" || c.WebhookEndpoint != ""
	if c.Enabled != nil {
		cfg.Enabled = *c.Enabled
	}
	cfg.Muted = c.Muted
	cfg.Token = c.Token
	cfg.WebhookEndpoint = c.WebhookEndpoint
	if c.Channel != "" {
		cfg.Channel = c.Channel
	}
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.ConsoleRegion != "" {
		cfg.ConsoleRegion = c.ConsoleRegion
	}
	return cfg
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// JournalConfig holds the deployment journal configuration.
// An empty DSN disables the journal.
type JournalConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig holds Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Recorder converts the section to the metrics configuration.
func (c MetricsConfig) Recorder() metrics.Config {
	return metrics.Config{
		PushgatewayURL: c.PushgatewayURL,
		Job:            c.Job,
	}
}

// =============================================================================
// Config Loading
// =============================================================================

// legacyEnv maps config keys to the environment names used by earlier
// releases of the tool.
var legacyEnv = map[string]string{
	"slack.token":            "SLACK_TOKEN",
	"slack.webhook_endpoint": "SLACK_WEBHOOK_ENDPOINT",
	"slack.channel":          "SLACK_CHANNEL",
	"slack.muted":            "SLACK_MUTED",
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.rate_limit", 10)
	v.SetDefault("aws.burst", 5)
	v.SetDefault("deploy.timeout", "900s")
	v.SetDefault("deploy.poll_interval", "30s")
	v.SetDefault("deploy.worker_count", 16)
	v.SetDefault("deploy.jitter_min", "1s")
	v.SetDefault("deploy.jitter_max", "15s")
	v.SetDefault("slack.muted", false)
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.webhook_endpoint", "")
	v.SetDefault("slack.channel", "test")
	v.SetDefault("slack.base_url", "https://slack.com/api")
	v.SetDefault("slack.console_region", "us-west-2")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "ecs-deploy")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("ECS_DEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// slack.enabled has no default so that an unset value stays nil.
	if err := v.BindEnv("slack.enabled"); err != nil {
		return nil, fmt.Errorf("failed to bind slack.enabled: %w", err)
	}

	// The prefixed name wins over the legacy one.
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, "ECS_DEPLOY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so that they never interleave with the progress output on stdout.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
