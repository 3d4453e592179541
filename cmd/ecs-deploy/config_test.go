package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/ecs-deploy/internal/shell/notify"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 900*time.Second, cfg.Deploy.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Deploy.PollInterval)
	assert.Equal(t, 16, cfg.Deploy.WorkerCount)
	assert.Equal(t, time.Second, cfg.Deploy.JitterMin)
	assert.Equal(t, 15*time.Second, cfg.Deploy.JitterMax)
	assert.Equal(t, 10.0, cfg.AWS.RateLimit)
	assert.Equal(t, 5, cfg.AWS.Burst)
	assert.Nil(t, cfg.Slack.Enabled)
	assert.False(t, cfg.Slack.Notify().Enabled)
	assert.Equal(t, "test", cfg.Slack.Channel)
	assert.Equal(t, "us-west-2", cfg.Slack.ConsoleRegion)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Journal.DSN)
	assert.Equal(t, "ecs-deploy", cfg.Metrics.Job)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	content := `
aws:
  region: eu-central-1
  profile: deployer
deploy:
  timeout: 600s
  worker_count: 4
slack:
  enabled: true
  token: xoxb-file
  channel: deploys
journal:
  dsn: /var/lib/ecs-deploy/journal.db
log:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
	assert.Equal(t, "deployer", cfg.AWS.Profile)
	assert.Equal(t, 600*time.Second, cfg.Deploy.Timeout)
	assert.Equal(t, 4, cfg.Deploy.WorkerCount)
	require.NotNil(t, cfg.Slack.Enabled)
	assert.True(t, *cfg.Slack.Enabled)
	assert.Equal(t, "xoxb-file", cfg.Slack.Token)
	assert.Equal(t, "deploys", cfg.Slack.Channel)
	assert.Equal(t, "/var/lib/ecs-deploy/journal.db", cfg.Journal.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("ECS_DEPLOY_AWS_REGION", "us-east-1")
	t.Setenv("ECS_DEPLOY_DEPLOY_POLL_INTERVAL", "5s")
	t.Setenv("ECS_DEPLOY_METRICS_PUSHGATEWAY_URL", "http://pushgateway:9091")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, 5*time.Second, cfg.Deploy.PollInterval)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushgatewayURL)
}

func TestLoadConfig_LegacySlackEnv(t *testing.T) {
	clearEnv(t)

	t.Setenv("SLACK_TOKEN", "xoxb-legacy")
	t.Setenv("SLACK_WEBHOOK_ENDPOINT", "https://hooks.example.com/T000")
	t.Setenv("SLACK_CHANNEL", "ops")
	t.Setenv("SLACK_MUTED", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "xoxb-legacy", cfg.Slack.Token)
	assert.Equal(t, "https://hooks.example.com/T000", cfg.Slack.WebhookEndpoint)
	assert.Equal(t, "ops", cfg.Slack.Channel)
	assert.True(t, cfg.Slack.Muted)
}

func TestLoadConfig_LegacyTokenEnablesSlack(t *testing.T) {
	clearEnv(t)

	t.Setenv("SLACK_TOKEN", "xoxb-legacy")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg.Slack.Enabled)

	notifier, err := notify.New(cfg.Slack.Notify(), nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.Slack{}, notifier)
}

func TestLoadConfig_LegacyWebhookEnablesSlack(t *testing.T) {
	clearEnv(t)

	t.Setenv("SLACK_WEBHOOK_ENDPOINT", "https://hooks.example.com/T000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	notifier, err := notify.New(cfg.Slack.Notify(), nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.Slack{}, notifier)
}

func TestLoadConfig_SlackExplicitlyDisabledOrMuted(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"disabled", map[string]string{"SLACK_TOKEN": "xoxb", "ECS_DEPLOY_SLACK_ENABLED": "false"}},
		{"muted", map[string]string{"SLACK_TOKEN": "xoxb", "SLACK_MUTED": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig("")
			require.NoError(t, err)

			notifier, err := notify.New(cfg.Slack.Notify(), nil)
			require.NoError(t, err)
			assert.IsType(t, &notify.NoOp{}, notifier)
		})
	}
}

func TestLoadConfig_PrefixedEnvWinsOverLegacy(t *testing.T) {
	clearEnv(t)

	t.Setenv("SLACK_TOKEN", "xoxb-legacy")
	t.Setenv("ECS_DEPLOY_SLACK_TOKEN", "xoxb-new")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "xoxb-new", cfg.Slack.Token)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, 900*time.Second, cfg.Deploy.Timeout)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Section Conversion Tests
// =============================================================================

func TestSlackConfig_NotifyKeepsDefaults(t *testing.T) {
	cfg := SlackConfig{Token: "xoxb"}.Notify()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "xoxb", cfg.Token)
	assert.Equal(t, "test", cfg.Channel)
	assert.Equal(t, "https://slack.com/api", cfg.BaseURL)
	assert.Equal(t, "us-west-2", cfg.ConsoleRegion)
	assert.Positive(t, cfg.Timeout)
}

func TestDeployConfig_FanOut(t *testing.T) {
	cfg := DeployConfig{WorkerCount: 3, JitterMin: time.Second, JitterMax: 2 * time.Second}.FanOut()

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, time.Second, cfg.JitterMin)
	assert.Equal(t, 2*time.Second, cfg.JitterMax)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level     string
		logsInfo  bool
		logsWarn  bool
		logsError bool
	}{
		{"debug", true, true, true},
		{"info", true, true, true},
		{"warn", false, true, true},
		{"error", false, false, true},
		{"invalid", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: "text"}}, &buf)

			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			assert.Equal(t, tt.logsInfo, bytes.Contains(buf.Bytes(), []byte("info message")))
			assert.Equal(t, tt.logsWarn, bytes.Contains(buf.Bytes(), []byte("warn message")))
			assert.Equal(t, tt.logsError, bytes.Contains(buf.Bytes(), []byte("error message")))
		})
	}
}

func TestSetupLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: "json"}}, &buf)

	logger.Info("hello", "service", "web")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"service":"web"`)
}

func TestSetupLogger_NilWriter(t *testing.T) {
	logger := SetupLogger(&Config{Log: LogConfig{Level: "warn"}}, nil)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"ECS_DEPLOY_AWS_REGION",
		"ECS_DEPLOY_AWS_PROFILE",
		"ECS_DEPLOY_DEPLOY_TIMEOUT",
		"ECS_DEPLOY_DEPLOY_POLL_INTERVAL",
		"ECS_DEPLOY_SLACK_ENABLED",
		"ECS_DEPLOY_SLACK_TOKEN",
		"ECS_DEPLOY_SLACK_WEBHOOK_ENDPOINT",
		"ECS_DEPLOY_SLACK_CHANNEL",
		"ECS_DEPLOY_SLACK_MUTED",
		"ECS_DEPLOY_JOURNAL_DSN",
		"ECS_DEPLOY_METRICS_PUSHGATEWAY_URL",
		"ECS_DEPLOY_LOG_LEVEL",
		"ECS_DEPLOY_LOG_FORMAT",
		"SLACK_TOKEN",
		"SLACK_WEBHOOK_ENDPOINT",
		"SLACK_CHANNEL",
		"SLACK_MUTED",
	}
	for _, v := range envVars {
		// viper treats empty variables as unset.
		t.Setenv(v, "")
	}
}
