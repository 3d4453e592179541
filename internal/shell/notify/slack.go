package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

// =============================================================================
// Slack Configuration
// =============================================================================

// SlackConfig holds Slack notification configuration.
type SlackConfig struct {
	Enabled bool
	Muted   bool

	// Token selects the Web API (chat.postMessage / chat.update). It takes
	// precedence over WebhookEndpoint.
	Token           string
	WebhookEndpoint string
	Channel         string

	// BaseURL of the Slack Web API.
	BaseURL string

	// ConsoleRegion is used to build links to the ECS console.
	ConsoleRegion string

	Timeout  time.Duration
	RetryMax int
}

// DefaultSlackConfig returns the default configuration.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		Channel:       "test",
		BaseURL:       "https://slack.com/api",
		ConsoleRegion: "us-west-2",
		Timeout:       10 * time.Second,
		RetryMax:      2,
	}
}

// New creates the notifier described by cfg: a no-op when disabled or muted,
// otherwise a Slack notifier. Enabling notifications without a token or
// webhook endpoint is a configuration error.
func New(cfg SlackConfig, logger *slog.Logger) (Notifier, error) {
	if !cfg.Enabled || cfg.Muted {
		return NewNoOp(), nil
	}
	if cfg.Token == "" && cfg.WebhookEndpoint == "" {
		return nil, ErrNotConfigured
	}
	return NewSlack(cfg, logger), nil
}

// =============================================================================
// Slack Notifier
// =============================================================================

// Slack posts deployment messages to a Slack channel.
type Slack struct {
	token   string
	webhook string
	channel string
	baseURL string
	links   consoleLinks
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig, logger *slog.Logger) *Slack {
	defaults := DefaultSlackConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Channel == "" {
		cfg.Channel = defaults.Channel
	}
	if cfg.ConsoleRegion == "" {
		cfg.ConsoleRegion = defaults.ConsoleRegion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "slack")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = logger

	s := &Slack{
		token:   cfg.Token,
		webhook: cfg.WebhookEndpoint,
		channel: cfg.Channel,
		baseURL: cfg.BaseURL,
		links:   consoleLinks{region: cfg.ConsoleRegion},
		http:    client,
		logger:  logger,
	}
	if s.token != "" {
		s.logger.Debug("using Slack Web API", "channel", s.channel)
	} else {
		s.logger.Debug("using Slack incoming webhook")
	}
	return s
}

// DeployStarted posts the start message.
func (s *Slack) DeployStarted(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	_, err := s.post(ctx, "DeployStarted", s.links.startMessage(snap, td), nil)
	return err
}

// DeployProgress posts or edits the progress message. Incoming webhooks cannot
// edit messages, so progress is only reported through the Web API.
func (s *Slack) DeployProgress(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition, prior *Ref) (*Ref, error) {
	primary, err := snap.Primary()
	if err != nil {
		return prior, &NotifierError{Op: "DeployProgress", Err: err}
	}
	if primary.DesiredCount <= 0 {
		s.logger.Debug("desired count is zero, skipping progress message", "service", snap.Name)
		return prior, nil
	}
	if s.token == "" {
		return prior, nil
	}
	return s.post(ctx, "DeployProgress", s.links.progressMessage(snap, primary), prior)
}

// DeployFinished posts the finish message.
func (s *Slack) DeployFinished(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	primary, err := snap.Primary()
	if err != nil {
		return &NotifierError{Op: "DeployFinished", Err: err}
	}
	_, err = s.post(ctx, "DeployFinished", s.links.finishMessage(snap, primary, td), nil)
	return err
}

// =============================================================================
// Transport
// =============================================================================

// apiResponse is the common envelope of Slack Web API responses.
type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// post sends msg. With a prior Ref the existing message is edited.
func (s *Slack) post(ctx context.Context, op string, msg message, prior *Ref) (*Ref, error) {
	if s.token == "" {
		return nil, s.postWebhook(ctx, op, msg)
	}

	method := "chat.postMessage"
	msg.Channel = s.channel
	msg.AsUser = true
	if prior != nil {
		method = "chat.update"
		msg.Channel = prior.Channel
		msg.TS = prior.TS
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, &NotifierError{Op: op, Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+method, body)
	if err != nil {
		return nil, &NotifierError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &NotifierError{Op: op, Err: fmt.Errorf("%w: %v", ErrDeliveryFailed, err)}
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &NotifierError{Op: op, Err: fmt.Errorf("failed to decode %s response: %w", method, err)}
	}
	if !out.OK {
		return nil, &NotifierError{Op: op, Err: fmt.Errorf("%w: %s returned %q", ErrDeliveryFailed, method, out.Error)}
	}
	return &Ref{Channel: out.Channel, TS: out.TS}, nil
}

func (s *Slack) postWebhook(ctx context.Context, op string, msg message) error {
	body, err := json.Marshal(message{Text: msg.Text})
	if err != nil {
		return &NotifierError{Op: op, Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return &NotifierError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return &NotifierError{Op: op, Err: fmt.Errorf("%w: %v", ErrDeliveryFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &NotifierError{Op: op, Err: fmt.Errorf("%w: webhook returned %d: %s", ErrDeliveryFailed, resp.StatusCode, string(respBody))}
	}
	return nil
}
