// Package metrics exports run outcomes as Prometheus metrics pushed to a
// Pushgateway. A CLI run is too short-lived to be scraped.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

const namespace = "ecs_deploy"

// Config configures the metrics recorder.
type Config struct {
	// PushgatewayURL is the base URL of the Pushgateway. Empty disables
	// pushing.
	PushgatewayURL string

	// Job is the Pushgateway job label.
	// Default: "ecs-deploy".
	Job string
}

// Recorder pushes the outcome of each run to a Pushgateway, grouped by
// cluster and service.
type Recorder struct {
	url    string
	job    string
	logger *slog.Logger
}

var _ deploy.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder.
func NewRecorder(cfg Config, logger *slog.Logger) *Recorder {
	if cfg.Job == "" {
		cfg.Job = "ecs-deploy"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		url:    cfg.PushgatewayURL,
		job:    cfg.Job,
		logger: logger.With("component", "metrics"),
	}
}

// Record pushes the metrics of outcome. The Pushgateway replaces every
// metric of the same name within the cluster/service group, so the pushed
// values are gauges describing the latest run rather than running totals.
func (r *Recorder) Record(ctx context.Context, outcome deploy.Outcome) error {
	if r.url == "" {
		return nil
	}
	m := newRunMetrics(outcome)

	pusher := push.New(r.url, r.job).
		Grouping("cluster", outcome.Cluster).
		Grouping("service", outcome.Service).
		Gatherer(m.registry)
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	r.logger.Debug("pushed metrics", "cluster", outcome.Cluster, "service", outcome.Service)
	return nil
}

// =============================================================================
// Run Metrics
// =============================================================================

// runMetrics is the registry pushed for one run. Gauges that do not apply
// to the run stay unregistered, which leaves the previously pushed value in
// place.
type runMetrics struct {
	registry *prometheus.Registry

	lastRun     *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	revision    prometheus.Gauge
	desired     prometheus.Gauge
	changes     prometheus.Gauge
}

func newRunMetrics(outcome deploy.Outcome) *runMetrics {
	action := string(outcome.Action)
	status := string(outcome.Status)

	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}, []string{"action", "status"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}, []string{"action", "status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_definition_revision",
			Help:      "Task definition revision the service runs after the last deployment.",
		}),
		desired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "desired_count",
			Help:      "Desired count set by the last scale run.",
		}),
		changes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_changes",
			Help:      "Task definition fields changed by the last deployment.",
		}),
	}

	m.lastRun.WithLabelValues(action, status).Set(float64(outcome.FinishedAt.Unix()))
	m.registry.MustRegister(m.lastRun)
	if d := outcome.Duration(); d > 0 {
		m.duration.WithLabelValues(action, status).Set(d.Seconds())
		m.registry.MustRegister(m.duration)
	}
	if outcome.Status == deploy.StatusSucceeded {
		m.lastSuccess.Set(float64(outcome.FinishedAt.Unix()))
		m.registry.MustRegister(m.lastSuccess)
	}

	switch outcome.Action {
	case deploy.ActionDeploy:
		if outcome.Revision > 0 {
			m.revision.Set(float64(outcome.Revision))
			m.registry.MustRegister(m.revision)
		}
		m.changes.Set(float64(len(outcome.Diff)))
		m.registry.MustRegister(m.changes)
	case deploy.ActionScale:
		if outcome.Status == deploy.StatusSucceeded {
			m.desired.Set(float64(outcome.DesiredCount))
			m.registry.MustRegister(m.desired)
		}
	}
	return m
}
