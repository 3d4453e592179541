package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testOutcome(status deploy.Status) deploy.Outcome {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return deploy.Outcome{
		RunID:    "run-1",
		Action:   deploy.ActionDeploy,
		Cluster:  "prod",
		Service:  "web",
		Status:   status,
		Revision: 8,
		Diff: []taskdef.Diff{
			{Container: "app", Field: taskdef.FieldImage},
			{Container: "sidecar", Field: taskdef.FieldImage},
		},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Minute),
	}
}

// families returns the names of the metric families gathered for one run.
func families(t *testing.T, m *runMetrics) []string {
	t.Helper()
	gathered, err := m.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(gathered))
	for _, f := range gathered {
		names = append(names, f.GetName())
	}
	return names
}

type pushRequest struct {
	method string
	path   string
}

func pushgateway(t *testing.T, status int) (*httptest.Server, func() []pushRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []pushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, pushRequest{method: r.Method, path: r.URL.Path})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() []pushRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]pushRequest(nil), requests...)
	}
}

// =============================================================================
// Run Metrics
// =============================================================================

func TestRunMetrics_SuccessfulDeploy(t *testing.T) {
	out := testOutcome(deploy.StatusSucceeded)
	m := newRunMetrics(out)

	assert.Equal(t, float64(out.FinishedAt.Unix()), testutil.ToFloat64(m.lastRun.WithLabelValues("deploy", "succeeded")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.duration.WithLabelValues("deploy", "succeeded")))
	assert.Equal(t, float64(out.FinishedAt.Unix()), testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.revision))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.changes))

	assert.ElementsMatch(t, []string{
		"ecs_deploy_last_run_timestamp_seconds",
		"ecs_deploy_last_run_duration_seconds",
		"ecs_deploy_last_success_timestamp_seconds",
		"ecs_deploy_task_definition_revision",
		"ecs_deploy_last_run_changes",
	}, families(t, m))
}

func TestRunMetrics_RepeatedRunsDoNotAccumulate(t *testing.T) {
	first := newRunMetrics(testOutcome(deploy.StatusSucceeded))
	second := newRunMetrics(testOutcome(deploy.StatusSucceeded))

	// Each run reports its own values, so pushing the second replaces the
	// first instead of doubling it.
	assert.Equal(t, testutil.ToFloat64(first.changes), testutil.ToFloat64(second.changes))
	assert.Equal(t, 2.0, testutil.ToFloat64(second.changes))
	assert.Equal(t, 1, testutil.CollectAndCount(second.lastRun))
}

func TestRunMetrics_FailureKeepsLastSuccess(t *testing.T) {
	out := testOutcome(deploy.StatusFailed)
	m := newRunMetrics(out)

	names := families(t, m)
	assert.NotContains(t, names, "ecs_deploy_last_success_timestamp_seconds")
	assert.Contains(t, names, "ecs_deploy_last_run_timestamp_seconds")
	assert.Equal(t, float64(out.FinishedAt.Unix()), testutil.ToFloat64(m.lastRun.WithLabelValues("deploy", "failed")))
}

func TestRunMetrics_Scale(t *testing.T) {
	out := testOutcome(deploy.StatusSucceeded)
	out.Action = deploy.ActionScale
	out.Revision = 0
	out.Diff = nil
	out.DesiredCount = 4

	m := newRunMetrics(out)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.desired))
	names := families(t, m)
	assert.Contains(t, names, "ecs_deploy_desired_count")
	assert.NotContains(t, names, "ecs_deploy_task_definition_revision")
	assert.NotContains(t, names, "ecs_deploy_last_run_changes")
}

// =============================================================================
// Pushing
// =============================================================================

func TestRecorder_PushesPerServiceGroup(t *testing.T) {
	server, requests := pushgateway(t, http.StatusOK)

	r := NewRecorder(Config{PushgatewayURL: server.URL}, nil)
	ctx := context.Background()

	web := testOutcome(deploy.StatusSucceeded)
	api := testOutcome(deploy.StatusSucceeded)
	api.Service = "api"

	require.NoError(t, r.Record(ctx, web))
	require.NoError(t, r.Record(ctx, api))

	assert.Equal(t, []pushRequest{
		{method: http.MethodPost, path: "/metrics/job/ecs-deploy/cluster/prod/service/web"},
		{method: http.MethodPost, path: "/metrics/job/ecs-deploy/cluster/prod/service/api"},
	}, requests())
}

func TestRecorder_CustomJob(t *testing.T) {
	server, requests := pushgateway(t, http.StatusOK)

	r := NewRecorder(Config{PushgatewayURL: server.URL, Job: "deploys"}, nil)
	require.NoError(t, r.Record(context.Background(), testOutcome(deploy.StatusRolledBack)))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/metrics/job/deploys/cluster/prod/service/web", got[0].path)
}

func TestRecorder_PushFailure(t *testing.T) {
	server, _ := pushgateway(t, http.StatusInternalServerError)

	r := NewRecorder(Config{PushgatewayURL: server.URL}, nil)
	err := r.Record(context.Background(), testOutcome(deploy.StatusSucceeded))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push metrics")
}

func TestRecorder_WithoutPushgateway(t *testing.T) {
	r := NewRecorder(Config{}, nil)
	assert.NoError(t, r.Record(context.Background(), testOutcome(deploy.StatusSucceeded)))
}
