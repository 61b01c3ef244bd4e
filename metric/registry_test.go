package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_InstrumentsRegistered(t *testing.T) {
	reg := NewRegistry()

	reg.Metrics.StatusUpdatesProcessed.WithLabelValues(OutcomeHandled).Inc()
	reg.Metrics.StatusUpdatesProcessed.WithLabelValues(OutcomeAbsorbed).Add(2)
	reg.Metrics.StepsDispatched.Inc()
	reg.Metrics.PipelineFailures.Inc()
	reg.Metrics.ActiveSessions.Set(3)
	reg.Metrics.ConsumerRestarts.Inc()
	reg.Metrics.StatusUpdateDuration.Observe(0.05)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"opsplane_statusupdates_processed_total",
		"opsplane_statusupdate_duration_seconds",
		"opsplane_steps_dispatched_total",
		"opsplane_pipeline_failures_total",
		"opsplane_active_sessions",
		"opsplane_consumer_restarts_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	assert.Equal(t, float64(1),
		testutil.ToFloat64(reg.Metrics.StatusUpdatesProcessed.WithLabelValues(OutcomeHandled)))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(reg.Metrics.StatusUpdatesProcessed.WithLabelValues(OutcomeAbsorbed)))
	assert.Equal(t, float64(3), testutil.ToFloat64(reg.Metrics.ActiveSessions))
}

func TestServer_MetricsAndHealth(t *testing.T) {
	reg := NewRegistry()
	healthy := true

	srv := NewServer("127.0.0.1:0", reg, func() bool { return healthy })
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	base := fmt.Sprintf("http://%s", srv.Addr())

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 50*time.Millisecond)

	healthy = false
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
