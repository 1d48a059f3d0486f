package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"go.uber.org/zap"
)

func TestNewPrometheusMetrics(t *testing.T) {
	metrics := NewPrometheusMetrics(zap.NewNop().Sugar(), nil)

	assert.NotNil(t, metrics)
	assert.NotNil(t, metrics.checkStatus)
	assert.NotNil(t, metrics.latencyHist)
	assert.NotNil(t, metrics.alertDeliveries)
}

func TestPrometheusMetrics_UpdateCheck(t *testing.T) {
	tests := []struct {
		name        string
		status      checkers.Status
		consecutive int
		want        float64
		wantSamples uint64
	}{
		{name: "ok", status: checkers.Ok, want: 2, wantSamples: 1},
		{name: "fail", status: checkers.Fail, consecutive: 3, want: 3, wantSamples: 0},
		{name: "unknown", status: checkers.Unknown, consecutive: 1, want: 1, wantSamples: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := NewPrometheusMetrics(zap.NewNop().Sugar(), reg)
			labels := CheckLabels{Name: "web", Host: "www.example.com", Method: "tcp"}

			metrics.UpdateCheck(labels, tt.status, tt.consecutive, 100*time.Millisecond)

			assert.Equal(t, tt.want, testutil.ToFloat64(metrics.checkStatus.WithLabelValues("web", "www.example.com", "tcp")))
			assert.Equal(t, float64(tt.consecutive), testutil.ToFloat64(metrics.checkConsecutive.WithLabelValues("web", "www.example.com", "tcp")))

			families, err := reg.Gather()
			require.NoError(t, err)
			var samples uint64
			for _, mf := range families {
				if mf.GetName() == "watchman_check_latency_histogram_seconds" {
					samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
				}
			}
			assert.Equal(t, tt.wantSamples, samples)
		})
	}
}

func TestPrometheusMetrics_AlertsAndLoop(t *testing.T) {
	metrics := NewPrometheusMetrics(zap.NewNop().Sugar(), prometheus.NewRegistry())

	metrics.AlertDelivered("oncall", true)
	metrics.AlertDelivered("oncall", false)
	metrics.AlertDelivered("oncall", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.alertDeliveries.WithLabelValues("oncall", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.alertDeliveries.WithLabelValues("oncall", "failure")))

	metrics.SetOutstanding("relay", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.loopOutstanding.WithLabelValues("relay")))

	metrics.ObserveRoundTrip("relay", 42*time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.loopRoundTrip))

	metrics.ObserveCycle(time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.cycleDuration))
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	metrics := NewPrometheusMetrics(zap.NewNop().Sugar(), nil)
	metrics.UpdateCheck(CheckLabels{Name: "web", Host: "h", Method: "tcp"}, checkers.Fail, 1, 0)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `watchman_check_status{check="web",host="h",method="tcp"} 3`))
}
