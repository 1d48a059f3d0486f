// Copyright (C) 2025 Jeff Rose
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"go.uber.org/zap"
)

const namespace = "watchman"

type PrometheusMetrics struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Check metrics
	checkStatus      *prometheus.GaugeVec
	checkConsecutive *prometheus.GaugeVec
	latencyHist      *prometheus.HistogramVec
	cycleDuration    prometheus.Histogram

	// Alert metrics
	alertDeliveries *prometheus.CounterVec

	// Loop probe metrics
	loopOutstanding *prometheus.GaugeVec
	loopRoundTrip   *prometheus.HistogramVec
}

type CheckLabels struct {
	Name   string
	Host   string
	Method string
}

// NewPrometheusMetrics registers every collector on registry; nil creates
// a private one.
func NewPrometheusMetrics(logger *zap.SugaredLogger, registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	p := &PrometheusMetrics{
		logger:   logger,
		registry: registry,
	}
	p.initMetrics(promauto.With(registry))
	return p
}

func (p *PrometheusMetrics) initMetrics(f promauto.Factory) {
	p.checkStatus = createCheckGauge(f, "check_status",
		"Status of the check (0 undefined, 1 unknown, 2 ok, 3 fail)")
	p.checkConsecutive = createCheckGauge(f, "check_consecutive_failures",
		"Number of consecutive non-ok results")
	p.latencyHist = createLatencyHistogram(f)
	p.cycleDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full scheduler cycle",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	p.alertDeliveries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_deliveries_total",
		Help:      "Alert delivery attempts by result",
	}, []string{"alert", "result"})
	p.loopOutstanding = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loop_probes_outstanding",
		Help:      "Loop probes sent and not yet read back",
	}, []string{"check"})
	p.loopRoundTrip = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "loop_round_trip_seconds",
		Help:      "Time between sending a loop probe and reading it back",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"check"})
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMetrics) UpdateCheck(labels CheckLabels, status checkers.Status, consecutive int, elapsed time.Duration) {
	values := []string{labels.Name, labels.Host, labels.Method}
	p.checkStatus.WithLabelValues(values...).Set(float64(status.Num()))
	p.checkConsecutive.WithLabelValues(values...).Set(float64(consecutive))

	// Latency only means something when the target answered
	if status == checkers.Ok {
		p.latencyHist.WithLabelValues(labels.Method).Observe(elapsed.Seconds())
	}
}

func (p *PrometheusMetrics) ObserveCycle(elapsed time.Duration) {
	p.cycleDuration.Observe(elapsed.Seconds())
}

func (p *PrometheusMetrics) AlertDelivered(alert string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	p.alertDeliveries.WithLabelValues(alert, result).Inc()
}

func (p *PrometheusMetrics) ObserveRoundTrip(check string, rtt time.Duration) {
	p.loopRoundTrip.WithLabelValues(check).Observe(rtt.Seconds())
}

func (p *PrometheusMetrics) SetOutstanding(check string, n int) {
	p.loopOutstanding.WithLabelValues(check).Set(float64(n))
}

func createCheckGauge(f promauto.Factory, name, help string) *prometheus.GaugeVec {
	return f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		[]string{"check", "host", "method"},
	)
}

func createLatencyHistogram(f promauto.Factory) *prometheus.HistogramVec {
	return f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_latency_histogram_seconds",
			Help:      "Histogram of successful check latencies",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
}
