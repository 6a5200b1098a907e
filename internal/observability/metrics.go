// Package observability exposes the service-level Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retirement",
		Subsystem: "timeline",
		Name:      "mutations_total",
		Help:      "Timeline mutations by action and result.",
	}, []string{"action", "result"})

	estimatedPension = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "retirement",
		Subsystem: "timeline",
		Name:      "estimated_pension_pln",
		Help:      "Quick monthly pension estimates returned after successful mutations.",
		Buckets:   []float64{0, 250, 500, 1000, 1780.96, 2500, 4000, 6000, 10000},
	})

	forecastGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retirement",
		Subsystem: "persistence",
		Name:      "last_forecast_pension_pln",
		Help:      "Monthly pension of the most recently stored forecast.",
	})

	forecastStoredGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retirement",
		Subsystem: "persistence",
		Name:      "last_forecast_stored_timestamp_seconds",
		Help:      "Unix timestamp of the most recent forecast written to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(mutationCounter, estimatedPension, forecastGauge, forecastStoredGauge)
}

// TimelineRecorder reports service events to Prometheus.
type TimelineRecorder struct{}

// TimelineMutation counts one mutation attempt.
func (TimelineRecorder) TimelineMutation(action string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	if action == "" {
		action = "unknown"
	}
	mutationCounter.WithLabelValues(action, result).Inc()
}

// PensionEstimated observes a quick estimate.
func (TimelineRecorder) PensionEstimated(amount float64) {
	estimatedPension.Observe(amount)
}

// RecordForecastStored updates the projector watermark gauges.
func RecordForecastStored(monthlyPension float64, ts time.Time) {
	forecastGauge.Set(monthlyPension)
	if ts.IsZero() {
		return
	}
	forecastStoredGauge.Set(float64(ts.Unix()))
}
