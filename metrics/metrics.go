// Package metrics records tree operation outcomes and latencies.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ammiranda/treestore/models"
)

// Recorder receives one observation per repository operation
type Recorder interface {
	Observe(strategy, op string, err error, elapsed time.Duration)
}

// Nop discards observations
type Nop struct{}

func (Nop) Observe(string, string, error, time.Duration) {}

// Prometheus exports operation counters and latency histograms
type Prometheus struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheus registers the tree metrics with reg
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treestore",
			Name:      "operations_total",
			Help:      "Tree repository operations by strategy, operation and outcome.",
		}, []string{"strategy", "op", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treestore",
			Name:      "operation_duration_seconds",
			Help:      "Tree repository operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"strategy", "op"}),
	}
}

func (p *Prometheus) Observe(strategy, op string, err error, elapsed time.Duration) {
	p.operations.WithLabelValues(strategy, op, Outcome(err)).Inc()
	p.duration.WithLabelValues(strategy, op).Observe(elapsed.Seconds())
}

// Outcome maps an operation error to a low-cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNodeNotFound):
		return "not_found"
	case errors.Is(err, models.ErrParentNotFound):
		return "parent_not_found"
	case errors.Is(err, models.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, models.ErrConcurrentStructuralConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, models.ErrInvalidNode):
		return "invalid"
	case errors.Is(err, models.ErrNodeExists):
		return "exists"
	default:
		return "error"
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
