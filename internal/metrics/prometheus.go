//go:build metrics

package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector records memory-service operations against a
// dedicated registry, mirroring the counter/histogram/gauge trio the
// teacher's collector exposes for its own operation set.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewCollector builds a PrometheusCollector with its own registry.
func NewCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_operations_total",
		Help: "Total number of memory service operations by type and status",
	}, []string{"operation", "status"})

	operationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memoryd_operation_duration_seconds",
		Help:    "Duration of memory service operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
	}, []string{"operation"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_errors_total",
		Help: "Total number of errors by operation and error kind",
	}, []string{"operation", "error_kind"})

	storageCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memoryd_storage_count",
		Help: "Current number of stored memories by backend",
	}, []string{"backend"})

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, storageCount)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		storageCount:      storageCount,
		registry:          registry,
	}
}

func (c *PrometheusCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	c.operationsTotal.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

func (c *PrometheusCollector) RecordError(ctx context.Context, operation string, errorKind string) {
	c.errorsTotal.WithLabelValues(operation, errorKind).Inc()
}

func (c *PrometheusCollector) SetStorageCount(ctx context.Context, backend string, count int64) {
	c.storageCount.WithLabelValues(backend).Set(float64(count))
}

// Registry exposes the underlying registry for the /metrics HTTP handler.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}
