//go:build !metrics

package metrics

import "context"

// NoopCollector is used when the "metrics" build tag is absent.
type NoopCollector struct{}

// NewCollector returns a NoopCollector.
func NewCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorKind string) {}

func (n *NoopCollector) SetStorageCount(ctx context.Context, backend string, count int64) {}
