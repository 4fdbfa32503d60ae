// Package metrics instruments the memory service's operations.
// Prometheus collection is opt-in via the "metrics" build tag; without
// it, a no-op collector satisfies the same interface at zero cost.
package metrics

import "context"

// Collector records operation counts, durations, and storage sizes.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorKind string)
	SetStorageCount(ctx context.Context, backend string, count int64)
}
