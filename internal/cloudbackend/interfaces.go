// Package cloudbackend implements the cloud vector+relational storage
// backend (spec §4.6). The three external services it depends on are
// modeled as capability-level interfaces with no compile-time
// dependency on a named vendor SDK, per the spec's explicit framing.
package cloudbackend

import "context"

// VectorIndex is a remote nearest-neighbor index keyed by content hash.
type VectorIndex interface {
	Upsert(ctx context.Context, contentHash string, embedding []float32, dimension int) error
	Delete(ctx context.Context, contentHash string) error
	Query(ctx context.Context, embedding []float32, topK int, excludeHash string) ([]VectorMatch, error)
	Get(ctx context.Context, contentHash string) ([]float32, bool, error)
}

// VectorMatch is one candidate returned by VectorIndex.Query.
type VectorMatch struct {
	ContentHash string
	Score       float64
}

// RelationalStore holds the memory rows, tags, and metadata that the
// vector index does not.
type RelationalStore interface {
	InsertMemory(ctx context.Context, row MemoryRow) (inserted bool, err error)
	GetMemory(ctx context.Context, contentHash string) (*MemoryRow, error)
	DeleteMemory(ctx context.Context, contentHash string) error
	UpdateMemory(ctx context.Context, contentHash string, metadataJSON string, memoryType string, tags []string, tagsProvided bool, updatedAt float64) error
	ListByTag(ctx context.Context, tags []string, matchAll bool) ([]MemoryRow, error)
	ListByTimeRange(ctx context.Context, startEpoch, endEpoch float64, limit int) ([]MemoryRow, error)
	List(ctx context.Context, offset, limit int, tag, memoryType string) ([]MemoryRow, int, error)
	Stats(ctx context.Context) (totalMemories int64, totalTags int64, err error)
}

// MemoryRow is the relational shape of a memory record.
type MemoryRow struct {
	ContentHash  string
	Content      string
	MemoryType   string
	Tags         []string
	MetadataJSON string
	CreatedAt    float64
	UpdatedAt    float64
	LargeObject  bool
}

// ObjectStore holds content that exceeds the inline size threshold,
// spilling it out of the relational row per §4.6.
type ObjectStore interface {
	Put(ctx context.Context, contentHash string, content []byte) error
	Get(ctx context.Context, contentHash string) ([]byte, error)
	Delete(ctx context.Context, contentHash string) error
}

// DefaultInlineContentThreshold is the byte size beyond which content
// spills to the ObjectStore instead of living in the relational row
// (§4.6, cloud.large_content_threshold_bytes), used when a Backend is
// not configured with an explicit threshold.
const DefaultInlineContentThreshold = 1_048_576
