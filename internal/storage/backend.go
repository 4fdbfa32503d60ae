// Package storage defines the capability interface every concrete
// backend (embedded SQL, cloud vector+relational, HTTP-federated)
// satisfies, plus the shared result types the memory service depends
// on regardless of which backend is configured (spec §4.4).
//
// This is a Go-native replacement for gognee's duck-typed storage
// interfaces (pkg/store/memory.go's MemoryStore, pkg/store/vector.go's
// VectorStore): one explicit interface enumerating every operation,
// with no attribute probing at runtime.
package storage

import (
	"context"
	"time"

	"github.com/hearthlabs/memoryd/internal/model"
)

// TimeRange bounds a search_by_time query. Both ends are inclusive.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ListFilters narrows list_memories (spec §4.4's list operation).
type ListFilters struct {
	Tag        string
	MemoryType string
}

// ListPage is one page of list_memories results.
type ListPage struct {
	Records []model.Memory
	Total   int
}

// Stats is the uniform shape get_stats returns regardless of backend
// (spec §4.11).
type Stats struct {
	Backend            string                 `json:"backend"`
	StorageType        string                 `json:"storage_type"`
	TotalMemories      int64                  `json:"total_memories"`
	TotalTags          int64                  `json:"total_tags"`
	StorageSize        string                 `json:"storage_size"`
	EmbeddingModel     string                 `json:"embedding_model"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
	Healthy            bool                   `json:"healthy"`
	Details            map[string]interface{} `json:"details,omitempty"`
}

// Backend is the capability interface every storage implementation
// satisfies. Every method takes a context first argument, following
// the teacher's MemoryStore convention, since backends may suspend on
// disk or network I/O (spec §5).
type Backend interface {
	// Initialize is idempotent. The embedded backend creates its schema
	// and checks the stored embedding dimension against the provider's;
	// the cloud backend's Initialize does neither and returns nil, and
	// the federated backend's only checks that the coordinator answers
	// GET /api/health.
	Initialize(ctx context.Context) error

	// Store persists m. stored is false (with a nil error) when m's
	// content_hash already exists (invariant I1).
	Store(ctx context.Context, m *model.Memory) (stored bool, message string, err error)

	// Retrieve runs a semantic query, returning up to n results
	// ordered per invariant I7.
	Retrieve(ctx context.Context, query string, n int, minSimilarity float64) ([]model.MemoryQueryResult, error)

	// SearchByTag returns memories matching the tag set per invariant
	// I6.
	SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]model.Memory, error)

	// SearchByTime returns memories created within tr, newest first.
	SearchByTime(ctx context.Context, tr TimeRange, n int) ([]model.Memory, error)

	// SearchSimilarTo returns memories most similar to the memory
	// identified by contentHash, excluding the source itself.
	SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]model.MemoryQueryResult, error)

	// Delete removes the memory identified by contentHash, its tags,
	// and any large-object blob, per invariant I5.
	Delete(ctx context.Context, contentHash string) (deleted bool, message string, err error)

	// DeleteByTag removes every memory carrying tag, returning the
	// count removed.
	DeleteByTag(ctx context.Context, tag string) (int, error)

	// UpdateMetadata merges patch into the memory's metadata,
	// optionally replacing tags and memory_type, and bumps updated_at.
	UpdateMetadata(ctx context.Context, contentHash string, patch model.Metadata, tags []string, tagsProvided bool, memoryType string) error

	// CleanupDuplicates merges records sharing a content_hash,
	// returning the count merged away.
	CleanupDuplicates(ctx context.Context) (int, error)

	// GetStats returns the backend's current health/statistics.
	GetStats(ctx context.Context) (Stats, error)

	// List returns a page of memories ordered by created_at desc.
	List(ctx context.Context, offset, limit int, filters ListFilters) (ListPage, error)

	// Close releases any resources the backend holds.
	Close() error
}
