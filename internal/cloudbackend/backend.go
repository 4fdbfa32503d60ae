package cloudbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/identity"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/query"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
)

// RetryOptions configures the exponential backoff applied to vector
// upserts, grounded verbatim on the teacher's RateLimitHandler.CreateBackoff.
// BaseDelay and MaxRetries mirror the spec's cloud.base_delay_s and
// cloud.max_retries (§6.4).
type RetryOptions struct {
	MaxRetries     uint64
	BaseDelay      time.Duration
	MaxElapsedTime time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxElapsedTime == 0 {
		o.MaxElapsedTime = 5 * time.Minute
	}
	return o
}

// Backend implements storage.Backend against a remote vector index and
// relational store, per spec §4.6.
type Backend struct {
	vectors          VectorIndex
	rel              RelationalStore
	objects          ObjectStore
	provider         embedding.Provider
	repair           *RepairQueue
	retry            RetryOptions
	contentThreshold int64
	minPool          int
	logger           zerolog.Logger
}

// NewBackend wires the three capability interfaces together. objects
// and repair may be nil. contentThreshold of 0 falls back to
// DefaultInlineContentThreshold.
func NewBackend(vectors VectorIndex, rel RelationalStore, objects ObjectStore, provider embedding.Provider, repair *RepairQueue, retry RetryOptions, contentThreshold int64, logger zerolog.Logger) *Backend {
	if contentThreshold == 0 {
		contentThreshold = DefaultInlineContentThreshold
	}
	return &Backend{
		vectors:          vectors,
		rel:              rel,
		objects:          objects,
		provider:         provider,
		repair:           repair,
		retry:            retry.withDefaults(),
		contentThreshold: contentThreshold,
		minPool:          50,
		logger:           logger.With().Str("component", "cloudBackend").Logger(),
	}
}

func (b *Backend) Initialize(ctx context.Context) error { return nil }
func (b *Backend) Close() error                          { return nil }

func (b *Backend) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.retry.BaseDelay
	eb.MaxElapsedTime = b.retry.MaxElapsedTime
	return backoff.WithMaxRetries(eb, b.retry.MaxRetries)
}

// Store persists to the relational store, then upserts the vector with
// retry; a persistent failure is recorded on the repair queue rather
// than failing the write, per §4.6 step (c).
func (b *Backend) Store(ctx context.Context, m *model.Memory) (bool, string, error) {
	if m.ContentHash == "" {
		m.ContentHash = identity.ContentHash([]byte(m.Content))
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.InvalidInput, err, "marshal metadata")
	}

	large := int64(len(m.Content)) > b.contentThreshold
	content := m.Content
	if large && b.objects != nil {
		if err := b.objects.Put(ctx, m.ContentHash, []byte(m.Content)); err != nil {
			return false, "", engineerr.Wrap(engineerr.BackendUnavailable, err, "spill large content to object store")
		}
		content = ""
	}

	inserted, err := b.rel.InsertMemory(ctx, MemoryRow{
		ContentHash:  m.ContentHash,
		Content:      content,
		MemoryType:   m.MemoryType,
		Tags:         m.Tags,
		MetadataJSON: string(metaJSON),
		CreatedAt:    float64(m.CreatedAt.UnixNano()) / 1e9,
		UpdatedAt:    float64(m.UpdatedAt.UnixNano()) / 1e9,
		LargeObject:  large,
	})
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.BackendUnavailable, err, "insert relational row")
	}
	if !inserted {
		return false, "duplicate", nil
	}

	if b.provider != nil && b.provider.Ready() {
		vec, err := b.provider.Embed(ctx, m.Content)
		if err != nil {
			b.logger.Warn().Err(err).Str("content_hash", m.ContentHash).Msg("embedding failed on write, leaving embedding absent")
		} else {
			upsertErr := backoff.Retry(func() error {
				return b.vectors.Upsert(ctx, m.ContentHash, vec, len(vec))
			}, b.newBackoff())
			if upsertErr != nil {
				b.logger.Warn().Err(upsertErr).Str("content_hash", m.ContentHash).Msg("vector upsert exhausted retries, queued for repair")
				if b.repair != nil {
					if qErr := b.repair.Enqueue(ctx, m.ContentHash, vec, len(vec)); qErr != nil {
						b.logger.Error().Err(qErr).Msg("failed to enqueue repair entry")
					}
				}
			} else {
				m.Embedding = vec
			}
		}
	}

	return true, "stored", nil
}

func (b *Backend) rowToMemory(ctx context.Context, row MemoryRow) (*model.Memory, error) {
	content := row.Content
	if row.LargeObject && b.objects != nil {
		blob, err := b.objects.Get(ctx, row.ContentHash)
		if err != nil {
			return nil, err
		}
		content = string(blob)
	}
	var meta model.Metadata
	if err := json.Unmarshal([]byte(row.MetadataJSON), &meta); err != nil {
		return nil, err
	}
	m := &model.Memory{
		Content:     content,
		ContentHash: row.ContentHash,
		Tags:        row.Tags,
		MemoryType:  row.MemoryType,
		Metadata:    meta,
		CreatedAt:   time.Unix(0, int64(row.CreatedAt*1e9)).UTC(),
		UpdatedAt:   time.Unix(0, int64(row.UpdatedAt*1e9)).UTC(),
	}
	if vec, ok, err := b.vectors.Get(ctx, row.ContentHash); err == nil && ok {
		m.Embedding = vec
	}
	return m, nil
}

func (b *Backend) Retrieve(ctx context.Context, queryText string, n int, minSimilarity float64) ([]model.MemoryQueryResult, error) {
	if n <= 0 {
		n = 5
	}
	if b.provider == nil || !b.provider.Ready() {
		return []model.MemoryQueryResult{}, nil
	}
	vec, err := b.provider.Embed(ctx, queryText)
	if err != nil {
		b.logger.Warn().Err(err).Msg("query embedding failed, returning empty result set")
		return []model.MemoryQueryResult{}, nil
	}
	pool := n
	if b.minPool > pool {
		pool = b.minPool
	}
	matches, err := b.vectors.Query(ctx, vec, pool, "")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "vector query")
	}

	results := make([]model.MemoryQueryResult, 0, len(matches))
	for _, mm := range matches {
		row, err := b.rel.GetMemory(ctx, mm.ContentHash)
		if err != nil || row == nil {
			continue
		}
		memory, err := b.rowToMemory(ctx, *row)
		if err != nil {
			continue
		}
		results = append(results, model.MemoryQueryResult{
			Memory:          *memory,
			SimilarityScore: mm.Score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", mm.Score),
		})
	}
	return query.FilterBySimilarity(results, minSimilarity, n), nil
}

func (b *Backend) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]model.Memory, error) {
	rows, err := b.rel.ListByTag(ctx, model.NormalizeTags(tags), matchAll)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "search by tag")
	}
	return b.rowsToMemories(ctx, rows)
}

func (b *Backend) rowsToMemories(ctx context.Context, rows []MemoryRow) ([]model.Memory, error) {
	out := make([]model.Memory, 0, len(rows))
	for _, row := range rows {
		m, err := b.rowToMemory(ctx, row)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (b *Backend) SearchByTime(ctx context.Context, tr storage.TimeRange, n int) ([]model.Memory, error) {
	rows, err := b.rel.ListByTimeRange(ctx, float64(tr.Start.UnixNano())/1e9, float64(tr.End.UnixNano())/1e9, n)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "search by time")
	}
	return b.rowsToMemories(ctx, rows)
}

func (b *Backend) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]model.MemoryQueryResult, error) {
	if n <= 0 {
		n = 5
	}
	vec, ok, err := b.vectors.Get(ctx, contentHash)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "load source vector")
	}
	if !ok {
		row, err := b.rel.GetMemory(ctx, contentHash)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "load source memory")
		}
		if row == nil {
			return nil, engineerr.New(engineerr.NotFound, "no memory with content_hash %s", contentHash)
		}
		if b.provider == nil || !b.provider.Ready() {
			return []model.MemoryQueryResult{}, nil
		}
		vec, err = b.provider.Embed(ctx, row.Content)
		if err != nil {
			return []model.MemoryQueryResult{}, nil
		}
	}

	matches, err := b.vectors.Query(ctx, vec, n, contentHash)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "vector query")
	}
	results := make([]model.MemoryQueryResult, 0, len(matches))
	for _, mm := range matches {
		row, err := b.rel.GetMemory(ctx, mm.ContentHash)
		if err != nil || row == nil {
			continue
		}
		memory, err := b.rowToMemory(ctx, *row)
		if err != nil {
			continue
		}
		results = append(results, model.MemoryQueryResult{
			Memory:          *memory,
			SimilarityScore: mm.Score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", mm.Score),
		})
	}
	query.Rank(results)
	return results, nil
}

func (b *Backend) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	row, err := b.rel.GetMemory(ctx, contentHash)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.BackendUnavailable, err, "load memory")
	}
	if row == nil {
		return false, "not found", nil
	}
	if err := b.rel.DeleteMemory(ctx, contentHash); err != nil {
		return false, "", engineerr.Wrap(engineerr.BackendUnavailable, err, "delete relational row")
	}
	if err := b.vectors.Delete(ctx, contentHash); err != nil {
		b.logger.Warn().Err(err).Str("content_hash", contentHash).Msg("vector delete failed after relational delete succeeded")
	}
	if row.LargeObject && b.objects != nil {
		if err := b.objects.Delete(ctx, contentHash); err != nil {
			b.logger.Warn().Err(err).Str("content_hash", contentHash).Msg("object store delete failed")
		}
	}
	return true, "deleted", nil
}

func (b *Backend) DeleteByTag(ctx context.Context, tag string) (int, error) {
	rows, err := b.rel.ListByTag(ctx, []string{model.NormalizeTag(tag)}, false)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.BackendUnavailable, err, "list by tag")
	}
	count := 0
	for _, row := range rows {
		deleted, _, err := b.Delete(ctx, row.ContentHash)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

func (b *Backend) UpdateMetadata(ctx context.Context, contentHash string, patch model.Metadata, tags []string, tagsProvided bool, memoryType string) error {
	row, err := b.rel.GetMemory(ctx, contentHash)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "load memory")
	}
	if row == nil {
		return engineerr.New(engineerr.NotFound, "no memory with content_hash %s", contentHash)
	}
	var existing model.Metadata
	if err := json.Unmarshal([]byte(row.MetadataJSON), &existing); err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "unmarshal metadata")
	}
	merged := existing.Merge(patch)
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return engineerr.Wrap(engineerr.InvalidInput, err, "marshal metadata")
	}
	err = b.rel.UpdateMemory(ctx, contentHash, string(metaJSON), memoryType, model.NormalizeTags(tags), tagsProvided, float64(identity.Now().UnixNano())/1e9)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "update memory")
	}
	return nil
}

func (b *Backend) CleanupDuplicates(ctx context.Context) (int, error) {
	return 0, nil
}

func (b *Backend) GetStats(ctx context.Context) (storage.Stats, error) {
	totalMemories, totalTags, err := b.rel.Stats(ctx)
	if err != nil {
		return storage.Stats{}, engineerr.Wrap(engineerr.BackendUnavailable, err, "stats")
	}
	dim, modelName := 0, ""
	if b.provider != nil {
		dim = b.provider.Dimension()
		modelName = b.provider.ModelName()
	}
	return storage.Stats{
		Backend:            "cloud",
		StorageType:        "cloud-vector-relational",
		TotalMemories:      totalMemories,
		TotalTags:          totalTags,
		StorageSize:        "n/a",
		EmbeddingModel:     modelName,
		EmbeddingDimension: dim,
		Healthy:            true,
		Details:            map[string]interface{}{},
	}, nil
}

func (b *Backend) List(ctx context.Context, offset, limit int, filters storage.ListFilters) (storage.ListPage, error) {
	rows, total, err := b.rel.List(ctx, offset, limit, filters.Tag, filters.MemoryType)
	if err != nil {
		return storage.ListPage{}, engineerr.Wrap(engineerr.BackendUnavailable, err, "list memories")
	}
	records, err := b.rowsToMemories(ctx, rows)
	if err != nil {
		return storage.ListPage{}, err
	}
	return storage.ListPage{Records: records, Total: total}, nil
}

var _ storage.Backend = (*Backend)(nil)
