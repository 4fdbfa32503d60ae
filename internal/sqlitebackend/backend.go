// Package sqlitebackend implements the embedded vector-SQL storage
// backend (spec §4.5): a single SQLite file holding relational memory
// rows, a tag join table, and a vector index, opened with WAL and the
// other pragmas the teacher applies in pkg/store/sqlite.go's
// NewSQLiteGraphStore.
package sqlitebackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/identity"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/query"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DefaultMinPool is the minimum candidate pool size for semantic
// retrieval (spec §4.5: k* = max(n, min_pool)).
const DefaultMinPool = 50

// Options configures Backend.Open.
type Options struct {
	Path          string // file path, or ":memory:"
	Pragmas       []string
	MinPool       int
	BusyTimeoutMS int
}

// Backend implements storage.Backend against a single SQLite file.
type Backend struct {
	db       *sql.DB
	vectors  *vectorIndex
	provider embedding.Provider
	logger   zerolog.Logger
	minPool  int
}

// Open opens (creating if absent) the database at opts.Path, applies
// the pragmas from spec §4.5, and returns an unintialized Backend
// (call Initialize before use).
func Open(opts Options, provider embedding.Provider, logger zerolog.Logger) (*Backend, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY races on the writer path;
	// WAL still allows concurrent readers from other processes.
	db.SetMaxOpenConns(1)

	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-20000",
	}
	pragmas = append(pragmas, opts.Pragmas...)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	minPool := opts.MinPool
	if minPool <= 0 {
		minPool = DefaultMinPool
	}

	return &Backend{
		db:       db,
		vectors:  newVectorIndex(db),
		provider: provider,
		logger:   logger.With().Str("component", "sqliteBackend").Logger(),
		minPool:  minPool,
	}, nil
}

// dimensionCheck reports whether the dimension of already-stored
// vectors disagrees with the current provider's declared dimension
// (spec §4.5 scenario S6). A mismatch can only arise once memories
// already exist under one embedding model and the configured provider
// changes underneath them.
func (b *Backend) dimensionCheck(ctx context.Context) (storedDim, providerDim int, mismatched bool, err error) {
	storedDim, err = b.vectors.dimension(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	if storedDim > 0 && b.provider != nil && b.provider.Ready() {
		if pd := b.provider.Dimension(); pd > 0 && pd != storedDim {
			return storedDim, pd, true, nil
		}
	}
	return storedDim, 0, false, nil
}

// Initialize creates schema (idempotent) and checks the stored
// embedding dimension against the provider's, per spec §4.5. A
// disagreement (S6) does not abort startup: the backend starts
// degraded, GetStats reports it, and Store refuses writes until it is
// resolved.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := applyMigrations(b.db); err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "initialize schema")
	}

	storedDim, providerDim, mismatched, err := b.dimensionCheck(ctx)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "read stored embedding dimension")
	}
	if mismatched {
		b.logger.Warn().Int("stored_dimension", storedDim).Int("provider_dimension", providerDim).
			Msg("stored embedding dimension disagrees with provider dimension, starting degraded")
	}
	return nil
}

// Close releases the database handle.
func (b *Backend) Close() error { return b.db.Close() }

// Store implements storage.Backend.Store per §4.5's write algorithm.
func (b *Backend) Store(ctx context.Context, m *model.Memory) (bool, string, error) {
	if _, _, mismatched, err := b.dimensionCheck(ctx); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "check embedding dimension")
	} else if mismatched {
		return false, "", engineerr.New(engineerr.DimensionMismatch,
			"stored embedding dimension disagrees with the provider's; writes are refused until resolved")
	}

	if m.ContentHash == "" {
		m.ContentHash = identity.ContentHash([]byte(m.Content))
	}

	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.InvalidInput, err, "marshal metadata")
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memories (content_hash, content, memory_type, created_at, updated_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
	`, m.ContentHash, m.Content, m.MemoryType, timeToEpoch(m.CreatedAt), timeToEpoch(m.UpdatedAt), string(metaJSON))
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "insert memory")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "read rows affected")
	}
	if affected == 0 {
		// Invariant I1: a second write with the same hash is a no-op success.
		return false, "duplicate", nil
	}

	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memory_tags (content_hash, tag) VALUES (?, ?)`, m.ContentHash, tag); err != nil {
			return false, "", engineerr.Wrap(engineerr.Internal, err, "insert tag")
		}
	}

	if b.provider != nil && b.provider.Ready() {
		vec, err := b.provider.Embed(ctx, m.Content)
		if err != nil {
			// Failure policy (spec §4.3): the record is still persisted;
			// the embedding is simply left absent and filled lazily.
			b.logger.Warn().Err(err).Str("content_hash", m.ContentHash).Msg("embedding failed on write, leaving embedding absent")
		} else {
			if err := b.vectors.upsert(ctx, tx, m.ContentHash, vec); err != nil {
				return false, "", engineerr.Wrap(engineerr.Internal, err, "upsert vector")
			}
			m.Embedding = vec
		}
	}

	if err := tx.Commit(); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "commit transaction")
	}
	return true, "stored", nil
}

func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func epochToTime(e float64) time.Time {
	return time.Unix(0, int64(e*1e9)).UTC()
}

func (b *Backend) loadMemory(ctx context.Context, contentHash string) (*model.Memory, error) {
	var content, memoryType, metaJSON string
	var createdAt, updatedAt float64
	err := b.db.QueryRowContext(ctx, `
		SELECT content, memory_type, created_at, updated_at, metadata_json
		FROM memories WHERE content_hash = ?
	`, contentHash).Scan(&content, &memoryType, &createdAt, &updatedAt, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var meta model.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, err
	}

	tags, err := b.loadTags(ctx, contentHash)
	if err != nil {
		return nil, err
	}

	m := &model.Memory{
		Content:     content,
		ContentHash: contentHash,
		Tags:        tags,
		MemoryType:  memoryType,
		Metadata:    meta,
		CreatedAt:   epochToTime(createdAt),
		UpdatedAt:   epochToTime(updatedAt),
	}
	if vec, ok, err := b.vectors.get(ctx, contentHash); err == nil && ok {
		m.Embedding = vec
	}
	return m, nil
}

func (b *Backend) loadTags(ctx context.Context, contentHash string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE content_hash = ?`, contentHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Retrieve implements semantic retrieval per §4.5: embed the query,
// pool max(n, minPool) candidates, rank per I7, truncate to n.
func (b *Backend) Retrieve(ctx context.Context, queryText string, n int, minSimilarity float64) ([]model.MemoryQueryResult, error) {
	if n <= 0 {
		n = 5
	}
	if b.provider == nil || !b.provider.Ready() {
		return []model.MemoryQueryResult{}, nil
	}

	queryVec, err := b.provider.Embed(ctx, queryText)
	if err != nil {
		// Degrade gracefully rather than failing the RPC (spec §4.3).
		b.logger.Warn().Err(err).Msg("query embedding failed, returning empty result set")
		return []model.MemoryQueryResult{}, nil
	}

	pool := n
	if b.minPool > pool {
		pool = b.minPool
	}
	candidates, err := b.vectors.search(ctx, queryVec, pool, "")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err, "vector search")
	}

	results := make([]model.MemoryQueryResult, 0, len(candidates))
	for _, c := range candidates {
		m, err := b.loadMemory(ctx, c.ContentHash)
		if err != nil || m == nil {
			continue
		}
		results = append(results, model.MemoryQueryResult{
			Memory:          *m,
			SimilarityScore: c.Score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", c.Score),
		})
	}
	return query.FilterBySimilarity(results, minSimilarity, n), nil
}

// SearchByTag implements invariant I6.
func (b *Backend) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]model.Memory, error) {
	normalized := model.NormalizeTags(tags)
	if len(normalized) == 0 {
		return []model.Memory{}, nil
	}

	placeholders := make([]string, len(normalized))
	args := make([]interface{}, len(normalized))
	for i, t := range normalized {
		placeholders[i] = "?"
		args[i] = t
	}

	q := fmt.Sprintf(`
		SELECT content_hash, COUNT(DISTINCT tag) AS matched
		FROM memory_tags
		WHERE tag IN (%s)
		GROUP BY content_hash
	`, strings.Join(placeholders, ","))

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err, "search by tag")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		var matched int
		if err := rows.Scan(&hash, &matched); err != nil {
			return nil, err
		}
		if matchAll && matched < len(normalized) {
			continue
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return b.loadMemoriesByHash(ctx, hashes)
}

func (b *Backend) loadMemoriesByHash(ctx context.Context, hashes []string) ([]model.Memory, error) {
	out := make([]model.Memory, 0, len(hashes))
	for _, h := range hashes {
		m, err := b.loadMemory(ctx, h)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.Internal, err, "load memory %s", h)
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SearchByTime returns memories in [tr.Start, tr.End], newest first.
func (b *Backend) SearchByTime(ctx context.Context, tr storage.TimeRange, n int) ([]model.Memory, error) {
	q := `SELECT content_hash FROM memories WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC`
	args := []interface{}{timeToEpoch(tr.Start), timeToEpoch(tr.End)}
	if n > 0 {
		q += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err, "search by time")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return b.loadMemoriesByHash(ctx, hashes)
}

// SearchSimilarTo implements similar-to per §4.4/§4.5.
func (b *Backend) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]model.MemoryQueryResult, error) {
	if n <= 0 {
		n = 5
	}

	vec, ok, err := b.vectors.get(ctx, contentHash)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err, "load source vector")
	}
	if !ok {
		// Late-embed from content when the source has no stored vector.
		src, err := b.loadMemory(ctx, contentHash)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.Internal, err, "load source memory")
		}
		if src == nil {
			return nil, engineerr.New(engineerr.NotFound, "no memory with content_hash %s", contentHash)
		}
		if b.provider == nil || !b.provider.Ready() {
			return []model.MemoryQueryResult{}, nil
		}
		vec, err = b.provider.Embed(ctx, src.Content)
		if err != nil {
			return []model.MemoryQueryResult{}, nil
		}
		_ = b.vectors.upsert(ctx, b.db, contentHash, vec)
	}

	candidates, err := b.vectors.search(ctx, vec, n, contentHash)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err, "vector search")
	}

	results := make([]model.MemoryQueryResult, 0, len(candidates))
	for _, c := range candidates {
		m, err := b.loadMemory(ctx, c.ContentHash)
		if err != nil || m == nil {
			continue
		}
		results = append(results, model.MemoryQueryResult{
			Memory:          *m,
			SimilarityScore: c.Score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", c.Score),
		})
	}
	query.Rank(results)
	return results, nil
}

// Delete implements invariant I5: removes the memory, its tags, and
// any large-object blob atomically from the caller's perspective.
func (b *Backend) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE content_hash = ?`, contentHash)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "delete memory")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "read rows affected")
	}
	if affected == 0 {
		return false, "not found", nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE content_hash = ?`, contentHash); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "delete tags")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE content_hash = ?`, contentHash); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "delete vector")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_large WHERE content_hash = ?`, contentHash); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "delete large object")
	}

	if err := tx.Commit(); err != nil {
		return false, "", engineerr.Wrap(engineerr.Internal, err, "commit transaction")
	}
	return true, "deleted", nil
}

// DeleteByTag removes every memory carrying tag, atomically per record.
func (b *Backend) DeleteByTag(ctx context.Context, tag string) (int, error) {
	normalized := model.NormalizeTag(tag)
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT content_hash FROM memory_tags WHERE tag = ?`, normalized)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.Internal, err, "find memories by tag")
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	count := 0
	for _, h := range hashes {
		deleted, _, err := b.Delete(ctx, h)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// UpdateMetadata merges patch into metadata and, when tagsProvided,
// replaces the tag set (spec's resolution of the tags Open Question).
func (b *Backend) UpdateMetadata(ctx context.Context, contentHash string, patch model.Metadata, tags []string, tagsProvided bool, memoryType string) error {
	existing, err := b.loadMemory(ctx, contentHash)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "load memory")
	}
	if existing == nil {
		return engineerr.New(engineerr.NotFound, "no memory with content_hash %s", contentHash)
	}

	merged := existing.Metadata.Merge(patch)
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return engineerr.Wrap(engineerr.InvalidInput, err, "marshal metadata")
	}

	newType := existing.MemoryType
	if memoryType != "" {
		newType = memoryType
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET metadata_json = ?, memory_type = ?, updated_at = ? WHERE content_hash = ?
	`, string(metaJSON), newType, timeToEpoch(identity.Now()), contentHash)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "update memory")
	}

	if tagsProvided {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE content_hash = ?`, contentHash); err != nil {
			return engineerr.Wrap(engineerr.Internal, err, "clear tags")
		}
		for _, t := range model.NormalizeTags(tags) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO memory_tags (content_hash, tag) VALUES (?, ?)`, contentHash, t); err != nil {
				return engineerr.Wrap(engineerr.Internal, err, "insert tag")
			}
		}
	}

	return tx.Commit()
}

// CleanupDuplicates always returns 0 without touching the database:
// the PRIMARY KEY on memories.content_hash means no two rows can share
// a content_hash, so there is nothing to merge.
func (b *Backend) CleanupDuplicates(ctx context.Context) (int, error) {
	return 0, nil
}

// GetStats returns the uniform stats shape (spec §4.11).
func (b *Backend) GetStats(ctx context.Context) (storage.Stats, error) {
	var totalMemories int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&totalMemories); err != nil {
		return storage.Stats{}, engineerr.Wrap(engineerr.Internal, err, "count memories")
	}

	var totalTags int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM memory_tags`).Scan(&totalTags); err != nil {
		return storage.Stats{}, engineerr.Wrap(engineerr.Internal, err, "count tags")
	}

	sizeBytes := int64(0)
	if row := b.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`); row != nil {
		_ = row.Scan(&sizeBytes)
	}

	healthy := true
	details := map[string]interface{}{}
	if storedDim, providerDim, mismatched, err := b.dimensionCheck(ctx); err == nil && mismatched {
		healthy = false
		details["error_kind"] = string(engineerr.DimensionMismatch)
		details["stored_dimension"] = storedDim
		details["provider_dimension"] = providerDim
	}

	dim := 0
	model := ""
	if b.provider != nil {
		dim = b.provider.Dimension()
		model = b.provider.ModelName()
	}

	return storage.Stats{
		Backend:            "embedded",
		StorageType:        "sqlite",
		TotalMemories:      totalMemories,
		TotalTags:          totalTags,
		StorageSize:        humanizeBytes(sizeBytes),
		EmbeddingModel:     model,
		EmbeddingDimension: dim,
		Healthy:            healthy,
		Details:            details,
	}, nil
}

func humanizeBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// List returns a page of memories ordered by created_at desc, filtered
// then paginated (never the reverse), per §4.8's list_memories shape.
func (b *Backend) List(ctx context.Context, offset, limit int, filters storage.ListFilters) (storage.ListPage, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filters.MemoryType != "" {
		where = append(where, "m.memory_type = ?")
		args = append(args, filters.MemoryType)
	}
	if filters.Tag != "" {
		where = append(where, "m.content_hash IN (SELECT content_hash FROM memory_tags WHERE tag = ?)")
		args = append(args, model.NormalizeTag(filters.Tag))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM memories m WHERE %s`, whereClause)
	if err := b.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return storage.ListPage{}, engineerr.Wrap(engineerr.Internal, err, "count memories")
	}

	q := fmt.Sprintf(`SELECT m.content_hash FROM memories m WHERE %s ORDER BY m.created_at DESC LIMIT ? OFFSET ?`, whereClause)
	pageArgs := append(append([]interface{}{}, args...), limit, offset)
	rows, err := b.db.QueryContext(ctx, q, pageArgs...)
	if err != nil {
		return storage.ListPage{}, engineerr.Wrap(engineerr.Internal, err, "list memories")
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return storage.ListPage{}, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	records, err := b.loadMemoriesByHash(ctx, hashes)
	if err != nil {
		return storage.ListPage{}, err
	}
	return storage.ListPage{Records: records, Total: total}, nil
}

var _ storage.Backend = (*Backend)(nil)
