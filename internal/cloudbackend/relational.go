package cloudbackend

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// SQLRelationalStore is a RelationalStore built with squirrel over any
// database/sql driver reachable at the configured DSN — the relational
// half of the cloud backend does not assume a specific vendor, only
// that it speaks database/sql.
type SQLRelationalStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewSQLRelationalStore wraps db, defaulting to squirrel's '?'
// placeholder format (SQLite/MySQL compatible).
func NewSQLRelationalStore(db *sql.DB) *SQLRelationalStore {
	return &SQLRelationalStore{db: db, builder: sq.StatementBuilder}
}

func (s *SQLRelationalStore) InsertMemory(ctx context.Context, row MemoryRow) (bool, error) {
	q, args, err := s.builder.Insert("cloud_memories").
		Columns("content_hash", "content", "memory_type", "metadata_json", "created_at", "updated_at", "large_object").
		Values(row.ContentHash, row.Content, row.MemoryType, row.MetadataJSON, row.CreatedAt, row.UpdatedAt, row.LargeObject).
		Suffix("ON CONFLICT(content_hash) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("insert memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	for _, tag := range row.Tags {
		tq, targs, err := s.builder.Insert("cloud_memory_tags").Columns("content_hash", "tag").Values(row.ContentHash, tag).ToSql()
		if err != nil {
			return false, err
		}
		if _, err := s.db.ExecContext(ctx, tq, targs...); err != nil {
			return false, fmt.Errorf("insert tag: %w", err)
		}
	}
	return true, nil
}

func (s *SQLRelationalStore) GetMemory(ctx context.Context, contentHash string) (*MemoryRow, error) {
	q, args, err := s.builder.Select("content_hash", "content", "memory_type", "metadata_json", "created_at", "updated_at", "large_object").
		From("cloud_memories").Where(sq.Eq{"content_hash": contentHash}).ToSql()
	if err != nil {
		return nil, err
	}
	var row MemoryRow
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&row.ContentHash, &row.Content, &row.MemoryType, &row.MetadataJSON, &row.CreatedAt, &row.UpdatedAt, &row.LargeObject)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.Tags, err = s.tagsFor(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SQLRelationalStore) tagsFor(ctx context.Context, contentHash string) ([]string, error) {
	q, args, err := s.builder.Select("tag").From("cloud_memory_tags").Where(sq.Eq{"content_hash": contentHash}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *SQLRelationalStore) DeleteMemory(ctx context.Context, contentHash string) error {
	tq, targs, err := s.builder.Delete("cloud_memory_tags").Where(sq.Eq{"content_hash": contentHash}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, tq, targs...); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	q, args, err := s.builder.Delete("cloud_memories").Where(sq.Eq{"content_hash": contentHash}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

func (s *SQLRelationalStore) UpdateMemory(ctx context.Context, contentHash string, metadataJSON string, memoryType string, tags []string, tagsProvided bool, updatedAt float64) error {
	upd := s.builder.Update("cloud_memories").
		Set("metadata_json", metadataJSON).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"content_hash": contentHash})
	if memoryType != "" {
		upd = upd.Set("memory_type", memoryType)
	}
	q, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update memory: %w", err)
	}

	if tagsProvided {
		dq, dargs, _ := s.builder.Delete("cloud_memory_tags").Where(sq.Eq{"content_hash": contentHash}).ToSql()
		if _, err := s.db.ExecContext(ctx, dq, dargs...); err != nil {
			return fmt.Errorf("clear tags: %w", err)
		}
		for _, tag := range tags {
			iq, iargs, _ := s.builder.Insert("cloud_memory_tags").Columns("content_hash", "tag").Values(contentHash, tag).ToSql()
			if _, err := s.db.ExecContext(ctx, iq, iargs...); err != nil {
				return fmt.Errorf("insert tag: %w", err)
			}
		}
	}
	return nil
}

func (s *SQLRelationalStore) ListByTag(ctx context.Context, tags []string, matchAll bool) ([]MemoryRow, error) {
	q, args, err := s.builder.Select("DISTINCT content_hash").From("cloud_memory_tags").Where(sq.Eq{"tag": tags}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	var out []MemoryRow
	for _, h := range hashes {
		row, err := s.GetMemory(ctx, h)
		if err != nil || row == nil {
			continue
		}
		if matchAll && !containsAll(row.Tags, tags) {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func (s *SQLRelationalStore) ListByTimeRange(ctx context.Context, startEpoch, endEpoch float64, limit int) ([]MemoryRow, error) {
	builder := s.builder.Select("content_hash").From("cloud_memories").
		Where(sq.GtOrEq{"created_at": startEpoch}).
		Where(sq.LtOrEq{"created_at": endEpoch}).
		OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []MemoryRow
	for _, h := range hashes {
		row, err := s.GetMemory(ctx, h)
		if err == nil && row != nil {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *SQLRelationalStore) List(ctx context.Context, offset, limit int, tag, memoryType string) ([]MemoryRow, int, error) {
	base := s.builder.Select("content_hash").From("cloud_memories")
	countBase := s.builder.Select("COUNT(*)").From("cloud_memories")
	if memoryType != "" {
		base = base.Where(sq.Eq{"memory_type": memoryType})
		countBase = countBase.Where(sq.Eq{"memory_type": memoryType})
	}
	if tag != "" {
		sub := "content_hash IN (SELECT content_hash FROM cloud_memory_tags WHERE tag = ?)"
		base = base.Where(sub, tag)
		countBase = countBase.Where(sub, tag)
	}

	cq, cargs, err := countBase.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, cq, cargs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q, args, err := base.OrderBy("created_at DESC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, 0, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var out []MemoryRow
	for _, h := range hashes {
		row, err := s.GetMemory(ctx, h)
		if err == nil && row != nil {
			out = append(out, *row)
		}
	}
	return out, total, nil
}

func (s *SQLRelationalStore) Stats(ctx context.Context) (int64, int64, error) {
	var totalMemories, totalTags int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cloud_memories`).Scan(&totalMemories); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM cloud_memory_tags`).Scan(&totalTags); err != nil {
		return 0, 0, err
	}
	return totalMemories, totalTags, nil
}

// Schema is the DDL SQLRelationalStore expects. cmd/memoryd executes it
// against the relational database when it opens the cloud backend.
const Schema = `
CREATE TABLE IF NOT EXISTS cloud_memories (
	content_hash TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	large_object INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cloud_memory_tags (
	content_hash TEXT NOT NULL,
	tag TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS repair_queue (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	embedding_json TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at REAL NOT NULL
);
`
