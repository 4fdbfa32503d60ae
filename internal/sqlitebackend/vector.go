package sqlitebackend

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hearthlabs/memoryd/internal/query"
)

// vectorIndex is the embedded backend's "vector-index virtual table"
// (spec §4.5). It stores one BLOB row per memory in memory_vectors and
// ranks candidates with an in-process cosine-similarity scan.
//
// gognee ships two implementations of the same VectorStore interface:
// SQLiteVectorStore, which drives a cgo sqlite-vec vec0 virtual table,
// and MemoryVectorStore, a pure-Go map-backed linear scan
// (pkg/store/memory_vector.go) sharing pkg/store/vector.go's
// CosineSimilarity. This type follows the latter's algorithm but
// persists to the memories database instead of an in-memory map, so
// the "virtual table" the spec describes is real per-row storage with
// no external C dependency (see DESIGN.md for why the cgo vec0 path
// isn't reproduced here).
type vectorIndex struct {
	db *sql.DB
}

func newVectorIndex(db *sql.DB) *vectorIndex {
	return &vectorIndex{db: db}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func (vi *vectorIndex) upsert(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, contentHash string, embedding []float32) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO memory_vectors (content_hash, embedding, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET embedding = excluded.embedding, dimension = excluded.dimension
	`, contentHash, encodeVector(embedding), len(embedding))
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

func (vi *vectorIndex) delete(ctx context.Context, contentHash string) error {
	_, err := vi.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE content_hash = ?`, contentHash)
	return err
}

func (vi *vectorIndex) get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	var blob []byte
	err := vi.db.QueryRowContext(ctx, `SELECT embedding FROM memory_vectors WHERE content_hash = ?`, contentHash).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeVector(blob), true, nil
}

type vectorCandidate struct {
	ContentHash string
	Score       float64
}

// search returns the topK candidates by cosine similarity to queryVec,
// excluding excludeHash if non-empty. k* pooling (spec §4.5's
// max(n, min_pool)) is the caller's responsibility; search always
// scans every stored vector since this index has no ANN structure.
func (vi *vectorIndex) search(ctx context.Context, queryVec []float32, topK int, excludeHash string) ([]vectorCandidate, error) {
	rows, err := vi.db.QueryContext(ctx, `SELECT content_hash, embedding FROM memory_vectors`)
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer rows.Close()

	var candidates []vectorCandidate
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, err
		}
		if hash == excludeHash {
			continue
		}
		score := query.CosineSimilarity(queryVec, decodeVector(blob))
		candidates = append(candidates, vectorCandidate{ContentHash: hash, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// dimension returns the dimension recorded for any stored vector, or 0
// if the index is empty.
func (vi *vectorIndex) dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := vi.db.QueryRowContext(ctx, `SELECT dimension FROM memory_vectors LIMIT 1`).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(dim.Int64), nil
}
