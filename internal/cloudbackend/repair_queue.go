package cloudbackend

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RepairEntry is one failed vector-upsert recorded for later retry, as
// described in §4.6's "repair pass may re-upsert later" clause.
type RepairEntry struct {
	ID          string
	ContentHash string
	Embedding   []float32
	Dimension   int
	Attempts    int
	CreatedAt   time.Time
}

// RepairQueue persists failed vector upserts and drains them on a cron
// schedule, announcing new entries over Redis pub/sub so a sibling
// repair worker in another process reacts without polling — the same
// pattern as the teacher's redis-backed signal bus, applied to a retry
// queue instead of task-completion events.
type RepairQueue struct {
	mu      sync.Mutex
	db      *sql.DB
	redis   redis.UniversalClient
	channel string
	logger  zerolog.Logger
	cron    *cron.Cron
	onDrain func(ctx context.Context, entry RepairEntry) error
}

// NewRepairQueue constructs a queue backed by db's repair_queue table.
// redisClient may be nil, in which case entries are only ever picked
// up by this process's own cron schedule.
func NewRepairQueue(db *sql.DB, redisClient redis.UniversalClient, channel string, logger zerolog.Logger) *RepairQueue {
	if channel == "" {
		channel = "memoryd:repair"
	}
	return &RepairQueue{
		db:      db,
		redis:   redisClient,
		channel: channel,
		logger:  logger.With().Str("component", "repairQueue").Logger(),
	}
}

// Enqueue records a failed vector upsert for later retry.
func (q *RepairQueue) Enqueue(ctx context.Context, contentHash string, embedding []float32, dimension int) error {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()

	buf, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO repair_queue (id, content_hash, embedding_json, dimension, attempts, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, id, contentHash, string(buf), dimension, float64(time.Now().UnixNano())/1e9)
	if err != nil {
		return fmt.Errorf("enqueue repair entry: %w", err)
	}

	if q.redis != nil {
		payload, _ := json.Marshal(map[string]string{"id": id, "content_hash": contentHash})
		if pubErr := q.redis.Publish(ctx, q.channel, payload).Err(); pubErr != nil {
			q.logger.Warn().Err(pubErr).Msg("failed to announce repair entry over redis, cron drain will still pick it up")
		}
	}
	return nil
}

// StartCron schedules a drain pass on the given cron spec (e.g. "@every 30s").
func (q *RepairQueue) StartCron(spec string, onDrain func(ctx context.Context, entry RepairEntry) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onDrain = onDrain
	q.cron = cron.New()
	_, err := q.cron.AddFunc(spec, func() {
		if err := q.Drain(context.Background()); err != nil {
			q.logger.Error().Err(err).Msg("repair drain pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule repair drain: %w", err)
	}
	q.cron.Start()
	return nil
}

// StopCron stops the drain schedule.
func (q *RepairQueue) StopCron() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cron != nil {
		q.cron.Stop()
	}
}

// Drain attempts to reprocess every queued entry once, removing those
// that succeed and bumping attempts for those that fail again.
func (q *RepairQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	onDrain := q.onDrain
	q.mu.Unlock()
	if onDrain == nil {
		return nil
	}

	rows, err := q.db.QueryContext(ctx, `SELECT id, content_hash, embedding_json, dimension, attempts, created_at FROM repair_queue ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("list repair entries: %w", err)
	}
	var entries []RepairEntry
	for rows.Next() {
		var e RepairEntry
		var embJSON string
		var createdAt float64
		if err := rows.Scan(&e.ID, &e.ContentHash, &embJSON, &e.Dimension, &e.Attempts, &createdAt); err != nil {
			rows.Close()
			return err
		}
		_ = json.Unmarshal([]byte(embJSON), &e.Embedding)
		e.CreatedAt = time.Unix(0, int64(createdAt*1e9)).UTC()
		entries = append(entries, e)
	}
	rows.Close()

	for _, e := range entries {
		if err := onDrain(ctx, e); err != nil {
			q.logger.Warn().Err(err).Str("content_hash", e.ContentHash).Int("attempts", e.Attempts+1).Msg("repair attempt failed, will retry next pass")
			if _, updErr := q.db.ExecContext(ctx, `UPDATE repair_queue SET attempts = attempts + 1 WHERE id = ?`, e.ID); updErr != nil {
				return updErr
			}
			continue
		}
		if _, delErr := q.db.ExecContext(ctx, `DELETE FROM repair_queue WHERE id = ?`, e.ID); delErr != nil {
			return delErr
		}
	}
	return nil
}
