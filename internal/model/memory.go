// Package model defines the canonical Memory record and the
// construction policy every ingestion path must funnel through.
package model

import (
	"strings"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/identity"
	"github.com/rs/zerolog"
)

// Memory is the canonical record (spec §3).
type Memory struct {
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Tags        []string  `json:"tags"`
	MemoryType  string    `json:"memory_type"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Embedding   []float32 `json:"-"`
}

// CreatedAtISO renders CreatedAt per the wire contract.
func (m *Memory) CreatedAtISO() string { return identity.ToISO8601(m.CreatedAt) }

// UpdatedAtISO renders UpdatedAt per the wire contract.
func (m *Memory) UpdatedAtISO() string { return identity.ToISO8601(m.UpdatedAt) }

// TagSet returns m's tags as a TagSet for AND/OR comparisons.
func (m *Memory) TagSet() TagSet { return NewTagSet(m.Tags) }

// MemoryQueryResult pairs a Memory with a semantic relevance score.
type MemoryQueryResult struct {
	Memory          Memory  `json:"memory"`
	SimilarityScore float64 `json:"similarity_score"`
	RelevanceReason string  `json:"relevance_reason"`
}

const defaultMemoryType = "note"

// timestampReconcileTolerance and timestampReconcileMaxDrift bound how
// far a caller-supplied created_at (epoch) and created_at_iso may
// disagree before NewMemory stops trusting them, mirroring
// models/memory.py's _sync_timestamps in the original implementation.
const (
	timestampReconcileTolerance = time.Second
	timestampReconcileMaxDrift  = 24 * time.Hour
)

type memoryOptions struct {
	createdAt    *time.Time
	createdAtISO string
	logger       zerolog.Logger
}

// MemoryOption customizes NewMemory's construction.
type MemoryOption func(*memoryOptions)

// WithCreatedAt supplies a caller-provided creation time, its ISO8601
// rendering, or both. When both are given and disagree, NewMemory
// reconciles them: a disagreement under a day prefers t and regenerates
// the ISO string on read; a disagreement of a day or more is discarded
// in favor of the current time. Either argument may be zero/empty to
// supply only the other.
func WithCreatedAt(t time.Time, iso string) MemoryOption {
	return func(o *memoryOptions) {
		if !t.IsZero() {
			tt := t
			o.createdAt = &tt
		}
		o.createdAtISO = iso
	}
}

// WithLogger routes NewMemory's timestamp-reconciliation warnings
// through logger instead of discarding them.
func WithLogger(logger zerolog.Logger) MemoryOption {
	return func(o *memoryOptions) { o.logger = logger }
}

// reconcileCreatedAt decides the authoritative creation time from a
// caller-supplied epoch time, its ISO8601 rendering, or both, falling
// back to now when neither is usable. It returns a non-empty message
// when the inputs disagreed, and dropped is true only when the
// disagreement was large enough that the reconciled time was
// discarded in favor of now rather than merely re-derived.
func reconcileCreatedAt(now time.Time, createdAt *time.Time, createdAtISO string) (resolved time.Time, message string, dropped bool) {
	var parsedISO *time.Time
	var isoErr error
	if createdAtISO != "" {
		if t, err := identity.FromISO8601(createdAtISO); err == nil {
			parsedISO = &t
		} else {
			isoErr = err
		}
	}

	switch {
	case createdAt != nil && parsedISO != nil:
		diff := createdAt.Sub(*parsedISO)
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff >= timestampReconcileMaxDrift:
			return now, "created_at and created_at_iso disagree by a day or more, using current time", true
		case diff > timestampReconcileTolerance:
			return *createdAt, "created_at and created_at_iso disagree, preferring the epoch value", false
		default:
			return *createdAt, "", false
		}
	case createdAt != nil:
		return *createdAt, "", false
	case parsedISO != nil:
		return *parsedISO, "", false
	case createdAtISO != "":
		return now, "created_at_iso could not be parsed: " + isoErr.Error(), true
	default:
		return now, "", false
	}
}

// NewMemory normalizes and validates a candidate record, enforcing
// invariants I1-I4. It is the single choke point every ingestion path
// (direct store, HTTP, federated relay) must call before a Memory is
// considered fit to persist.
func NewMemory(content string, tags []string, memoryType string, meta map[string]interface{}, opts ...MemoryOption) (*Memory, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, engineerr.New(engineerr.InvalidInput, "content must not be empty")
	}

	normalizedMeta, err := NormalizeMetadata(meta)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidInput, err, "invalid metadata")
	}

	if memoryType == "" {
		memoryType = defaultMemoryType
	}

	opt := memoryOptions{logger: zerolog.Nop()}
	for _, o := range opts {
		o(&opt)
	}

	now := identity.Now()
	createdAt, message, dropped := reconcileCreatedAt(now, opt.createdAt, opt.createdAtISO)
	if message != "" {
		event := opt.logger.Info()
		if dropped {
			event = opt.logger.Warn()
		}
		event.Str("created_at_iso", opt.createdAtISO).Msg(message)
	}

	m := &Memory{
		Content:     content,
		ContentHash: identity.ContentHash([]byte(content)),
		Tags:        NormalizeTags(tags),
		MemoryType:  memoryType,
		Metadata:    normalizedMeta,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	return m, nil
}

// ApplyHostnameTag ensures the memory carries tag "source:<hostname>"
// and metadata "hostname":hostname, per invariant I4. It is a no-op if
// hostname is empty.
func (m *Memory) ApplyHostnameTag(hostname string) {
	if hostname == "" {
		return
	}
	if m.Metadata == nil {
		m.Metadata = Metadata{}
	}
	m.Metadata[MetaHostname] = hostname
	sourceTag := MetaSource + ":" + hostname
	for _, t := range m.Tags {
		if t == sourceTag {
			return
		}
	}
	m.Tags = append(m.Tags, sourceTag)
}
