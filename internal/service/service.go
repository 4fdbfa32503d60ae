// Package service implements the unified memory service (spec §4.8):
// the sole caller of storage.Backend, responsible for hostname
// tagging, input validation, and shaping results the transports
// (JSON-RPC, HTTP) hand back to callers.
package service

import (
	"context"
	"os"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/health"
	"github.com/hearthlabs/memoryd/internal/metrics"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/query"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Service is the single point of entry into a storage.Backend.
type Service struct {
	backend                storage.Backend
	health                 *health.Checker
	metrics                metrics.Collector
	logger                 zerolog.Logger
	hostname               string
	hostnameTaggingEnabled bool
}

// Config controls hostname tagging behavior (spec §4.1's I4).
type Config struct {
	HostnameTaggingEnabled bool
	Hostname               string
}

// New wires a Service around backend. If cfg.Hostname is empty and
// hostname tagging is enabled, the local machine's hostname is used.
func New(backend storage.Backend, cfg Config, logger zerolog.Logger) *Service {
	hostname := cfg.Hostname
	if cfg.HostnameTaggingEnabled && hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	return &Service{
		backend:                backend,
		health:                 health.NewChecker(backend, 2*time.Second),
		metrics:                metrics.NewCollector(),
		logger:                 logger.With().Str("component", "memoryService").Logger(),
		hostname:               hostname,
		hostnameTaggingEnabled: cfg.HostnameTaggingEnabled,
	}
}

func (s *Service) record(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordError(context.Background(), operation, string(engineerr.KindOf(err)))
	}
	s.metrics.RecordOperation(context.Background(), operation, status, time.Since(start).Milliseconds())
}

// StoreResult is the outcome of StoreMemory.
type StoreResult struct {
	Success     bool
	Message     string
	ContentHash string
}

// StoreMemory validates content, applies hostname tagging (I4), and
// delegates to the backend. createdAt (a Unix epoch, 0 if unset) and
// createdAtISO let a caller supply the memory's creation time; NewMemory
// reconciles the two when both are given.
func (s *Service) StoreMemory(ctx context.Context, content string, tags []string, memoryType string, metadata map[string]interface{}, clientHostname string, createdAt float64, createdAtISO string) (result StoreResult, err error) {
	start := time.Now()
	defer func() { s.record("store_memory", start, err) }()

	var opts []model.MemoryOption
	if createdAt != 0 {
		opts = append(opts, model.WithCreatedAt(time.Unix(0, int64(createdAt*float64(time.Second))).UTC(), createdAtISO))
	} else if createdAtISO != "" {
		opts = append(opts, model.WithCreatedAt(time.Time{}, createdAtISO))
	}
	opts = append(opts, model.WithLogger(s.logger))

	m, err := model.NewMemory(content, tags, memoryType, metadata, opts...)
	if err != nil {
		return StoreResult{}, err
	}

	hostname := clientHostname
	if hostname == "" {
		hostname = s.hostname
	}
	if s.hostnameTaggingEnabled && hostname != "" {
		m.ApplyHostnameTag(hostname)
	}

	stored, message, err := s.backend.Store(ctx, m)
	if err != nil {
		return StoreResult{}, err
	}
	return StoreResult{Success: stored, Message: message, ContentHash: m.ContentHash}, nil
}

// RetrieveResult wraps semantic search results with timing metadata
// for the `retrieve_memory` response shape.
type RetrieveResult struct {
	Results          []model.MemoryQueryResult
	TotalFound       int
	ProcessingTimeMs int64
}

func (s *Service) RetrieveMemory(ctx context.Context, queryText string, nResults int, minSimilarity float64) (RetrieveResult, error) {
	if nResults <= 0 {
		nResults = 5
	}
	start := time.Now()
	var err error
	defer func() { s.record("retrieve_memory", start, err) }()

	results, retrieveErr := s.backend.Retrieve(ctx, queryText, nResults, minSimilarity)
	err = retrieveErr
	if err != nil {
		return RetrieveResult{}, err
	}
	return RetrieveResult{
		Results:          results,
		TotalFound:       len(results),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// SearchByTagResult carries back the tags searched and the match mode
// alongside the results, matching the `search_by_tag` response shape.
type SearchByTagResult struct {
	Results    []model.Memory
	SearchTags []string
	MatchAll   bool
	TotalFound int
}

func (s *Service) SearchByTag(ctx context.Context, tags []string, matchAll bool) (SearchByTagResult, error) {
	start := time.Now()
	var err error
	defer func() { s.record("search_by_tag", start, err) }()

	normalized := model.NormalizeTags(tags)
	var results []model.Memory
	results, err = s.backend.SearchByTag(ctx, normalized, matchAll)
	if err != nil {
		return SearchByTagResult{}, err
	}
	// I6/P3: match_all is always a subset of match_any over the same
	// set. A backend (in particular a federated one relaying to a
	// coordinator that filters differently) could violate that; rather
	// than trust it blindly, recompute the match-any set and drop
	// anything match_all returned that isn't confirmed in it.
	if matchAll {
		anyResults, anyErr := s.backend.SearchByTag(ctx, normalized, false)
		if anyErr == nil {
			confirmed := lo.Intersect(hashesOf(results), hashesOf(anyResults))
			results = filterByHash(results, confirmed)
		}
	}
	return SearchByTagResult{Results: results, SearchTags: normalized, MatchAll: matchAll, TotalFound: len(results)}, nil
}

func hashesOf(memories []model.Memory) []string {
	return lo.Map(memories, func(m model.Memory, _ int) string { return m.ContentHash })
}

func filterByHash(memories []model.Memory, keep []string) []model.Memory {
	allowed := lo.SliceToMap(keep, func(h string) (string, struct{}) { return h, struct{}{} })
	return lo.Filter(memories, func(m model.Memory, _ int) bool {
		_, ok := allowed[m.ContentHash]
		return ok
	})
}

// SearchByTimeResult mirrors the `search_by_time` response shape,
// echoing back the resolved bounds alongside the matches.
type SearchByTimeResult struct {
	Results    []model.Memory
	Start      time.Time
	End        time.Time
	TotalFound int
}

func (s *Service) SearchByTime(ctx context.Context, queryText string, n int) (SearchByTimeResult, error) {
	tr, err := query.ParseTimeQuery(queryText, time.Now().UTC())
	if err != nil {
		return SearchByTimeResult{}, engineerr.Wrap(engineerr.InvalidInput, err, "parse time query %q", queryText)
	}
	results, err := s.backend.SearchByTime(ctx, tr, n)
	if err != nil {
		return SearchByTimeResult{}, err
	}
	return SearchByTimeResult{Results: results, Start: tr.Start, End: tr.End, TotalFound: len(results)}, nil
}

// SearchSimilarResult mirrors the `search_similar` response shape.
type SearchSimilarResult struct {
	Results    []model.MemoryQueryResult
	SourceHash string
	TotalFound int
}

func (s *Service) SearchSimilarTo(ctx context.Context, contentHash string, n int) (SearchSimilarResult, error) {
	results, err := s.backend.SearchSimilarTo(ctx, contentHash, n)
	if err != nil {
		return SearchSimilarResult{}, err
	}
	return SearchSimilarResult{Results: results, SourceHash: contentHash, TotalFound: len(results)}, nil
}

// DeleteResult mirrors the `delete_memory` response shape.
type DeleteResult struct {
	Success     bool
	Message     string
	ContentHash string
}

func (s *Service) DeleteMemory(ctx context.Context, contentHash string) (DeleteResult, error) {
	start := time.Now()
	var err error
	defer func() { s.record("delete_memory", start, err) }()

	var deleted bool
	var message string
	deleted, message, err = s.backend.Delete(ctx, contentHash)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Success: deleted, Message: message, ContentHash: contentHash}, nil
}

func (s *Service) DeleteByTag(ctx context.Context, tag string) (int, error) {
	return s.backend.DeleteByTag(ctx, tag)
}

// UpdateMetadata merges patch and, when tagsProvided, replaces the tag
// set entirely — the resolution the spec's tags Open Question settled
// on (replace-not-merge, since merge-only tags can never be removed).
func (s *Service) UpdateMetadata(ctx context.Context, contentHash string, patch map[string]interface{}, tags []string, tagsProvided bool, memoryType string) error {
	normalized, err := model.NormalizeMetadata(patch)
	if err != nil {
		return err
	}
	return s.backend.UpdateMetadata(ctx, contentHash, normalized, model.NormalizeTags(tags), tagsProvided, memoryType)
}

func (s *Service) CleanupDuplicates(ctx context.Context) (int, error) {
	return s.backend.CleanupDuplicates(ctx)
}

// ListResult mirrors the `list_memories` response shape: filter then
// paginate, never the reverse (§4.8).
type ListResult struct {
	Results  []model.Memory
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// List implements list_memories(page, page_size, filters). page is
// 1-based; page<1 and pageSize<1 fall back to page=1, page_size=10.
func (s *Service) List(ctx context.Context, page, pageSize int, filters storage.ListFilters) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	result, err := s.backend.List(ctx, offset, pageSize, filters)
	if err != nil {
		return ListResult{}, err
	}
	hasMore := offset+len(result.Records) < result.Total
	return ListResult{
		Results:  result.Records,
		Total:    result.Total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	}, nil
}

func (s *Service) CheckHealth(ctx context.Context) (storage.Stats, error) {
	return s.health.Liveness(ctx)
}

func (s *Service) CheckHealthDetailed(ctx context.Context) (storage.Stats, error) {
	return s.health.Detailed(ctx)
}
