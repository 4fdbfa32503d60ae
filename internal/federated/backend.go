// Package federated implements the HTTP-Federated storage backend
// (spec §4.7): a thin storage.Backend that delegates every operation
// to a remote coordinator over HTTP instead of touching local storage.
package federated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
)

// Backend calls a remote coordinator's HTTP surface (spec §6.2) for
// every storage.Backend method, bearer-authenticating each request the
// same way the teacher's HTTP MCP client attaches credentials. Every
// request/response shape here is exactly the one internal/httpapi
// serves, so a federated read produces the same result a direct HTTP
// caller of the coordinator would see (spec §4.7).
type Backend struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBackend validates baseURL and returns a Backend pointed at it.
func NewBackend(baseURL, authToken string, timeout time.Duration, logger zerolog.Logger) (*Backend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required for federated backend")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "federatedBackend").Logger(),
	}, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return engineerr.Wrap(engineerr.InvalidInput, err, "marshal request body")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "call coordinator at %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return engineerr.New(engineerr.Unauthorized, "coordinator rejected credentials")
	}
	if resp.StatusCode >= 500 {
		return engineerr.New(engineerr.BackendUnavailable, "coordinator returned %d for %s", resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return engineerr.New(engineerr.InvalidInput, "coordinator rejected request: %s", string(payload))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return engineerr.Wrap(engineerr.Internal, err, "decode coordinator response")
		}
	}
	return nil
}

func (b *Backend) Initialize(ctx context.Context) error {
	return b.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (b *Backend) Close() error { return nil }

type storeRequest struct {
	Content      string                 `json:"content"`
	Tags         []string               `json:"tags,omitempty"`
	MemoryType   string                 `json:"memory_type,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    float64                `json:"created_at,omitempty"`
	CreatedAtISO string                 `json:"created_at_iso,omitempty"`
}

type storeResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
}

func (b *Backend) Store(ctx context.Context, m *model.Memory) (bool, string, error) {
	var resp storeResponse
	err := b.do(ctx, http.MethodPost, "/api/memories", storeRequest{
		Content:      m.Content,
		Tags:         m.Tags,
		MemoryType:   m.MemoryType,
		Metadata:     m.Metadata,
		CreatedAt:    float64(m.CreatedAt.UnixNano()) / float64(time.Second),
		CreatedAtISO: m.CreatedAtISO(),
	}, &resp)
	if err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

// The wire shapes below decode straight into model.Memory and
// model.MemoryQueryResult: internal/httpapi serializes those types
// directly (created_at/updated_at, results nested under "memory"), so
// no separate wire struct or field-renaming shim is needed here.

type retrieveRequest struct {
	Query         string  `json:"query"`
	NResults      int     `json:"n_results"`
	MinSimilarity float64 `json:"min_similarity"`
}

type retrieveResponse struct {
	Results []model.MemoryQueryResult `json:"results"`
}

func (b *Backend) Retrieve(ctx context.Context, query string, n int, minSimilarity float64) ([]model.MemoryQueryResult, error) {
	var resp retrieveResponse
	err := b.do(ctx, http.MethodPost, "/api/search", retrieveRequest{
		Query: query, NResults: n, MinSimilarity: minSimilarity,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type searchByTagRequest struct {
	Tags     []string `json:"tags"`
	MatchAll bool     `json:"match_all"`
}

type listResponse struct {
	Results []model.Memory `json:"results"`
}

func (b *Backend) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]model.Memory, error) {
	var resp listResponse
	err := b.do(ctx, http.MethodPost, "/api/search/by-tag", searchByTagRequest{
		Tags: tags, MatchAll: matchAll,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type searchByTimeRequest struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	NResults int    `json:"n_results"`
}

func (b *Backend) SearchByTime(ctx context.Context, tr storage.TimeRange, n int) ([]model.Memory, error) {
	var resp listResponse
	err := b.do(ctx, http.MethodPost, "/api/search/by-time", searchByTimeRequest{
		Start:    tr.Start.Format(time.RFC3339),
		End:      tr.End.Format(time.RFC3339),
		NResults: n,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type searchSimilarRequest struct {
	ContentHash string `json:"content_hash"`
	NResults    int    `json:"n_results"`
}

func (b *Backend) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]model.MemoryQueryResult, error) {
	var resp retrieveResponse
	err := b.do(ctx, http.MethodPost, "/api/search/similar", searchSimilarRequest{
		ContentHash: contentHash, NResults: n,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (b *Backend) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	var resp deleteResponse
	err := b.do(ctx, http.MethodDelete, "/api/memories/"+url.PathEscape(contentHash), nil, &resp)
	if err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

type deleteByTagResponse struct {
	Deleted int `json:"deleted"`
}

func (b *Backend) DeleteByTag(ctx context.Context, tag string) (int, error) {
	var resp deleteByTagResponse
	err := b.do(ctx, http.MethodDelete, "/api/memories/by-tag/"+url.PathEscape(tag), nil, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

type updateMetadataRequest struct {
	Metadata     map[string]interface{} `json:"metadata"`
	Tags         []string               `json:"tags,omitempty"`
	TagsProvided bool                   `json:"tags_provided"`
	MemoryType   string                 `json:"memory_type,omitempty"`
}

func (b *Backend) UpdateMetadata(ctx context.Context, contentHash string, patch model.Metadata, tags []string, tagsProvided bool, memoryType string) error {
	return b.do(ctx, http.MethodPatch, "/api/memories/"+url.PathEscape(contentHash), updateMetadataRequest{
		Metadata:     patch,
		Tags:         tags,
		TagsProvided: tagsProvided,
		MemoryType:   memoryType,
	}, nil)
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (b *Backend) CleanupDuplicates(ctx context.Context) (int, error) {
	var resp cleanupResponse
	if err := b.do(ctx, http.MethodPost, "/api/memories/cleanup-duplicates", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (b *Backend) GetStats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	if err := b.do(ctx, http.MethodGet, "/api/health/detailed", nil, &stats); err != nil {
		return storage.Stats{}, err
	}
	return stats, nil
}

type listPageResponse struct {
	Results  []model.Memory `json:"results"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasMore  bool           `json:"has_more"`
}

// List implements storage.Backend's offset/limit contract by
// translating it to the coordinator's page/page_size query params
// (§6.2's list_memories route is page-based, not offset-based). This
// is exact because internal/service.List is the only caller and always
// computes offset as an exact multiple of limit.
func (b *Backend) List(ctx context.Context, offset, limit int, filters storage.ListFilters) (storage.ListPage, error) {
	if limit <= 0 {
		limit = 10
	}
	page := offset/limit + 1

	values := url.Values{}
	values.Set("page", fmt.Sprintf("%d", page))
	values.Set("page_size", fmt.Sprintf("%d", limit))
	if filters.Tag != "" {
		values.Set("tag", filters.Tag)
	}
	if filters.MemoryType != "" {
		values.Set("type", filters.MemoryType)
	}
	var resp listPageResponse
	if err := b.do(ctx, http.MethodGet, "/api/memories?"+values.Encode(), nil, &resp); err != nil {
		return storage.ListPage{}, err
	}
	return storage.ListPage{Records: resp.Results, Total: resp.Total}, nil
}

var _ storage.Backend = (*Backend)(nil)
