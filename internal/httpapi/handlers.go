// Package httpapi implements the HTTP Coordinator Surface (spec §6.2):
// health, CRUD, and search endpoints, plus a change-notification SSE
// stream for federated clients.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
)

// Handler wires a Service to the chi routes.
type Handler struct {
	svc    *service.Service
	events *EventBroker
	logger zerolog.Logger
}

// NewHandler builds a Handler around svc.
func NewHandler(svc *service.Service, events *EventBroker, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, events: events, logger: logger.With().Str("component", "httpHandler").Logger()}
}

type storeRequest struct {
	Content        string                 `json:"content"`
	Tags           []string               `json:"tags,omitempty"`
	MemoryType     string                 `json:"memory_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ClientHostname string                 `json:"client_hostname,omitempty"`
	CreatedAt      float64                `json:"created_at,omitempty"`
	CreatedAtISO   string                 `json:"created_at_iso,omitempty"`
}

// StoreMemory handles POST /api/memories.
func (h *Handler) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.StoreMemory(r.Context(), req.Content, req.Tags, req.MemoryType, req.Metadata, req.ClientHostname,
		req.CreatedAt, req.CreatedAtISO)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Success && h.events != nil {
		h.events.Publish(Event{Type: "memory_stored", ContentHash: result.ContentHash})
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      result.Success,
		"message":      result.Message,
		"content_hash": result.ContentHash,
	})
}

type retrieveRequest struct {
	Query         string  `json:"query"`
	NResults      int     `json:"n_results"`
	MinSimilarity float64 `json:"min_similarity"`
}

// RetrieveMemory handles POST /api/search (retrieve_memory).
func (h *Handler) RetrieveMemory(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.NResults <= 0 {
		req.NResults = 5
	}

	result, err := h.svc.RetrieveMemory(r.Context(), req.Query, req.NResults, req.MinSimilarity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":            result.Results,
		"total_found":        result.TotalFound,
		"processing_time_ms": result.ProcessingTimeMs,
	})
}

type searchByTagRequest struct {
	Tags     []string `json:"tags"`
	MatchAll bool     `json:"match_all"`
}

// SearchByTag handles POST /api/search/by-tag.
func (h *Handler) SearchByTag(w http.ResponseWriter, r *http.Request) {
	var req searchByTagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.SearchByTag(r.Context(), req.Tags, req.MatchAll)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":     result.Results,
		"search_tags": result.SearchTags,
		"match_all":   result.MatchAll,
		"total_found": result.TotalFound,
	})
}

type searchByTimeRequest struct {
	Query    string `json:"query,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	NResults int    `json:"n_results"`
}

// SearchByTime handles POST /api/search/by-time.
func (h *Handler) SearchByTime(w http.ResponseWriter, r *http.Request) {
	var req searchByTimeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	queryText := req.Query
	if queryText == "" && req.Start != "" {
		queryText = "between " + req.Start + " and " + req.End
	}

	result, err := h.svc.SearchByTime(r.Context(), queryText, req.NResults)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":     result.Results,
		"start":       result.Start,
		"end":         result.End,
		"total_found": result.TotalFound,
	})
}

type searchSimilarRequest struct {
	ContentHash string `json:"content_hash"`
	NResults    int    `json:"n_results"`
}

// SearchSimilar handles POST /api/search/similar.
func (h *Handler) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	var req searchSimilarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.NResults <= 0 {
		req.NResults = 5
	}

	result, err := h.svc.SearchSimilarTo(r.Context(), req.ContentHash, req.NResults)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":     result.Results,
		"source_hash": result.SourceHash,
		"total_found": result.TotalFound,
	})
}

// DeleteMemory handles DELETE /api/memories/{content_hash}.
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	result, err := h.svc.DeleteMemory(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Success && h.events != nil {
		h.events.Publish(Event{Type: "memory_deleted", ContentHash: hash})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      result.Success,
		"message":      result.Message,
		"content_hash": result.ContentHash,
	})
}

// DeleteByTag handles DELETE /api/memories/by-tag/{tag}. Not one of
// the primary §6.2 routes but required to expose delete_by_tag (§6.1)
// over HTTP.
func (h *Handler) DeleteByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	count, err := h.svc.DeleteByTag(r.Context(), tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": count})
}

type updateMetadataRequest struct {
	Metadata     map[string]interface{} `json:"metadata"`
	Tags         []string                `json:"tags,omitempty"`
	TagsProvided bool                    `json:"tags_provided"`
	MemoryType   string                  `json:"memory_type,omitempty"`
}

// UpdateMetadata handles PATCH /api/memories/{hash}, exposing
// update_memory_metadata (§6.1) over HTTP.
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req updateMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.UpdateMetadata(r.Context(), hash, req.Metadata, req.Tags, req.TagsProvided, req.MemoryType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "content_hash": hash})
}

// CleanupDuplicates handles POST /api/memories/cleanup-duplicates,
// exposing cleanup_duplicates (§6.1) over HTTP.
func (h *Handler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.CleanupDuplicates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// ListMemories handles GET /api/memories?page=&page_size=&tag=&type=.
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := intParam(q, "page", 1)
	pageSize := intParam(q, "page_size", 10)

	result, err := h.svc.List(r.Context(), page, pageSize, storage.ListFilters{
		Tag:        q.Get("tag"),
		MemoryType: q.Get("type"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":   result.Results,
		"total":     result.Total,
		"page":      result.Page,
		"page_size": result.PageSize,
		"has_more":  result.HasMore,
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CheckHealth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !stats.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, stats)
}

// HealthDetailed handles GET /api/health/detailed.
func (h *Handler) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CheckHealthDetailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func intParam(q map[string][]string, key string, def int) int {
	values, ok := q[key]
	if !ok || len(values) == 0 || values[0] == "" {
		return def
	}
	v, err := strconv.Atoi(values[0])
	if err != nil {
		return def
	}
	return v
}
