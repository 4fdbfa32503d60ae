// Package rpc exposes the Tool/RPC Surface (spec §6.1) over a
// JSON-line protocol on stdio. Framing and dispatch are delegated to
// mark3labs/mcp-go, the same JSON-RPC-over-stdio library
// aschepis-staffd depends on for its own tool client; this package
// only supplies the tool definitions and the handlers that translate
// arguments into calls against a service.Service.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server wraps an mcp-go stdio server exposing every operation named
// in §6.1 as a tool.
type Server struct {
	mcp    *server.MCPServer
	svc    *service.Service
	logger zerolog.Logger
}

// NewServer registers all ten §6.1 tools against svc.
func NewServer(svc *service.Service, logger zerolog.Logger) *Server {
	s := &Server{
		mcp:    server.NewMCPServer("memoryd", "1.0.0"),
		svc:    svc,
		logger: logger.With().Str("component", "rpcServer").Logger(),
	}
	s.registerTools()
	return s
}

// Serve blocks, reading JSON-RPC requests from stdin and writing
// responses to stdout until the stream closes.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Store a new memory, keyed by the content hash of its exact bytes."),
		mcp.WithString("content", mcp.Required()),
		mcp.WithArray("tags"),
		mcp.WithString("memory_type"),
		mcp.WithObject("metadata"),
		mcp.WithString("client_hostname"),
		mcp.WithNumber("created_at"),
		mcp.WithString("created_at_iso"),
	), s.storeMemory)

	s.mcp.AddTool(mcp.NewTool("retrieve_memory",
		mcp.WithDescription("Semantic nearest-neighbor retrieval over stored memories."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("n_results"),
		mcp.WithNumber("min_similarity"),
	), s.retrieveMemory)

	s.mcp.AddTool(mcp.NewTool("search_by_tag",
		mcp.WithDescription("Find memories by tag set (I6: match_all is a superset test, match_any an intersection test)."),
		mcp.WithArray("tags", mcp.Required()),
		mcp.WithBoolean("match_all"),
	), s.searchByTag)

	s.mcp.AddTool(mcp.NewTool("search_by_time",
		mcp.WithDescription("Find memories in a time window, given a natural-language or absolute query string."),
		mcp.WithString("query_string"),
		mcp.WithString("start"),
		mcp.WithString("end"),
		mcp.WithNumber("n_results"),
	), s.searchByTime)

	s.mcp.AddTool(mcp.NewTool("search_similar",
		mcp.WithDescription("Find memories similar to an existing one, by content hash."),
		mcp.WithString("content_hash", mcp.Required()),
		mcp.WithNumber("n_results"),
	), s.searchSimilar)

	s.mcp.AddTool(mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete a memory by content hash (I5)."),
		mcp.WithString("content_hash", mcp.Required()),
	), s.deleteMemory)

	s.mcp.AddTool(mcp.NewTool("delete_by_tag",
		mcp.WithDescription("Delete every memory carrying the given tag."),
		mcp.WithString("tag", mcp.Required()),
	), s.deleteByTag)

	s.mcp.AddTool(mcp.NewTool("update_memory_metadata",
		mcp.WithDescription("Merge metadata and, if tags are provided, replace the tag set entirely."),
		mcp.WithString("content_hash", mcp.Required()),
		mcp.WithObject("metadata"),
		mcp.WithArray("tags"),
		mcp.WithString("memory_type"),
	), s.updateMemoryMetadata)

	s.mcp.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("Paginated listing of memories, optionally filtered by tag or memory_type."),
		mcp.WithNumber("page"),
		mcp.WithNumber("page_size"),
		mcp.WithString("tag"),
		mcp.WithString("memory_type"),
	), s.listMemories)

	s.mcp.AddTool(mcp.NewTool("check_database_health",
		mcp.WithDescription("Report backend health and storage statistics."),
	), s.checkDatabaseHealth)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func floatArg(args map[string]interface{}, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapArg(args map[string]interface{}, key string) map[string]interface{} {
	v, _ := args[key].(map[string]interface{})
	return v
}

func storageFilters(args map[string]interface{}) storage.ListFilters {
	return storage.ListFilters{
		Tag:        stringArg(args, "tag"),
		MemoryType: stringArg(args, "memory_type"),
	}
}

func (s *Server) storeMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.StoreMemory(ctx, stringArg(args, "content"), stringSliceArg(args, "tags"),
		stringArg(args, "memory_type"), mapArg(args, "metadata"), stringArg(args, "client_hostname"),
		floatArg(args, "created_at", 0), stringArg(args, "created_at_iso"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"success":      result.Success,
		"message":      result.Message,
		"content_hash": result.ContentHash,
	})
}

func (s *Server) retrieveMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.RetrieveMemory(ctx, stringArg(args, "query"), intArg(args, "n_results", 5), floatArg(args, "min_similarity", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"results":            result.Results,
		"total_found":        result.TotalFound,
		"processing_time_ms": result.ProcessingTimeMs,
	})
}

func (s *Server) searchByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.SearchByTag(ctx, stringSliceArg(args, "tags"), boolArg(args, "match_all"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"results":     result.Results,
		"search_tags": result.SearchTags,
		"match_all":   result.MatchAll,
		"total_found": result.TotalFound,
	})
}

func (s *Server) searchByTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	queryText := stringArg(args, "query_string")
	if queryText == "" {
		if start := stringArg(args, "start"); start != "" {
			queryText = "between " + start + " and " + stringArg(args, "end")
		}
	}
	result, err := s.svc.SearchByTime(ctx, queryText, intArg(args, "n_results", 5))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"results":     result.Results,
		"start":       result.Start,
		"end":         result.End,
		"total_found": result.TotalFound,
	})
}

func (s *Server) searchSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.SearchSimilarTo(ctx, stringArg(args, "content_hash"), intArg(args, "n_results", 5))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"results":     result.Results,
		"source_hash": result.SourceHash,
		"total_found": result.TotalFound,
	})
}

func (s *Server) deleteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.DeleteMemory(ctx, stringArg(args, "content_hash"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"success":      result.Success,
		"message":      result.Message,
		"content_hash": result.ContentHash,
	})
}

func (s *Server) deleteByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	count, err := s.svc.DeleteByTag(ctx, stringArg(args, "tag"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"deleted": count})
}

func (s *Server) updateMemoryMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	_, tagsProvided := args["tags"]
	hash := stringArg(args, "content_hash")
	if err := s.svc.UpdateMetadata(ctx, hash, mapArg(args, "metadata"), stringSliceArg(args, "tags"), tagsProvided, stringArg(args, "memory_type")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"success": true, "content_hash": hash})
}

func (s *Server) listMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.svc.List(ctx, intArg(args, "page", 1), intArg(args, "page_size", 10), storageFilters(args))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"results":   result.Results,
		"total":     result.Total,
		"page":      result.Page,
		"page_size": result.PageSize,
		"has_more":  result.HasMore,
	})
}

func (s *Server) checkDatabaseHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.CheckHealthDetailed(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}
