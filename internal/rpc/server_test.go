package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	backend, err := sqlitebackend.Open(sqlitebackend.Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	svc := service.New(backend, service.Config{}, zerolog.Nop())
	return NewServer(svc, zerolog.Nop())
}

func callTool(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "test"
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestStoreMemoryToolReturnsContentHash(t *testing.T) {
	s := newTestServer(t)
	result, err := s.storeMemory(context.Background(), callTool(map[string]interface{}{
		"content": "the boiling point of water is 100 degrees celsius at sea level",
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	require.Equal(t, true, out["success"])
	require.NotEmpty(t, out["content_hash"])
}

func TestSearchByTagToolMatchAll(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.storeMemory(ctx, callTool(map[string]interface{}{
		"content": "alpha memo",
		"tags":    []interface{}{"x", "y"},
	}))
	require.NoError(t, err)
	_, err = s.storeMemory(ctx, callTool(map[string]interface{}{
		"content": "beta memo",
		"tags":    []interface{}{"x"},
	}))
	require.NoError(t, err)

	result, err := s.searchByTag(ctx, callTool(map[string]interface{}{
		"tags":      []interface{}{"x", "y"},
		"match_all": true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	require.EqualValues(t, 1, out["total_found"])
}

func TestDeleteMemoryToolNotFound(t *testing.T) {
	s := newTestServer(t)
	result, err := s.deleteMemory(context.Background(), callTool(map[string]interface{}{
		"content_hash": "does-not-exist",
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	require.Equal(t, false, out["success"])
}

func TestCheckDatabaseHealthTool(t *testing.T) {
	s := newTestServer(t)
	result, err := s.checkDatabaseHealth(context.Background(), callTool(nil))
	require.NoError(t, err)
	out := decodeResult(t, result)
	require.Contains(t, out, "healthy")
}
