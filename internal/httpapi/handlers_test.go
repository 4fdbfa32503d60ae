package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (chi.Router, *EventBroker) {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	backend, err := sqlitebackend.Open(sqlitebackend.Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	svc := service.New(backend, service.Config{}, zerolog.Nop())
	events := NewEventBroker()
	h := NewHandler(svc, events, zerolog.Nop())
	return NewRouter(h, nil, zerolog.Nop(), ""), events
}

func TestStoreMemoryEndpointReturns201(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"content": "the mitochondria is the powerhouse of the cell"})
	req := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.NotEmpty(t, resp["content_hash"])
}

func TestRetrieveMemoryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	storeBody, _ := json.Marshal(map[string]interface{}{"content": "rivers flow toward the sea"})
	storeReq := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewReader(storeBody))
	storeW := httptest.NewRecorder()
	router.ServeHTTP(storeW, storeReq)
	require.Equal(t, http.StatusCreated, storeW.Code)

	searchBody, _ := json.Marshal(map[string]interface{}{"query": "rivers and streams", "n_results": 5})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(searchBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp["total_found"])
}

func TestSearchByTagMatchAllVsMatchAny(t *testing.T) {
	router, _ := newTestRouter(t)

	body1, _ := json.Marshal(map[string]interface{}{"content": "alpha memo", "tags": []string{"x", "y"}})
	req1 := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewReader(body1))
	router.ServeHTTP(httptest.NewRecorder(), req1)

	body2, _ := json.Marshal(map[string]interface{}{"content": "beta memo", "tags": []string{"x"}})
	req2 := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewReader(body2))
	router.ServeHTTP(httptest.NewRecorder(), req2)

	allBody, _ := json.Marshal(map[string]interface{}{"tags": []string{"x", "y"}, "match_all": true})
	allReq := httptest.NewRequest(http.MethodPost, "/api/search/by-tag", bytes.NewReader(allBody))
	allW := httptest.NewRecorder()
	router.ServeHTTP(allW, allReq)
	var allResp map[string]interface{}
	require.NoError(t, json.Unmarshal(allW.Body.Bytes(), &allResp))
	require.EqualValues(t, 1, allResp["total_found"])

	anyBody, _ := json.Marshal(map[string]interface{}{"tags": []string{"x", "y"}, "match_all": false})
	anyReq := httptest.NewRequest(http.MethodPost, "/api/search/by-tag", bytes.NewReader(anyBody))
	anyW := httptest.NewRecorder()
	router.ServeHTTP(anyW, anyReq)
	var anyResp map[string]interface{}
	require.NoError(t, json.Unmarshal(anyW.Body.Bytes(), &anyResp))
	require.EqualValues(t, 2, anyResp["total_found"])
}

func TestDeleteMemoryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	storeBody, _ := json.Marshal(map[string]interface{}{"content": "ephemeral note"})
	storeReq := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewReader(storeBody))
	storeW := httptest.NewRecorder()
	router.ServeHTTP(storeW, storeReq)
	var storeResp map[string]interface{}
	require.NoError(t, json.Unmarshal(storeW.Body.Bytes(), &storeResp))
	hash := storeResp["content_hash"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/api/memories/"+hash, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
}

func TestHealthEndpointReturns200WhenHealthy(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestEventsEndpointStreamsStoreNotification(t *testing.T) {
	router, events := newTestRouter(t)

	server := httptest.NewServer(router)
	defer server.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the SSE handler a moment to register its subscriber before
	// publishing, since subscription happens asynchronously relative
	// to this goroutine.
	time.Sleep(50 * time.Millisecond)
	events.Publish(Event{Type: "memory_stored", ContentHash: "deadbeef"})

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "memory_stored")
}
