package cloudbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
)

// HTTPVectorIndex talks to a capability-level vector index (§4.6: "not
// named") over a small JSON HTTP protocol. It is the VectorIndex
// cmd/memoryd wires into the cloud backend.
type HTTPVectorIndex struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVectorIndex builds a client against baseURL.
func NewHTTPVectorIndex(baseURL string) *HTTPVectorIndex {
	return &HTTPVectorIndex{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (i *HTTPVectorIndex) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal vector index request: %w", err)
		}
		reader = *bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, &reader)
	if err != nil {
		return fmt.Errorf("build vector index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "vector index request %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return engineerr.New(engineerr.BackendUnavailable, "vector index returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (i *HTTPVectorIndex) Upsert(ctx context.Context, contentHash string, vec []float32, dimension int) error {
	return i.do(ctx, http.MethodPost, "/vectors", map[string]interface{}{
		"id": contentHash, "vector": vec, "dimension": dimension,
	}, nil)
}

func (i *HTTPVectorIndex) Delete(ctx context.Context, contentHash string) error {
	return i.do(ctx, http.MethodDelete, "/vectors/"+contentHash, nil, nil)
}

func (i *HTTPVectorIndex) Query(ctx context.Context, vec []float32, topK int, excludeHash string) ([]VectorMatch, error) {
	var out struct {
		Matches []VectorMatch `json:"matches"`
	}
	err := i.do(ctx, http.MethodPost, "/vectors/query", map[string]interface{}{
		"vector": vec, "top_k": topK, "exclude": excludeHash,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Matches, nil
}

func (i *HTTPVectorIndex) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	var out struct {
		Vector []float32 `json:"vector"`
		Found  bool      `json:"found"`
	}
	if err := i.do(ctx, http.MethodGet, "/vectors/"+contentHash, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Vector, out.Found, nil
}

var _ VectorIndex = (*HTTPVectorIndex)(nil)
