package cloudbackend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
)

// HTTPObjectStore spills large content to a capability-level object
// store (§4.6) addressed by content hash over plain HTTP PUT/GET/DELETE.
type HTTPObjectStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPObjectStore builds a client against baseURL (the bucket
// endpoint from config).
func NewHTTPObjectStore(baseURL string) *HTTPObjectStore {
	return &HTTPObjectStore{baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
}

func (o *HTTPObjectStore) Put(ctx context.Context, contentHash string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, o.baseURL+"/objects/"+contentHash, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("build object store put: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "object store put %s", contentHash)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return engineerr.New(engineerr.BackendUnavailable, "object store put returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *HTTPObjectStore) Get(ctx context.Context, contentHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/objects/"+contentHash, nil)
	if err != nil {
		return nil, fmt.Errorf("build object store get: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "object store get %s", contentHash)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, engineerr.New(engineerr.NotFound, "large object %s not found", contentHash)
	}
	if resp.StatusCode >= 400 {
		return nil, engineerr.New(engineerr.BackendUnavailable, "object store get returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (o *HTTPObjectStore) Delete(ctx context.Context, contentHash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, o.baseURL+"/objects/"+contentHash, nil)
	if err != nil {
		return fmt.Errorf("build object store delete: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return engineerr.Wrap(engineerr.BackendUnavailable, err, "object store delete %s", contentHash)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return engineerr.New(engineerr.BackendUnavailable, "object store delete returned status %d", resp.StatusCode)
	}
	return nil
}

var _ ObjectStore = (*HTTPObjectStore)(nil)
