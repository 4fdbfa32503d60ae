package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/rs/zerolog"
)

const (
	defaultOpenAIURL = "https://api.openai.com/v1/embeddings"
	defaultModel     = "text-embedding-3-small"
)

// OpenAIProvider embeds text using an OpenAI-compatible embeddings
// endpoint. The request/response shapes are lifted from gognee's
// pkg/embeddings/openai.go.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger

	mu        sync.Mutex
	dimension int
	ready     bool
}

// NewOpenAIProvider creates a remote provider. model may be empty, in
// which case defaultModel is used.
func NewOpenAIProvider(apiKey, model string, logger zerolog.Logger) *OpenAIProvider {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultOpenAIURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "openaiProvider").Str("model", model).Logger(),
	}
}

type openAIRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Probe issues one embedding call to discover dimension and readiness.
func (o *OpenAIProvider) Probe(ctx context.Context) {
	vecs, err := o.embed(ctx, []string{"dimension probe"})
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil || len(vecs) == 0 {
		o.logger.Warn().Err(err).Msg("openai provider not ready")
		o.ready = false
		return
	}
	o.dimension = len(vecs[0])
	o.ready = true
}

func (o *OpenAIProvider) Dimension() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dimension
}

func (o *OpenAIProvider) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

func (o *OpenAIProvider) ModelName() string { return o.model }

func (o *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(openAIRequest{Input: texts, Model: o.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "openai request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiResp openAIResponse
		if json.Unmarshal(raw, &apiResp) == nil && apiResp.Error != nil {
			return nil, engineerr.New(engineerr.BackendUnavailable, "openai api error (%d): %s", resp.StatusCode, apiResp.Error.Message)
		}
		return nil, engineerr.New(engineerr.BackendUnavailable, "openai api error (%d): %s", resp.StatusCode, string(raw))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, engineerr.New(engineerr.BackendUnavailable, "openai api error: %s", apiResp.Error.Message)
	}

	out := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index >= len(out) {
			return nil, fmt.Errorf("invalid embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

func (o *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return o.embed(ctx, texts)
}
