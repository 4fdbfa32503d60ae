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

// OllamaProvider embeds text using a local Ollama server. The wire
// shapes are lifted verbatim from gognee's pkg/embeddings/ollama.go.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger

	mu        sync.Mutex
	dimension int
	ready     bool
}

// NewOllamaProvider creates a provider pointed at baseURL (typically
// "http://localhost:11434") using model as the embedding model name.
func NewOllamaProvider(baseURL, model string, logger zerolog.Logger) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "ollamaProvider").Str("model", model).Logger(),
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Probe issues one embedding call to discover the provider's dimension
// and mark it ready. Call once at startup; failures leave the provider
// not-ready rather than erroring the whole process (spec §4.3's
// failure policy: writes still succeed with the embedding left absent).
func (o *OllamaProvider) Probe(ctx context.Context) {
	vec, err := o.embedOne(ctx, "dimension probe")
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.logger.Warn().Err(err).Msg("ollama provider not ready")
		o.ready = false
		return
	}
	o.dimension = len(vec)
	o.ready = true
}

func (o *OllamaProvider) Dimension() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dimension
}

func (o *OllamaProvider) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

func (o *OllamaProvider) ModelName() string { return o.model }

func (o *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	reqBody := ollamaEmbedRequest{Model: o.model, Prompt: text}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.BackendUnavailable, err, "ollama request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, engineerr.New(engineerr.BackendUnavailable, "ollama returned %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return o.embedOne(ctx, text)
}

func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := o.embedOne(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
