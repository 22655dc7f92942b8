// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"

	"github.com/pdiddy/protocol-extractor/internal/httputil"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// NewEmbedder builds the embedder selected by cfg.
func NewEmbedder(cfg types.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Backend {
	case types.EmbeddingOllama, "":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, client)
	case types.EmbeddingOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai embeddings require an API key")
		}
		return &OpenAIEmbedder{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Retrier: &httputil.Retrier{Client: client, Logger: logger},
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// OllamaEmbedder generates embeddings with a local Ollama server.
type OllamaEmbedder struct {
	Client *api.Client
	Model  string
}

// NewOllamaEmbedder connects to baseURL, or to OLLAMA_HOST when empty.
func NewOllamaEmbedder(baseURL, model string, httpClient *http.Client) (*OllamaEmbedder, error) {
	host := envconfig.Host()
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing Ollama URL %q: %w", baseURL, err)
		}
		host = u
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaEmbedder{Client: api.NewClient(host, httpClient), Model: model}, nil
}

// Embed returns the embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.Client.Embeddings(ctx, &api.EmbeddingRequest{Model: e.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("creating embedding: empty vector")
	}
	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// openAIEmbeddingsURL is the default embeddings endpoint.
const openAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint,
// retrying throttled requests.
type OpenAIEmbedder struct {
	APIKey  string
	Model   string
	BaseURL string
	Retrier *httputil.Retrier
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := e.BaseURL
	if endpoint == "" {
		endpoint = openAIEmbeddingsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	retrier := e.Retrier
	if retrier == nil {
		retrier = &httputil.Retrier{Client: &http.Client{Timeout: time.Minute}}
	}
	resp, err := retrier.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling embeddings API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, string(msg))
	}

	var out openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embeddings response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings API returned no vector")
	}
	return out.Data[0].Embedding, nil
}
