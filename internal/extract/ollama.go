// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// OllamaBackend calls a local Ollama server with structured output
// constrained to the field contract.
type OllamaBackend struct {
	Client *api.Client
	Model  string
}

// NewOllamaBackend connects to baseURL, or to OLLAMA_HOST when baseURL is empty.
func NewOllamaBackend(baseURL, model string, httpClient *http.Client) (*OllamaBackend, error) {
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
	return &OllamaBackend{Client: api.NewClient(host, httpClient), Model: model}, nil
}

// Extract runs one non-streaming generate call with the contract as the
// output format.
func (o *OllamaBackend) Extract(ctx context.Context, req Request) ([]byte, error) {
	stream := false
	gen := api.GenerateRequest{
		Model:  o.Model,
		Prompt: composePrompt(req),
		Format: req.Contract,
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	var out strings.Builder
	err := o.Client.Generate(ctx, &gen, func(resp api.GenerateResponse) error {
		_, err := out.WriteString(resp.Response)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se api.StatusError
		if errors.As(err, &se) {
			return nil, classifyStatus(se.StatusCode, fmt.Errorf("Ollama generate: %w", err))
		}
		return nil, &TransientError{Err: fmt.Errorf("Ollama generate: %w", err)}
	}
	return []byte(out.String()), nil
}
