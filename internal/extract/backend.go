// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Request is one field extraction call.
type Request struct {
	Field       types.FieldID
	Instruction string
	// Content is the selected chunk. It may be empty when no unit matched.
	Content string
	// Contract is the JSON Schema the response must satisfy.
	Contract json.RawMessage
}

// Backend abstracts the completion API so tests can supply a mock. It
// returns the raw response text; validation happens in the Orchestrator.
type Backend interface {
	Extract(ctx context.Context, req Request) ([]byte, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) ([]byte, error)

// Extract calls f.
func (f BackendFunc) Extract(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeBackend calls the Claude Messages API.
type ClaudeBackend struct {
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extract sends the instruction and chunk as one user message and returns
// the first text block. Rate limits, timeouts, server errors, and network
// failures are returned as TransientError.
func (c *ClaudeBackend) Extract(ctx context.Context, req Request) ([]byte, error) {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := claudeRequest{
		Model:     c.Model,
		MaxTokens: maxTokens,
		System:    "Respond only with JSON matching this schema: " + string(req.Contract),
		Messages:  []claudeMessage{{Role: "user", Content: composePrompt(req)}},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: fmt.Errorf("calling Claude API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(msg)))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decoding Claude response: %w", err)}
	}

	for _, block := range cResp.Content {
		if block.Type == "text" {
			return []byte(block.Text), nil
		}
	}
	return nil, &ValidationError{Field: req.Field, Reason: "no text content in Claude API response", Err: errors.New("empty content")}
}
