// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/protocol-extractor/internal/extract"
	"github.com/pdiddy/protocol-extractor/internal/secrets"
	"github.com/pdiddy/protocol-extractor/internal/vector"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// useYAMLTags decodes viper settings through the same yaml tags used in
// config files, flattening the embedded AIConfig.
func useYAMLTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
	dc.Squash = true
}

// loadConfig returns the defaults overlaid with the config file and
// environment. List settings replace their defaults rather than merging.
func loadConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	placeholders := cfg.Quality.Placeholders
	cfg.Extraction.Fields = nil
	cfg.Quality.Placeholders = nil

	if err := viper.Unmarshal(&cfg, useYAMLTags); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.Quality.Placeholders == nil {
		cfg.Quality.Placeholders = placeholders
	}
	if err := types.ValidateFieldSpecs(cfg.Extraction.FieldSpecs()); err != nil {
		return cfg, fmt.Errorf("invalid field configuration: %w", err)
	}
	return cfg, nil
}

// applyExtractionFlags overrides extraction settings with flags the user
// set explicitly.
func applyExtractionFlags(cmd *cobra.Command, cfg *types.ExtractionConfig) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		v, _ := flags.GetString("backend")
		cfg.Backend = types.AIBackendName(v)
	}
	if flags.Changed("model") {
		cfg.Model, _ = flags.GetString("model")
	}
	if flags.Changed("records-dir") {
		cfg.RecordsDir, _ = flags.GetString("records-dir")
	}
	if flags.Changed("delay") {
		cfg.InterFieldDelay, _ = flags.GetDuration("delay")
	}
	if flags.Changed("tpm") {
		cfg.TokensPerMinute, _ = flags.GetInt("tpm")
	}
}

// newBackend builds the completion backend selected by cfg. The Claude key
// comes from config, then .secrets/anthropic-api-key, then ANTHROPIC_API_KEY.
func newBackend(cfg types.AIConfig) (extract.Backend, error) {
	switch cfg.Backend {
	case types.BackendClaude, "":
		key := cfg.APIKey
		if key == "" {
			key = secrets.Lookup(loadedSecrets, secrets.AnthropicAPIKey)
		}
		if key == "" {
			return nil, fmt.Errorf("claude backend needs an API key: add .secrets/%s or set %s",
				secrets.AnthropicAPIKey, secrets.EnvName(secrets.AnthropicAPIKey))
		}
		return &extract.ClaudeBackend{
			APIKey:    key,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxOutputTokens,
			Client:    &http.Client{Timeout: cfg.CallTimeout},
		}, nil
	case types.BackendOllama:
		if cfg.Model == "" || strings.HasPrefix(cfg.Model, "claude") {
			return nil, fmt.Errorf("ollama backend needs a local model: pass --model")
		}
		return extract.NewOllamaBackend(cfg.BaseURL, cfg.Model, nil)
	default:
		return nil, fmt.Errorf("unknown backend %q: use claude or ollama", cfg.Backend)
	}
}

// newOrchestrator builds an orchestrator from cfg that reports progress
// on stderr.
func newOrchestrator(cfg types.ExtractionConfig, progress extract.ProgressFunc) (*extract.Orchestrator, error) {
	backend, err := newBackend(cfg.AIConfig)
	if err != nil {
		return nil, err
	}
	opts := extract.OptionsFromConfig(cfg)
	opts.Progress = progress
	opts.Logger = logger
	return extract.New(backend, opts)
}

// openEngine opens the vector index and its embedder.
func openEngine(ctx context.Context, cfg types.VectorConfig) (*vector.Engine, func() error, error) {
	if cfg.Embedding.Backend == types.EmbeddingOpenAI && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets.Lookup(loadedSecrets, secrets.OpenAIAPIKey)
	}
	embedder, err := vector.NewEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, err
	}

	var store vector.Index
	switch cfg.Store {
	case types.VectorStoreSQLite, "":
		store, err = vector.OpenStore(cfg.IndexDir)
	case types.VectorStorePostgres:
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("postgres store needs vector.dsn")
		}
		store, err = vector.OpenPGStore(ctx, cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("unknown vector store %q: use sqlite or postgres", cfg.Store)
	}
	if err != nil {
		return nil, nil, err
	}
	return vector.NewEngine(store, embedder, cfg, logger), store.Close, nil
}
