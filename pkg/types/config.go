// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// AIBackendName selects the completion backend used for model extraction.
type AIBackendName string

const (
	BackendClaude AIBackendName = "claude"
	BackendOllama AIBackendName = "ollama"
)

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Backend selects the completion backend: claude or ollama.
	Backend AIBackendName `json:"backend" yaml:"backend"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL overrides the backend endpoint (e.g. an Ollama host).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// MaxAttempts is the total number of attempts per field, the first
	// call included (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// MaxOutputTokens caps the response length of one call (default 4096).
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`

	// CallTimeout bounds a single backend call (default 2m).
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// ExtractionConfig holds settings for the multi-field extraction stage.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// CharsPerToken is the fixed character-to-token ratio used to estimate
	// chunk cost (default 4).
	CharsPerToken int `json:"chars_per_token" yaml:"chars_per_token"`

	// InterFieldDelay is the minimum gap between consecutive field calls
	// (default 2s). Zero disables the gate.
	InterFieldDelay time.Duration `json:"inter_field_delay" yaml:"inter_field_delay"`

	// TokensPerMinute, when positive, adds a token-bucket limit on the
	// estimated input tokens sent per minute.
	TokensPerMinute int `json:"tokens_per_minute" yaml:"tokens_per_minute"`

	// BackoffBase is the wait before the second attempt; it doubles per
	// attempt (default 2s).
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`

	// BackoffMax caps a single backoff wait (default 1m).
	BackoffMax time.Duration `json:"backoff_max" yaml:"backoff_max"`

	// Fields configures keywords, budgets and priorities per field.
	// Empty means DefaultFieldSpecs.
	Fields []FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`

	// RecordsDir is where extraction records are written (default "records").
	RecordsDir string `json:"records_dir" yaml:"records_dir"`
}

// FieldSpecs returns the configured field specs, or the defaults when none
// are configured.
func (c ExtractionConfig) FieldSpecs() []FieldSpec {
	if len(c.Fields) == 0 {
		return DefaultFieldSpecs()
	}
	out := make([]FieldSpec, len(c.Fields))
	copy(out, c.Fields)
	return out
}

// QualityConfig holds the quality scorer's weights and routing thresholds.
type QualityConfig struct {
	// ConfidenceThreshold routes a record to model extraction when
	// confidence falls below it (default 0.9).
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// CompletenessThreshold routes a record to model extraction when
	// completeness falls below it (default 0.9; 0.6 is also in use).
	CompletenessThreshold float64 `json:"completeness_threshold" yaml:"completeness_threshold"`

	// MinContentLength is the trimmed length a field must exceed to count
	// as filled (default 10).
	MinContentLength int `json:"min_content_length" yaml:"min_content_length"`

	// RichnessFloor is the word count at or below which richness is 0 (default 15).
	RichnessFloor int `json:"richness_floor" yaml:"richness_floor"`

	// RichnessCeiling is the word count at or above which richness is 1 (default 100).
	RichnessCeiling int `json:"richness_ceiling" yaml:"richness_ceiling"`

	// MethodWeight weighs extraction-method reliability (default 0.35).
	MethodWeight float64 `json:"method_weight" yaml:"method_weight"`

	// RichnessWeight weighs content richness (default 0.40).
	RichnessWeight float64 `json:"richness_weight" yaml:"richness_weight"`

	// StructureWeight weighs numeric data and list markers (default 0.15).
	StructureWeight float64 `json:"structure_weight" yaml:"structure_weight"`

	// ProvenanceWeight weighs the presence of page references (default 0.10).
	ProvenanceWeight float64 `json:"provenance_weight" yaml:"provenance_weight"`

	// Placeholders are contents that never count as filled, compared
	// case-insensitively after trimming.
	Placeholders []string `json:"placeholders" yaml:"placeholders"`
}

// EmbeddingBackendName selects the embedding provider.
type EmbeddingBackendName string

const (
	EmbeddingOllama EmbeddingBackendName = "ollama"
	EmbeddingOpenAI EmbeddingBackendName = "openai"
)

// EmbeddingConfig holds settings for the embedding provider.
type EmbeddingConfig struct {
	// Backend selects the provider: ollama or openai.
	Backend EmbeddingBackendName `json:"backend" yaml:"backend"`

	// Model is the embedding model (e.g. "nomic-embed-text").
	Model string `json:"model" yaml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey authenticates against OpenAI-compatible providers.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// VectorStoreName selects where the vector index is persisted.
type VectorStoreName string

const (
	VectorStoreSQLite   VectorStoreName = "sqlite"
	VectorStorePostgres VectorStoreName = "postgres"
)

// VectorConfig holds settings for the vector retrieval engine.
type VectorConfig struct {
	// Store selects the index backend: sqlite (default) or postgres.
	Store VectorStoreName `json:"store" yaml:"store"`

	// IndexDir is the directory holding the SQLite index (default "index").
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// DSN is the PostgreSQL connection string used by the postgres store.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// SimilarityThreshold discards candidates below this cosine
	// similarity. Nil means the default of 0.3; zero keeps every candidate.
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty"`

	// TopK is the default number of results (default 10).
	TopK int `json:"top_k" yaml:"top_k"`

	// Workers bounds concurrent document ingestion (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
}

// AcquisitionConfig holds settings for downloading registry records.
type AcquisitionConfig struct {
	// BaseURL is the registry studies endpoint
	// (default "https://clinicaltrials.gov/api/v2/studies").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// UserAgent is sent with every registry request.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// RequestsPerSecond paces registry requests (default 2).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// PageSize is the number of studies per search page (default 100).
	PageSize int `json:"page_size" yaml:"page_size"`

	// MaxStudies caps the studies taken from one search (default 100).
	MaxStudies int `json:"max_studies" yaml:"max_studies"`

	// Statuses filters searches by overall status. Empty means
	// recruiting, active not recruiting, and completed studies.
	Statuses []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`

	// StudyTypes filters searches by study type. Empty means interventional.
	StudyTypes []string `json:"study_types,omitempty" yaml:"study_types,omitempty"`

	// MinCompleteness drops studies whose converted record fills less
	// than this share of the nine fields (default 0, keep all).
	MinCompleteness float64 `json:"min_completeness" yaml:"min_completeness"`

	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Extraction  ExtractionConfig  `json:"extraction" yaml:"extraction"`
	Quality     QualityConfig     `json:"quality" yaml:"quality"`
	Vector      VectorConfig      `json:"vector" yaml:"vector"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
}

// DefaultQualityConfig returns the default scorer weights and thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		ConfidenceThreshold:   0.9,
		CompletenessThreshold: 0.9,
		MinContentLength:      10,
		RichnessFloor:         15,
		RichnessCeiling:       100,
		MethodWeight:          0.35,
		RichnessWeight:        0.40,
		StructureWeight:       0.15,
		ProvenanceWeight:      0.10,
		Placeholders: []string{
			"", "n/a", "na", "none", "not available", "not found in provided text",
			"not found", "no data", "unknown", "tbd",
		},
	}
}

// DefaultPipelineConfig returns a configuration with every default applied.
// Each call returns fresh values.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Extraction: ExtractionConfig{
			AIConfig: AIConfig{
				Backend:         BackendClaude,
				Model:           "claude-sonnet-4-5-20250929",
				MaxAttempts:     3,
				MaxOutputTokens: 4096,
				CallTimeout:     2 * time.Minute,
			},
			CharsPerToken:   4,
			InterFieldDelay: 2 * time.Second,
			BackoffBase:     2 * time.Second,
			BackoffMax:      time.Minute,
			Fields:          DefaultFieldSpecs(),
			RecordsDir:      "records",
		},
		Quality: DefaultQualityConfig(),
		Vector: VectorConfig{
			Store:               VectorStoreSQLite,
			IndexDir:            "index",
			SimilarityThreshold: float64Ptr(0.3),
			TopK:                10,
			Workers:             4,
			Embedding: EmbeddingConfig{
				Backend: EmbeddingOllama,
				Model:   "nomic-embed-text",
				Timeout: 60 * time.Second,
			},
		},
		Acquisition: AcquisitionConfig{
			BaseURL:           "https://clinicaltrials.gov/api/v2/studies",
			UserAgent:         "protocol-extractor/1.0",
			RequestsPerSecond: 2,
			PageSize:          100,
			MaxStudies:        100,
			Timeout:           30 * time.Second,
		},
	}
}

func float64Ptr(v float64) *float64 { return &v }
