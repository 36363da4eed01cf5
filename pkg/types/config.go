// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"path/filepath"
	"time"
)

// HTTPConfig holds shared HTTP settings used by clients that make network
// requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "thoth/0.1 (mailto:ops@example.org)").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ServiceConfig is the per-service policy applied by the external gateway.
type ServiceConfig struct {
	// BaseURL overrides the service's default endpoint. Empty uses the
	// built-in default.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey authenticates requests where the service requires it.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// Burst is the token-bucket burst size (default 1).
	Burst int `json:"burst" yaml:"burst"`

	// Timeout bounds a single request attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries is the number of retry attempts for retryable failures
	// (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// CacheTTL controls response caching for this service. Zero disables
	// caching.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// LLMConfig holds model selection and sizing for language-model calls.
type LLMConfig struct {
	// AnalysisModel runs structured paper analysis.
	AnalysisModel string `json:"analysis_model" yaml:"analysis_model"`

	// ExtractionModel runs citation extraction.
	ExtractionModel string `json:"extraction_model" yaml:"extraction_model"`

	// FilterModel scores discovery candidates.
	FilterModel string `json:"filter_model" yaml:"filter_model"`

	// AnswerModel answers retrieval-augmented questions.
	AnswerModel string `json:"answer_model" yaml:"answer_model"`

	// ContextTokens is the usable context window size in tokens; the
	// analysis strategy thresholds derive from it.
	ContextTokens int `json:"context_tokens" yaml:"context_tokens"`

	// MaxOutputTokens bounds response length.
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// OCRBackend selects how PDFs become markdown.
type OCRBackend string

const (
	// OCRRemote calls the configured OCR HTTP service.
	OCRRemote OCRBackend = "remote"

	// OCRMarkitdown runs the markitdown container locally.
	OCRMarkitdown OCRBackend = "markitdown"
)

// OCRConfig holds settings for PDF-to-markdown conversion.
type OCRConfig struct {
	// Backend selects remote or markitdown conversion.
	Backend OCRBackend `json:"backend" yaml:"backend"`

	// Image names the markitdown container image.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// EmbeddingsConfig holds settings for the embeddings service.
type EmbeddingsConfig struct {
	// Model is the embedding model identifier.
	Model string `json:"model" yaml:"model"`

	// Dimensions is the vector width the model produces.
	Dimensions int `json:"dimensions" yaml:"dimensions"`
}

// RAGConfig holds retrieval settings.
type RAGConfig struct {
	// ChunkSize is the token budget per chunk (default 1000).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ChunkOverlap is the token overlap between adjacent split chunks
	// (default 200).
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// TopK is the default number of fused results returned (default 8).
	TopK int `json:"top_k" yaml:"top_k"`

	// RRFK is the reciprocal-rank-fusion constant (default 60).
	RRFK int `json:"rrf_k" yaml:"rrf_k"`
}

// PipelineConfig holds ingestion pipeline settings.
type PipelineConfig struct {
	// Workers bounds concurrent document processing. Zero means
	// min(NumCPU, 4).
	Workers int `json:"workers" yaml:"workers"`

	// QueueSize bounds the pending-document queue (default 64).
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// DocTimeout bounds one document's end-to-end processing
	// (default 10m).
	DocTimeout time.Duration `json:"doc_timeout" yaml:"doc_timeout"`
}

// MonitorConfig holds filesystem watcher settings.
type MonitorConfig struct {
	// Debounce is the quiet period after the last event for a path before
	// it is considered settled (default 500ms).
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// StabilityInterval is the gap between size probes when checking that
	// a file has stopped growing (default 1s).
	StabilityInterval time.Duration `json:"stability_interval" yaml:"stability_interval"`

	// StabilityChecks is how many consecutive equal sizes mark a file
	// stable (default 2).
	StabilityChecks int `json:"stability_checks" yaml:"stability_checks"`
}

// DiscoveryConfig holds settings for polling discovery sources.
type DiscoveryConfig struct {
	HTTPConfig `yaml:",inline"`

	// PollInterval is the gap between polling rounds (default 6h).
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// MaxPerPoll caps candidates fetched per source per round (default 25).
	MaxPerPoll int `json:"max_per_poll" yaml:"max_per_poll"`

	// DownloadDelay is the pause between consecutive PDF downloads
	// (default 1s).
	DownloadDelay time.Duration `json:"download_delay" yaml:"download_delay"`

	// Threshold is the default relevance threshold for queries that do
	// not set their own (default 0.6).
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// CacheConfig holds TTLs per artifact kind. Zero values fall back to
// DefaultTTL.
type CacheConfig struct {
	// DefaultTTL applies to artifact kinds without an explicit TTL
	// (default 720h).
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`

	// OCRTTL covers converted markdown (default 0 = DefaultTTL).
	OCRTTL time.Duration `json:"ocr_ttl" yaml:"ocr_ttl"`

	// AnalysisTTL covers structured analyses.
	AnalysisTTL time.Duration `json:"analysis_ttl" yaml:"analysis_ttl"`

	// EmbeddingTTL covers embedding vectors.
	EmbeddingTTL time.Duration `json:"embedding_ttl" yaml:"embedding_ttl"`

	// MetadataTTL covers metadata API responses (default 168h).
	MetadataTTL time.Duration `json:"metadata_ttl" yaml:"metadata_ttl"`

	// AnswerTTL covers question answers (default 24h).
	AnswerTTL time.Duration `json:"answer_ttl" yaml:"answer_ttl"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn, or error.
	Level string `json:"level" yaml:"level"`
}

// Config is the root configuration tree.
type Config struct {
	// Workspace is the root directory for all thoth state.
	Workspace string `json:"workspace" yaml:"workspace"`

	// WatchDir overrides the watched PDF directory. Empty means
	// <workspace>/pdfs.
	WatchDir string `json:"watch_dir,omitempty" yaml:"watch_dir,omitempty"`

	// Mailto is the contact address sent to Crossref and OpenAlex for
	// polite-pool access. Empty is allowed but rate limits are stricter.
	Mailto string `json:"mailto,omitempty" yaml:"mailto,omitempty"`

	// NoteTemplate is the path to a custom note template file. Empty
	// selects the built-in layout.
	NoteTemplate string `json:"note_template,omitempty" yaml:"note_template,omitempty"`

	// Services maps service names (ocr, llm, embeddings, crossref,
	// openalex, arxiv, semanticscholar, download) to gateway policy.
	Services map[string]ServiceConfig `json:"services" yaml:"services"`

	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	OCR        OCRConfig        `json:"ocr" yaml:"ocr"`
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`
	RAG        RAGConfig        `json:"rag" yaml:"rag"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Monitor    MonitorConfig    `json:"monitor" yaml:"monitor"`
	Discovery  DiscoveryConfig  `json:"discovery" yaml:"discovery"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// PDFDir returns the watched directory for incoming PDFs.
func (c *Config) PDFDir() string {
	if c.WatchDir != "" {
		return c.WatchDir
	}
	return filepath.Join(c.Workspace, "pdfs")
}

// MarkdownDir returns the directory holding converted markdown.
func (c *Config) MarkdownDir() string { return filepath.Join(c.Workspace, "markdown") }

// NotesDir returns the directory holding rendered notes.
func (c *Config) NotesDir() string { return filepath.Join(c.Workspace, "notes") }

// IndexDir returns the directory holding the SQLite database and the
// vector store.
func (c *Config) IndexDir() string { return filepath.Join(c.Workspace, "index") }

// CacheDir returns the directory holding the artifact cache.
func (c *Config) CacheDir() string { return filepath.Join(c.Workspace, "cache") }

// QueriesDir returns the directory holding research query files.
func (c *Config) QueriesDir() string { return filepath.Join(c.Workspace, "queries") }

// Service returns the policy for name, zero-valued when unconfigured.
func (c *Config) Service(name string) ServiceConfig {
	return c.Services[name]
}
