// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads the thoth configuration tree from defaults, an
// optional YAML file, and THOTH_* environment overrides, in that order of
// precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pdiddy/thoth/pkg/types"
)

const (
	configName = "thoth"
	configType = "yaml"
	envPrefix  = "THOTH"
)

// Service names as they appear under the services config key.
const (
	ServiceOCR             = "ocr"
	ServiceLLM             = "llm"
	ServiceEmbeddings      = "embeddings"
	ServiceCrossref        = "crossref"
	ServiceOpenAlex        = "openalex"
	ServiceArxiv           = "arxiv"
	ServiceSemanticScholar = "semanticscholar"
	ServiceDownload        = "download"
)

// Load builds the configuration. If path is non-empty it names the config
// file explicitly; otherwise thoth.yaml is searched in the working
// directory and ~/.config/thoth. A missing file is not an error.
func Load(path string) (*types.Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "thoth"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg types.Config
	// Config types carry yaml tags, not mapstructure tags.
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// MergeSecrets fills empty per-service API keys from a secrets map. A
// secret named "<service>_api_key" binds to that service; config file and
// environment values win over secrets.
func MergeSecrets(cfg *types.Config, secrets map[string]string) {
	if cfg.Services == nil {
		cfg.Services = map[string]types.ServiceConfig{}
	}
	for name, value := range secrets {
		service, ok := strings.CutSuffix(name, "_api_key")
		if !ok {
			continue
		}
		sc := cfg.Services[service]
		if sc.APIKey == "" {
			sc.APIKey = value
			cfg.Services[service] = sc
		}
	}
}

// Validate rejects configurations that cannot work.
func Validate(cfg *types.Config) error {
	if cfg.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if cfg.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", cfg.RAG.ChunkOverlap)
	}
	if cfg.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Discovery.Threshold < 0 || cfg.Discovery.Threshold > 1 {
		return fmt.Errorf("discovery.threshold must be in [0,1], got %g", cfg.Discovery.Threshold)
	}
	if cfg.Monitor.Debounce <= 0 {
		return fmt.Errorf("monitor.debounce must be positive, got %s", cfg.Monitor.Debounce)
	}
	switch cfg.OCR.Backend {
	case types.OCRRemote, types.OCRMarkitdown:
	default:
		return fmt.Errorf("ocr.backend must be %q or %q, got %q", types.OCRRemote, types.OCRMarkitdown, cfg.OCR.Backend)
	}
	return nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("workspace", "./thoth")

	v.SetDefault("services.ocr.rate_limit", 1.0)
	v.SetDefault("services.ocr.burst", 1)
	v.SetDefault("services.ocr.timeout", 2*time.Minute)
	v.SetDefault("services.ocr.max_retries", 3)

	v.SetDefault("services.llm.rate_limit", 1.0)
	v.SetDefault("services.llm.burst", 2)
	v.SetDefault("services.llm.timeout", 2*time.Minute)
	v.SetDefault("services.llm.max_retries", 3)

	v.SetDefault("services.embeddings.rate_limit", 5.0)
	v.SetDefault("services.embeddings.burst", 5)
	v.SetDefault("services.embeddings.timeout", 30*time.Second)
	v.SetDefault("services.embeddings.max_retries", 3)

	// Metadata services. arXiv asks for one request every three seconds;
	// Crossref and OpenAlex tolerate more from polite-pool clients.
	v.SetDefault("services.crossref.rate_limit", 5.0)
	v.SetDefault("services.crossref.burst", 2)
	v.SetDefault("services.crossref.timeout", 30*time.Second)
	v.SetDefault("services.crossref.max_retries", 3)
	v.SetDefault("services.crossref.cache_ttl", 168*time.Hour)

	v.SetDefault("services.openalex.rate_limit", 5.0)
	v.SetDefault("services.openalex.burst", 2)
	v.SetDefault("services.openalex.timeout", 30*time.Second)
	v.SetDefault("services.openalex.max_retries", 3)
	v.SetDefault("services.openalex.cache_ttl", 168*time.Hour)

	v.SetDefault("services.arxiv.rate_limit", 0.33)
	v.SetDefault("services.arxiv.burst", 1)
	v.SetDefault("services.arxiv.timeout", 30*time.Second)
	v.SetDefault("services.arxiv.max_retries", 3)
	v.SetDefault("services.arxiv.cache_ttl", 168*time.Hour)

	v.SetDefault("services.semanticscholar.rate_limit", 1.0)
	v.SetDefault("services.semanticscholar.burst", 1)
	v.SetDefault("services.semanticscholar.timeout", 30*time.Second)
	v.SetDefault("services.semanticscholar.max_retries", 3)
	v.SetDefault("services.semanticscholar.cache_ttl", 168*time.Hour)

	// PDF downloads hit arbitrary publisher hosts; keep the rate gentle.
	v.SetDefault("services.download.rate_limit", 0.5)
	v.SetDefault("services.download.burst", 1)
	v.SetDefault("services.download.timeout", 2*time.Minute)
	v.SetDefault("services.download.max_retries", 2)

	v.SetDefault("llm.analysis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.extraction_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.filter_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.answer_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.context_tokens", 200000)
	v.SetDefault("llm.max_output_tokens", 8192)

	v.SetDefault("ocr.backend", string(types.OCRRemote))
	v.SetDefault("ocr.image", "markitdown:latest")

	v.SetDefault("embeddings.model", "nomic-embed-text")
	v.SetDefault("embeddings.dimensions", 768)

	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.top_k", 8)
	v.SetDefault("rag.rrf_k", 60)

	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.doc_timeout", 10*time.Minute)

	v.SetDefault("monitor.debounce", 500*time.Millisecond)
	v.SetDefault("monitor.stability_interval", time.Second)
	v.SetDefault("monitor.stability_checks", 2)

	v.SetDefault("discovery.poll_interval", 6*time.Hour)
	v.SetDefault("discovery.max_per_poll", 25)
	v.SetDefault("discovery.download_delay", time.Second)
	v.SetDefault("discovery.threshold", 0.6)
	v.SetDefault("discovery.timeout", 30*time.Second)
	v.SetDefault("discovery.user_agent", "thoth/0.1")

	v.SetDefault("cache.default_ttl", 720*time.Hour)
	v.SetDefault("cache.metadata_ttl", 168*time.Hour)
	v.SetDefault("cache.answer_ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
}
