// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/thoth/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "explicit missing file should fail")

	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, "./thoth", cfg.Workspace)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 60, cfg.RAG.RRFK)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Debounce)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.DocTimeout)
	assert.Equal(t, 0.6, cfg.Discovery.Threshold)
	assert.Equal(t, types.OCRRemote, cfg.OCR.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Service(ServiceOpenAlex).CacheTTL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thoth.yaml")
	content := `
workspace: /data/thoth
watch_dir: /inbox
rag:
  chunk_size: 800
  chunk_overlap: 100
services:
  llm:
    api_key: sk-test
    rate_limit: 2.5
ocr:
  backend: markitdown
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/thoth", cfg.Workspace)
	assert.Equal(t, "/inbox", cfg.PDFDir())
	assert.Equal(t, filepath.Join("/data/thoth", "markdown"), cfg.MarkdownDir())
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, "sk-test", cfg.Service(ServiceLLM).APIKey)
	assert.Equal(t, 2.5, cfg.Service(ServiceLLM).RateLimit)
	assert.Equal(t, types.OCRMarkitdown, cfg.OCR.Backend)

	// File values override defaults; untouched defaults survive.
	assert.Equal(t, 8, cfg.RAG.TopK)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("THOTH_WORKSPACE", "/env/thoth")
	t.Setenv("THOTH_RAG_CHUNK_SIZE", "500")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/thoth", cfg.Workspace)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
}

func TestValidate(t *testing.T) {
	base := func() *types.Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*types.Config)
		errMsg string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*types.Config) {},
		},
		{
			name:   "empty workspace",
			mutate: func(c *types.Config) { c.Workspace = "" },
			errMsg: "workspace",
		},
		{
			name:   "overlap not below chunk size",
			mutate: func(c *types.Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
			errMsg: "chunk_overlap",
		},
		{
			name:   "threshold above one",
			mutate: func(c *types.Config) { c.Discovery.Threshold = 1.5 },
			errMsg: "threshold",
		},
		{
			name:   "unknown ocr backend",
			mutate: func(c *types.Config) { c.OCR.Backend = "tesseract" },
			errMsg: "ocr.backend",
		},
		{
			name:   "zero debounce",
			mutate: func(c *types.Config) { c.Monitor.Debounce = 0 },
			errMsg: "debounce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMergeSecrets(t *testing.T) {
	cfg := &types.Config{
		Services: map[string]types.ServiceConfig{
			"llm": {APIKey: "from-config"},
		},
	}

	MergeSecrets(cfg, map[string]string{
		"llm_api_key":             "from-secrets",
		"semanticscholar_api_key": "s2-key",
		"unrelated":               "ignored",
	})

	// Config file wins over secrets.
	assert.Equal(t, "from-config", cfg.Services["llm"].APIKey)
	assert.Equal(t, "s2-key", cfg.Services["semanticscholar"].APIKey)
	_, ok := cfg.Services["unrelated"]
	assert.False(t, ok)
}
