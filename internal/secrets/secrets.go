// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file is one secret: the filename is the key name, the trimmed file
// contents are the value. Filenames are normalized so that both
// "llm-api-key" and "llm_api_key" bind to the llm service.
//
// Typical key files: llm_api_key, semanticscholar_api_key, ocr_api_key,
// embeddings_api_key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads all files in dir and returns a map of normalized filename to
// trimmed contents. A missing directory is not an error; Load returns an
// empty map. Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[normalizeKey(name)] = value
		}
	}

	return secrets, nil
}

// normalizeKey maps hyphenated key-file names to the underscore form used
// by the config layer.
func normalizeKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}
