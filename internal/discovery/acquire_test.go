// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/pkg/types"
)

const fakePDF = "%PDF-1.5\n1 0 obj\nendobj\n%%EOF\n"

func downloadClient(t *testing.T) *gateway.Client {
	t.Helper()
	g := gateway.New(map[string]types.ServiceConfig{}, nil, zap.NewNop())
	return g.Client("download")
}

func pdfServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if got := r.Header.Get("User-Agent"); got != "thoth-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/pdf" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte(fakePDF))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDownloadsPDF(t *testing.T) {
	srv := pdfServer(t, nil)
	dir := t.TempDir()
	f := NewFetcher(downloadClient(t), dir, "thoth-test/1.0", zap.NewNop())

	cand := types.Candidate{
		SourceID: "arXiv:2602.01234",
		Title:    "Sparse Attention at Scale",
		PDFURL:   srv.URL + "/pdf/2602.01234",
	}
	path, fetched, err := f.Fetch(context.Background(), cand)
	if err != nil {
		t.Fatal(err)
	}
	if !fetched {
		t.Error("fetched = false for a fresh download")
	}
	if filepath.Base(path) != "2602.01234.pdf" {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != fakePDF {
		t.Errorf("content = %q", data)
	}

	// The temp file must be gone after the rename.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want only the PDF", len(entries))
	}
}

func TestFetchSkipsExistingFile(t *testing.T) {
	var hits atomic.Int32
	srv := pdfServer(t, &hits)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "2602.01234.pdf"), []byte(fakePDF), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(downloadClient(t), dir, "thoth-test/1.0", zap.NewNop())
	cand := types.Candidate{SourceID: "arXiv:2602.01234", PDFURL: srv.URL + "/pdf"}

	path, fetched, err := f.Fetch(context.Background(), cand)
	if err != nil {
		t.Fatal(err)
	}
	if fetched {
		t.Error("fetched = true for a file already on disk")
	}
	if filepath.Base(path) != "2602.01234.pdf" {
		t.Errorf("path = %q", path)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times for a skipped download", hits.Load())
	}
}

func TestFetchRejectsNonPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please sign in to download.</body></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(downloadClient(t), dir, "", zap.NewNop())
	cand := types.Candidate{SourceID: "10.1000/paywalled.1", PDFURL: srv.URL + "/pdf"}

	_, _, err := f.Fetch(context.Background(), cand)
	if types.KindOf(err) != types.KindUpstream4xx {
		t.Errorf("kind = %v, want upstream_4xx", types.KindOf(err))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("rejected download left %d files behind", len(entries))
	}
}

func TestFetchWithoutURL(t *testing.T) {
	f := NewFetcher(downloadClient(t), t.TempDir(), "", zap.NewNop())
	_, _, err := f.Fetch(context.Background(), types.Candidate{Title: "No Link"})
	if types.KindOf(err) != types.KindNotFound {
		t.Errorf("kind = %v, want not_found", types.KindOf(err))
	}
}

func TestCandidateFilename(t *testing.T) {
	tests := []struct {
		cand types.Candidate
		want string
	}{
		{types.Candidate{SourceID: "arXiv:2401.12345"}, "2401.12345.pdf"},
		{types.Candidate{SourceID: "10.1000/attn.2017"}, "10.1000_attn.2017.pdf"},
		{types.Candidate{SourceID: "W2741809807"}, "w2741809807.pdf"},
		{types.Candidate{Title: "Sparse Attention: A Survey"}, "sparse_attention__a_survey.pdf"},
	}
	for _, tt := range tests {
		if got := candidateFilename(tt.cand); got != tt.want {
			t.Errorf("candidateFilename(%+v) = %q, want %q", tt.cand, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName(".hidden/../name"); strings.HasPrefix(got, ".") {
		t.Errorf("sanitizeName kept a leading dot: %q", got)
	}
	if got := sanitizeName(""); got != "paper" {
		t.Errorf("sanitizeName(\"\") = %q", got)
	}
	long := sanitizeName(strings.Repeat("a", 500))
	if len(long) > maxFilenameLen {
		t.Errorf("len = %d, want <= %d", len(long), maxFilenameLen)
	}
}
