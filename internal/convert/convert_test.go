// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRuntime implements container.Runtime with canned behavior.
type fakeRuntime struct {
	name     string
	imageErr error
	runErr   error
	output   string

	checkedImage string
	ranImage     string
	stdin        []byte
}

func (f *fakeRuntime) Name() string    { return f.name }
func (f *fakeRuntime) Available() bool { return true }

func (f *fakeRuntime) ImageExists(image string) error {
	f.checkedImage = image
	return f.imageErr
}

func (f *fakeRuntime) Run(_ context.Context, image string, stdin io.Reader, stdout io.Writer) error {
	f.ranImage = image
	if f.runErr != nil {
		return f.runErr
	}
	f.stdin, _ = io.ReadAll(stdin)
	_, err := io.WriteString(stdout, f.output)
	return err
}

func writePDF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2301.07041.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewMarkitdown(t *testing.T) {
	tests := []struct {
		name      string
		image     string
		imageErr  error
		wantImage string
		wantErr   string
	}{
		{
			name:      "default image when unconfigured",
			image:     "",
			wantImage: DefaultImage,
		},
		{
			name:      "configured image",
			image:     "ghcr.io/example/markitdown:v2",
			wantImage: "ghcr.io/example/markitdown:v2",
		},
		{
			name:     "missing image fails construction",
			image:    "",
			imageErr: errors.New("no such image"),
			wantErr:  "not available in podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{name: "podman", imageErr: tt.imageErr}
			conv, err := NewMarkitdown(rt, tt.image, nil)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q should contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.checkedImage != tt.wantImage {
				t.Errorf("checked image %q, want %q", rt.checkedImage, tt.wantImage)
			}
			if conv.image != tt.wantImage {
				t.Errorf("converter image %q, want %q", conv.image, tt.wantImage)
			}
		})
	}
}

func TestConvert(t *testing.T) {
	rt := &fakeRuntime{
		name:   "docker",
		output: "# Title\n\n![fig 1](images/fig1.png)\n\nBody text.",
	}
	conv, err := NewMarkitdown(rt, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	pdfPath := writePDF(t, "%PDF-1.5 fake body")
	result, err := conv.Convert(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(rt.stdin) != "%PDF-1.5 fake body" {
		t.Errorf("container stdin = %q, want PDF bytes", rt.stdin)
	}
	if rt.ranImage != DefaultImage {
		t.Errorf("ran image %q, want %q", rt.ranImage, DefaultImage)
	}
	if result.Markdown != rt.output {
		t.Errorf("Markdown = %q, want container output verbatim", result.Markdown)
	}
	if strings.Contains(result.MarkdownNoImages, "![") {
		t.Errorf("MarkdownNoImages still has image refs: %q", result.MarkdownNoImages)
	}
	if !strings.Contains(result.MarkdownNoImages, "Body text.") {
		t.Errorf("MarkdownNoImages lost body text: %q", result.MarkdownNoImages)
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rt      *fakeRuntime
		missing bool
		wantErr string
	}{
		{
			name:    "container failure",
			rt:      &fakeRuntime{name: "docker", runErr: errors.New("exit status 1")},
			wantErr: "exit status 1",
		},
		{
			name:    "empty output",
			rt:      &fakeRuntime{name: "docker", output: ""},
			wantErr: "empty output",
		},
		{
			name:    "missing PDF",
			rt:      &fakeRuntime{name: "docker", output: "unused"},
			missing: true,
			wantErr: "opening PDF",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := NewMarkitdown(tt.rt, "", nil)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), "gone.pdf")
			if !tt.missing {
				path = writePDF(t, "pdf")
			}
			_, err = conv.Convert(context.Background(), path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}
