// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/pipeline"
	"github.com/pdiddy/thoth/pkg/types"
)

// captureQueue records enqueued jobs and signals arrivals.
type captureQueue struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	ch   chan pipeline.Job
}

func newCaptureQueue() *captureQueue {
	return &captureQueue{ch: make(chan pipeline.Job, 32)}
}

func (q *captureQueue) Enqueue(ctx context.Context, job pipeline.Job) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	select {
	case q.ch <- job:
	default:
	}
	return nil
}

func (q *captureQueue) snapshot() []pipeline.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pipeline.Job(nil), q.jobs...)
}

func (q *captureQueue) waitForJob(t *testing.T, timeout time.Duration) pipeline.Job {
	t.Helper()
	select {
	case job := <-q.ch:
		return job
	case <-time.After(timeout):
		t.Fatal("no job enqueued before timeout")
		return pipeline.Job{}
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *captureQueue, *types.Config) {
	t.Helper()
	workspace := t.TempDir()
	cfg := &types.Config{
		Workspace: workspace,
		Monitor: types.MonitorConfig{
			Debounce:          60 * time.Millisecond,
			StabilityInterval: 10 * time.Millisecond,
			StabilityChecks:   2,
		},
	}
	store, err := graphstore.Open(workspace, zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := newCaptureQueue()
	return New(store, q, cfg, zap.NewNop()), q, cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// --- event-driven ingestion ---

func TestMonitorEnqueuesSettledFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, q, cfg := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pdf := filepath.Join(cfg.PDFDir(), "attention.pdf")
	writeFile(t, pdf, "%PDF-1.7 body")

	job := q.waitForJob(t, 5*time.Second)
	if job.Path != pdf {
		t.Errorf("job path = %q, want %q", job.Path, pdf)
	}
	if job.Force {
		t.Error("watch-driven jobs must not force reprocessing")
	}

	cancel()
	m.Wait()
}

func TestMonitorDebouncesWriteBursts(t *testing.T) {
	m, q, cfg := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	// Let the startup scan of the empty directory finish so the write
	// below is seen only by the event path.
	time.Sleep(50 * time.Millisecond)

	pdf := filepath.Join(cfg.PDFDir(), "burst.pdf")
	writeFile(t, pdf, "%PDF-1.7 first ")
	time.Sleep(20 * time.Millisecond)
	f, err := os.OpenFile(pdf, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("second burst"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	q.waitForJob(t, 5*time.Second)
	time.Sleep(4 * cfg.Monitor.Debounce)

	jobs := q.snapshot()
	if len(jobs) != 1 {
		t.Errorf("jobs = %d, want a two-burst write enqueued once", len(jobs))
	}
}

func TestMonitorIgnoresNonPDFAndEmptyFiles(t *testing.T) {
	m, q, cfg := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	writeFile(t, filepath.Join(cfg.PDFDir(), "notes.txt"), "not a pdf")
	writeFile(t, filepath.Join(cfg.PDFDir(), "empty.pdf"), "")
	writeFile(t, filepath.Join(cfg.PDFDir(), ".hidden.pdf"), "%PDF-1.7")

	time.Sleep(6 * cfg.Monitor.Debounce)
	if jobs := q.snapshot(); len(jobs) != 0 {
		t.Errorf("jobs = %+v, want none", jobs)
	}
}

func TestMonitorDropsRemovedFile(t *testing.T) {
	m, q, cfg := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	pdf := filepath.Join(cfg.PDFDir(), "gone.pdf")
	writeFile(t, pdf, "%PDF-1.7 temp")
	time.Sleep(10 * time.Millisecond)
	if err := os.Remove(pdf); err != nil {
		t.Fatal(err)
	}

	time.Sleep(6 * cfg.Monitor.Debounce)
	if jobs := q.snapshot(); len(jobs) != 0 {
		t.Errorf("jobs = %+v, want none for a removed file", jobs)
	}
}

func TestMonitorWatchesNewSubdirectories(t *testing.T) {
	m, q, cfg := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(cfg.PDFDir(), "conference")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	pdf := filepath.Join(sub, "nested.pdf")
	writeFile(t, pdf, "%PDF-1.7 nested")

	job := q.waitForJob(t, 5*time.Second)
	if job.Path != pdf {
		t.Errorf("job path = %q, want %q", job.Path, pdf)
	}
	for _, j := range q.snapshot() {
		if j.Path != pdf {
			t.Errorf("unexpected job %q", j.Path)
		}
	}
}

// --- startup scan ---

func TestMonitorScanEnqueuesBacklog(t *testing.T) {
	m, q, cfg := newTestMonitor(t)

	pdf := filepath.Join(cfg.PDFDir(), "backlog.pdf")
	writeFile(t, pdf, "%PDF-1.7 waiting since last run")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	job := q.waitForJob(t, 5*time.Second)
	if job.Path != pdf {
		t.Errorf("job path = %q, want %q", job.Path, pdf)
	}
}

func TestMonitorScanSkipsProcessedFiles(t *testing.T) {
	m, q, cfg := newTestMonitor(t)
	ctx := context.Background()

	processed := filepath.Join(cfg.PDFDir(), "done.pdf")
	writeFile(t, processed, "%PDF-1.7 already ingested")
	fresh := filepath.Join(cfg.PDFDir(), "new.pdf")
	writeFile(t, fresh, "%PDF-1.7 never seen")

	sha, err := sha256File(processed)
	if err != nil {
		t.Fatal(err)
	}
	paper := types.Paper{ID: "doi:done001", Title: "Done", PDFPath: processed, PDFSHA256: sha, Status: types.StatusComplete}
	if err := m.store.UpsertPaper(ctx, paper); err != nil {
		t.Fatal(err)
	}
	v := types.ProcessingVersion{
		PaperID:      paper.ID,
		Version:      1,
		ContentHash:  "cafe01",
		ConfigDigest: pipeline.ConfigDigest(cfg),
	}
	if err := m.store.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}
	if _, err := m.store.ActivateVersion(ctx, paper.ID, 1); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Wait()
	}()
	if err := m.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	job := q.waitForJob(t, 5*time.Second)
	if job.Path != fresh {
		t.Errorf("job path = %q, want only the unprocessed file", job.Path)
	}
	time.Sleep(4 * cfg.Monitor.Debounce)
	for _, j := range q.snapshot() {
		if j.Path == processed {
			t.Error("scan enqueued an already-processed file")
		}
	}
}

// --- helpers ---

func TestIsPDF(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/inbox/paper.pdf", true},
		{"/inbox/PAPER.PDF", true},
		{"/inbox/paper.Pdf", true},
		{"/inbox/paper.txt", false},
		{"/inbox/.hidden.pdf", false},
		{"/inbox/paper.pdf.part", false},
	}
	for _, c := range cases {
		if got := isPDF(c.path); got != c.want {
			t.Errorf("isPDF(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}
