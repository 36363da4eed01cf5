// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package monitor watches the PDF inbox and feeds the ingestion
// pipeline. It debounces filesystem events per path, waits for files to
// stop growing before enqueuing them, and on startup scans the tree so
// documents dropped while the process was down are not lost. Enqueuing
// blocks when the pipeline queue is full; the monitor never drops a
// settled file silently.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/pipeline"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	defaultDebounce          = 500 * time.Millisecond
	defaultStabilityInterval = time.Second
	defaultStabilityChecks   = 2

	// reestablishDelay paces watcher recreation attempts after the event
	// stream dies.
	reestablishDelay = time.Second
)

// Enqueuer accepts ingestion jobs. Satisfied by *pipeline.Pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, job pipeline.Job) error
}

// Monitor owns the filesystem watcher over the PDF directory tree.
type Monitor struct {
	store  *graphstore.Store
	pipe   Enqueuer
	logger *zap.Logger

	dir    string
	digest string
	cfg    types.MonitorConfig

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]time.Time
	inflight map[string]struct{}

	wg sync.WaitGroup
}

// New builds a monitor over cfg's PDF directory. The watcher itself is
// created at Start.
func New(store *graphstore.Store, pipe Enqueuer, cfg *types.Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	mc := cfg.Monitor
	if mc.Debounce <= 0 {
		mc.Debounce = defaultDebounce
	}
	if mc.StabilityInterval <= 0 {
		mc.StabilityInterval = defaultStabilityInterval
	}
	if mc.StabilityChecks <= 0 {
		mc.StabilityChecks = defaultStabilityChecks
	}
	return &Monitor{
		store:    store,
		pipe:     pipe,
		logger:   logger,
		dir:      cfg.PDFDir(),
		digest:   pipeline.ConfigDigest(cfg),
		cfg:      mc,
		pending:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// Start establishes the watcher, runs the startup scan, and launches the
// event loop. It returns once watching is in place; cancel ctx to stop
// and call Wait to join.
func (m *Monitor) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	w, err := m.newWatcher()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.scan(ctx)
	}()

	m.logger.Info("monitor started",
		zap.String("dir", m.dir),
		zap.Duration("debounce", m.cfg.Debounce))
	return nil
}

// Wait blocks until the event loop, the scan, and all settling
// goroutines have exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// newWatcher creates an fsnotify watcher covering the whole directory
// tree.
func (m *Monitor) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(path)
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (m *Monitor) channels() (chan fsnotify.Event, chan error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher.Events, m.watcher.Errors
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.watcher.Close()
		m.mu.Unlock()
	}()

	// The sweep interval trades latency against wakeups; a quarter of
	// the debounce keeps settle detection well under one extra window.
	tick := m.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		events, errs := m.channels()
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if !m.reestablish(ctx) {
					return
				}
				continue
			}
			m.handleEvent(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				if !m.reestablish(ctx) {
					return
				}
				continue
			}
			m.logger.Warn("watcher error", zap.Error(err))
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			m.mu.Lock()
			delete(m.pending, ev.Name)
			m.mu.Unlock()
		}
		return
	}

	// A directory moved or created inside the tree is watched from now
	// on, and its contents are picked up by a scan since they may have
	// existed before the watch was in place.
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		m.mu.Lock()
		w := m.watcher
		m.mu.Unlock()
		if err := w.Add(ev.Name); err != nil {
			m.logger.Warn("watching new directory", zap.String("dir", ev.Name), zap.Error(err))
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.scanDir(ctx, ev.Name)
		}()
		return
	}

	if !isPDF(ev.Name) {
		return
	}
	m.mu.Lock()
	m.pending[ev.Name] = time.Now()
	m.mu.Unlock()
}

// sweep moves paths whose last event has settled past the debounce
// window into the in-flight set and starts their stability check. Paths
// still in flight stay pending and are retried on a later tick.
func (m *Monitor) sweep(ctx context.Context) {
	now := time.Now()
	var settled []string

	m.mu.Lock()
	for path, last := range m.pending {
		if now.Sub(last) < m.cfg.Debounce {
			continue
		}
		if _, busy := m.inflight[path]; busy {
			continue
		}
		delete(m.pending, path)
		m.inflight[path] = struct{}{}
		settled = append(settled, path)
	}
	m.mu.Unlock()

	for _, path := range settled {
		m.wg.Add(1)
		go func(path string) {
			defer m.wg.Done()
			defer func() {
				m.mu.Lock()
				delete(m.inflight, path)
				m.mu.Unlock()
			}()
			m.settle(ctx, path)
		}(path)
	}
}

// settle verifies the file is readable and has stopped growing, then
// enqueues it. An unreadable or still-growing file is skipped with a
// warning; the next modify event retries it.
func (m *Monitor) settle(ctx context.Context, path string) {
	if !m.stable(ctx, path) {
		return
	}
	if err := m.pipe.Enqueue(ctx, pipeline.Job{Path: path}); err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("enqueuing document", zap.String("path", path), zap.Error(err))
		}
		return
	}
	m.logger.Debug("document enqueued", zap.String("path", path))
}

func (m *Monitor) stable(ctx context.Context, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	f.Close()

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	size := info.Size()
	if size == 0 {
		m.logger.Warn("skipping empty file", zap.String("path", path))
		return false
	}
	for i := 1; i < m.cfg.StabilityChecks; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.cfg.StabilityInterval):
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() != size {
			m.logger.Warn("skipping still-growing file",
				zap.String("path", path),
				zap.Int64("size", info.Size()))
			return false
		}
	}
	return true
}

// scan walks the whole tree once, enqueuing every PDF that has no active
// version for its content bytes under the current configuration.
func (m *Monitor) scan(ctx context.Context) {
	m.scanDir(ctx, m.dir)
}

func (m *Monitor) scanDir(ctx context.Context, root string) {
	var seen, enqueued int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !isPDF(path) {
			return nil
		}
		if info, ierr := d.Info(); ierr != nil || info.Size() == 0 {
			return nil
		}
		seen++
		if m.processed(ctx, path) {
			return nil
		}
		// The event path owns anything already pending or in flight.
		m.mu.Lock()
		_, pend := m.pending[path]
		_, busy := m.inflight[path]
		if pend || busy {
			m.mu.Unlock()
			return nil
		}
		m.inflight[path] = struct{}{}
		m.mu.Unlock()

		err = m.pipe.Enqueue(ctx, pipeline.Job{Path: path})
		m.mu.Lock()
		delete(m.inflight, path)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		enqueued++
		return nil
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Warn("scanning pdf directory", zap.String("dir", root), zap.Error(err))
	}
	if seen > 0 {
		m.logger.Info("scan complete",
			zap.String("dir", root),
			zap.Int("pdfs", seen),
			zap.Int("enqueued", enqueued))
	}
}

// processed reports whether the file's content already has an active
// version under the current config digest. Errors count as unprocessed;
// the pipeline's own reuse check is the authority.
func (m *Monitor) processed(ctx context.Context, path string) bool {
	sha, err := sha256File(path)
	if err != nil {
		return false
	}
	paper, err := m.store.FindBySHA256(ctx, sha)
	if err != nil {
		return false
	}
	av, err := m.store.ActiveVersion(ctx, paper.ID)
	return err == nil && av.ConfigDigest == m.digest
}

// reestablish replaces a dead watcher and rescans for anything that
// arrived during the gap. It returns false only when ctx ended.
func (m *Monitor) reestablish(ctx context.Context) bool {
	m.logger.Warn("watcher died; re-establishing", zap.String("dir", m.dir))
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(reestablishDelay):
		}
		w, err := m.newWatcher()
		if err != nil {
			m.logger.Warn("re-establishing watcher", zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.watcher.Close()
		m.watcher = w
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.scan(ctx)
		}()
		m.logger.Info("watcher re-established", zap.String("dir", m.dir))
		return true
	}
}

func isPDF(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".pdf")
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
