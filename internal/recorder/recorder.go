// Package recorder watches a browser session driven by a human, derives a
// stable selector for every interacted element and keeps a deduplicated
// action log on disk.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

// ErrFlush wraps failures to pull or persist the action buffer.
var ErrFlush = errors.New("flush action log")

const (
	DefaultProbeInterval = time.Second
	DefaultFlushInterval = 5 * time.Second
	scriptTimeout        = 10 * time.Second
)

// Recorder owns the in-memory action sequence for one browser session.
type Recorder struct {
	d             driver.Driver
	path          string
	resolver      *selector.Resolver
	logger        *zap.Logger
	probeInterval time.Duration
	flushInterval time.Duration
	onRecord      func(ActionRecord)

	mu      sync.Mutex
	records []ActionRecord
	seen    map[string]struct{}
}

type Option func(*Recorder)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithResolver(res *selector.Resolver) Option {
	return func(r *Recorder) { r.resolver = res }
}

// WithIntervals overrides the liveness probe and flush periods.
func WithIntervals(probe, flush time.Duration) Option {
	return func(r *Recorder) {
		if probe > 0 {
			r.probeInterval = probe
		}
		if flush > 0 {
			r.flushInterval = flush
		}
	}
}

// WithRecordHook is called once for every newly seen record, in order.
func WithRecordHook(fn func(ActionRecord)) Option {
	return func(r *Recorder) { r.onRecord = fn }
}

func New(d driver.Driver, path string, opts ...Option) *Recorder {
	r := &Recorder{
		d:             d,
		path:          path,
		resolver:      selector.NewResolver(),
		logger:        zap.NewNop(),
		probeInterval: DefaultProbeInterval,
		flushInterval: DefaultFlushInterval,
		seen:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the action log location.
func (r *Recorder) Path() string {
	return r.path
}

// Start installs the observers in the current document and, when the driver
// supports it, in every document loaded afterwards.
func (r *Recorder) Start(ctx context.Context) error {
	src := script(r.resolver)

	if si, ok := r.d.(driver.ScriptInstaller); ok {
		if err := si.InstallScript(ctx, src); err != nil && !errors.Is(err, driver.ErrUnsupported) {
			return fmt.Errorf("install recorder: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	if _, err := r.d.ExecuteScript(sctx, src); err != nil {
		return fmt.Errorf("inject recorder: %w", err)
	}
	r.logger.Info("Recording started", zap.String("action_log", r.path))
	return nil
}

// Records returns a copy of the deduplicated records seen so far.
func (r *Recorder) Records() []ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActionRecord(nil), r.records...)
}

// Flush pulls the page buffer, merges it into the known records keeping the
// first occurrence of every (timestamp, kind), and overwrites the action log.
// It reports whether any records were written and never returns an error.
func (r *Recorder) Flush(ctx context.Context) bool {
	n, err := r.flush(ctx)
	if err != nil {
		r.logger.Warn("Failed to flush action log", zap.Error(err))
		return false
	}
	if n > 0 {
		r.logger.Debug("Action log flushed", zap.Int("records", n), zap.String("path", r.path))
	}
	return n > 0
}

func (r *Recorder) flush(ctx context.Context) (int, error) {
	sctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	raw, err := r.d.ExecuteScript(sctx, bufferExpr)
	if err != nil {
		return 0, fmt.Errorf("%w: read buffer: %w", ErrFlush, err)
	}
	pulled, err := decode(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFlush, err)
	}

	r.mu.Lock()
	var added []ActionRecord
	for _, a := range pulled {
		if _, dup := r.seen[a.Key()]; dup {
			continue
		}
		r.seen[a.Key()] = struct{}{}
		r.records = append(r.records, a)
		added = append(added, a)
	}
	snapshot := append([]ActionRecord(nil), r.records...)
	r.mu.Unlock()

	if r.onRecord != nil {
		for _, a := range added {
			r.onRecord(a)
		}
	}
	if len(snapshot) == 0 {
		return 0, nil
	}
	if err := writeLog(r.path, snapshot); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFlush, err)
	}
	return len(snapshot), nil
}

// RunContinuous probes session liveness every probe interval and flushes
// every flush interval. When the probe fails, or ctx is done, it flushes one
// last time and returns.
func (r *Recorder) RunContinuous(ctx context.Context) {
	probe := time.NewTicker(r.probeInterval)
	defer probe.Stop()
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Recording stopped")
			r.Flush(context.Background())
			return
		case <-probe.C:
			pctx, cancel := context.WithTimeout(ctx, r.probeInterval*5)
			_, err := r.d.CurrentURL(pctx)
			cancel()
			if err != nil {
				r.logger.Info("Browser session ended, recording finished", zap.Error(err))
				r.Flush(context.Background())
				return
			}
			if time.Since(lastFlush) >= r.flushInterval {
				r.Flush(ctx)
				lastFlush = time.Now()
			}
		}
	}
}

func decode(raw any) ([]ActionRecord, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode buffer: %w", err)
	}
	var out []ActionRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode buffer: %w", err)
	}
	return out, nil
}

// writeLog replaces the file at path with a pretty-printed JSON array.
func writeLog(path string, records []ActionRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace action log: %w", err)
	}
	return nil
}

// Exists reports whether an action log is already present at path. A run
// without one starts in learning mode.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
