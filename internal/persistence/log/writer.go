package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// HourLayout names one file per UTC hour.
const HourLayout = "2006-01-02-15"

// JSONLZstdWriter appends JSON lines to zstd-compressed files, one file
// per period of Layout. OnRotate receives the path of every file it
// finishes.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	Layout   string
	Now      func() time.Time
	OnRotate func(path string)

	mu        sync.Mutex
	curPeriod string
	f         *os.File
	enc       *zstd.Encoder
	w         *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		Layout:  HourLayout,
		Now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	period := w.Now().UTC().Format(w.Layout)
	if period != w.curPeriod {
		if err := w.rotateLocked(period); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(period string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathFor(period)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curPeriod = period
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	var err1 error
	_ = w.w.Flush()
	err1 = w.enc.Close()
	_ = w.f.Close()
	finished := w.f.Name()
	w.f, w.enc, w.w = nil, nil, nil
	if w.OnRotate != nil {
		w.OnRotate(finished)
	}
	return err1
}

func (w *JSONLZstdWriter) pathFor(period string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, period))
}
