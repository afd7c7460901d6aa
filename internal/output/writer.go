// Package output appends qualifying pages to batch-scoped JSON lines files.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
)

// Writer implements corpus.Appender. Appends to the same path are serialized
// so concurrent shards never interleave partial lines.
type Writer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter returns a ready Writer.
func NewWriter() *Writer {
	return &Writer{locks: make(map[string]*sync.Mutex)}
}

// Append writes rec as one JSON line at the end of path, creating the file
// and its directory when needed.
func (w *Writer) Append(path string, rec corpus.OutputRecord) error {
	line, err := EncodeLine(rec)
	if err != nil {
		return err
	}

	lock := w.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir for %s: %w", path, err)
	}
	// #nosec G304 -- path is derived from the configured output directory.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", path, err)
	}
	return nil
}

func (w *Writer) lockFor(path string) *sync.Mutex {
	key := filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locks == nil {
		w.locks = make(map[string]*sync.Mutex)
	}
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// EncodeLine renders rec as a single newline-terminated JSON object with
// non-ASCII text and HTML characters left as is.
func EncodeLine(rec corpus.OutputRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode output record %s: %w", rec.URL, err)
	}
	return buf.Bytes(), nil
}
