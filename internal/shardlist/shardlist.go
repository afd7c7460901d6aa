// Package shardlist reads the list of shard identifiers to process.
package shardlist

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Window selects a contiguous slice of the list. Limit <= 0 means no limit.
type Window struct {
	Offset int
	Limit  int
}

// Load reads shard ids from path. Gzip-compressed lists (such as
// warc.paths.gz) are detected by their magic bytes and decompressed.
func Load(path string, w Window) ([]string, error) {
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard list: %w", err)
	}
	defer func() { _ = f.Close() }()

	ids, err := Read(f, w)
	if err != nil {
		return nil, fmt.Errorf("read shard list %s: %w", path, err)
	}
	return ids, nil
}

// Read parses one shard id per line. Lines are trimmed and blank lines skipped.
func Read(r io.Reader, w Window) ([]string, error) {
	if w.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0, got %d", w.Offset)
	}
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek: %w", err)
	}
	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		src = zr
	}

	var ids []string
	skipped := 0
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if skipped < w.Offset {
			skipped++
			continue
		}
		ids = append(ids, line)
		if w.Limit > 0 && len(ids) == w.Limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return ids, nil
}
