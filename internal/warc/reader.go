// Package warc streams response records out of a decompressed WARC file.
package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
)

// ErrTruncated signals that the archive ended inside a declared record block.
var ErrTruncated = errors.New("warc: truncated archive")

// errMalformed marks a record that cannot be used; the reader resyncs on the next version line.
var errMalformed = errors.New("warc: malformed record")

const (
	recordTypeResponse   = "response"
	defaultMaxRecordSize = 64 << 20
	readBufferSize       = 1 << 20
)

// Decoder converts a captured HTTP payload into text.
type Decoder interface {
	Decode(body []byte, contentType string) string
}

type utf8Decoder struct{}

func (utf8Decoder) Decode(body []byte, _ string) string {
	return strings.ToValidUTF8(string(body), "")
}

// Option customizes a Reader.
type Option func(*Reader)

// WithDecoder overrides the payload decoder.
func WithDecoder(d Decoder) Option {
	return func(r *Reader) {
		if d != nil {
			r.decoder = d
		}
	}
}

// WithLogger sets the logger used for skipped records.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxRecordSize caps the block size buffered for a single response record.
// Larger records are skipped, logged at warn level and counted as malformed.
func WithMaxRecordSize(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxRecord = n
		}
	}
}

// Reader is a lazy, finite sequence of response records. It is not safe for
// concurrent use and cannot be rewound; reopen the file to iterate again.
type Reader struct {
	br        *bufio.Reader
	closer    io.Closer
	decoder   Decoder
	logger    *zap.Logger
	maxRecord int64
	malformed int
	resync    bool
}

// Open opens a decompressed WARC file for sequential reading.
func Open(path string, opts ...Option) (*Reader, error) {
	// #nosec G304 -- path is derived from the configured work directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	r := NewReader(f, opts...)
	r.closer = f
	return r, nil
}

// NewReader wraps an already decompressed WARC stream.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		br:        bufio.NewReaderSize(src, readBufferSize),
		decoder:   utf8Decoder{},
		logger:    zap.NewNop(),
		maxRecord: defaultMaxRecordSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next response record. It returns io.EOF when the archive
// is exhausted and ErrTruncated when the file ends inside a record.
func (r *Reader) Next() (corpus.ArchiveRecord, error) {
	for {
		hdr, err := r.readHeader()
		if errors.Is(err, errMalformed) {
			r.skip("bad header", err)
			continue
		}
		if err != nil {
			return corpus.ArchiveRecord{}, err
		}

		if hdr.recordType() != recordTypeResponse || hdr.length > r.maxRecord {
			if hdr.recordType() == recordTypeResponse {
				r.malformed++
				r.logger.Warn("skipping oversized warc record",
					zap.String("uri", strings.Trim(hdr.get("warc-target-uri"), "<>")),
					zap.Int64("bytes", hdr.length), zap.Int64("limit", r.maxRecord))
			}
			if err := r.discard(hdr.length); err != nil {
				return corpus.ArchiveRecord{}, err
			}
			continue
		}

		block := make([]byte, hdr.length)
		if _, err := io.ReadFull(r.br, block); err != nil {
			return corpus.ArchiveRecord{}, truncated(err)
		}

		uri := strings.Trim(hdr.get("warc-target-uri"), "<>")
		if uri == "" {
			r.skip("missing target uri", errMalformed)
			continue
		}
		payload, contentType, err := splitHTTP(block)
		if err != nil {
			r.skip("bad http payload", err)
			continue
		}
		return corpus.ArchiveRecord{
			URI:         uri,
			Content:     r.decoder.Decode(payload, contentType),
			ContentType: contentType,
		}, nil
	}
}

// Malformed returns how many entries were skipped as unparseable so far.
func (r *Reader) Malformed() int {
	return r.malformed
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func (r *Reader) skip(reason string, err error) {
	r.malformed++
	r.logger.Debug("skipping malformed warc record", zap.String("reason", reason), zap.Error(err))
}

func (r *Reader) discard(n int64) error {
	if _, err := io.CopyN(io.Discard, r.br, n); err != nil {
		return truncated(err)
	}
	return nil
}

type header struct {
	fields map[string]string
	length int64
}

func (h header) get(key string) string {
	return h.fields[key]
}

func (h header) recordType() string {
	return strings.ToLower(h.get("warc-type"))
}

// readHeader reads the version line and named fields of the next record.
func (r *Reader) readHeader() (header, error) {
	if err := r.seekVersionLine(); err != nil {
		return header{}, err
	}

	fields := make(map[string]string)
	var last string
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return header{}, truncated(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			fields[last] += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		last = strings.ToLower(strings.TrimSpace(name))
		fields[last] = strings.TrimSpace(value)
	}

	raw, ok := fields["content-length"]
	if !ok {
		r.resync = true
		return header{}, fmt.Errorf("%w: missing content-length", errMalformed)
	}
	length, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || length < 0 {
		r.resync = true
		return header{}, fmt.Errorf("%w: invalid content-length %q", errMalformed, raw)
	}
	return header{fields: fields, length: length}, nil
}

// seekVersionLine consumes blank separator lines and stops after a "WARC/x.y"
// line. Any other content marks a malformed region that is skipped up to the
// next version line.
func (r *Reader) seekVersionLine() error {
	for {
		line, err := r.br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read archive: %w", err)
			}
			if strings.HasPrefix(trimmed, "WARC/") {
				return ErrTruncated
			}
			if strings.TrimSpace(trimmed) != "" && !r.resync {
				r.skip("trailing data after last record", errMalformed)
			}
			return io.EOF
		}
		if strings.HasPrefix(trimmed, "WARC/") {
			r.resync = false
			return nil
		}
		if trimmed == "" {
			continue
		}
		if !r.resync {
			r.resync = true
			r.skip("unexpected data before version line", errMalformed)
		}
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return fmt.Errorf("read archive: %w", err)
}
