// Package fetcher downloads and decompresses archive shards into the work directory.
package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/policy/ratelimit"
)

const (
	gzipSuffix        = ".gz"
	partSuffix        = ".part"
	defaultChunkBytes = 32 << 20
	defaultUserAgent  = "warc-langfilter/0.1"
)

// ErrNotGzip is returned for shard identifiers that do not name a .gz object.
var ErrNotGzip = errors.New("shard identifier does not name a .gz object")

// FetchError describes why a shard could not be made available locally.
type FetchError struct {
	ShardID    string
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s: status %d: %v", e.ShardID, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.ShardID, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config controls remote access and local layout.
type Config struct {
	BaseURL               string
	WorkDir               string
	UserAgent             string
	ChunkBytes            int
	ResponseHeaderTimeout time.Duration
	// RequestsPerSecond caps downloads per archive host; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Fetcher implements corpus.Fetcher over plain HTTP.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Fetcher and creates the work directory. A nil client gets a
// transport without an overall timeout so multi-gigabyte bodies can stream.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir %s: %w", cfg.WorkDir, err)
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = defaultChunkBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport(cfg.ResponseHeaderTimeout)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RequestsPerSecond, Burst: cfg.Burst})
	return &Fetcher{cfg: cfg, client: client, limiter: limiter, logger: logger}, nil
}

// Paths returns the deterministic compressed and decompressed local paths for a shard.
func (f *Fetcher) Paths(shardID string) (string, string, error) {
	name := path.Base(strings.TrimSpace(shardID))
	if !strings.HasSuffix(name, gzipSuffix) || name == gzipSuffix {
		return "", "", fmt.Errorf("%w: %q", ErrNotGzip, shardID)
	}
	compressed := filepath.Join(f.cfg.WorkDir, name)
	return compressed, strings.TrimSuffix(compressed, gzipSuffix), nil
}

// EnsureLocal makes sure the decompressed archive for shardID exists on disk.
// When it is already present the call returns a cache hit without any network
// access, so repeated calls are idempotent.
func (f *Fetcher) EnsureLocal(ctx context.Context, shardID string) (corpus.LocalArchive, error) {
	compressed, decompressed, err := f.Paths(shardID)
	if err != nil {
		return corpus.LocalArchive{}, &FetchError{ShardID: shardID, Op: "resolve", Err: err}
	}
	archive := corpus.LocalArchive{
		ShardID:        shardID,
		CompressedPath: compressed,
		Path:           decompressed,
	}

	if info, statErr := os.Stat(decompressed); statErr == nil && info.Mode().IsRegular() {
		f.logger.Debug("archive already decompressed", zap.String("shard", shardID), zap.String("path", decompressed))
		archive.Source = corpus.FetchSourceCache
		archive.Bytes = info.Size()
		return archive, nil
	}

	archive.Source = corpus.FetchSourceCompressed
	if info, statErr := os.Stat(compressed); statErr == nil && info.Mode().IsRegular() {
		f.logger.Info("reusing downloaded archive", zap.String("shard", shardID))
		archive.Bytes = info.Size()
	} else {
		f.logger.Info("downloading archive", zap.String("shard", shardID))
		n, err := f.download(ctx, shardID, compressed)
		if err != nil {
			return corpus.LocalArchive{}, err
		}
		archive.Source = corpus.FetchSourceRemote
		archive.Bytes = n
		f.logger.Info("downloaded archive", zap.String("shard", shardID), zap.Int64("bytes", n))
	}

	if err := f.decompress(shardID, compressed, decompressed); err != nil {
		return corpus.LocalArchive{}, err
	}
	if err := os.Remove(compressed); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("failed to remove compressed archive", zap.String("path", compressed), zap.Error(err))
	}
	return archive, nil
}

// Cleanup removes every local file belonging to shardID. Missing files are not an error.
func (f *Fetcher) Cleanup(shardID string) error {
	compressed, decompressed, err := f.Paths(shardID)
	if err != nil {
		return nil
	}
	var errs []error
	for _, p := range []string{decompressed, decompressed + partSuffix, compressed, compressed + partSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fetcher) download(ctx context.Context, shardID, dest string) (int64, error) {
	url := f.cfg.BaseURL + "/" + strings.TrimLeft(strings.TrimSpace(shardID), "/")
	if err := f.limiter.Wait(ctx, url); err != nil {
		return 0, &FetchError{ShardID: shardID, Op: "throttle", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &FetchError{ShardID: shardID, Op: "request", Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &FetchError{ShardID: shardID, Op: "get", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed or abandoned on error

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &FetchError{
			ShardID:    shardID,
			Op:         "get",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s", resp.Status),
		}
	}

	part := dest + partSuffix
	n, err := writeFile(part, resp.Body, nil)
	if err != nil {
		removeQuietly(part)
		return 0, &FetchError{ShardID: shardID, Op: "download", Err: err}
	}
	if err := os.Rename(part, dest); err != nil {
		removeQuietly(part)
		return 0, &FetchError{ShardID: shardID, Op: "download", Err: err}
	}
	return n, nil
}

// decompress streams the gzip archive to disk through a fixed-size buffer.
// On failure both the partial output and the compressed input are removed so
// a later run downloads a fresh copy.
func (f *Fetcher) decompress(shardID, src, dest string) error {
	fail := func(err error) error {
		removeQuietly(dest + partSuffix)
		removeQuietly(src)
		return &FetchError{ShardID: shardID, Op: "decompress", Err: err}
	}

	// #nosec G304 -- src lives in the configured work directory.
	in, err := os.Open(src)
	if err != nil {
		return fail(err)
	}
	defer in.Close() //nolint:errcheck // read-only handle

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fail(err)
	}
	defer zr.Close() //nolint:errcheck // close only releases the decompressor

	part := dest + partSuffix
	if _, err := writeFile(part, zr, make([]byte, f.cfg.ChunkBytes)); err != nil {
		return fail(err)
	}
	if err := os.Rename(part, dest); err != nil {
		return fail(err)
	}
	return nil
}

func writeFile(dest string, r io.Reader, buf []byte) (int64, error) {
	// #nosec G304 -- dest lives in the configured work directory.
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.CopyBuffer(out, r, buf)
	closeErr := out.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", dest, closeErr)
	}
	return n, nil
}

func removeQuietly(p string) {
	_ = os.Remove(p)
}

func newHTTPTransport(responseHeaderTimeout time.Duration) *http.Transport {
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = 60 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
