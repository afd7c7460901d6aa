package shardlist

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const list = "  crawl/a.warc.gz\n\ncrawl/b.warc.gz  \r\n\t\ncrawl/c.warc.gz\ncrawl/d.warc.gz"

func TestReadTrimsAndSkipsBlanks(t *testing.T) {
	ids, err := Read(strings.NewReader(list), Window{})
	require.NoError(t, err)
	assert.Equal(t, []string{"crawl/a.warc.gz", "crawl/b.warc.gz", "crawl/c.warc.gz", "crawl/d.warc.gz"}, ids)
}

func TestReadWindow(t *testing.T) {
	ids, err := Read(strings.NewReader(list), Window{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"crawl/b.warc.gz", "crawl/c.warc.gz"}, ids)

	ids, err = Read(strings.NewReader(list), Window{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = Read(strings.NewReader(list), Window{Offset: -1})
	require.Error(t, err)
}

func TestReadEmpty(t *testing.T) {
	ids, err := Read(strings.NewReader(""), Window{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(list))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "warc.paths.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	ids, err := Load(path, Window{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"crawl/a.warc.gz"}, ids)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), Window{})
	require.Error(t, err)
}
