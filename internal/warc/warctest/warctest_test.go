package warctest

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGzipMembersMatchesBuild(t *testing.T) {
	t.Parallel()

	records := []Record{
		Info(),
		Response("https://a.example/", "text/html", "<p>one</p>"),
		Response("https://b.example/", "text/html", "<p>two</p>"),
	}
	zr, err := gzip.NewReader(bytes.NewReader(GzipMembers(records...)))
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)

	require.Equal(t, Build(records...), got)
	require.Equal(t, 3, bytes.Count(got, []byte("WARC/1.1\r\n")))
}
