package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strings"
)

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// splitHTTP separates a captured HTTP response into its payload and
// Content-Type. Blocks that do not start with a status line are returned as-is.
// Chunked transfer coding and gzip content coding are removed.
func splitHTTP(block []byte) ([]byte, string, error) {
	if !bytes.HasPrefix(block, []byte("HTTP/")) {
		return block, "", nil
	}

	head, body, found := bytes.Cut(block, crlfcrlf)
	if !found {
		head, body, found = bytes.Cut(block, lflf)
	}
	if !found {
		return nil, "", nil
	}

	hdr := parseHeaders(head)
	contentType := hdr.Get("Content-Type")

	if strings.EqualFold(strings.TrimSpace(hdr.Get("Transfer-Encoding")), "chunked") {
		if decoded, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(body))); err == nil {
			body = decoded
		}
	}

	switch strings.ToLower(strings.TrimSpace(hdr.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, "", fmt.Errorf("gzip payload: %w", err)
		}
		defer zr.Close() //nolint:errcheck // reader over an in-memory buffer
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, "", fmt.Errorf("gzip payload: %w", err)
		}
		body = decoded
	}
	return body, contentType, nil
}

func parseHeaders(head []byte) textproto.MIMEHeader {
	var buf bytes.Buffer
	buf.Grow(len(head) + 4)
	buf.Write(head)
	buf.WriteString("\r\n\r\n")

	tp := textproto.NewReader(bufio.NewReader(&buf))
	if _, err := tp.ReadLine(); err != nil {
		return textproto.MIMEHeader{}
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && hdr == nil {
		return textproto.MIMEHeader{}
	}
	return hdr
}
