// Package warctest builds small WARC archives for tests.
package warctest

import (
	"bytes"
	"compress/gzip"
	"fmt"
)

// Record is one archive entry to serialize.
type Record struct {
	Type  string
	URI   string
	Block []byte
}

// Response builds a response record carrying an HTTP 200 with body.
func Response(uri, contentType, body string) Record {
	block := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s",
		contentType, len(body), body,
	)
	return Record{Type: "response", URI: uri, Block: []byte(block)}
}

// Request builds a request record for uri.
func Request(uri string) Record {
	block := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n\r\n", uri)
	return Record{Type: "request", URI: uri, Block: []byte(block)}
}

// Metadata builds a metadata record for uri.
func Metadata(uri string) Record {
	return Record{Type: "metadata", URI: uri, Block: []byte("fetchTimeMs: 42\r\n")}
}

// Info builds a warcinfo record.
func Info() Record {
	return Record{Type: "warcinfo", Block: []byte("software: warctest\r\nformat: WARC File Format 1.1\r\n")}
}

// Build serializes records into an uncompressed WARC stream.
func Build(records ...Record) []byte {
	var buf bytes.Buffer
	for i, rec := range records {
		writeRecord(&buf, i, rec)
	}
	return buf.Bytes()
}

// writeRecord appends rec with a record id derived from its position i.
func writeRecord(buf *bytes.Buffer, i int, rec Record) {
	fmt.Fprintf(buf, "WARC/1.1\r\n")
	fmt.Fprintf(buf, "WARC-Type: %s\r\n", rec.Type)
	fmt.Fprintf(buf, "WARC-Record-ID: <urn:uuid:00000000-0000-0000-0000-%012d>\r\n", i)
	if rec.URI != "" {
		fmt.Fprintf(buf, "WARC-Target-URI: %s\r\n", rec.URI)
	}
	fmt.Fprintf(buf, "Content-Length: %d\r\n", len(rec.Block))
	buf.WriteString("\r\n")
	buf.Write(rec.Block)
	buf.WriteString("\r\n\r\n")
}

// Gzip compresses data as a single gzip member.
func Gzip(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// GzipMembers compresses each record as its own gzip member, the layout
// Common Crawl uses for .warc.gz files. Decompressed, it equals Build(records...).
func GzipMembers(records ...Record) []byte {
	var buf bytes.Buffer
	for i, rec := range records {
		var member bytes.Buffer
		writeRecord(&member, i, rec)
		buf.Write(Gzip(member.Bytes()))
	}
	return buf.Bytes()
}
