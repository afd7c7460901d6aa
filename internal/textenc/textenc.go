// Package textenc turns raw HTTP payload bytes into valid UTF-8 text.
package textenc

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// minDetectConfidence is the lowest chardet confidence (0-100) trusted for transcoding.
const minDetectConfidence = 50

// Decoder converts payload bytes to text. The zero value decodes as UTF-8
// and drops invalid byte sequences without failing.
type Decoder struct {
	// DetectCharset enables transcoding from a declared or detected non-UTF-8 charset.
	DetectCharset bool
}

// New returns a Decoder.
func New(detectCharset bool) *Decoder {
	return &Decoder{DetectCharset: detectCharset}
}

// Decode returns body as valid UTF-8. contentType is the HTTP Content-Type
// header of the captured response and may be empty.
func (d *Decoder) Decode(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	if d != nil && d.DetectCharset {
		if converted, ok := transcode(body, contentType); ok {
			body = converted
		}
	}
	return strings.ToValidUTF8(string(body), "")
}

// transcode converts body from its declared or detected charset. Bodies that
// are already valid UTF-8 are left alone whatever the header claims.
func transcode(body []byte, contentType string) ([]byte, bool) {
	if utf8.Valid(body) {
		return nil, false
	}
	charset := declaredCharset(contentType)
	if charset == "" {
		charset = detectCharset(body)
	}
	if charset == "" || isUTF8(charset) {
		return nil, false
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToUpper(charset))
	if err != nil || enc == nil {
		return nil, false
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return nil, false
	}
	return out, true
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func detectCharset(body []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil || result.Confidence < minDetectConfidence {
		return ""
	}
	return result.Charset
}

func isUTF8(charset string) bool {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		return true
	}
	return false
}
