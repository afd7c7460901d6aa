// Package extract pulls readable article text out of captured HTML pages.
package extract

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,figcaption,td"

// Extractor implements corpus.TextExtractor with go-readability. Each block
// of the distilled article becomes one line of the result.
type Extractor struct {
	// MinChars drops results shorter than this many runes.
	MinChars int
}

// New returns an Extractor.
func New(minChars int) *Extractor {
	return &Extractor{MinChars: minChars}
}

// Extract returns the main article text of page, or "" when the page has none.
func (e *Extractor) Extract(uri string, page string) (string, error) {
	if strings.TrimSpace(page) == "" {
		return "", nil
	}
	pageURL, err := url.Parse(uri)
	if err != nil {
		pageURL = &url.URL{}
	}

	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(page), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability parse %s: %w", uri, err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("parse article html %s: %w", uri, err)
	}

	lines := blockLines(doc)
	if len(lines) == 0 {
		if text := normalizeText(doc.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	text := strings.Join(lines, "\n")
	if e != nil && e.MinChars > 0 && len([]rune(text)) < e.MinChars {
		return "", nil
	}
	return text, nil
}

// blockLines collects the innermost block elements so nested blocks are not repeated.
func blockLines(doc *goquery.Document) []string {
	var lines []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if text := normalizeText(s.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return lines
}

// normalizeText collapses the whitespace inside a block to single spaces.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(field)
		}
	}
	return b.String()
}
