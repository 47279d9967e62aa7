package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

/*
Page parser

Responsibilities:
- Decode an HTML body into (title, text, absolute link set)
- Resolve discovered hrefs against the final page URL
- Knows nothing about queues, storage, or routing
*/

// Result is the extraction outcome for one page.
type Result struct {
	Title string
	Text  string
	Links []string
}

// Extract parses an HTML body fetched from baseURL.
func Extract(body []byte, baseURL string) (Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	result := Result{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	// Links first: the text pass below removes nodes.
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, ok := urlutil.ResolveAgainst(base, href)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		result.Links = append(result.Links, resolved)
	})

	doc.Find("script, style, noscript, template").Remove()
	content := doc.Find("body")
	if content.Length() == 0 {
		content = doc.Selection
	}
	result.Text = collapseWhitespace(content.Text())

	return result, nil
}

// collapseWhitespace normalizes runs of whitespace to single spaces and
// keeps paragraph breaks as newlines.
func collapseWhitespace(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))
	lastSpace := true
	lastNewline := false
	for _, r := range text {
		switch {
		case r == '\n':
			if !lastNewline {
				builder.WriteByte('\n')
				lastNewline = true
				lastSpace = true
			}
		case r == ' ' || r == '\t' || r == '\r':
			if !lastSpace {
				builder.WriteByte(' ')
				lastSpace = true
			}
		default:
			builder.WriteRune(r)
			lastSpace = false
			lastNewline = false
		}
	}
	return strings.TrimSpace(builder.String())
}
