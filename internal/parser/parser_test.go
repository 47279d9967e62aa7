package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/parser"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Guide  </title>
  <style>body { color: red; }</style>
  <script>var tracked = true;</script>
</head>
<body>
  <h1>Welcome</h1>
  <p>Some   introductory    text.</p>
  <a href="/about">About</a>
  <a href="next">Next page</a>
  <a href="https://other.org/external#frag">External</a>
  <a href="mailto:someone@example.com">Mail</a>
  <a href="/about">About again</a>
  <noscript>enable js</noscript>
</body>
</html>`

func TestExtract(t *testing.T) {
	result, err := parser.Extract([]byte(samplePage), "http://ex.com/docs/guide")
	require.NoError(t, err)

	assert.Equal(t, "Guide", result.Title)

	// Links are absolute, normalized, deduplicated; non-http schemes
	// are dropped.
	assert.ElementsMatch(t, []string{
		"http://ex.com/about",
		"http://ex.com/docs/next",
		"https://other.org/external",
	}, result.Links)

	// Script/style/noscript bodies never leak into the text
	assert.Contains(t, result.Text, "Welcome")
	assert.Contains(t, result.Text, "Some introductory text.")
	assert.NotContains(t, result.Text, "tracked")
	assert.NotContains(t, result.Text, "color: red")
	assert.NotContains(t, result.Text, "enable js")
}

func TestExtract_EmptyBody(t *testing.T) {
	result, err := parser.Extract(nil, "http://ex.com/")
	require.NoError(t, err)
	assert.Empty(t, result.Title)
	assert.Empty(t, result.Links)
}

func TestExtract_BadBaseURL(t *testing.T) {
	_, err := parser.Extract([]byte("<html></html>"), "http://bad url with spaces")
	assert.Error(t, err)
}

func TestExtract_BrokenHTMLStillYieldsLinks(t *testing.T) {
	broken := `<html><body><p>unclosed<a href="/x">link</body>`
	result, err := parser.Extract([]byte(broken), "http://ex.com/")
	require.NoError(t, err)
	assert.Contains(t, result.Links, "http://ex.com/x")
}
