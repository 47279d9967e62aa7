package fetcher

import "strings"

// HTTP boundary

// Result is the outcome of one page fetch. A failed request carries a
// synthetic status code and a non-empty Error; redirects are followed,
// FinalURL is where the body actually came from.
type Result struct {
	InitialURL  string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Error       string
}

// StatusNetworkError is the synthetic status recorded when a request
// failed before producing any HTTP response.
const StatusNetworkError = 599

// Failed reports whether the fetch should be recorded as an error.
func (r Result) Failed() bool {
	return r.Error != "" || r.StatusCode >= 400
}

// IsHTML reports whether the response body is HTML and worth parsing.
func (r Result) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "html")
}

// Redirected reports whether the final URL differs from the requested one.
func (r Result) Redirected() bool {
	return r.FinalURL != "" && r.FinalURL != r.InitialURL
}
