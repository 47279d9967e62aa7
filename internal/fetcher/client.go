package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

/*
HTTP client

Responsibilities:
- Perform page and robots.txt fetches with bounded timeouts
- One long-lived client per fetcher process: shared connection pool,
  per-host connection limits, never shared across processes
- Optional global requests-per-second ceiling

The client makes no policy decisions; callers interpret status codes.
*/

const (
	totalTimeout   = 45 * time.Second
	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second

	maxRedirects = 5

	// maxBodySize caps how much of a response body is read. Pages larger
	// than this are truncated, not rejected.
	maxBodySize = 10 * 1024 * 1024

	// maxRobotsBodySize caps robots.txt reads.
	maxRobotsBodySize = 500 * 1024
)

// Client wraps a configured net/http client.
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient builds the per-process HTTP client. maxFetchRate > 0 imposes
// a global requests-per-second ceiling across the process's workers.
func NewClient(userAgent string, maxFetchRate float64) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          1000,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: readTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		// Broad crawls hit endless amounts of self-signed and expired
		// certs; content is public and integrity is a non-goal.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	var limiter *rate.Limiter
	if maxFetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxFetchRate), 1)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
		limiter:   limiter,
	}
}

// Fetch performs one page fetch. Request failures come back inside the
// Result with a synthetic status, never as an error: the worker loop
// records both outcomes the same way.
func (c *Client) Fetch(ctx context.Context, url string) Result {
	result := Result{InitialURL: url, FinalURL: url}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			result.StatusCode = StatusNetworkError
			result.Error = err.Error()
			return result
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.StatusCode = StatusNetworkError
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.StatusCode = StatusNetworkError
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		result.Error = fmt.Sprintf("read body: %v", err)
		return result
	}
	result.Body = body
	return result
}

// FetchRobotsTxt fetches a robots.txt URL. Implements the politeness
// enforcer's RobotsClient.
func (c *Client) FetchRobotsTxt(ctx context.Context, robotsURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/plain,*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodySize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
