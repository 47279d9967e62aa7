package fetcher_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/fetcher"
)

func TestClient_FetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "testbot/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer server.Close()

	client := fetcher.NewClient("testbot/1.0", 0)
	result := client.Fetch(context.Background(), server.URL+"/page")

	assert.False(t, result.Failed())
	assert.True(t, result.IsHTML())
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, server.URL+"/page", result.FinalURL)
	assert.Contains(t, string(result.Body), "ok")
}

func TestClient_Fetch404(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := fetcher.NewClient("testbot/1.0", 0)
	result := client.Fetch(context.Background(), server.URL+"/missing")

	assert.True(t, result.Failed())
	assert.Equal(t, 404, result.StatusCode)
	assert.Empty(t, result.Error)
}

func TestClient_FetchNetworkError(t *testing.T) {
	client := fetcher.NewClient("testbot/1.0", 0)
	result := client.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")

	assert.True(t, result.Failed())
	assert.Equal(t, fetcher.StatusNetworkError, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestClient_FetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>landed</html>")
	})

	client := fetcher.NewClient("testbot/1.0", 0)
	result := client.Fetch(context.Background(), server.URL+"/old")

	assert.False(t, result.Failed())
	assert.True(t, result.Redirected())
	assert.Equal(t, server.URL+"/new", result.FinalURL)
	assert.Equal(t, server.URL+"/old", result.InitialURL)
}

func TestClient_RedirectLoopFails(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	client := fetcher.NewClient("testbot/1.0", 0)
	result := client.Fetch(context.Background(), server.URL+"/loop")
	assert.True(t, result.Failed())
}

func TestClient_FetchRobotsTxt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	}))
	defer server.Close()

	client := fetcher.NewClient("testbot/1.0", 0)
	status, body, err := client.FetchRobotsTxt(context.Background(), server.URL+"/robots.txt")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Contains(t, string(body), "Disallow: /private")
}

func TestResult_IsHTML(t *testing.T) {
	assert.True(t, fetcher.Result{ContentType: "text/html"}.IsHTML())
	assert.True(t, fetcher.Result{ContentType: "application/xhtml+xml; charset=utf-8"}.IsHTML())
	assert.False(t, fetcher.Result{ContentType: "application/pdf"}.IsHTML())
	assert.False(t, fetcher.Result{ContentType: ""}.IsHTML())
}
