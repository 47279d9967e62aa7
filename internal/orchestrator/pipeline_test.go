package orchestrator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/config"
	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/fetcher"
	"github.com/rohmanhakim/web-crawler/internal/frontier"
	"github.com/rohmanhakim/web-crawler/internal/lock"
	"github.com/rohmanhakim/web-crawler/internal/parsequeue"
	"github.com/rohmanhakim/web-crawler/internal/parser"
	"github.com/rohmanhakim/web-crawler/internal/politeness"
	"github.com/rohmanhakim/web-crawler/internal/router"
	"github.com/rohmanhakim/web-crawler/internal/seenset"
	"github.com/rohmanhakim/web-crawler/internal/storage"
)

// scriptedRobots serves one robots.txt body for every domain, bypassing
// the port-less robots URL the enforcer builds for test servers.
type scriptedRobots struct {
	body string
}

func (s scriptedRobots) FetchRobotsTxt(ctx context.Context, robotsURL string) (int, []byte, error) {
	return 200, []byte(s.body), nil
}

// TestPipeline_SingleHostCrawl drives the full fetch->parse->enqueue
// loop over one host: a seed page linking to two more pages, all of
// which must end up visited exactly once, with the linked pages fetched
// no earlier than the seed.
func TestPipeline_SingleHostCrawl(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/b">b</a> <a href="/c">c</a></body></html>`)
	})
	for _, page := range []string{"/b", "/c"} {
		page := page
		mux.HandleFunc(page, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body>page %s</body></html>`, page)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := coordstore.NewMemoryStore()
	seen, err := seenset.New(ctx, store, 100_000, 0.001)
	require.NoError(t, err)

	enforcer := politeness.New(store, scriptedRobots{body: ""}, "testbot/1.0",
		politeness.WithMinCrawlDelay(50*time.Millisecond))
	manager := frontier.NewManager(frontier.Params{
		Store:       store,
		Seen:        seen,
		Politeness:  enforcer,
		Locks:       lock.NewManager(store, false),
		FrontierDir: t.TempDir(),
		ShardCount:  1,
	})

	added, err := manager.AddURLsBatch(ctx, []string{server.URL + "/a"}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	queue := parsequeue.New(store, 100, 200)
	dataDir := t.TempDir()
	storageManager := storage.New(store, func(string) string { return dataDir })
	client := fetcher.NewClient("testbot/1.0", 0)

	podRouter := router.New(config.Default(), client, 0, manager)
	fetchWorker := fetcher.NewWorker(0, 0, manager, client, queue, store, storageManager)
	parseWorker := parser.NewWorker(0, queue, storageManager, podRouter)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() { _ = fetchWorker.Run(workerCtx); done <- struct{}{} }()
	go func() { _ = parseWorker.Run(workerCtx); done <- struct{}{} }()

	visitedAll := func() bool {
		for _, page := range []string{"/a", "/b", "/c"} {
			fields, _ := storageManager.GetVisited(ctx, server.URL+page)
			if fields == nil {
				return false
			}
		}
		return true
	}
	require.Eventually(t, visitedAll, 25*time.Second, 100*time.Millisecond)

	stopWorkers()
	<-done
	<-done

	// Exactly the three pages were fetched
	pages, err := store.Get(ctx, coordstore.StatsPagesCrawledKey)
	require.NoError(t, err)
	count, _ := strconv.ParseInt(pages, 10, 64)
	assert.Equal(t, int64(3), count)

	// Fetch timestamps never decrease
	var stamps []int64
	for _, page := range []string{"/a", "/b", "/c"} {
		fields, err := storageManager.GetVisited(ctx, server.URL+page)
		require.NoError(t, err)
		stamp, _ := strconv.ParseInt(fields["fetched_at"], 10, 64)
		stamps = append(stamps, stamp)
	}
	assert.LessOrEqual(t, stamps[0], stamps[1])
	assert.LessOrEqual(t, stamps[0], stamps[2])
}

// TestPipeline_RobotsDisallow verifies a disallowed path is never
// fetched even when seeded directly.
func TestPipeline_RobotsDisallow(t *testing.T) {
	var secretHits int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>open</body></html>`)
	})
	mux.HandleFunc("/secret/", func(w http.ResponseWriter, r *http.Request) {
		secretHits++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>hidden</body></html>`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := coordstore.NewMemoryStore()
	seen, err := seenset.New(ctx, store, 100_000, 0.001)
	require.NoError(t, err)

	enforcer := politeness.New(store,
		scriptedRobots{body: "User-agent: *\nDisallow: /secret\n"},
		"testbot/1.0",
		politeness.WithMinCrawlDelay(50*time.Millisecond))
	manager := frontier.NewManager(frontier.Params{
		Store:       store,
		Seen:        seen,
		Politeness:  enforcer,
		Locks:       lock.NewManager(store, false),
		FrontierDir: t.TempDir(),
		ShardCount:  1,
	})

	// The disallowed URL is rejected at admission already
	added, err := manager.AddURLsBatch(ctx, []string{
		server.URL + "/a",
		server.URL + "/secret/b",
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	queue := parsequeue.New(store, 100, 200)
	storageManager := storage.New(store, func(string) string { return t.TempDir() })
	client := fetcher.NewClient("testbot/1.0", 0)
	podRouter := router.New(config.Default(), client, 0, manager)
	fetchWorker := fetcher.NewWorker(0, 0, manager, client, queue, store, storageManager)
	// HTML pages get their visited record from the parser, not the fetcher
	parseWorker := parser.NewWorker(0, queue, storageManager, podRouter)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() { _ = fetchWorker.Run(workerCtx); done <- struct{}{} }()
	go func() { _ = parseWorker.Run(workerCtx); done <- struct{}{} }()

	require.Eventually(t, func() bool {
		fields, _ := storageManager.GetVisited(ctx, server.URL+"/a")
		return fields != nil
	}, 25*time.Second, 100*time.Millisecond)

	stopWorkers()
	<-done
	<-done

	assert.Zero(t, secretHits)
	fields, err := storageManager.GetVisited(ctx, server.URL+"/secret/b")
	require.NoError(t, err)
	assert.Nil(t, fields)
}
