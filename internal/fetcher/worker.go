package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/frontier"
	"github.com/rohmanhakim/web-crawler/internal/metrics"
	"github.com/rohmanhakim/web-crawler/internal/parsequeue"
	"github.com/rohmanhakim/web-crawler/internal/storage"
)

/*
Fetcher worker

Loop: claim the next ready URL from this worker's shard, fetch it, and
either push the raw HTML onto the pod's parse queue or write the visited
record directly. Producers throttle themselves on the observed parse
queue length before claiming more work.
*/

// emptyFrontierSleep is how long a worker idles when its shard has
// nothing ready.
const emptyFrontierSleep = 1 * time.Second

// Worker is one concurrent fetch task inside a fetcher process. All
// tasks of a process share one shard and one HTTP client.
type Worker struct {
	id       int
	shard    int
	frontier *frontier.Manager
	client   *Client
	queue    *parsequeue.Queue
	storage  *storage.Storage
	store    coordstore.Store
}

// NewWorker wires a fetch task.
func NewWorker(
	id int,
	shard int,
	frontierManager *frontier.Manager,
	client *Client,
	queue *parsequeue.Queue,
	store coordstore.Store,
	storageManager *storage.Storage,
) *Worker {
	return &Worker{
		id:       id,
		shard:    shard,
		frontier: frontierManager,
		client:   client,
		queue:    queue,
		storage:  storageManager,
		store:    store,
	}
}

// Run executes the fetch loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithFields(log.Fields{"worker": w.id, "shard": w.shard})
	logger.Info("fetcher worker starting")

	// Stagger startup so a freshly spawned fleet does not stampede.
	stagger := time.Duration(w.id%100) * 50 * time.Millisecond
	if !sleepCtx(ctx, stagger) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("fetcher worker shutting down")
			return nil
		default:
		}

		claim, err := w.frontier.GetNextURL(ctx, w.shard)
		if err != nil {
			logger.WithError(err).Error("failed to claim next url")
			metrics.Errors.WithLabelValues("worker_error").Inc()
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		if claim == nil {
			// Nothing ready on this shard right now.
			if !sleepCtx(ctx, emptyFrontierSleep+time.Duration(rand.Int63n(int64(200*time.Millisecond)))) {
				return nil
			}
			continue
		}

		if err := w.processClaim(ctx, claim, logger); err != nil {
			logger.WithError(err).WithField("url", claim.URL).Error("failed to process url")
			metrics.Errors.WithLabelValues("worker_error").Inc()
		}
	}
}

func (w *Worker) processClaim(ctx context.Context, claim *frontier.Claim, logger *log.Entry) error {
	logger.WithFields(log.Fields{"url": claim.URL, "depth": claim.Depth}).Debug("fetching")

	start := time.Now()
	result := w.client.Fetch(ctx, claim.URL)
	metrics.FetchDuration.WithLabelValues("page").Observe(time.Since(start).Seconds())

	fetchedAt := time.Now().Unix()

	if result.Failed() {
		if result.Error != "" {
			metrics.Errors.WithLabelValues("fetch_error").Inc()
		} else {
			metrics.Errors.WithLabelValues(fmt.Sprintf("http_%d", result.StatusCode)).Inc()
		}
		logger.WithFields(log.Fields{
			"url":    claim.URL,
			"status": result.StatusCode,
			"error":  result.Error,
		}).Warn("fetch failed")
		return w.recordResult(ctx, claim, result, fetchedAt)
	}

	metrics.PagesCrawled.Inc()
	if _, err := w.store.Incr(ctx, coordstore.StatsPagesCrawledKey); err != nil {
		logger.WithError(err).Warn("failed to bump pages counter")
	}

	if result.IsHTML() && len(result.Body) > 0 {
		return w.enqueueForParse(ctx, claim, result, fetchedAt)
	}

	// Non-HTML success: record directly, nothing to parse.
	return w.recordResult(ctx, claim, result, fetchedAt)
}

func (w *Worker) enqueueForParse(ctx context.Context, claim *frontier.Claim, result Result, fetchedAt int64) error {
	length, err := w.queue.Push(ctx, &parsequeue.Payload{
		URL:         result.FinalURL,
		Domain:      claim.Domain,
		Depth:       claim.Depth,
		Body:        result.Body,
		ContentType: result.ContentType,
		FetchedAt:   fetchedAt,
		StatusCode:  result.StatusCode,
	})
	if err != nil {
		return fmt.Errorf("push parse queue: %w", err)
	}
	metrics.ParseQueueSize.Set(float64(length))

	// Backpressure: block at the hard limit, throttle above soft.
	if w.queue.AboveHard(length) {
		metrics.BackpressureEvents.WithLabelValues("hard_limit").Inc()
		log.WithFields(log.Fields{"worker": w.id, "queue": length}).
			Warn("parse queue at hard limit, waiting for drain")
		if err := w.queue.WaitForDrain(ctx); err != nil {
			return err
		}
	} else if delay := w.queue.SoftDelay(length); delay > 0 {
		metrics.BackpressureEvents.WithLabelValues("soft_limit").Inc()
		sleepCtx(ctx, delay)
	}
	return nil
}

func (w *Worker) recordResult(ctx context.Context, claim *frontier.Claim, result Result, fetchedAt int64) error {
	rec := storage.VisitedRecord{
		URL:         result.FinalURL,
		StatusCode:  result.StatusCode,
		FetchedAt:   fetchedAt,
		ContentType: result.ContentType,
		Error:       result.Error,
	}
	if result.Redirected() {
		rec.URL = result.InitialURL
		rec.RedirectedToURL = result.FinalURL
	}
	return w.storage.RecordVisited(ctx, rec)
}

// sleepCtx sleeps for d unless the context ends first; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
