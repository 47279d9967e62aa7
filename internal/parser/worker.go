package parser

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/metrics"
	"github.com/rohmanhakim/web-crawler/internal/parsequeue"
	"github.com/rohmanhakim/web-crawler/internal/storage"
)

// LinkRouter fans extracted links out to the pod owning each domain.
// *router.Router implements it.
type LinkRouter interface {
	RouteURLs(ctx context.Context, urls []string, depth int) (int, error)
}

/*
Parser worker

Loop: blocking-pop a payload from the pod's parse queue, extract links
and text, persist the content and visited record, and route new links to
the owning pod's frontier. A failure on one payload is logged and
counted; the loop continues.
*/

// popTimeout bounds each blocking pop so workers can observe shutdown.
const popTimeout = 5 * time.Second

// Worker is one concurrent parse task inside a parser process.
type Worker struct {
	id      int
	queue   *parsequeue.Queue
	storage *storage.Storage
	router  LinkRouter
}

// NewWorker wires a parse task.
func NewWorker(id int, queue *parsequeue.Queue, storageManager *storage.Storage, podRouter LinkRouter) *Worker {
	return &Worker{
		id:      id,
		queue:   queue,
		storage: storageManager,
		router:  podRouter,
	}
}

// Run executes the parse loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithField("worker", w.id)
	logger.Info("parser worker starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info("parser worker shutting down")
			return nil
		default:
		}

		payload, err := w.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Error("failed to pop parse queue")
			metrics.Errors.WithLabelValues("queue_error").Inc()
			continue
		}
		if payload == nil {
			continue // Timed out; loop to observe shutdown
		}

		if err := w.process(ctx, payload); err != nil {
			logger.WithError(err).WithField("url", payload.URL).Error("failed to process payload")
			metrics.ParseErrors.Inc()
		}
	}
}

func (w *Worker) process(ctx context.Context, payload *parsequeue.Payload) error {
	extracted, err := Extract(payload.Body, payload.URL)
	if err != nil {
		return err
	}

	contentPath, contentHash, err := w.storage.SaveContent(payload.URL, extracted.Text)
	if err != nil {
		return err
	}

	err = w.storage.RecordVisited(ctx, storage.VisitedRecord{
		URL:         payload.URL,
		StatusCode:  payload.StatusCode,
		FetchedAt:   payload.FetchedAt,
		ContentType: payload.ContentType,
		ContentHash: contentHash,
		ContentPath: contentPath,
	})
	if err != nil {
		return err
	}

	if len(extracted.Links) > 0 {
		added, err := w.router.RouteURLs(ctx, extracted.Links, payload.Depth+1)
		if err != nil {
			return err
		}
		metrics.URLsAdded.Add(float64(added))
		log.WithFields(log.Fields{
			"worker": w.id,
			"url":    payload.URL,
			"links":  len(extracted.Links),
			"added":  added,
		}).Debug("processed page")
	}
	return nil
}
