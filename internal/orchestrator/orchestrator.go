package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/config"
	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/fetcher"
	"github.com/rohmanhakim/web-crawler/internal/frontier"
	"github.com/rohmanhakim/web-crawler/internal/lock"
	"github.com/rohmanhakim/web-crawler/internal/metrics"
	"github.com/rohmanhakim/web-crawler/internal/parsequeue"
	"github.com/rohmanhakim/web-crawler/internal/parser"
	"github.com/rohmanhakim/web-crawler/internal/politeness"
	"github.com/rohmanhakim/web-crawler/internal/router"
	"github.com/rohmanhakim/web-crawler/internal/seenset"
	"github.com/rohmanhakim/web-crawler/internal/storage"
)

/*
Orchestrator

One Orchestrator runs one pod: it performs the pod's one-time
initialization, supervises its fetcher and parser worker groups, watches
the stopping conditions, and drives graceful shutdown.

Stopping conditions (any triggers shutdown): max_pages reached
(aggregated from every pod's store; aggregation latency is accepted
slop, so a crawl can overshoot by up to one status-tick of fleet
throughput), max_duration elapsed, or all shard queues and the parse
queue empty.
*/

const (
	statusInterval   = 5 * time.Second
	shutdownGrace    = 15 * time.Second
	// emptyConfirmWait separates the first empty observation from the
	// confirming one, so in-flight work can land back in the queues.
	emptyConfirmWait = 10 * time.Second
)

// errCrawlComplete marks a stopping condition, not a failure.
var errCrawlComplete = errors.New("crawl complete")

// Orchestrator is the per-pod runtime.
type Orchestrator struct {
	cfg   config.Config
	podID int

	store     coordstore.Store
	locks     *lock.Manager
	enforcer  *politeness.Enforcer
	frontier  *frontier.Manager
	queue     *parsequeue.Queue
	storage   *storage.Storage
	client    *fetcher.Client
	podRouter *router.Router

	statsMu     sync.Mutex
	statsStores map[int]coordstore.Store

	startTime time.Time
}

// New builds the full stack for one pod.
func New(cfg config.Config, podID int) (*Orchestrator, error) {
	if podID < 0 || podID >= cfg.NumPods() {
		return nil, fmt.Errorf("pod %d out of range (%d pods)", podID, cfg.NumPods())
	}
	store, err := coordstore.NewRedisStore(cfg.Pods()[podID].RedisURL())
	if err != nil {
		return nil, fmt.Errorf("connect pod store: %w", err)
	}

	client := fetcher.NewClient(cfg.UserAgent(), cfg.MaxFetchRate())
	enforcer := politeness.New(store, client, cfg.UserAgent(),
		politeness.WithSeededURLsOnly(cfg.SeededURLsOnly()),
		politeness.WithMinCrawlDelay(cfg.PolitenessDelay()),
		politeness.WithRobotsTTL(cfg.RobotsCacheTTL()),
	)
	locks := lock.NewManager(store, cfg.ParsersPerPod() > 1)

	orch := &Orchestrator{
		cfg:         cfg,
		podID:       podID,
		store:       store,
		locks:       locks,
		enforcer:    enforcer,
		client:      client,
		queue:       parsequeue.New(store, cfg.ParseQueueSoftLimit(), cfg.ParseQueueHardLimit()),
		storage:     storage.New(store, cfg.DataDirForURL),
		statsStores: map[int]coordstore.Store{podID: store},
	}
	return orch, nil
}

// Run executes the pod until a stopping condition or ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()
	logger := log.WithField("pod", o.podID)

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	if err := o.initialize(runCtx); err != nil {
		return fmt.Errorf("pod %d init: %w", o.podID, err)
	}

	if port := o.cfg.MetricsPort(); port > 0 {
		go func() {
			if err := metrics.Serve(port + o.podID); err != nil {
				logger.WithError(err).Warn("metrics endpoint failed")
			}
		}()
	}

	super := newSupervisor(abort)

	// Fetcher groups: one per shard, fetcherWorkers tasks each.
	for slot := 0; slot < o.cfg.FetchersPerPod(); slot++ {
		shard := slot
		super.launch(runCtx, "fetcher", slot, func(ctx context.Context, id int) error {
			return o.runFetcherGroup(ctx, id, shard)
		})
		time.Sleep(startupStagger)
	}
	// Parser groups.
	for slot := 0; slot < o.cfg.ParsersPerPod(); slot++ {
		super.launch(runCtx, "parser", slot, func(ctx context.Context, id int) error {
			return o.runParserGroup(ctx, id)
		})
		time.Sleep(startupStagger)
	}

	// Status loop: stopping conditions + periodic visibility.
	err := o.watch(runCtx, logger)
	abort(err)

	if !super.wait(shutdownGrace) {
		logger.Warn("worker groups did not stop within grace period")
	}
	o.summarize(logger)
	o.closeStatsStores()

	if err != nil && !errors.Is(err, errCrawlComplete) && !errors.Is(err, context.Canceled) {
		return err
	}
	if cause := context.Cause(runCtx); cause != nil &&
		!errors.Is(cause, errCrawlComplete) && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// initialize performs the pod's one-time startup work.
func (o *Orchestrator) initialize(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if _, err := o.locks.ClearStaleLocks(ctx); err != nil {
		return fmt.Errorf("clear stale locks: %w", err)
	}
	if err := o.enforcer.LoadManualExclusions(ctx, o.cfg.ExcludeFile()); err != nil {
		return err
	}

	seen, err := seenset.New(ctx, o.store, o.cfg.BloomCapacity(), o.cfg.BloomErrorRate())
	if err != nil {
		return fmt.Errorf("init seen-set: %w", err)
	}
	o.frontier = frontier.NewManager(frontier.Params{
		Store:       o.store,
		Seen:        seen,
		Politeness:  o.enforcer,
		Locks:       o.locks,
		FrontierDir: o.cfg.FrontierDir(),
		ShardCount:  o.cfg.ShardCount(),
		Resume:      o.cfg.Resume(),
		SeedFile:    o.cfg.SeedFile(),
	})
	if err := o.frontier.Initialize(ctx); err != nil {
		return err
	}
	o.podRouter = router.New(o.cfg, o.client, o.podID, o.frontier)
	return nil
}

func (o *Orchestrator) runFetcherGroup(ctx context.Context, groupID, shard int) error {
	var wg sync.WaitGroup
	for task := 0; task < o.cfg.FetcherWorkers(); task++ {
		worker := fetcher.NewWorker(
			groupID*o.cfg.FetcherWorkers()+task,
			shard,
			o.frontier,
			o.client,
			o.queue,
			o.store,
			o.storage,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				log.WithError(err).Error("fetcher task ended with error")
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) runParserGroup(ctx context.Context, groupID int) error {
	var wg sync.WaitGroup
	for task := 0; task < o.cfg.ParserWorkers(); task++ {
		worker := parser.NewWorker(
			groupID*o.cfg.ParserWorkers()+task,
			o.queue,
			o.storage,
			o.podRouter,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				log.WithError(err).Error("parser task ended with error")
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// watch runs the status loop until a stopping condition fires or the
// context is cancelled. Returns errCrawlComplete for normal completion.
func (o *Orchestrator) watch(ctx context.Context, logger *log.Entry) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var emptySince time.Time
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}

		pages := o.aggregatePages(ctx)
		queueLen, _ := o.queue.Len(ctx)
		metrics.ParseQueueSize.Set(float64(queueLen))
		logger.WithFields(log.Fields{
			"pages":       pages,
			"parse_queue": queueLen,
			"elapsed":     time.Since(o.startTime).Round(time.Second).String(),
		}).Info("status")

		if max := o.cfg.MaxPages(); max > 0 && pages >= max {
			logger.WithFields(log.Fields{"pages": pages, "max": max}).Info("stopping: max pages reached")
			return errCrawlComplete
		}
		if max := o.cfg.MaxDuration(); max > 0 && time.Since(o.startTime) >= max {
			logger.WithField("max", max).Info("stopping: max duration reached")
			return errCrawlComplete
		}

		empty, err := o.frontier.IsEmpty(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to check frontier emptiness")
			continue
		}
		if empty && queueLen == 0 {
			if emptySince.IsZero() {
				emptySince = time.Now()
			} else if time.Since(emptySince) >= emptyConfirmWait {
				// Confirmed empty after the wait: no in-flight work
				// produced new URLs.
				logger.Info("stopping: frontier and parse queue empty")
				return errCrawlComplete
			}
		} else {
			emptySince = time.Time{}
		}
	}
}

// aggregatePages sums stats:pages_crawled across all pods' stores.
// Failures degrade to the counts we could read.
func (o *Orchestrator) aggregatePages(ctx context.Context) int64 {
	var total int64
	for pod := 0; pod < o.cfg.NumPods(); pod++ {
		store := o.statsStore(pod)
		if store == nil {
			continue
		}
		value, err := store.Get(ctx, coordstore.StatsPagesCrawledKey)
		if err != nil {
			if !coordstore.IsNotFound(err) {
				log.WithError(err).WithField("pod", pod).Debug("failed to read pages counter")
			}
			continue
		}
		count, _ := strconv.ParseInt(value, 10, 64)
		total += count
	}
	return total
}

func (o *Orchestrator) statsStore(pod int) coordstore.Store {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	if store, ok := o.statsStores[pod]; ok {
		return store
	}
	store, err := coordstore.NewRedisStore(o.cfg.Pods()[pod].RedisURL())
	if err != nil {
		log.WithError(err).WithField("pod", pod).Warn("failed to connect stats store")
		return nil
	}
	o.statsStores[pod] = store
	return store
}

func (o *Orchestrator) closeStatsStores() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	for pod, store := range o.statsStores {
		if pod == o.podID {
			continue // Owned by the pod runtime; closed with it
		}
		store.Close()
	}
	if o.podRouter != nil {
		o.podRouter.Close()
	}
	o.store.Close()
}

// summarize logs the final shutdown summary.
func (o *Orchestrator) summarize(logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pages := o.aggregatePages(ctx)
	var urlsAdded int64
	if value, err := o.store.Get(ctx, coordstore.StatsURLsAddedKey); err == nil {
		urlsAdded, _ = strconv.ParseInt(value, 10, 64)
	}
	errorsByType := make(map[string]float64)
	families, _ := prometheus.DefaultGatherer.Gather()
	for _, family := range families {
		if family.GetName() != "crawler_errors_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			errorsByType[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	logger.WithFields(log.Fields{
		"pages_crawled": pages,
		"urls_added":    urlsAdded,
		"errors":        errorsByType,
		"duration":      time.Since(o.startTime).Round(time.Second).String(),
	}).Info("crawl finished")
}
