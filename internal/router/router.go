package router

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/config"
	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/frontier"
	"github.com/rohmanhakim/web-crawler/internal/lock"
	"github.com/rohmanhakim/web-crawler/internal/politeness"
	"github.com/rohmanhakim/web-crawler/internal/seenset"
	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

/*
Pod router

Responsibilities:
- Map domain -> pod id with a stable hash
- Hand out per-pod frontier handles, lazily constructed and cached
- Fan extracted links out to the right pod's frontier

Pods partition the domain space: a domain's queues live in exactly one
pod's store, so cross-pod enqueue must go through that pod's handle.
*/

// Enqueuer is the slice of the frontier surface the router fans out to.
type Enqueuer interface {
	AddURLsBatch(ctx context.Context, urls []string, depth int) (int, error)
}

// Router routes URLs to the pod owning their domain.
type Router struct {
	cfg    config.Config
	robots politeness.RobotsClient

	mu      sync.Mutex
	handles map[int]Enqueuer
	stores  map[int]coordstore.Store
}

// New creates a Router. The local pod's already-constructed handle is
// seeded into the cache so local links never build a second stack.
func New(cfg config.Config, robots politeness.RobotsClient, localPod int, localHandle Enqueuer) *Router {
	router := &Router{
		cfg:     cfg,
		robots:  robots,
		handles: make(map[int]Enqueuer),
		stores:  make(map[int]coordstore.Store),
	}
	router.handles[localPod] = localHandle
	return router
}

// PodForDomain returns the pod id owning a domain.
func (r *Router) PodForDomain(domain string) int {
	return hashutil.DomainPod(domain, r.cfg.NumPods())
}

// RouteURLs groups URLs by owning pod and enqueues each group through
// that pod's frontier handle. Returns the total number admitted.
func (r *Router) RouteURLs(ctx context.Context, urls []string, depth int) (int, error) {
	byPod := make(map[int][]string)
	for _, u := range urls {
		domain := urlutil.ExtractDomain(u)
		if domain == "" {
			continue
		}
		pod := r.PodForDomain(domain)
		byPod[pod] = append(byPod[pod], u)
	}

	total := 0
	for pod, group := range byPod {
		handle, err := r.handleFor(ctx, pod)
		if err != nil {
			log.WithError(err).WithField("pod", pod).Error("failed to reach pod frontier")
			continue
		}
		added, err := handle.AddURLsBatch(ctx, group, depth)
		if err != nil {
			log.WithError(err).WithField("pod", pod).Error("failed to enqueue urls on pod")
			continue
		}
		total += added
	}
	return total, nil
}

// handleFor returns the cached frontier handle for a pod, building the
// pod's client stack on first use.
func (r *Router) handleFor(ctx context.Context, pod int) (Enqueuer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[pod]; ok {
		return handle, nil
	}
	if pod < 0 || pod >= r.cfg.NumPods() {
		return nil, fmt.Errorf("pod %d out of range (%d pods)", pod, r.cfg.NumPods())
	}

	store, err := coordstore.NewRedisStore(r.cfg.Pods()[pod].RedisURL())
	if err != nil {
		return nil, fmt.Errorf("connect pod %d store: %w", pod, err)
	}
	seen, err := seenset.New(ctx, store, r.cfg.BloomCapacity(), r.cfg.BloomErrorRate())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init pod %d seen-set: %w", pod, err)
	}
	enforcer := politeness.New(store, r.robots, r.cfg.UserAgent(),
		politeness.WithSeededURLsOnly(r.cfg.SeededURLsOnly()),
		politeness.WithMinCrawlDelay(r.cfg.PolitenessDelay()),
		politeness.WithRobotsTTL(r.cfg.RobotsCacheTTL()),
	)
	handle := frontier.NewManager(frontier.Params{
		Store:       store,
		Seen:        seen,
		Politeness:  enforcer,
		Locks:       lock.NewManager(store, r.cfg.ParsersPerPod() > 1),
		FrontierDir: r.cfg.FrontierDir(),
		ShardCount:  r.cfg.ShardCount(),
		Resume:      true, // remote handles never clear or seed
	})

	r.stores[pod] = store
	r.handles[pod] = handle
	log.WithField("pod", pod).Info("created frontier handle for remote pod")
	return handle, nil
}

// Close releases the store connections this router opened. The seeded
// local handle's store is owned by the caller and left alone.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pod, store := range r.stores {
		if err := store.Close(); err != nil {
			log.WithError(err).WithField("pod", pod).Error("failed to close pod store")
		}
	}
	r.stores = make(map[int]coordstore.Store)
}
