package frontier

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/lock"
	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

/*
Frontier manager

Responsibilities:
- Shard domains across the pod's ready queues
- Deduplicate and admit URLs into per-domain logs
- Atomically hand the next fetchable URL to a worker
- Knows nothing about:
	- HTTP fetching
	- parsing
	- content storage

The pop-then-requeue pattern on the shard queues is the concurrency
primitive: the pop is a single atomic store command, so at most one
worker per pod holds any given domain at a time, and re-appending a
serviced domain to the tail keeps round-robin order within a shard.
*/

// avgBytesPerURL is the assumed average record length used by the
// approximate Count.
const avgBytesPerURL = 100

// Manager is the canonical hybrid frontier: store-coordinated metadata
// and shard queues over per-domain append-only files.
type Manager struct {
	store       coordstore.Store
	seen        SeenSet
	politeness  Politeness
	locks       *lock.Manager
	frontierDir string
	shardCount  int
	resume      bool
	seedFile    string
	lockMaxWait time.Duration
}

// Params collects the dependencies of a Manager.
type Params struct {
	Store       coordstore.Store
	Seen        SeenSet
	Politeness  Politeness
	Locks       *lock.Manager
	FrontierDir string
	ShardCount  int
	Resume      bool
	SeedFile    string
}

// NewManager wires a frontier manager. ShardCount defaults to 1.
func NewManager(params Params) *Manager {
	shards := params.ShardCount
	if shards < 1 {
		shards = 1
	}
	return &Manager{
		store:       params.Store,
		seen:        params.Seen,
		politeness:  params.Politeness,
		locks:       params.Locks,
		frontierDir: params.FrontierDir,
		shardCount:  shards,
		resume:      params.Resume,
		seedFile:    params.SeedFile,
		lockMaxWait: lock.DefaultMaxWait,
	}
}

// Initialize prepares the frontier for a crawl. Fresh runs clear all
// domain state and load seeds; resumed runs keep everything and only
// reload seeds if the frontier turns out to be empty.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.checkSchema(ctx); err != nil {
		return err
	}
	if err := m.store.Set(ctx, coordstore.ShardCountKey, strconv.Itoa(m.shardCount)); err != nil {
		return fmt.Errorf("store shard count: %w", err)
	}
	log.WithField("shards", m.shardCount).Info("frontier initialized")

	if m.resume {
		count, err := m.Count(ctx)
		if err != nil {
			return err
		}
		log.WithField("approx_urls", count).Info("resuming crawl")
		if count == 0 {
			log.Warn("resuming with an empty frontier, loading seeds")
			return m.loadSeeds(ctx)
		}
		return nil
	}

	log.Info("starting new crawl, clearing existing frontier")
	if err := m.clear(ctx); err != nil {
		return err
	}
	return m.loadSeeds(ctx)
}

// AddURLsBatch runs the admission pipeline over a set of URLs and
// appends the survivors to their domains' logs. Returns the number of
// URLs actually admitted.
func (m *Manager) AddURLsBatch(ctx context.Context, urls []string, depth int) (int, error) {
	// 1. Ingress filters: length and extension deny-list. Order is
	// preserved so per-domain logs stay FIFO in discovery order.
	seen := make(map[string]struct{}, len(urls))
	candidates := make([]string, 0, len(urls))
	for _, u := range urls {
		if urlutil.TooLong(u) {
			log.WithField("url", u[:100]).Debug("skipping url longer than limit")
			continue
		}
		if urlutil.IsNonTextURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// 2. Bulk seen-set check. We check the filter again (test-and-set)
	// inside the per-domain append; this early read-only pass exists so
	// the politeness check below does no work for known URLs.
	exists, err := m.seen.BatchExists(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("seen-set check: %w", err)
	}
	var maybeNew []string
	for i, u := range candidates {
		if !exists[i] {
			maybeNew = append(maybeNew, u)
		}
	}
	if len(maybeNew) == 0 {
		return 0, nil
	}

	// 3. URL-level politeness.
	var allowed []string
	for _, u := range maybeNew {
		if m.politeness.IsURLAllowed(ctx, u) {
			allowed = append(allowed, u)
		}
	}
	if len(allowed) == 0 {
		return 0, nil
	}

	// 4. Group by domain.
	byDomain := make(map[string][]Entry)
	for _, u := range allowed {
		domain := urlutil.ExtractDomain(u)
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], Entry{URL: u, Depth: depth})
	}

	// 5. Append per domain under the write lock.
	addedTotal := 0
	for domain, entries := range byDomain {
		added, err := m.addToDomain(ctx, domain, entries)
		if err != nil {
			log.WithError(err).WithField("domain", domain).Error("failed to add urls to domain")
			continue
		}
		addedTotal += added
	}

	if addedTotal > 0 {
		if _, err := m.store.IncrBy(ctx, coordstore.StatsURLsAddedKey, int64(addedTotal)); err != nil {
			log.WithError(err).Warn("failed to bump urls_added counter")
		}
	}
	return addedTotal, nil
}

// GetNextURL atomically claims a domain from the shard's ready queue and
// returns its next fetchable URL. Returns nil when the shard has no
// domain ready right now; the caller sleeps briefly and retries.
func (m *Manager) GetNextURL(ctx context.Context, shardID int) (*Claim, error) {
	if shardID < 0 || shardID >= m.shardCount {
		return nil, fmt.Errorf("shard %d out of range (%d shards)", shardID, m.shardCount)
	}
	queueKey := coordstore.ShardQueueKey(shardID)

	// Atomic pop: from here until the re-append, this worker is the only
	// holder of the domain anywhere in the pod.
	domain, err := m.store.LPop(ctx, queueKey)
	if err != nil {
		if coordstore.IsNotFound(err) {
			return nil, nil // Shard is empty
		}
		return nil, fmt.Errorf("pop shard queue: %w", err)
	}

	if !m.politeness.CanFetchDomainNow(ctx, domain) {
		// Not ready yet: back to the tail, preserving rotation.
		m.requeue(ctx, queueKey, domain)
		return nil, nil
	}

	for {
		entry, err := m.readOneFromLog(ctx, domain)
		if err != nil {
			log.WithError(err).WithField("domain", domain).Error("failed to read frontier log")
			m.requeue(ctx, queueKey, domain)
			return nil, nil
		}
		if entry == nil {
			// Log exhausted: drop the domain from rotation. A duplicate
			// queue entry may still pop it later and land here again,
			// which is benign.
			return nil, nil
		}

		// Robots rules may have changed since admission; re-check.
		if !m.politeness.IsURLAllowed(ctx, entry.URL) {
			log.WithField("url", entry.URL).Debug("url disallowed at dequeue")
			continue
		}

		m.politeness.RecordDomainFetchAttempt(ctx, domain)
		m.requeue(ctx, queueKey, domain)
		return &Claim{URL: entry.URL, Domain: domain, Depth: entry.Depth}, nil
	}
}

// IsEmpty reports whether every shard queue is empty.
func (m *Manager) IsEmpty(ctx context.Context) (bool, error) {
	for shard := 0; shard < m.shardCount; shard++ {
		length, err := m.store.LLen(ctx, coordstore.ShardQueueKey(shard))
		if err != nil {
			return false, err
		}
		if length > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Count estimates the number of URLs remaining in the frontier from
// unconsumed bytes. Approximate by design; callers must not rely on
// exactness.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	var total int64
	err := m.store.ScanKeys(ctx, coordstore.DomainKeyPattern, func(keys []string) error {
		for _, key := range keys {
			fields, err := m.store.HMGet(ctx, key,
				coordstore.FieldFrontierSize, coordstore.FieldFrontierOffset)
			if err != nil {
				return err
			}
			size, _ := strconv.ParseInt(fields[0], 10, 64)
			offset, _ := strconv.ParseInt(fields[1], 10, 64)
			if size > offset {
				estimated := (size - offset) / avgBytesPerURL
				if estimated < 1 {
					estimated = 1
				}
				total += estimated
			}
		}
		return nil
	})
	return total, err
}

// addToDomain appends entries to one domain's log under its write lock,
// running the filter test-and-set to drop anything already seen.
func (m *Manager) addToDomain(ctx context.Context, domain string, entries []Entry) (int, error) {
	writeLock := m.locks.WriteLock(domain)
	if err := writeLock.Acquire(ctx, lock.DefaultMaxWait); err != nil {
		// Per error policy: drop this write batch, do not retry inline.
		log.WithError(err).WithField("domain", domain).Error("write lock not acquired, dropping batch")
		return 0, nil
	}
	defer writeLock.Release(ctx)

	urls := make([]string, len(entries))
	for i, entry := range entries {
		urls[i] = entry.URL
	}
	wasNew, err := m.seen.BatchAdd(ctx, urls)
	if err != nil {
		return 0, fmt.Errorf("seen-set add: %w", err)
	}
	var fresh []Entry
	for i, entry := range entries {
		if wasNew[i] {
			fresh = append(fresh, entry)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	newSize, err := m.appendToLog(domain, fresh)
	if err != nil {
		return 0, err
	}

	path, err := m.logPath(domain)
	if err != nil {
		return 0, err
	}
	relPath, err := relativeTo(m.frontierDir, path)
	if err != nil {
		return 0, err
	}

	domainKey := coordstore.DomainKey(domain)
	err = m.store.HSet(ctx, domainKey, map[string]string{
		coordstore.FieldFrontierSize: strconv.FormatInt(newSize, 10),
		coordstore.FieldFilePath:     relPath,
	})
	if err != nil {
		return 0, fmt.Errorf("update domain metadata: %w", err)
	}
	// Defaults only; never clobber an existing value.
	if _, err := m.store.HSetNX(ctx, domainKey, coordstore.FieldIsSeeded, "0"); err != nil {
		return 0, err
	}
	if _, err := m.store.HSetNX(ctx, domainKey, coordstore.FieldFrontierOffset, "0"); err != nil {
		return 0, err
	}

	// Announce availability. Duplicates in the queue are tolerated by
	// the dequeue path.
	shard := hashutil.DomainShard(domain, m.shardCount)
	if _, err := m.store.RPush(ctx, coordstore.ShardQueueKey(shard), domain); err != nil {
		return 0, fmt.Errorf("push shard queue: %w", err)
	}

	return len(fresh), nil
}

// clear removes all frontier state: domain hashes, shard queues, and the
// log directory.
func (m *Manager) clear(ctx context.Context) error {
	if _, err := m.store.DeleteByPattern(ctx, coordstore.DomainKeyPattern); err != nil {
		return fmt.Errorf("clear domain metadata: %w", err)
	}
	keys := make([]string, 0, m.shardCount+1)
	for shard := 0; shard < m.shardCount; shard++ {
		keys = append(keys, coordstore.ShardQueueKey(shard))
	}
	// Legacy unsharded queue from older layouts.
	keys = append(keys, "domains:queue")
	if err := m.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("clear shard queues: %w", err)
	}

	if err := os.RemoveAll(m.frontierDir); err != nil {
		return fmt.Errorf("remove frontier dir: %w", err)
	}
	if err := os.MkdirAll(m.frontierDir, 0o755); err != nil {
		return fmt.Errorf("recreate frontier dir: %w", err)
	}
	log.Info("cleared all frontier data")
	return nil
}

func (m *Manager) checkSchema(ctx context.Context) error {
	created, err := m.store.SetNX(ctx, coordstore.SchemaVersionKey, coordstore.SchemaVersion)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if created {
		return nil
	}
	version, err := m.store.Get(ctx, coordstore.SchemaVersionKey)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != coordstore.SchemaVersion {
		return fmt.Errorf("schema version mismatch: store has %s, build expects %s", version, coordstore.SchemaVersion)
	}
	return nil
}

func (m *Manager) requeue(ctx context.Context, queueKey, domain string) {
	if _, err := m.store.RPush(ctx, queueKey, domain); err != nil {
		log.WithError(err).WithField("domain", domain).Error("failed to requeue domain")
	}
}
