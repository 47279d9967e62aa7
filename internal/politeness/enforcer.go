package politeness

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

/*
Politeness enforcer

Responsibilities:
- Decide whether a URL is permitted at all (robots.txt + manual
  exclusions + seeded-only mode)
- Decide when the next fetch to a domain is permitted
- Compute the effective crawl delay

Failure semantics: every store or fetch error maps to the most
permissive safe default (allow URL / allow now) so the dequeue loop keeps
making progress. The one exception is CanFetchDomainNow, which denies on
store error to avoid accidentally ignoring politeness.
*/

// DefaultRobotsTTL is how long a fetched robots.txt stays fresh.
const DefaultRobotsTTL = 24 * time.Hour

// DefaultCrawlDelay is both the fallback and the floor for per-domain
// delays; robots.txt can only raise it.
const DefaultCrawlDelay = 70 * time.Second

// MaxRobotsLength caps robots.txt bodies, applied on fetch and re-applied
// when reading the persistent cache.
const MaxRobotsLength = 500 * 1024

const cacheCapacity = 100_000

// RobotsClient fetches robots.txt bodies. The fetcher's HTTP client
// implements it.
type RobotsClient interface {
	// FetchRobotsTxt returns the status code and body for a robots.txt
	// URL. A non-nil error means the request itself failed.
	FetchRobotsTxt(ctx context.Context, robotsURL string) (int, []byte, error)
}

// Enforcer is the single politeness authority for a pod.
type Enforcer struct {
	store      coordstore.Store
	client     RobotsClient
	userAgent  string
	seededOnly bool
	minDelay   time.Duration
	robotsTTL  time.Duration

	rulesets   *lruCache[string, *Ruleset]
	exclusions *lruCache[string, bool]

	now func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithSeededURLsOnly restricts the crawl to domains present in the seed
// set.
func WithSeededURLsOnly(on bool) Option {
	return func(e *Enforcer) { e.seededOnly = on }
}

// WithMinCrawlDelay overrides the default minimum crawl delay.
func WithMinCrawlDelay(d time.Duration) Option {
	return func(e *Enforcer) {
		if d > 0 {
			e.minDelay = d
		}
	}
}

// WithRobotsTTL overrides the robots.txt cache TTL.
func WithRobotsTTL(d time.Duration) Option {
	return func(e *Enforcer) {
		if d > 0 {
			e.robotsTTL = d
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// New creates an Enforcer bound to one pod's store.
func New(store coordstore.Store, client RobotsClient, userAgent string, opts ...Option) *Enforcer {
	enforcer := &Enforcer{
		store:      store,
		client:     client,
		userAgent:  userAgent,
		minDelay:   DefaultCrawlDelay,
		robotsTTL:  DefaultRobotsTTL,
		rulesets:   newLRUCache[string, *Ruleset](cacheCapacity),
		exclusions: newLRUCache[string, bool](cacheCapacity),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(enforcer)
	}
	return enforcer
}

// LoadManualExclusions marks every domain listed in the exclude file
// (one per line, '#' comments allowed) as excluded in the store. A
// missing path is not an error.
func (e *Enforcer) LoadManualExclusions(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Info("no manual exclude file found")
			return nil
		}
		return fmt.Errorf("open exclude file: %w", err)
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		domain := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if domain == "" || strings.HasPrefix(domain, "#") {
			continue
		}
		err := e.store.HSet(ctx, coordstore.DomainKey(domain), map[string]string{
			coordstore.FieldIsExcluded: "1",
		})
		if err != nil {
			return fmt.Errorf("mark %s excluded: %w", domain, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read exclude file: %w", err)
	}
	log.WithFields(log.Fields{"count": count, "path": path}).Info("loaded manual exclusions")
	return nil
}

// IsURLAllowed checks manual exclusions and robots.txt for a URL.
func (e *Enforcer) IsURLAllowed(ctx context.Context, rawURL string) bool {
	domain := urlutil.ExtractDomain(rawURL)
	if domain == "" {
		log.WithField("url", rawURL).Warn("could not extract domain for robots check, allowing")
		return true
	}

	if e.isExcluded(ctx, domain) {
		log.WithFields(log.Fields{"url": rawURL, "domain": domain}).
			Debug("url from excluded or non-seeded domain")
		return false
	}

	ruleset := e.rulesetFor(ctx, domain)
	if ruleset == nil {
		// No ruleset could be obtained; fail open.
		return true
	}
	return ruleset.Allowed(e.userAgent, pathOf(rawURL))
}

// GetCrawlDelay returns the effective delay for a domain: the agent's
// Crawl-delay, else the wildcard's, else the default, floored at the
// configured minimum.
func (e *Enforcer) GetCrawlDelay(ctx context.Context, domain string) time.Duration {
	if ruleset := e.rulesetFor(ctx, domain); ruleset != nil {
		if delay, ok := ruleset.CrawlDelay(e.userAgent); ok {
			if delay < e.minDelay {
				return e.minDelay
			}
			return delay
		}
	}
	return e.minDelay
}

// CanFetchDomainNow reports whether the domain's next_fetch_time has
// passed. Store errors deny: skipping politeness is worse than skipping
// a turn.
func (e *Enforcer) CanFetchDomainNow(ctx context.Context, domain string) bool {
	value, err := e.store.HGet(ctx, coordstore.DomainKey(domain), coordstore.FieldNextFetchTime)
	if err != nil {
		if coordstore.IsNotFound(err) {
			return true
		}
		log.WithError(err).WithField("domain", domain).
			Error("failed to read next_fetch_time, assuming cannot fetch")
		return false
	}
	nextFetch, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return true
	}
	return e.now().Unix() >= nextFetch
}

// RecordDomainFetchAttempt sets the domain's next_fetch_time to now plus
// its crawl delay. Errors are logged and swallowed; the fetch proceeds.
func (e *Enforcer) RecordDomainFetchAttempt(ctx context.Context, domain string) {
	delay := e.GetCrawlDelay(ctx, domain)
	nextFetch := e.now().Unix() + int64(delay/time.Second)
	err := e.store.HSet(ctx, coordstore.DomainKey(domain), map[string]string{
		coordstore.FieldNextFetchTime: strconv.FormatInt(nextFetch, 10),
	})
	if err != nil {
		log.WithError(err).WithField("domain", domain).Error("failed to record fetch attempt")
	}
}

// isExcluded resolves the manual-exclusion (and seeded-only) flag for a
// domain, via the in-memory cache. Store errors default to not excluded.
func (e *Enforcer) isExcluded(ctx context.Context, domain string) bool {
	if cached, ok := e.exclusions.Get(domain); ok {
		return cached
	}

	var excluded bool
	if e.seededOnly {
		fields, err := e.store.HMGet(ctx, coordstore.DomainKey(domain),
			coordstore.FieldIsExcluded, coordstore.FieldIsSeeded)
		if err != nil {
			log.WithError(err).WithField("domain", domain).Warn("exclusion check failed, allowing")
			return false
		}
		excluded = fields[0] == "1" || fields[1] != "1"
	} else {
		value, err := e.store.HGet(ctx, coordstore.DomainKey(domain), coordstore.FieldIsExcluded)
		if err != nil && !coordstore.IsNotFound(err) {
			log.WithError(err).WithField("domain", domain).Warn("exclusion check failed, allowing")
			return false
		}
		excluded = value == "1"
	}

	e.exclusions.Put(domain, excluded)
	return excluded
}

// rulesetFor resolves a domain's ruleset through the cache chain:
// in-memory LRU, persistent store cache (if fresh), then the network.
// Returns nil only when even the empty fallback could not be produced.
func (e *Enforcer) rulesetFor(ctx context.Context, domain string) *Ruleset {
	if cached, ok := e.rulesets.Get(domain); ok {
		return cached
	}

	// Persistent cache
	body, expires, err := e.cachedRobots(ctx, domain)
	if err == nil && body != nil && expires > e.now().Unix() {
		ruleset := ParseRobotsTxt(*body)
		e.rulesets.Put(domain, ruleset)
		return ruleset
	}

	// Fetch from the web: HTTPS first, HTTP fallback. Any failure,
	// 4xx, or unusable body degrades to the empty (allow-all) ruleset.
	content := e.fetchRobots(ctx, domain)

	if len(content) > MaxRobotsLength {
		content = content[:MaxRobotsLength]
	}
	if strings.ContainsRune(content, 0) {
		log.WithField("domain", domain).Warn("robots.txt contains null bytes, treating as empty")
		content = ""
	}

	fetchedAt := e.now().Unix()
	expiresAt := fetchedAt + int64(e.robotsTTL/time.Second)
	err = e.store.HSet(ctx, coordstore.DomainKey(domain), map[string]string{
		coordstore.FieldRobotsTxt:     content,
		coordstore.FieldRobotsExpires: strconv.FormatInt(expiresAt, 10),
	})
	if err != nil {
		log.WithError(err).WithField("domain", domain).Error("failed to cache robots.txt")
	}

	ruleset := ParseRobotsTxt(content)
	e.rulesets.Put(domain, ruleset)
	return ruleset
}

func (e *Enforcer) cachedRobots(ctx context.Context, domain string) (*string, int64, error) {
	fields, err := e.store.HMGet(ctx, coordstore.DomainKey(domain),
		coordstore.FieldRobotsTxt, coordstore.FieldRobotsExpires)
	if err != nil {
		log.WithError(err).WithField("domain", domain).Warn("failed to read cached robots.txt")
		return nil, 0, err
	}
	if fields[1] == "" {
		return nil, 0, nil
	}
	expires, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, 0, nil
	}
	body := fields[0]
	if len(body) > MaxRobotsLength {
		body = body[:MaxRobotsLength]
	}
	return &body, expires, nil
}

func (e *Enforcer) fetchRobots(ctx context.Context, domain string) string {
	log.WithField("domain", domain).Info("fetching robots.txt")
	for _, scheme := range []string{"https", "http"} {
		status, body, err := e.client.FetchRobotsTxt(ctx, fmt.Sprintf("%s://%s/robots.txt", scheme, domain))
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"domain": domain, "scheme": scheme}).
				Debug("robots.txt fetch failed")
			continue
		}
		if status >= 200 && status < 300 {
			return string(body)
		}
	}
	return ""
}

func pathOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return path
}
