package coordstore

import "fmt"

// Key layout. Stable across releases: every process in a pod, and every
// migration tool, assumes exactly these shapes.
const (
	// SeenBloomKey holds the pod's approximate-membership filter over all
	// URLs ever enqueued.
	SeenBloomKey = "seen:bloom"

	// FetchQueueKey is the pod's bounded list of serialized parse payloads.
	FetchQueueKey = "fetch:queue"

	// VisitedByTimeKey is a sorted set mapping fetched-at -> url hash.
	VisitedByTimeKey = "visited:by_time"

	// SchemaVersionKey guards against mixing incompatible layouts.
	SchemaVersionKey = "schema_version"

	// ShardCountKey stores the pod's shard count, written once at init.
	ShardCountKey = "crawler:shard_count"

	// StatsURLsAddedKey counts URLs accepted into the frontier.
	StatsURLsAddedKey = "stats:urls_added"

	// StatsPagesCrawledKey counts successful page fetches; stopping
	// conditions aggregate it across pods.
	StatsPagesCrawledKey = "stats:pages_crawled"
)

// SchemaVersion is the layout generation this build reads and writes.
const SchemaVersion = "1"

// DomainKey returns the metadata hash key for a domain.
func DomainKey(domain string) string {
	return fmt.Sprintf("domain:%s", domain)
}

// DomainKeyPattern matches every domain metadata hash.
const DomainKeyPattern = "domain:*"

// ShardQueueKey returns the ready-queue list key for a shard.
func ShardQueueKey(shard int) string {
	return fmt.Sprintf("domains:queue:%d", shard)
}

// VisitedKey returns the visited-record hash key for a url hash prefix.
func VisitedKey(urlHash16 string) string {
	return fmt.Sprintf("visited:%s", urlHash16)
}

// DomainWriteLockKey returns the writer lock key for a domain.
func DomainWriteLockKey(domain string) string {
	return fmt.Sprintf("lock:domain:%s:writer", domain)
}

// DomainReadLockKey returns the reader lock key for a domain. Readers get
// a separate lock from writers because every stage of the domain write
// path commits a self-consistent (offset, size, file) view.
func DomainReadLockKey(domain string) string {
	return fmt.Sprintf("lock:domain:%s:reader", domain)
}

// DomainLockPattern matches every domain lock key, reader and writer.
const DomainLockPattern = "lock:domain:*"

// Domain metadata hash fields.
const (
	FieldFrontierSize   = "frontier_size"
	FieldFrontierOffset = "frontier_offset"
	FieldFilePath       = "file_path"
	FieldNextFetchTime  = "next_fetch_time"
	FieldRobotsTxt      = "robots_txt"
	FieldRobotsExpires  = "robots_expires"
	FieldIsExcluded     = "is_excluded"
	FieldIsSeeded       = "is_seeded"
)
