package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
)

const (
	DefaultFetcherWorkers      = 500
	DefaultParserWorkers       = 80
	DefaultFetchersPerPod      = 2
	DefaultParsersPerPod       = 1
	DefaultPolitenessDelay     = 70 * time.Second
	DefaultRobotsCacheTTL      = 24 * time.Hour
	DefaultParseQueueSoftLimit = 20_000
	DefaultParseQueueHardLimit = 80_000
	DefaultBloomCapacity       = 160_000_000
	DefaultBloomErrorRate      = 0.001
	DefaultDataDir             = "./crawler_data"
	DefaultRedisURL            = "redis://localhost:6379/0"
	DefaultLogLevel            = "info"
	DefaultUserAgentTemplate   = "web-crawler/1.0 (+contact: {email})"
)

// PodConfig identifies one pod: its coordination store. Pod id is the
// index in the pods list.
type PodConfig struct {
	redisURL string
}

func (p PodConfig) RedisURL() string {
	return p.redisURL
}

type Config struct {
	//===============
	// Crawl input
	//===============
	// File with one seed URL per line; blanks and '#' comments skipped.
	seedFile string
	// Contact address embedded in the user agent.
	email string
	// User agent template; '{email}' is replaced with the email above.
	userAgentTemplate string
	// File with one domain per line to exclude from the crawl.
	excludeFile string

	//===============
	// Topology
	//===============
	// One entry per pod; pod id = index.
	pods []PodConfig
	// Fetcher processes per pod; shard count equals this value.
	fetchersPerPod int
	// Parser processes per pod.
	parsersPerPod int
	// Concurrent fetch tasks inside one fetcher process.
	fetcherWorkers int
	// Concurrent parse tasks inside one parser process.
	parserWorkers int

	//===============
	// Limits
	//===============
	// Stop after this many pages have been fetched across all pods.
	// Zero means unlimited.
	maxPages int64
	// Stop after this much wall time. Zero means unlimited.
	maxDuration time.Duration

	//===============
	// Politeness
	//===============
	// Minimum delay between two fetches to the same domain.
	politenessDelay time.Duration
	// How long a fetched robots.txt stays fresh.
	robotsCacheTTL time.Duration
	// Restrict the crawl to domains present in the seed set.
	seededURLsOnly bool

	//===============
	// Pipeline
	//===============
	// Parse queue length at which fetchers start throttling.
	parseQueueSoftLimit int64
	// Parse queue length at which fetchers block until drain.
	parseQueueHardLimit int64
	// Optional global requests-per-second ceiling per fetcher process.
	// Zero disables it.
	maxFetchRate float64

	//===============
	// Seen-set
	//===============
	bloomCapacity  int64
	bloomErrorRate float64

	//===============
	// Storage & observability
	//===============
	// Mount points for extracted content; sharded by url hash.
	dataDirs []string
	// Directory for log files. Empty logs to stderr only.
	logDir   string
	logLevel string
	// Port for the Prometheus endpoint. Zero disables it.
	metricsPort int

	// Keep existing frontier and seen-set instead of clearing.
	resume bool
}

type podDTO struct {
	RedisURL string `yaml:"redis_url"`
}

type configDTO struct {
	SeedFile               string   `yaml:"seed_file"`
	Email                  string   `yaml:"email"`
	UserAgentTemplate      string   `yaml:"user_agent_template"`
	ExcludeFile            string   `yaml:"exclude_file"`
	Pods                   []podDTO `yaml:"pods"`
	FetchersPerPod         int      `yaml:"fetchers_per_pod"`
	ParsersPerPod          int      `yaml:"parsers_per_pod"`
	FetcherWorkers         int      `yaml:"fetcher_workers"`
	ParserWorkers          int      `yaml:"parser_workers"`
	MaxPages               int64    `yaml:"max_pages"`
	MaxDurationSeconds     int64    `yaml:"max_duration"`
	PolitenessDelaySeconds int64    `yaml:"politeness_delay_seconds"`
	RobotsCacheTTLSeconds  int64    `yaml:"robots_cache_ttl_seconds"`
	SeededURLsOnly         bool     `yaml:"seeded_urls_only"`
	ParseQueueSoftLimit    int64    `yaml:"parse_queue_soft_limit"`
	ParseQueueHardLimit    int64    `yaml:"parse_queue_hard_limit"`
	MaxFetchRate           float64  `yaml:"max_fetch_rate"`
	BloomFilterCapacity    int64    `yaml:"bloom_filter_capacity"`
	BloomFilterErrorRate   float64  `yaml:"bloom_filter_error_rate"`
	DataDirs               []string `yaml:"data_dirs"`
	LogDir                 string   `yaml:"log_dir"`
	LogLevel               string   `yaml:"log_level"`
	MetricsPort            int      `yaml:"metrics_port"`
	Resume                 bool     `yaml:"resume"`
}

// Default returns a Config with every option at its default.
func Default() Config {
	return Config{
		userAgentTemplate:   DefaultUserAgentTemplate,
		pods:                []PodConfig{{redisURL: DefaultRedisURL}},
		fetchersPerPod:      DefaultFetchersPerPod,
		parsersPerPod:       DefaultParsersPerPod,
		fetcherWorkers:      DefaultFetcherWorkers,
		parserWorkers:       DefaultParserWorkers,
		politenessDelay:     DefaultPolitenessDelay,
		robotsCacheTTL:      DefaultRobotsCacheTTL,
		parseQueueSoftLimit: DefaultParseQueueSoftLimit,
		parseQueueHardLimit: DefaultParseQueueHardLimit,
		bloomCapacity:       DefaultBloomCapacity,
		bloomErrorRate:      DefaultBloomErrorRate,
		dataDirs:            []string{DefaultDataDir},
		logLevel:            DefaultLogLevel,
	}
}

// FromFile loads a YAML config file over the defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{
			Message: fmt.Sprintf("cannot read config file %s: %v", path, err),
			Cause:   ErrCauseFileUnreadable,
		}
	}
	var dto configDTO
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return Config{}, &ConfigError{
			Message: fmt.Sprintf("cannot parse config file %s: %v", path, err),
			Cause:   ErrCauseFileInvalid,
		}
	}
	cfg := Default()
	cfg.apply(dto)
	return cfg, nil
}

func (c *Config) apply(dto configDTO) {
	if dto.SeedFile != "" {
		c.seedFile = dto.SeedFile
	}
	if dto.Email != "" {
		c.email = dto.Email
	}
	if dto.UserAgentTemplate != "" {
		c.userAgentTemplate = dto.UserAgentTemplate
	}
	if dto.ExcludeFile != "" {
		c.excludeFile = dto.ExcludeFile
	}
	if len(dto.Pods) > 0 {
		c.pods = make([]PodConfig, len(dto.Pods))
		for i, pod := range dto.Pods {
			c.pods[i] = PodConfig{redisURL: pod.RedisURL}
		}
	}
	if dto.FetchersPerPod > 0 {
		c.fetchersPerPod = dto.FetchersPerPod
	}
	if dto.ParsersPerPod > 0 {
		c.parsersPerPod = dto.ParsersPerPod
	}
	if dto.FetcherWorkers > 0 {
		c.fetcherWorkers = dto.FetcherWorkers
	}
	if dto.ParserWorkers > 0 {
		c.parserWorkers = dto.ParserWorkers
	}
	if dto.MaxPages > 0 {
		c.maxPages = dto.MaxPages
	}
	if dto.MaxDurationSeconds > 0 {
		c.maxDuration = time.Duration(dto.MaxDurationSeconds) * time.Second
	}
	if dto.PolitenessDelaySeconds > 0 {
		c.politenessDelay = time.Duration(dto.PolitenessDelaySeconds) * time.Second
	}
	if dto.RobotsCacheTTLSeconds > 0 {
		c.robotsCacheTTL = time.Duration(dto.RobotsCacheTTLSeconds) * time.Second
	}
	c.seededURLsOnly = c.seededURLsOnly || dto.SeededURLsOnly
	if dto.ParseQueueSoftLimit > 0 {
		c.parseQueueSoftLimit = dto.ParseQueueSoftLimit
	}
	if dto.ParseQueueHardLimit > 0 {
		c.parseQueueHardLimit = dto.ParseQueueHardLimit
	}
	if dto.MaxFetchRate > 0 {
		c.maxFetchRate = dto.MaxFetchRate
	}
	if dto.BloomFilterCapacity > 0 {
		c.bloomCapacity = dto.BloomFilterCapacity
	}
	if dto.BloomFilterErrorRate > 0 {
		c.bloomErrorRate = dto.BloomFilterErrorRate
	}
	if len(dto.DataDirs) > 0 {
		c.dataDirs = dto.DataDirs
	}
	if dto.LogDir != "" {
		c.logDir = dto.LogDir
	}
	if dto.LogLevel != "" {
		c.logLevel = dto.LogLevel
	}
	if dto.MetricsPort > 0 {
		c.metricsPort = dto.MetricsPort
	}
	c.resume = c.resume || dto.Resume
}

// Validate checks the configuration for fatal startup problems.
func (c Config) Validate() error {
	if c.seedFile == "" && !c.resume {
		return &ConfigError{Message: "seed_file is required for a new crawl", Cause: ErrCauseMissingOption}
	}
	if c.email == "" {
		return &ConfigError{Message: "email is required (servers must be able to reach the operator)", Cause: ErrCauseMissingOption}
	}
	if len(c.pods) == 0 {
		return &ConfigError{Message: "at least one pod is required", Cause: ErrCauseMissingOption}
	}
	for i, pod := range c.pods {
		if pod.redisURL == "" {
			return &ConfigError{Message: fmt.Sprintf("pod %d has no redis_url", i), Cause: ErrCauseMissingOption}
		}
	}
	if c.parseQueueHardLimit <= c.parseQueueSoftLimit {
		return &ConfigError{Message: "parse_queue_hard_limit must exceed parse_queue_soft_limit", Cause: ErrCauseInvalidOption}
	}
	if c.bloomErrorRate <= 0 || c.bloomErrorRate >= 1 {
		return &ConfigError{Message: "bloom_filter_error_rate must be in (0, 1)", Cause: ErrCauseInvalidOption}
	}
	if len(c.dataDirs) == 0 {
		return &ConfigError{Message: "at least one data dir is required", Cause: ErrCauseMissingOption}
	}
	return nil
}

func (c Config) SeedFile() string       { return c.seedFile }
func (c Config) Email() string          { return c.email }
func (c Config) ExcludeFile() string    { return c.excludeFile }
func (c Config) Pods() []PodConfig      { return c.pods }
func (c Config) NumPods() int           { return len(c.pods) }
func (c Config) FetchersPerPod() int    { return c.fetchersPerPod }
func (c Config) ParsersPerPod() int     { return c.parsersPerPod }
func (c Config) FetcherWorkers() int    { return c.fetcherWorkers }
func (c Config) ParserWorkers() int     { return c.parserWorkers }
func (c Config) MaxPages() int64        { return c.maxPages }
func (c Config) MaxDuration() time.Duration { return c.maxDuration }
func (c Config) PolitenessDelay() time.Duration { return c.politenessDelay }
func (c Config) RobotsCacheTTL() time.Duration  { return c.robotsCacheTTL }
func (c Config) SeededURLsOnly() bool   { return c.seededURLsOnly }
func (c Config) ParseQueueSoftLimit() int64 { return c.parseQueueSoftLimit }
func (c Config) ParseQueueHardLimit() int64 { return c.parseQueueHardLimit }
func (c Config) MaxFetchRate() float64  { return c.maxFetchRate }
func (c Config) BloomCapacity() int64   { return c.bloomCapacity }
func (c Config) BloomErrorRate() float64 { return c.bloomErrorRate }
func (c Config) DataDirs() []string     { return c.dataDirs }
func (c Config) LogDir() string         { return c.logDir }
func (c Config) LogLevel() string       { return c.logLevel }
func (c Config) MetricsPort() int       { return c.metricsPort }
func (c Config) Resume() bool           { return c.resume }

// ShardCount is the number of ready-queue shards per pod: one per
// fetcher process.
func (c Config) ShardCount() int { return c.fetchersPerPod }

// UserAgent renders the user agent template with the operator email.
func (c Config) UserAgent() string {
	return strings.ReplaceAll(c.userAgentTemplate, "{email}", c.email)
}

// FrontierDir is where per-domain logs live: under the first data dir.
func (c Config) FrontierDir() string {
	return filepath.Join(c.dataDirs[0], "frontiers")
}

// DataDirForURL picks the mount point that stores a URL's content,
// sharding by url hash.
func (c Config) DataDirForURL(url string) string {
	if len(c.dataDirs) == 1 {
		return c.dataDirs[0]
	}
	idx := hashutil.URLHashUint64(url) % uint64(len(c.dataDirs))
	return c.dataDirs[idx]
}

// Setters used by the CLI to apply flag overrides. Zero values leave the
// config untouched.

func (c *Config) SetSeedFile(path string) {
	if path != "" {
		c.seedFile = path
	}
}

func (c *Config) SetEmail(email string) {
	if email != "" {
		c.email = email
	}
}

func (c *Config) SetResume(resume bool) {
	c.resume = c.resume || resume
}

func (c *Config) SetMaxPages(n int64) {
	if n > 0 {
		c.maxPages = n
	}
}

func (c *Config) SetMaxDuration(d time.Duration) {
	if d > 0 {
		c.maxDuration = d
	}
}

func (c *Config) SetDataDirs(dirs []string) {
	if len(dirs) > 0 {
		c.dataDirs = dirs
	}
}

func (c *Config) SetLogLevel(level string) {
	if level != "" {
		c.logLevel = level
	}
}
