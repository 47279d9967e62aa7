package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohmanhakim/web-crawler/internal/build"
	"github.com/rohmanhakim/web-crawler/internal/config"
	"github.com/rohmanhakim/web-crawler/internal/orchestrator"
)

var (
	cfgFile     string
	podID       int
	seedFile    string
	email       string
	resume      bool
	maxPages    int64
	maxDuration time.Duration
	dataDirs    []string
	logLevel    string
)

// rootCmd runs one pod of the crawler cluster.
var rootCmd = &cobra.Command{
	Use:   "crawler",
	Short: "A distributed, politeness-aware web crawler pod.",
	Long: `crawler runs one pod of a distributed web crawler: a coordination
store, a frontier directory, and this pod's fetcher and parser workers.

Domains are partitioned across pods by a stable hash; within a pod,
per-domain frontier logs and atomic domain claims keep every domain on
one worker at a time while robots.txt rules and crawl delays are
enforced.`,
	Version: build.FullVersion(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"pod":        podID,
			"pods":       cfg.NumPods(),
			"fetchers":   cfg.FetchersPerPod(),
			"parsers":    cfg.ParsersPerPod(),
			"user_agent": cfg.UserAgent(),
			"version":    build.FullVersion(),
		}).Info("starting crawler pod")

		orch, err := orchestrator.New(cfg, podID)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return orch.Run(ctx)
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path (YAML)")
	flags.IntVar(&podID, "pod", 0, "pod id this process runs (index into the pods list)")
	flags.StringVar(&seedFile, "seed-file", "", "file with one seed URL per line")
	flags.StringVar(&email, "email", "", "operator contact address embedded in the user agent")
	flags.BoolVar(&resume, "resume", false, "keep existing frontier and seen-set instead of clearing")
	flags.Int64Var(&maxPages, "max-pages", 0, "stop after this many pages across all pods (0 for unlimited)")
	flags.DurationVar(&maxDuration, "max-duration", 0, "stop after this much wall time (0 for unlimited)")
	flags.StringArrayVar(&dataDirs, "data-dir", nil, "content mount point (can be repeated)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig merges the config file with flag overrides and validates.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.FromFile(cfgFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	cfg.SetSeedFile(seedFile)
	cfg.SetEmail(email)
	cfg.SetResume(resume)
	cfg.SetMaxPages(maxPages)
	cfg.SetMaxDuration(maxDuration)
	cfg.SetDataDirs(dataDirs)
	cfg.SetLogLevel(logLevel)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel())
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel(), err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if dir := cfg.LogDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("crawler-pod-%d.log", podID))
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(file)
	}
	return nil
}
