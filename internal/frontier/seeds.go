package frontier

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

// seedChunkSize bounds a single admission batch during seeding so one
// giant pipeline does not starve other store users.
const seedChunkSize = 100

// loadSeeds reads the seed file (one URL per line, blanks and '#'
// comments skipped), marks seed domains, and admits the URLs at depth 0.
func (m *Manager) loadSeeds(ctx context.Context) error {
	if m.seedFile == "" {
		return fmt.Errorf("no seed file configured")
	}
	log.WithField("path", m.seedFile).Info("loading seeds")

	file, err := os.Open(m.seedFile)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if normalized, ok := urlutil.Normalize(line); ok {
			urls = append(urls, normalized)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	if len(urls) == 0 {
		log.WithField("path", m.seedFile).Warn("seed file is empty")
		return nil
	}

	// Mark domains as seeded before admission so seeded-only mode sees
	// them from the very first politeness check.
	seedDomains := make(map[string]struct{})
	for _, u := range urls {
		if domain := urlutil.ExtractDomain(u); domain != "" {
			seedDomains[domain] = struct{}{}
		}
	}
	marked := 0
	for domain := range seedDomains {
		err := m.store.HSet(ctx, coordstore.DomainKey(domain), map[string]string{
			coordstore.FieldIsSeeded: "1",
		})
		if err != nil {
			return fmt.Errorf("mark %s as seeded: %w", domain, err)
		}
		marked++
	}
	log.WithField("domains", marked).Debug("marked seed domains")

	added := 0
	for start := 0; start < len(urls); start += seedChunkSize {
		end := start + seedChunkSize
		if end > len(urls) {
			end = len(urls)
		}
		count, err := m.AddURLsBatch(ctx, urls[start:end], 0)
		if err != nil {
			return fmt.Errorf("seed batch: %w", err)
		}
		added += count
		log.WithFields(log.Fields{"added": added, "total": len(urls)}).Debug("seeding progress")
	}
	log.WithFields(log.Fields{"added": added, "path": m.seedFile}).Info("loaded seed urls")
	return nil
}
