package frontier

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

// Per-domain frontier log: a plain append-only file of "url|depth" lines
// under frontier_dir/<first-2-hex-of-md5(domain)>/<domain>.frontier.
// Writers append batches under the domain write lock; readers advance a
// byte offset stored in the domain's metadata hash. Write and read locks
// are distinct so readers never block writers: each side commits a
// self-consistent (offset, size, file content) view.

// logPath returns the absolute path of a domain's frontier file,
// creating the hash-prefix subdirectory if needed.
func (m *Manager) logPath(domain string) (string, error) {
	subdir := filepath.Join(m.frontierDir, hashutil.DomainPrefix2(domain))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return "", fmt.Errorf("create frontier subdir: %w", err)
	}
	return filepath.Join(subdir, domain+".frontier"), nil
}

// appendToLog writes entries to the domain's log file and returns the
// file size after the write. Caller must hold the domain's write lock.
func (m *Manager) appendToLog(domain string, entries []Entry) (int64, error) {
	path, err := m.logPath(domain)
	if err != nil {
		return 0, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open frontier log: %w", err)
	}
	defer file.Close()

	var buf strings.Builder
	for _, entry := range entries {
		buf.WriteString(entry.URL)
		buf.WriteByte('|')
		buf.WriteString(strconv.Itoa(entry.Depth))
		buf.WriteByte('\n')
	}
	if _, err := file.WriteString(buf.String()); err != nil {
		return 0, fmt.Errorf("append frontier log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat frontier log: %w", err)
	}
	return info.Size(), nil
}

// readOneFromLog reads the next entry from a domain's log under the
// domain's read lock, advancing the stored offset. URLs whose extension
// is in the deny-list are skipped in place (the secondary filter).
// Returns nil when the log is exhausted.
func (m *Manager) readOneFromLog(ctx context.Context, domain string) (*Entry, error) {
	readLock := m.locks.ReadLock(domain)
	if err := readLock.Acquire(ctx, m.lockMaxWait); err != nil {
		return nil, fmt.Errorf("acquire read lock for %s: %w", domain, err)
	}
	defer readLock.Release(ctx)

	domainKey := coordstore.DomainKey(domain)
	fields, err := m.store.HMGet(ctx, domainKey,
		coordstore.FieldFilePath, coordstore.FieldFrontierOffset, coordstore.FieldFrontierSize)
	if err != nil {
		return nil, fmt.Errorf("read domain metadata for %s: %w", domain, err)
	}
	if fields[0] == "" {
		return nil, nil // No file recorded yet
	}
	offset, _ := strconv.ParseInt(fields[1], 10, 64)
	size, _ := strconv.ParseInt(fields[2], 10, 64)
	if offset >= size {
		return nil, nil // All URLs consumed
	}

	file, err := os.Open(filepath.Join(m.frontierDir, fields[0]))
	if err != nil {
		return nil, fmt.Errorf("open frontier log for %s: %w", domain, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, 0); err != nil {
		return nil, fmt.Errorf("seek frontier log for %s: %w", domain, err)
	}

	reader := bufio.NewReader(file)
	position := offset
	skipped := 0
	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			// End of file: commit the offset past anything we skipped.
			if skipped > 0 {
				m.setOffset(ctx, domainKey, position)
				log.WithFields(log.Fields{"domain": domain, "skipped": skipped}).
					Debug("frontier log exhausted after skipping non-text urls")
			}
			return nil, nil
		}
		position += int64(len(line))

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, "|", 2)
		if len(parts) < 2 {
			continue
		}
		entryURL := parts[0]
		if urlutil.IsNonTextURL(entryURL) {
			skipped++
			continue
		}

		depth, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}

		// Found a text URL: the offset update commits the read.
		m.setOffset(ctx, domainKey, position)
		return &Entry{URL: entryURL, Depth: depth}, nil
	}
}

// relativeTo rewrites an absolute log path relative to the frontier
// directory, the form stored in domain metadata.
func relativeTo(baseDir, path string) (string, error) {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return "", fmt.Errorf("relativize frontier path: %w", err)
	}
	return rel, nil
}

func (m *Manager) setOffset(ctx context.Context, domainKey string, offset int64) {
	err := m.store.HSet(ctx, domainKey, map[string]string{
		coordstore.FieldFrontierOffset: strconv.FormatInt(offset, 10),
	})
	if err != nil {
		log.WithError(err).WithField("key", domainKey).Error("failed to update frontier offset")
	}
}
