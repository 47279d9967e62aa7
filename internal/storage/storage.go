package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
)

/*
Storage

Responsibilities:
- Write one visited record per attempted URL (success or failure)
- Maintain the fetched-at time index
- Persist extracted text to content-addressed files across data dirs

Output characteristics:
- Deterministic filenames (url-hash based)
- Idempotent, overwrite-safe writes: collisions rewrite the same bytes
*/

// VisitedRecord is the post-fetch record for a URL.
type VisitedRecord struct {
	URL             string
	StatusCode      int
	FetchedAt       int64
	ContentType     string
	ContentHash     string
	ContentPath     string
	RedirectedToURL string
	Error           string
}

// Storage persists visited records in the pod's store and content files
// on disk.
type Storage struct {
	store         coordstore.Store
	dataDirForURL func(url string) string
}

// New creates a Storage. dataDirForURL picks the mount point for a URL's
// content file.
func New(store coordstore.Store, dataDirForURL func(url string) string) *Storage {
	return &Storage{store: store, dataDirForURL: dataDirForURL}
}

// RecordVisited writes the visited hash and its time-index entry.
func (s *Storage) RecordVisited(ctx context.Context, rec VisitedRecord) error {
	urlHash := hashutil.URLHash16(rec.URL)

	fields := map[string]string{
		"url":         rec.URL,
		"status_code": strconv.Itoa(rec.StatusCode),
		"fetched_at":  strconv.FormatInt(rec.FetchedAt, 10),
	}
	if rec.ContentType != "" {
		fields["content_type"] = rec.ContentType
	}
	if rec.ContentHash != "" {
		fields["content_hash"] = rec.ContentHash
	}
	if rec.ContentPath != "" {
		fields["content_path"] = rec.ContentPath
	}
	if rec.RedirectedToURL != "" {
		fields["redirected_to_url"] = rec.RedirectedToURL
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}

	if err := s.store.HSet(ctx, coordstore.VisitedKey(urlHash), fields); err != nil {
		return fmt.Errorf("write visited record: %w", err)
	}
	if err := s.store.ZAdd(ctx, coordstore.VisitedByTimeKey, float64(rec.FetchedAt), urlHash); err != nil {
		return fmt.Errorf("index visited record: %w", err)
	}
	return nil
}

// GetVisited returns the visited record fields for a URL, or nil when
// the URL was never recorded.
func (s *Storage) GetVisited(ctx context.Context, url string) (map[string]string, error) {
	fields, err := s.store.HGetAll(ctx, coordstore.VisitedKey(hashutil.URLHash16(url)))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// SaveContent writes extracted text to its content-addressed file and
// returns the path and content hash. Empty text is not saved.
func (s *Storage) SaveContent(url, text string) (path string, contentHash string, err error) {
	if text == "" {
		return "", "", nil
	}
	contentDir := filepath.Join(s.dataDirForURL(url), "content")
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create content dir: %w", err)
	}
	path = filepath.Join(contentDir, hashutil.URLHash16(url)+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", "", fmt.Errorf("write content file: %w", err)
	}
	log.WithFields(log.Fields{"url": url, "path": path}).Debug("saved content")
	return path, hashutil.ContentHash([]byte(text)), nil
}
