package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/storage"
	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
)

func TestRecordVisited(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()
	manager := storage.New(store, func(string) string { return t.TempDir() })

	rec := storage.VisitedRecord{
		URL:         "http://ex.com/a",
		StatusCode:  200,
		FetchedAt:   1_700_000_000,
		ContentType: "text/html",
		ContentHash: "abc",
		ContentPath: "/data/content/xyz.txt",
	}
	require.NoError(t, manager.RecordVisited(ctx, rec))

	fields, err := manager.GetVisited(ctx, "http://ex.com/a")
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "http://ex.com/a", fields["url"])
	assert.Equal(t, "200", fields["status_code"])
	assert.Equal(t, "1700000000", fields["fetched_at"])
	assert.Equal(t, "text/html", fields["content_type"])
	assert.Equal(t, "abc", fields["content_hash"])
	assert.Equal(t, "/data/content/xyz.txt", fields["content_path"])
	_, hasError := fields["error"]
	assert.False(t, hasError)
}

func TestRecordVisited_Failure(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()
	manager := storage.New(store, func(string) string { return t.TempDir() })

	require.NoError(t, manager.RecordVisited(ctx, storage.VisitedRecord{
		URL:        "http://ex.com/broken",
		StatusCode: 599,
		FetchedAt:  1_700_000_100,
		Error:      "connection refused",
	}))

	fields, err := manager.GetVisited(ctx, "http://ex.com/broken")
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "599", fields["status_code"])
	assert.Equal(t, "connection refused", fields["error"])
}

func TestGetVisited_UnknownURL(t *testing.T) {
	manager := storage.New(coordstore.NewMemoryStore(), func(string) string { return "" })
	fields, err := manager.GetVisited(context.Background(), "http://never-fetched.com/")
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestSaveContent(t *testing.T) {
	dir := t.TempDir()
	manager := storage.New(coordstore.NewMemoryStore(), func(string) string { return dir })

	path, contentHash, err := manager.SaveContent("http://ex.com/a", "extracted text body")
	require.NoError(t, err)

	expected := filepath.Join(dir, "content", hashutil.URLHash16("http://ex.com/a")+".txt")
	assert.Equal(t, expected, path)
	assert.Equal(t, hashutil.ContentHash([]byte("extracted text body")), contentHash)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "extracted text body", string(data))

	// Idempotent overwrite: same URL, same filename
	again, _, err := manager.SaveContent("http://ex.com/a", "extracted text body")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestSaveContent_EmptyTextNotSaved(t *testing.T) {
	manager := storage.New(coordstore.NewMemoryStore(), func(string) string { return t.TempDir() })
	path, contentHash, err := manager.SaveContent("http://ex.com/a", "")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, contentHash)
}
