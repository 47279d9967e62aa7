package hashutil_test

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rohmanhakim/web-crawler/pkg/hashutil"
)

func TestURLHash16(t *testing.T) {
	url := "http://example.com/a"
	sum := sha256.Sum256([]byte(url))
	expected := hex.EncodeToString(sum[:])[:16]

	got := hashutil.URLHash16(url)
	assert.Equal(t, expected, got)
	assert.Len(t, got, 16)

	// Deterministic
	assert.Equal(t, got, hashutil.URLHash16(url))
}

func TestDomainPrefix2(t *testing.T) {
	domain := "example.com"
	sum := md5.Sum([]byte(domain))
	expected := hex.EncodeToString(sum[:])[:2]
	assert.Equal(t, expected, hashutil.DomainPrefix2(domain))
}

func TestDomainShard(t *testing.T) {
	domains := []string{"example.com", "other.org", "a.net", "b.io", "c.dev"}

	for _, domain := range domains {
		// Stable across calls
		first := hashutil.DomainShard(domain, 8)
		assert.Equal(t, first, hashutil.DomainShard(domain, 8))

		// In range
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)

		// Single shard always maps to zero
		assert.Equal(t, 0, hashutil.DomainShard(domain, 1))
	}
}

func TestDomainPod(t *testing.T) {
	for _, domain := range []string{"example.com", "other.org", "site.net"} {
		pod := hashutil.DomainPod(domain, 4)
		assert.Equal(t, pod, hashutil.DomainPod(domain, 4))
		assert.GreaterOrEqual(t, pod, 0)
		assert.Less(t, pod, 4)
		assert.Equal(t, 0, hashutil.DomainPod(domain, 1))
	}
}

func TestContentHash(t *testing.T) {
	first := hashutil.ContentHash([]byte("some extracted text"))
	second := hashutil.ContentHash([]byte("some extracted text"))
	different := hashutil.ContentHash([]byte("other text"))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, different)
	assert.Len(t, first, 64)
}
