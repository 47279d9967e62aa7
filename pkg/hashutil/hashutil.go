package hashutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// The coordination-store key layout pins the algorithms used here: domain
// sharding and frontier file placement use md5, visited records use a
// sha256 prefix. Changing either changes the wire format.

// URLHash16 returns the first 16 hex characters of sha256(url). Visited
// records are keyed by this value.
func URLHash16(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// URLHashUint64 returns the first 8 bytes of sha256(url) as an integer.
// Used to spread content files across data directories.
func URLHashUint64(url string) uint64 {
	sum := sha256.Sum256([]byte(url))
	return binary.BigEndian.Uint64(sum[:8])
}

// DomainPrefix2 returns the first 2 hex characters of md5(domain), the
// subdirectory a domain's frontier log lives under (256 subdirs).
func DomainPrefix2(domain string) string {
	sum := md5.Sum([]byte(domain))
	return hex.EncodeToString(sum[:])[:2]
}

// DomainShard maps a domain onto one of shardCount shards using the first
// 8 bytes of md5(domain). md5 rather than a runtime hash so the mapping is
// stable across processes and restarts.
func DomainShard(domain string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	sum := md5.Sum([]byte(domain))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(shardCount))
}

// DomainPod maps a domain onto one of numPods pods using the first 8 hex
// characters (32 bits) of md5(domain).
func DomainPod(domain string, numPods int) int {
	if numPods <= 1 {
		return 0
	}
	sum := md5.Sum([]byte(domain))
	hexed := hex.EncodeToString(sum[:])
	var value uint64
	for i := 0; i < 8; i++ {
		value <<= 4
		value |= uint64(hexDigit(hexed[i]))
	}
	return int(value % uint64(numPods))
}

// ContentHash returns the blake3 hash of a content body as a hex string.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexDigit(c byte) byte {
	if c >= 'a' {
		return c - 'a' + 10
	}
	return c - '0'
}
