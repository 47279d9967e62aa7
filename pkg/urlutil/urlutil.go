package urlutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// MaxURLLength is the longest URL (in bytes) the crawler will accept.
// Anything longer is rejected at ingress.
const MaxURLLength = 2000

// nonTextExtensions lists path suffixes that almost certainly point at
// binary or media content. URLs carrying one of these are rejected when
// they enter the frontier and re-checked when they are dequeued.
var nonTextExtensions = map[string]struct{}{
	// Images
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {},
	".webp": {}, ".ico": {}, ".tiff": {}, ".tif": {},
	// Videos
	".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".webm": {},
	".mkv": {}, ".mpg": {}, ".mpeg": {}, ".m4v": {},
	// Audio
	".mp3": {}, ".wav": {}, ".flac": {}, ".aac": {}, ".ogg": {}, ".wma": {},
	".m4a": {}, ".opus": {},
	// Documents (non-HTML)
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {},
	".pptx": {}, ".odt": {},
	// Archives
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".bz2": {},
	".xz": {}, ".tgz": {},
	// Executables
	".exe": {}, ".msi": {}, ".dmg": {}, ".pkg": {}, ".deb": {}, ".rpm": {},
	".apk": {}, ".app": {},
	// Other binary formats
	".iso": {}, ".bin": {}, ".dat": {}, ".db": {}, ".sqlite": {}, ".dll": {},
	".so": {}, ".dylib": {},
	// Media/design files
	".psd": {}, ".ai": {}, ".eps": {}, ".indd": {}, ".sketch": {}, ".fig": {},
	".xd": {},
	// Data files
	".csv": {}, ".json": {}, ".xml": {}, ".sql": {},
}

// Normalize applies a deterministic normalization to a raw URL string,
// producing the canonical form all crawler state is keyed by.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased; a missing scheme defaults to http
//   - Fragments are removed
//   - Default ports are omitted (:80 for http, :443 for https)
//   - Trailing slashes are collapsed, except for the root path "/"
//   - Non-HTTP(S) schemes are rejected
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Normalize(Normalize(u)) == Normalize(u)
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		// Common case: 'example.com/path' -> 'http://example.com/path'
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	parsed.Scheme = lowerASCII(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	parsed.Host = lowerASCII(parsed.Host)
	if parsed.Host == "" {
		return "", false
	}

	// Remove default port if present
	if host, port := parsed.Hostname(), parsed.Port(); port != "" {
		if (parsed.Scheme == "http" && port == "80") ||
			(parsed.Scheme == "https" && port == "443") {
			parsed.Host = host
		}
	}

	// Collapse trailing slashes (except root)
	if len(parsed.Path) > 1 {
		parsed.Path = stripTrailingSlash(parsed.Path)
	}

	// Remove fragment (anchor)
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String(), true
}

// ExtractDomain returns the registered domain (eTLD+1) of a URL. All
// per-host crawler state is keyed by this value, not the full hostname.
// Returns "" when no domain can be derived.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := lowerASCII(parsed.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// IP literals and bare hostnames have no public suffix; fall back
		// to the hostname itself so per-domain state still has a key.
		return host
	}
	return domain
}

// IsNonTextURL reports whether the URL's path extension is in the
// binary/media deny-list.
func IsNonTextURL(rawURL string) bool {
	// Path component only, ignoring query string and fragment
	path := rawURL
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path = path[:idx]
	}
	if idx := strings.Index(path, "://"); idx != -1 {
		path = path[idx+3:]
		if slash := strings.Index(path, "/"); slash != -1 {
			path = path[slash:]
		} else {
			path = ""
		}
	}
	path = strings.TrimRight(path, "/")
	lastPart := path
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		lastPart = path[idx+1:]
	}
	dot := strings.LastIndex(lastPart, ".")
	if dot == -1 {
		return false
	}
	ext := strings.ToLower(lastPart[dot:])
	_, denied := nonTextExtensions[ext]
	return denied
}

// TooLong reports whether the URL exceeds MaxURLLength bytes.
func TooLong(rawURL string) bool {
	return len(rawURL) > MaxURLLength
}

// lowerASCII converts ASCII characters to lowercase without allocating
// when the input is already lowercase.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
