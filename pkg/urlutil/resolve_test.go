package urlutil_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/pkg/urlutil"
)

func TestResolveAgainst(t *testing.T) {
	base, err := url.Parse("http://example.com/docs/guide")
	require.NoError(t, err)

	tests := []struct {
		name     string
		href     string
		expected string
		ok       bool
	}{
		{name: "relative sibling", href: "intro", expected: "http://example.com/docs/intro", ok: true},
		{name: "rooted path", href: "/about", expected: "http://example.com/about", ok: true},
		{name: "absolute url", href: "https://other.org/x", expected: "https://other.org/x", ok: true},
		{name: "parent traversal", href: "../index", expected: "http://example.com/index", ok: true},
		{name: "fragment only resolves to base", href: "#section", expected: "http://example.com/docs/guide", ok: true},
		{name: "mailto rejected", href: "mailto:a@b.c", ok: false},
		{name: "javascript rejected", href: "javascript:void(0)", ok: false},
		{name: "empty rejected", href: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := urlutil.ResolveAgainst(base, tt.href)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}
