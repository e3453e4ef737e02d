package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeedsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFeedsFile(t, `[
		{"id": "cisa", "name": "CISA Advisories", "url": "https://example.com/cisa.xml", "type": "RSS", "source_type": "government"},
		{"id": "vendor-blog", "url": "https://example.com/blog.xml", "type": "RSS", "source_type": "vendor", "category": "advisories"},
		{"id": "kev", "url": "https://example.com/kev.json", "type": "JSON", "source_type": "government", "parser": "kev", "refresh_interval_ms": 900000},
		{"id": "private-api", "url": "https://example.com/api", "type": "API", "source_type": "research", "api_key_required": true}
	]`)

	r := Load(path)
	require.Len(t, r.All(), 4)

	cisa, ok := r.Get("cisa")
	require.True(t, ok)
	assert.Equal(t, "CISA Advisories", cisa.Name)
	assert.Equal(t, FormatRSS, cisa.Format)
	assert.Equal(t, 1, cisa.Priority, "government defaults to priority 1")
	assert.Equal(t, "government", cisa.Category, "category defaults to source_type")
	assert.Equal(t, 30*time.Minute, cisa.RefreshInterval)

	blog, ok := r.Get("vendor-blog")
	require.True(t, ok)
	assert.Equal(t, "vendor-blog", blog.Name, "name defaults to id")
	assert.Equal(t, 2, blog.Priority, "vendor defaults to priority 2")
	assert.Equal(t, "advisories", blog.Category)
	assert.Equal(t, time.Hour, blog.RefreshInterval)

	kev, ok := r.Get("kev")
	require.True(t, ok)
	assert.Equal(t, "kev", kev.Parser)
	assert.Equal(t, 15*time.Minute, kev.RefreshInterval)

	api, ok := r.Get("private-api")
	require.True(t, ok)
	assert.True(t, api.APIKeyRequired)
}

func TestLoad_SkipsMalformedEntries(t *testing.T) {
	path := writeFeedsFile(t, `[
		{"id": "good", "url": "https://example.com/feed.xml", "type": "RSS", "source_type": "news"},
		{"id": "", "url": "https://example.com/nameless.xml", "type": "RSS"},
		{"id": "no-url", "type": "RSS"},
		{"id": "bad-type", "url": "https://example.com/x", "type": "CARRIER-PIGEON"},
		{"id": "bad-priority", "url": "https://example.com/y", "type": "RSS", "priority": 7}
	]`)

	r := Load(path)
	require.Len(t, r.All(), 1, "malformed entries skipped individually, not fatal")
	_, ok := r.Get("good")
	assert.True(t, ok)
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		r := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.NotEmpty(t, r.All(), "built-in defaults keep the system non-empty")
	})

	t.Run("invalid json", func(t *testing.T) {
		r := Load(writeFeedsFile(t, "{not json"))
		assert.NotEmpty(t, r.All())
	})

	t.Run("all entries malformed", func(t *testing.T) {
		r := Load(writeFeedsFile(t, `[{"id": ""}]`))
		assert.NotEmpty(t, r.All())
	})
}

func TestNew_DuplicateIDs(t *testing.T) {
	r := New([]Source{
		{ID: "dup", Name: "first", URL: "https://example.com/1", Format: FormatRSS, Priority: 2, RefreshInterval: time.Hour},
		{ID: "dup", Name: "second", URL: "https://example.com/2", Format: FormatRSS, Priority: 2, RefreshInterval: time.Hour},
	})

	require.Len(t, r.All(), 1)
	src, ok := r.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "first", src.Name, "first occurrence wins")
}

func TestNew_ClampsPriority1Interval(t *testing.T) {
	r := New([]Source{
		{ID: "slow-p1", URL: "https://example.com/f", Format: FormatRSS, Priority: 1, RefreshInterval: 4 * time.Hour},
	})

	src, ok := r.Get("slow-p1")
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, src.RefreshInterval)
}

func TestRegistry_Filters(t *testing.T) {
	r := New([]Source{
		{ID: "a", URL: "u", Format: FormatRSS, Category: "government", Priority: 1, RefreshInterval: time.Minute},
		{ID: "b", URL: "u", Format: FormatRSS, Category: "news", Priority: 3, RefreshInterval: time.Minute},
		{ID: "c", URL: "u", Format: FormatJSON, Category: "government", Priority: 2, RefreshInterval: time.Minute},
	})

	assert.Len(t, r.ByCategory("government"), 2)
	assert.Len(t, r.ByCategory("news"), 1)
	assert.Empty(t, r.ByCategory("unknown"))

	assert.Len(t, r.ByPriority(1), 1)
	assert.Len(t, r.ByPriority(2), 1)
	assert.Empty(t, r.ByPriority(9))

	assert.Equal(t, []string{"government", "news"}, r.Categories())
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, 1, defaultPriority("government"))
	assert.Equal(t, 1, defaultPriority("specialized"))
	assert.Equal(t, 2, defaultPriority("vendor"))
	assert.Equal(t, 2, defaultPriority("research"))
	assert.Equal(t, 2, defaultPriority("something-else"))
	assert.Equal(t, 3, defaultPriority("news"))
	assert.Equal(t, 3, defaultPriority("community"))
}
