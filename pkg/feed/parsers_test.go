package feed

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/secfeed/pkg/registry"
)

func rssPayload(itemCount int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Advisories</title>`)
	for i := 0; i < itemCount; i++ {
		fmt.Fprintf(&b, `<item>
			<title>Advisory %d</title>
			<link>https://example.com/advisory/%d</link>
			<guid>adv-%d</guid>
			<description>Details for advisory %d</description>
			<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
		</item>`, i, i, i, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func TestDispatcher_ParseRSS(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "rss-src", Format: registry.FormatRSS}

	items, err := d.Parse([]byte(rssPayload(3)), src)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Advisory 0", items[0].Title)
	assert.Equal(t, "https://example.com/advisory/0", items[0].Link)
	assert.Equal(t, "adv-0", items[0].GUID)
	assert.Equal(t, "Details for advisory 0", items[0].Description)
	assert.False(t, items[0].Date.IsZero())
}

func TestDispatcher_RSSItemCap(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "busy", Format: registry.FormatRSS}

	items, err := d.Parse([]byte(rssPayload(35)), src)
	require.NoError(t, err)
	assert.Len(t, items, maxItemsPerFetch, "first 20 items kept, feeds are newest-first")
	assert.Equal(t, "Advisory 0", items[0].Title)
}

func TestDispatcher_ParseJSONGeneric(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "json-src", Format: registry.FormatJSON}

	t.Run("top-level array", func(t *testing.T) {
		payload := `[
			{"id": "a-1", "title": "First", "url": "https://example.com/1", "published": "2026-02-01T10:00:00Z"},
			{"guid": "a-2", "name": "Second", "link": "https://example.com/2", "date": "2026-02-02"}
		]`
		items, err := d.Parse([]byte(payload), src)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "a-1", items[0].GUID)
		assert.Equal(t, "First", items[0].Title)
		assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), items[0].Date)
		assert.Equal(t, "Second", items[1].Title, "alias field names map to canonical fields")
	})

	t.Run("wrapped collection", func(t *testing.T) {
		payload := `{"advisories": [{"id": "w-1", "title": "Wrapped", "url": "https://example.com/w"}]}`
		items, err := d.Parse([]byte(payload), src)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Wrapped", items[0].Title)
	})

	t.Run("unusable payload", func(t *testing.T) {
		_, err := d.Parse([]byte(`{"nothing": "here"}`), src)
		assert.Error(t, err)
	})

	t.Run("not json at all", func(t *testing.T) {
		_, err := d.Parse([]byte("<html>oops</html>"), src)
		assert.Error(t, err)
	})
}

func TestDispatcher_ParseKEV(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "kev", Format: registry.FormatJSON, Parser: "kev"}

	payload := `{
		"title": "Known Exploited Vulnerabilities Catalog",
		"catalogVersion": "2026.02.01",
		"vulnerabilities": [
			{
				"cveID": "CVE-2025-0001",
				"vendorProject": "ExampleCorp",
				"product": "Widget",
				"vulnerabilityName": "Widget RCE",
				"dateAdded": "2026-01-15",
				"shortDescription": "Remote code execution in Widget.",
				"requiredAction": "Apply vendor patch.",
				"knownRansomwareCampaignUse": "Known"
			},
			{
				"cveID": "CVE-2025-0002",
				"vulnerabilityName": "Gadget bypass",
				"dateAdded": "2026-01-20",
				"shortDescription": "Authentication bypass."
			}
		]
	}`

	items, err := d.Parse([]byte(payload), src)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// catalog order is oldest-first, parser reverses to newest-first
	assert.Equal(t, "CVE-2025-0002", items[0].GUID)
	assert.Equal(t, "CVE-2025-0002: Gadget bypass", items[0].Title)

	assert.Equal(t, "CVE-2025-0001", items[1].GUID)
	assert.Contains(t, items[1].Description, "Required action: Apply vendor patch.")
	assert.Contains(t, items[1].Description, "Known ransomware campaign use.")
	assert.Equal(t, "https://nvd.nist.gov/vuln/detail/CVE-2025-0001", items[1].Link)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), items[1].Date)
}

func TestDispatcher_ParseCVERecords(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "cna", Format: registry.FormatAPI, Parser: "cve-record"}

	single := `{
		"cveMetadata": {"cveId": "CVE-2025-1234", "datePublished": "2026-02-10T08:00:00Z"},
		"containers": {"cna": {
			"title": "Buffer overflow in parser",
			"descriptions": [{"lang": "en", "value": "A crafted payload overflows the parse buffer."}],
			"references": [{"url": "https://example.com/ref"}]
		}}
	}`

	items, err := d.Parse([]byte(single), src)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "CVE-2025-1234", items[0].GUID)
	assert.Equal(t, "CVE-2025-1234: Buffer overflow in parser", items[0].Title)
	assert.Equal(t, "A crafted payload overflows the parse buffer.", items[0].Description)
	assert.Equal(t, "https://example.com/ref", items[0].Link)

	// array form works too
	items, err = d.Parse([]byte("["+single+"]"), src)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDispatcher_ParseText(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "txt", Format: registry.FormatText}

	payload := "# comment line\nCVE-2025-1111 exploited in the wild\n\nNew phishing campaign observed\n"
	items, err := d.Parse([]byte(payload), src)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "CVE-2025-1111 exploited in the wild", items[0].Title)
	assert.Equal(t, "New phishing campaign observed", items[1].Title)
}

func TestDispatcher_ParseTAXII(t *testing.T) {
	d := NewDispatcher()
	src := registry.Source{ID: "taxii", Format: registry.FormatTAXII}

	payload := `{"objects": [
		{
			"id": "indicator--abc",
			"name": "Malicious domain indicator",
			"description": "Domain used in phishing campaign",
			"created": "2026-02-05T00:00:00Z",
			"external_references": [{"url": "https://example.com/stix"}]
		}
	]}`

	items, err := d.Parse([]byte(payload), src)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "indicator--abc", items[0].GUID)
	assert.Equal(t, "Malicious domain indicator", items[0].Title)
	assert.Equal(t, "https://example.com/stix", items[0].Link)
}

func TestDispatcher_FallbackForUnknownParser(t *testing.T) {
	d := NewDispatcher()
	// parser id nobody registered falls back to the generic parser for the format
	src := registry.Source{ID: "custom", Format: registry.FormatJSON, Parser: "bespoke-shape"}

	items, err := d.Parse([]byte(`[{"id": "x", "title": "Generic wins"}]`), src)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Generic wins", items[0].Title)
}

func TestDispatcher_ParserPanicContained(t *testing.T) {
	d := NewDispatcher()
	d.Register(registry.FormatJSON, "boom", func(_ []byte, _ registry.Source) ([]RawItem, error) {
		panic("parser bug")
	})

	src := registry.Source{ID: "boom-src", Format: registry.FormatJSON, Parser: "boom"}
	items, err := d.Parse([]byte("{}"), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Nil(t, items)
}

func TestParseAnyDate(t *testing.T) {
	assert.Equal(t, time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC), parseAnyDate("2026-02-01T10:30:00Z"))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), parseAnyDate("2026-02-01"))
	assert.False(t, parseAnyDate("Mon, 02 Jan 2006 15:04:05 -0700").IsZero())
	assert.True(t, parseAnyDate("not a date").IsZero())
	assert.True(t, parseAnyDate("").IsZero())
}
