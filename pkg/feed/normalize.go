package feed

import (
	"crypto/sha256"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/umputun/secfeed/pkg/cache"
	"github.com/umputun/secfeed/pkg/registry"
)

// maxDescriptionLen caps normalized item descriptions
const maxDescriptionLen = 300

// classifyTTL is the cache lifetime for classification results; identical
// text always classifies the same, the TTL just bounds memory
const classifyTTL = 24 * time.Hour

// stripPolicy removes all HTML from text fields, feeds often embed markup
var stripPolicy = bluemonday.StrictPolicy()

// Normalizer converts raw parsed records into canonical items, filling
// required fields with deterministic defaults
type Normalizer struct {
	nowFn func() time.Time
	store *cache.Store
}

// NewNormalizer creates a normalizer using wall-clock time for items
// lacking a parseable date
func NewNormalizer() *Normalizer {
	return &Normalizer{nowFn: time.Now}
}

// NewCachedNormalizer creates a normalizer that caches classification
// results by content hash, a re-fetch of unchanged items skips the scan
func NewCachedNormalizer(store *cache.Store) *Normalizer {
	return &Normalizer{nowFn: time.Now, store: store}
}

// Normalize maps a raw item from any parser into the canonical shape.
// The id is stable across repeated fetches of the same underlying record:
// it comes from the source guid when present, otherwise from a hash of
// source, title and link.
func (n *Normalizer) Normalize(raw RawItem, src registry.Source) Item {
	title := CleanText(raw.Title)
	if title == "" {
		title = "Untitled advisory"
	}

	description := Truncate(CleanText(raw.Description), maxDescriptionLen)

	link := strings.TrimSpace(raw.Link)
	if link == "" {
		link = src.URL
	}

	id := raw.GUID
	if id == "" {
		h := sha256.Sum256([]byte(src.ID + "|" + title + "|" + link))
		id = fmt.Sprintf("%s-%x", src.ID, h[:8])
	}

	date := raw.Date
	if date.IsZero() {
		date = n.nowFn()
	}

	cls := n.classify(title + " " + description)

	return Item{
		ID:          id,
		Title:       title,
		Description: description,
		Link:        link,
		Date:        date,
		Source:      src.Name,
		Category:    src.Category,
		Severity:    cls.Severity,
		CVE:         cls.CVE,
		Tags:        cls.Tags,
	}
}

// classify runs Classify through the classification cache when one is set
func (n *Normalizer) classify(text string) Classification {
	if n.store == nil {
		return Classify(text)
	}
	key := cache.ClassifyKey(text)
	if cls, ok := cache.Get[Classification](n.store, key); ok {
		return cls
	}
	cls := Classify(text)
	cache.Set(n.store, key, cls, classifyTTL)
	return cls
}

// NormalizeAll maps a batch of raw items for one source
func (n *Normalizer) NormalizeAll(raws []RawItem, src registry.Source) []Item {
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		items = append(items, n.Normalize(raw, src))
	}
	return items
}

// Deduplicate drops near-duplicates from a concatenated aggregate list.
// The key is the lowercased title truncated to 50 chars plus the source;
// the first occurrence wins. Duplicates typically come from the same
// source re-announcing the same advisory, so a cheap O(n) heuristic is
// enough, no content hashing.
func Deduplicate(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		key := Truncate(strings.ToLower(item.Title), 50) + "|" + item.Source
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// SortByDate orders items most recent first
func SortByDate(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date.After(items[j].Date) })
}

// CleanText strips HTML tags and entities and collapses whitespace
func CleanText(s string) string {
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate limits s to n characters, rune-safe
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
