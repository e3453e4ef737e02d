package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-pkgz/lgr"
)

// Format is the transport format of a feed source
type Format string

// known transport formats
const (
	FormatRSS   Format = "RSS"
	FormatJSON  Format = "JSON"
	FormatAPI   Format = "API"
	FormatText  Format = "TEXT"
	FormatTAXII Format = "TAXII"
)

// maxPriority1Interval caps refresh cadence for priority-1 sources
const maxPriority1Interval = 30 * time.Minute

// Source describes a configured advisory origin: where to fetch, how to parse,
// and how often to refresh. Sources are immutable after registry load.
type Source struct {
	ID              string
	Name            string
	URL             string
	Format          Format
	SourceType      string
	Category        string
	Priority        int
	RefreshInterval time.Duration
	Parser          string
	APIKeyRequired  bool
}

// Registry holds the ordered list of feed sources loaded at startup.
// Configuration changes require a process restart.
type Registry struct {
	sources []Source
	byID    map[string]Source
}

// sourceEntry is the wire shape of one entry in the feeds configuration document
type sourceEntry struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	URL               string `json:"url"`
	Type              string `json:"type"`
	SourceType        string `json:"source_type"`
	Category          string `json:"category"`
	Priority          int    `json:"priority"`
	RefreshIntervalMs int64  `json:"refresh_interval_ms"`
	Parser            string `json:"parser"`
	APIKeyRequired    bool   `json:"api_key_required"`
}

// Load reads the feeds configuration document from path. A missing or unreadable
// document is not fatal: the registry falls back to the built-in default list so
// the system degrades rather than goes empty. Malformed entries are skipped
// individually with a warning.
func Load(path string) *Registry {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from app config
	if err != nil {
		lgr.Printf("[WARN] failed to read feeds config %s, using built-in defaults: %v", path, err)
		return New(defaultSources())
	}

	var entries []sourceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		lgr.Printf("[WARN] failed to parse feeds config %s, using built-in defaults: %v", path, err)
		return New(defaultSources())
	}

	sources := make([]Source, 0, len(entries))
	for i, e := range entries {
		src, err := e.toSource()
		if err != nil {
			lgr.Printf("[WARN] skipping feeds config entry %d: %v", i, err)
			continue
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		lgr.Printf("[WARN] feeds config %s produced no usable sources, using built-in defaults", path)
		return New(defaultSources())
	}

	return New(sources)
}

// New builds a registry from an explicit source list, dropping duplicates by id
func New(sources []Source) *Registry {
	r := &Registry{byID: make(map[string]Source, len(sources))}
	for _, src := range sources {
		if _, ok := r.byID[src.ID]; ok {
			lgr.Printf("[WARN] duplicate source id %q, keeping first occurrence", src.ID)
			continue
		}
		if src.Priority == 1 && src.RefreshInterval > maxPriority1Interval {
			lgr.Printf("[WARN] source %q is priority 1, clamping refresh interval %v to %v",
				src.ID, src.RefreshInterval, maxPriority1Interval)
			src.RefreshInterval = maxPriority1Interval
		}
		r.byID[src.ID] = src
		r.sources = append(r.sources, src)
	}
	lgr.Printf("[INFO] source registry loaded with %d sources", len(r.sources))
	return r
}

// toSource validates a config entry and converts it to a Source,
// filling defaults for optional fields
func (e sourceEntry) toSource() (Source, error) {
	if e.ID == "" {
		return Source{}, fmt.Errorf("missing id")
	}
	if e.URL == "" {
		return Source{}, fmt.Errorf("source %q: missing url", e.ID)
	}

	format := Format(e.Type)
	switch format {
	case FormatRSS, FormatJSON, FormatAPI, FormatText, FormatTAXII:
	default:
		return Source{}, fmt.Errorf("source %q: unknown type %q", e.ID, e.Type)
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}

	priority := e.Priority
	if priority == 0 {
		priority = defaultPriority(e.SourceType)
	}
	if priority < 1 || priority > 3 {
		return Source{}, fmt.Errorf("source %q: priority %d out of range 1..3", e.ID, priority)
	}

	category := e.Category
	if category == "" {
		category = e.SourceType
	}

	interval := time.Duration(e.RefreshIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = defaultInterval(priority)
	}

	return Source{
		ID:              e.ID,
		Name:            name,
		URL:             e.URL,
		Format:          format,
		SourceType:      e.SourceType,
		Category:        category,
		Priority:        priority,
		RefreshInterval: interval,
		Parser:          e.Parser,
		APIKeyRequired:  e.APIKeyRequired,
	}, nil
}

// defaultPriority maps a source type to a refresh priority when the
// configuration document omits one
func defaultPriority(sourceType string) int {
	switch sourceType {
	case "government", "specialized":
		return 1
	case "news", "community":
		return 3
	default: // vendor, research and anything unrecognized
		return 2
	}
}

// defaultInterval picks a refresh cadence for sources that don't set one
func defaultInterval(priority int) time.Duration {
	switch priority {
	case 1:
		return 30 * time.Minute
	case 2:
		return time.Hour
	default:
		return 2 * time.Hour
	}
}

// All returns every registered source in load order
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// ByCategory returns sources matching the given category
func (r *Registry) ByCategory(category string) []Source {
	var out []Source
	for _, src := range r.sources {
		if src.Category == category {
			out = append(out, src)
		}
	}
	return out
}

// ByPriority returns sources matching the given priority level
func (r *Registry) ByPriority(priority int) []Source {
	var out []Source
	for _, src := range r.sources {
		if src.Priority == priority {
			out = append(out, src)
		}
	}
	return out
}

// Get returns a source by id
func (r *Registry) Get(id string) (Source, bool) {
	src, ok := r.byID[id]
	return src, ok
}

// Categories returns the distinct categories present in the registry, sorted
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	for _, src := range r.sources {
		seen[src.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// defaultSources is the built-in fallback list used when the feeds
// configuration document can't be loaded
func defaultSources() []Source {
	return []Source{
		{
			ID:              "cisa-advisories",
			Name:            "CISA Cybersecurity Advisories",
			URL:             "https://www.cisa.gov/cybersecurity-advisories/all.xml",
			Format:          FormatRSS,
			SourceType:      "government",
			Category:        "government",
			Priority:        1,
			RefreshInterval: 30 * time.Minute,
		},
		{
			ID:              "cisa-kev",
			Name:            "CISA Known Exploited Vulnerabilities",
			URL:             "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json",
			Format:          FormatJSON,
			SourceType:      "government",
			Category:        "government",
			Priority:        1,
			RefreshInterval: 30 * time.Minute,
			Parser:          "kev",
		},
		{
			ID:              "sans-isc",
			Name:            "SANS Internet Storm Center",
			URL:             "https://isc.sans.edu/rssfeed.xml",
			Format:          FormatRSS,
			SourceType:      "specialized",
			Category:        "specialized",
			Priority:        1,
			RefreshInterval: 30 * time.Minute,
		},
		{
			ID:              "msrc-updates",
			Name:            "Microsoft Security Response Center",
			URL:             "https://api.msrc.microsoft.com/update-guide/rss",
			Format:          FormatRSS,
			SourceType:      "vendor",
			Category:        "vendor",
			Priority:        2,
			RefreshInterval: time.Hour,
		},
		{
			ID:              "bleepingcomputer",
			Name:            "BleepingComputer",
			URL:             "https://www.bleepingcomputer.com/feed/",
			Format:          FormatRSS,
			SourceType:      "news",
			Category:        "news",
			Priority:        3,
			RefreshInterval: 2 * time.Hour,
		},
		{
			ID:              "hackernews-security",
			Name:            "The Hacker News",
			URL:             "https://feeds.feedburner.com/TheHackersNews",
			Format:          FormatRSS,
			SourceType:      "news",
			Category:        "news",
			Priority:        3,
			RefreshInterval: 2 * time.Hour,
		},
	}
}
