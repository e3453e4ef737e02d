package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/secfeed/pkg/cache"
	"github.com/umputun/secfeed/pkg/feed"
	"github.com/umputun/secfeed/pkg/registry"
)

// Dispatcher turns raw fetched bytes into raw items for a source
type Dispatcher interface {
	Parse(raw []byte, src registry.Source) ([]feed.RawItem, error)
}

// Fetcher performs per-source feed refreshes gated by cache freshness,
// isolating each source's failures from its siblings. Transport failures
// fall back to the last successfully fetched items rather than going empty,
// and every attempt updates the health tracker.
type Fetcher struct {
	registry   *registry.Registry
	cache      *cache.Store
	dispatcher Dispatcher
	normalizer *feed.Normalizer
	health     *HealthTracker

	client   *http.Client
	proxyURL string
	apiKeys  map[string]string

	maxWorkers      int
	filterTTL       time.Duration
	minHostInterval time.Duration

	hostMu      sync.Mutex
	lastRequest map[string]time.Time

	staleMu  sync.RWMutex
	lastGood map[string][]feed.Item
}

// Config holds fetcher configuration. Zero values get sane defaults.
type Config struct {
	Registry   *registry.Registry
	Cache      *cache.Store
	Dispatcher Dispatcher
	Health     *HealthTracker

	Timeout         time.Duration     // per-fetch transport budget, default 30s
	ProxyURL        string            // optional relay, fetches go direct when empty
	APIKeys         map[string]string // source id -> credential
	MaxWorkers      int               // bounded fan-out for aggregate calls, default 5
	FilterTTL       time.Duration     // ttl for cached filtered views, default 2m
	MinHostInterval time.Duration     // minimum spacing between requests to one host, default 1s
}

// New creates a fetcher with the given configuration
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 5
	}
	if cfg.FilterTTL == 0 {
		cfg.FilterTTL = 2 * time.Minute
	}
	if cfg.MinHostInterval == 0 {
		cfg.MinHostInterval = time.Second
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthTracker()
	}

	return &Fetcher{
		registry:   cfg.Registry,
		cache:      cfg.Cache,
		dispatcher: cfg.Dispatcher,
		normalizer: feed.NewCachedNormalizer(cfg.Cache),
		health:     cfg.Health,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		proxyURL:        cfg.ProxyURL,
		apiKeys:         cfg.APIKeys,
		maxWorkers:      cfg.MaxWorkers,
		filterTTL:       cfg.FilterTTL,
		minHostInterval: cfg.MinHostInterval,
		lastRequest:     make(map[string]time.Time),
		lastGood:        make(map[string][]feed.Item),
	}
}

// Health returns the tracker observing this fetcher's outcomes
func (f *Fetcher) Health() *HealthTracker {
	return f.health
}

// FetchOne returns normalized items for a single source. A live cache entry
// short-circuits the network entirely; that is the sole freshness gate, so two
// concurrent calls before the cache is populated may both fetch. Writes are
// idempotent replacements, so the duplicate work is harmless.
func (f *Fetcher) FetchOne(ctx context.Context, src registry.Source) []feed.Item {
	key := cache.FeedKey(src.ID)
	if items, ok := cache.Get[[]feed.Item](f.cache, key); ok {
		return items
	}

	if src.APIKeyRequired && f.apiKeys[src.ID] == "" {
		// intentionally skipped, never a failure and never blocks other sources
		lgr.Printf("[DEBUG] skipping %s: requires api key and none configured", src.ID)
		return nil
	}

	raw, err := f.fetch(ctx, src)
	if err != nil {
		lgr.Printf("[WARN] fetch failed for %s: %v", src.ID, err)
		f.health.RecordFailure(src.ID)
		// stale-but-present beats empty when the origin is down
		return f.stale(src.ID)
	}

	raws, err := f.dispatcher.Parse(raw, src)
	if err != nil {
		// one source's malformed payload must never abort the others
		lgr.Printf("[WARN] parse failed for %s: %v", src.ID, err)
		f.health.RecordFailure(src.ID)
		return nil
	}

	items := f.normalizer.NormalizeAll(raws, src)

	cache.Set(f.cache, key, items, src.RefreshInterval)
	f.staleMu.Lock()
	f.lastGood[src.ID] = items
	f.staleMu.Unlock()
	f.health.RecordSuccess(src.ID, len(items))

	lgr.Printf("[INFO] fetched %d items from %s", len(items), src.ID)
	return items
}

// FetchByCategory fans FetchOne out over sources in the category. Partial
// failures don't fail the aggregate, results are deduplicated and sorted
// most recent first.
func (f *Fetcher) FetchByCategory(ctx context.Context, category string) []feed.Item {
	return f.fetchAll(ctx, f.registry.ByCategory(category))
}

// FetchPriority1 refreshes all priority-1 sources
func (f *Fetcher) FetchPriority1(ctx context.Context) []feed.Item {
	return f.fetchAll(ctx, f.registry.ByPriority(1))
}

// FetchAll refreshes every registered source
func (f *Fetcher) FetchAll(ctx context.Context) []feed.Item {
	return f.fetchAll(ctx, f.registry.All())
}

// Filter selects items from the aggregate stream
type Filter struct {
	Category string
	Priority int
	Severity feed.Severity
}

// FilteredItems returns the aggregate stream narrowed by the filter, cached
// under a normalized parameter hash with a short TTL since filtered views
// churn faster than raw source data
func (f *Fetcher) FilteredItems(ctx context.Context, flt Filter) []feed.Item {
	key := cache.FilterKey(flt.Category, strconv.Itoa(flt.Priority), string(flt.Severity))
	if items, ok := cache.Get[[]feed.Item](f.cache, key); ok {
		return items
	}

	sources := f.registry.All()
	if flt.Category != "" {
		sources = f.registry.ByCategory(flt.Category)
	}
	if flt.Priority != 0 {
		filtered := sources[:0:0]
		for _, src := range sources {
			if src.Priority == flt.Priority {
				filtered = append(filtered, src)
			}
		}
		sources = filtered
	}

	items := f.fetchAll(ctx, sources)
	if flt.Severity != "" {
		matched := items[:0:0]
		for _, item := range items {
			if item.Severity == flt.Severity {
				matched = append(matched, item)
			}
		}
		items = matched
	}

	cache.Set(f.cache, key, items, f.filterTTL)
	return items
}

// fetchAll runs FetchOne over sources with bounded parallelism, then
// deduplicates and sorts the union. Slow or failing sources never delay the
// usable partial result beyond their own timeout.
func (f *Fetcher) fetchAll(ctx context.Context, sources []registry.Source) []feed.Item {
	if len(sources) == 0 {
		return nil
	}

	var mu sync.Mutex
	var all []feed.Item

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxWorkers)

	for _, src := range sources {
		g.Go(func() error {
			items := f.FetchOne(gctx, src)
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil // per-source failures already handled, aggregate never fails
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	all = feed.Deduplicate(all)
	feed.SortByDate(all)
	return all
}

// fetch performs one network retrieval, through the configured proxy relay
// when set, with per-hostname request spacing
func (f *Fetcher) fetch(ctx context.Context, src registry.Source) ([]byte, error) {
	target := src.URL
	if f.proxyURL != "" {
		target = f.proxyURL + "?url=" + url.QueryEscape(src.URL)
	}

	if err := f.waitForHost(ctx, src.URL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	addBrowserHeaders(req)
	if key := f.apiKeys[src.ID]; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	// the proxy relay reports upstream trouble as 400/500/502, all of them
	// transport failures from our side
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, src.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", src.URL, err)
	}
	return body, nil
}

// waitForHost enforces minimum spacing between requests to one destination
// host so aggregate fan-outs don't hammer a single origin. The spacing is
// keyed by the origin hostname even when requests route through the proxy.
func (f *Fetcher) waitForHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())

	f.hostMu.Lock()
	now := time.Now()
	next := f.lastRequest[host].Add(f.minHostInterval)
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	f.lastRequest[host] = now.Add(wait)
	f.hostMu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stale returns the last successfully fetched items for a source, if any
func (f *Fetcher) stale(sourceID string) []feed.Item {
	f.staleMu.RLock()
	defer f.staleMu.RUnlock()
	return f.lastGood[sourceID]
}
