package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// Store is a bounded in-memory key/value cache with per-entry TTL,
// LRU-weighted eviction, optional gzip compression and usage statistics.
// All accounting (total size, entry count, counters) is guarded by a single
// mutex; concurrent access on distinct keys is safe.
type Store struct {
	opts Options

	mu        sync.Mutex
	entries   map[string]*entry
	totalSize int64
	hits      int64
	misses    int64
	evictions int64
	rawBytes  int64 // uncompressed size of compressed entries
	gzBytes   int64 // stored size of compressed entries

	nowFn func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures cache limits and behavior. Zero values get sane defaults.
type Options struct {
	MaxEntries          int           // entry-count cap, default 500
	MaxSizeBytes        int64         // byte-size cap over stored payloads, default 50MB
	SweepInterval       time.Duration // background expiry sweep cadence, default 5m
	Compression         bool          // gzip payloads above CompressionMinBytes
	CompressionMinBytes int           // compression threshold, default 1KB
	AccessWeight        time.Duration // eviction score bonus per recorded access, default 1s
}

// Stats is a point-in-time snapshot of cache usage
type Stats struct {
	TotalEntries     int     `json:"total_entries"`
	TotalSize        int64   `json:"total_size"`
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	MissRate         float64 `json:"miss_rate"`
	EvictionCount    int64   `json:"eviction_count"`
	CompressionRatio float64 `json:"compression_ratio"`
}

type entry struct {
	key            string
	payload        []byte
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
	compressed     bool
	sizeBytes      int64
	rawSize        int64
}

// NewStore creates a cache with the given options
func NewStore(opts Options) *Store {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = 500
	}
	if opts.MaxSizeBytes == 0 {
		opts.MaxSizeBytes = 50 * 1024 * 1024
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.CompressionMinBytes == 0 {
		opts.CompressionMinBytes = 1024
	}
	if opts.AccessWeight == 0 {
		opts.AccessWeight = time.Second
	}

	return &Store{
		opts:    opts,
		entries: make(map[string]*entry),
		nowFn:   time.Now,
	}
}

// Start launches the background sweep removing expired entries that are never
// re-read. The sweep stops when ctx is canceled or Stop is called.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.sweep(); removed > 0 {
					lgr.Printf("[DEBUG] cache sweep removed %d expired entries", removed)
				}
			}
		}
	}()
}

// Stop terminates the background sweep and waits for it to finish
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// GetBytes returns the raw payload for key if a live entry exists. Expired
// entries are treated as absent and removed as a side effect. Every call
// updates the global hit/miss counters.
func (s *Store) GetBytes(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	now := s.nowFn()
	if now.Sub(e.createdAt) > e.ttl {
		s.removeNoCount(e)
		s.misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	s.hits++

	payload := e.payload
	if e.compressed {
		raw, err := gunzip(payload)
		if err != nil {
			// corrupt entry, drop it
			lgr.Printf("[WARN] cache entry %s failed to decompress, dropping: %v", key, err)
			s.removeNoCount(e)
			return nil, false
		}
		payload = raw
	}
	return payload, true
}

// SetBytes stores payload under key with the given ttl, compressing large
// payloads when compression is enabled. Capacity limits are enforced by
// evicting before insert, so the caps hold at every point in time. Returns
// false only when the payload can never fit.
func (s *Store) SetBytes(key string, payload []byte, ttl time.Duration) bool {
	stored := payload
	compressed := false
	if s.opts.Compression && len(payload) >= s.opts.CompressionMinBytes {
		if gz, err := gzipBytes(payload); err == nil && len(gz) < len(payload) {
			stored = gz
			compressed = true
		}
	}

	size := int64(len(stored))
	if size > s.opts.MaxSizeBytes {
		lgr.Printf("[WARN] cache rejects %s: payload %d bytes exceeds cache capacity %d", key, size, s.opts.MaxSizeBytes)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// replace existing entry wholesale
	if old, ok := s.entries[key]; ok {
		s.removeNoCount(old)
	}

	s.evictLocked(size)

	now := s.nowFn()
	e := &entry{
		key:            key,
		payload:        stored,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
		compressed:     compressed,
		sizeBytes:      size,
		rawSize:        int64(len(payload)),
	}
	s.entries[key] = e
	s.totalSize += size
	if compressed {
		s.rawBytes += e.rawSize
		s.gzBytes += size
	}
	return true
}

// Delete removes an entry, reporting whether it existed
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeNoCount(e)
	return true
}

// Clear drops all entries and resets size accounting, leaving hit/miss and
// eviction counters intact
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.totalSize = 0
	s.rawBytes = 0
	s.gzBytes = 0
}

// Stats returns a snapshot of cache usage counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalEntries:  len(s.entries),
		TotalSize:     s.totalSize,
		Hits:          s.hits,
		Misses:        s.misses,
		EvictionCount: s.evictions,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
		st.MissRate = float64(s.misses) / float64(total)
	}
	if s.rawBytes > 0 {
		st.CompressionRatio = float64(s.gzBytes) / float64(s.rawBytes)
	}
	return st
}

// Len returns the number of live and expired-but-unswept entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked makes room for an insert of needBytes. Candidates are ranked by
// an LRU-weighted score (last access time plus a bonus per recorded access)
// and removed lowest-score first. On an entry-count hit the cache frees half
// its capacity in one pass rather than thrashing one slot at a time.
func (s *Store) evictLocked(needBytes int64) {
	overCount := len(s.entries)+1 > s.opts.MaxEntries
	overSize := s.totalSize+needBytes > s.opts.MaxSizeBytes
	if !overCount && !overSize {
		return
	}

	type scored struct {
		e     *entry
		score int64
	}
	candidates := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		score := e.lastAccessedAt.UnixMilli() + e.accessCount*s.opts.AccessWeight.Milliseconds()
		candidates = append(candidates, scored{e: e, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	targetCount := s.opts.MaxEntries
	if overCount {
		targetCount = s.opts.MaxEntries / 2
	}

	for _, c := range candidates {
		if len(s.entries) <= targetCount && s.totalSize+needBytes <= s.opts.MaxSizeBytes {
			break
		}
		s.removeLocked(c.e)
	}
}

// sweep removes all expired entries, returning the number removed
func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	removed := 0
	for _, e := range s.entries {
		if now.Sub(e.createdAt) > e.ttl {
			s.removeNoCount(e)
			removed++
		}
	}
	return removed
}

// removeLocked drops an entry and counts it as an eviction
func (s *Store) removeLocked(e *entry) {
	s.removeNoCount(e)
	s.evictions++
}

// removeNoCount drops an entry without touching the eviction counter,
// used for expiry, explicit deletes and replacements
func (s *Store) removeNoCount(e *entry) {
	delete(s.entries, e.key)
	s.totalSize -= e.sizeBytes
	if e.compressed {
		s.rawBytes -= e.rawSize
		s.gzBytes -= e.sizeBytes
	}
}

// Get retrieves and decodes a typed value stored with Set
func Get[T any](s *Store, key string) (T, bool) {
	var v T
	raw, ok := s.GetBytes(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		lgr.Printf("[WARN] cache entry %s failed to decode: %v", key, err)
		s.Delete(key)
		return v, false
	}
	return v, true
}

// Set encodes and stores a typed value under key with the given ttl
func Set[T any](s *Store, key string, v T, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		lgr.Printf("[WARN] cache refuses %s: value not serializable: %v", key, err)
		return false
	}
	return s.SetBytes(key, raw, ttl)
}

// FeedKey is the cache key for a source's raw item list
func FeedKey(sourceID string) string {
	return "feed:" + sourceID
}

// FilterKey derives a stable cache key from normalized filter parameters.
// Filtered views churn faster than raw source data, so callers pair this
// with a short TTL.
func FilterKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("filter:%x", h[:8])
}

// ClassifyKey derives a cache key from content; classification of identical
// text is stable, so entries under this scheme carry a long TTL
func ClassifyKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("classify:%x", h[:8])
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
