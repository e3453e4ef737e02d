package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/umputun/secfeed/pkg/cache"
	"github.com/umputun/secfeed/pkg/feed"
	"github.com/umputun/secfeed/pkg/registry"
)

func TestScheduler_RunsImmediatePriorityRefresh(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(rssFiveItems)) //nolint:errcheck // test server
	}))
	defer ts.Close()

	src := rssSource("src-a", ts.URL)
	f := newTestFetcher(t, registry.New([]registry.Source{src}), nil)

	sched := NewScheduler(f, SchedulerConfig{PriorityInterval: time.Hour, FullInterval: time.Hour})
	sched.Start(context.Background())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond, "priority-1 sources refreshed on startup without waiting a tick")

	sched.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_TicksRefetchAfterExpiry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(rssFiveItems)) //nolint:errcheck // test server
	}))
	defer ts.Close()

	src := rssSource("src-a", ts.URL)
	src.RefreshInterval = time.Millisecond // near-immediate expiry so every tick fetches

	f := newTestFetcher(t, registry.New([]registry.Source{src}), nil)

	sched := NewScheduler(f, SchedulerConfig{PriorityInterval: 20 * time.Millisecond, FullInterval: time.Hour})
	sched.Start(context.Background())
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, 3*time.Second, 10*time.Millisecond, "ticker drives repeated refreshes once the cache entry expires")
}

func TestScheduler_TicksSkipFreshCache(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(rssFiveItems)) //nolint:errcheck // test server
	}))
	defer ts.Close()

	src := rssSource("src-a", ts.URL) // 30m refresh interval, stays fresh for the whole test
	f := newTestFetcher(t, registry.New([]registry.Source{src}), nil)

	sched := NewScheduler(f, SchedulerConfig{PriorityInterval: 20 * time.Millisecond, FullInterval: time.Hour})
	sched.Start(context.Background())

	time.Sleep(150 * time.Millisecond)
	sched.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "ticks against a fresh cache entry cost no network calls")
}

func TestScheduler_StopBeforeTick(t *testing.T) {
	f := New(Config{
		Registry:   registry.New(nil),
		Cache:      cache.NewStore(cache.Options{}),
		Dispatcher: feed.NewDispatcher(),
	})

	sched := NewScheduler(f, SchedulerConfig{})
	sched.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
