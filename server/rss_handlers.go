package server

import (
	"net/http"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/secfeed/pkg/feed"
)

// rssHandler re-publishes the aggregated advisory stream as RSS 2.0.
// Supports both /rss/{category} and /rss?category=... patterns.
func (s *Server) rssHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := r.PathValue("category")
	if category == "" {
		category = r.URL.Query().Get("category")
	}

	var items []feed.Item
	if category != "" {
		items = s.aggregator.FetchByCategory(ctx, category)
	} else {
		items = s.aggregator.FetchAll(ctx)
	}

	generator := feed.NewGenerator(s.config.BaseURL())
	rss, err := generator.GenerateRSS(items, category)
	if err != nil {
		lgr.Printf("[ERROR] failed to generate RSS feed: %v", err)
		http.Error(w, "Failed to generate RSS feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(rss)); err != nil {
		lgr.Printf("[ERROR] failed to write RSS response: %v", err)
	}
}
