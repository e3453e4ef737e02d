package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Generator creates an RSS 2.0 re-publication of the aggregated advisory stream
type Generator struct {
	baseURL string
}

// NewGenerator creates a new feed generator
func NewGenerator(baseURL string) *Generator {
	return &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GenerateRSS creates an RSS 2.0 feed from normalized advisory items,
// optionally scoped to one category
func (g *Generator) GenerateRSS(items []Item, category string) (string, error) {
	title := "Secfeed - All Advisories"
	selfLink := g.baseURL + "/rss"
	if category != "" {
		title = fmt.Sprintf("Secfeed - %s", category)
		selfLink = fmt.Sprintf("%s/rss/%s", g.baseURL, category)
	}

	rssItems := make([]*RSSItem, 0, len(items))
	for _, item := range items {
		rssItems = append(rssItems, g.convertToRSSItem(item))
	}

	feed := &RSS{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		Channel: &RSSChannel{
			Title:         title,
			Link:          g.baseURL + "/",
			Description:   "Aggregated security advisories",
			AtomLink:      &AtomLink{Href: selfLink, Rel: "self", Type: "application/rss+xml"},
			LastBuildDate: time.Now().Format(time.RFC1123Z),
			Items:         rssItems,
		},
	}

	output, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal RSS: %w", err)
	}

	return xml.Header + string(output), nil
}

// convertToRSSItem converts a normalized advisory item to an RSS item
func (g *Generator) convertToRSSItem(item Item) *RSSItem {
	title := item.Title
	if item.Severity != "" {
		title = fmt.Sprintf("[%s] %s", item.Severity, item.Title)
	}

	desc := item.Description
	if item.CVE != "" {
		desc = fmt.Sprintf("%s (%s)", desc, item.CVE)
	}

	categories := []string{item.Category}
	categories = append(categories, item.Tags...)

	return &RSSItem{
		Title:       title,
		Link:        item.Link,
		GUID:        item.ID,
		Description: desc,
		PubDate:     item.Date.Format(time.RFC1123Z),
		Categories:  categories,
	}
}
