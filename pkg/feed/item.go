package feed

import (
	"time"
)

// Severity is the advisory severity level extracted from item text
type Severity string

// known severity levels, ordered most to least severe
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Item is the canonical advisory item shape produced by normalization.
// Date serializes as ISO-8601 when crossing a process boundary.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Date        time.Time `json:"date"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Severity    Severity  `json:"severity,omitempty"`
	CVE         string    `json:"cve,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// RawItem is what a parser produces before normalization. Fields may be
// empty; the normalizer fills required fields with deterministic defaults.
type RawItem struct {
	GUID        string
	Title       string
	Description string
	Link        string
	Date        time.Time // zero when the source date didn't parse
}
