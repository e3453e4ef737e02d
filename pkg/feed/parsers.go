package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/umputun/secfeed/pkg/registry"
)

// maxItemsPerFetch caps how many items a single source contributes per fetch.
// Feeds are wire-ordered newest first, so the cap keeps the most recent items.
const maxItemsPerFetch = 20

// ParseFunc turns raw fetched bytes into raw items for one source
type ParseFunc func(raw []byte, src registry.Source) ([]RawItem, error)

type parserKey struct {
	format registry.Format
	name   string
}

// Dispatcher is a closed registry mapping (transport format, parser id) to a
// parse function, with a generic-by-format fallback for unknown parser ids.
// Parse never panics past its boundary: parser failures come back as errors
// for the caller to log, with an empty result.
type Dispatcher struct {
	parsers   map[parserKey]ParseFunc
	fallbacks map[registry.Format]ParseFunc
}

// NewDispatcher builds a dispatcher with all built-in parsers registered
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		parsers:   make(map[parserKey]ParseFunc),
		fallbacks: make(map[registry.Format]ParseFunc),
	}

	d.fallbacks[registry.FormatRSS] = parseRSS
	d.fallbacks[registry.FormatJSON] = parseJSONGeneric
	d.fallbacks[registry.FormatAPI] = parseJSONGeneric
	d.fallbacks[registry.FormatText] = parseText
	d.fallbacks[registry.FormatTAXII] = parseTAXII

	d.Register(registry.FormatJSON, "kev", parseKEV)
	d.Register(registry.FormatAPI, "kev", parseKEV)
	d.Register(registry.FormatJSON, "cve-record", parseCVERecords)
	d.Register(registry.FormatAPI, "cve-record", parseCVERecords)

	return d
}

// Register adds or replaces a specialized parser for (format, name)
func (d *Dispatcher) Register(format registry.Format, name string, fn ParseFunc) {
	d.parsers[parserKey{format: format, name: name}] = fn
}

// Parse dispatches raw bytes to the parser registered for the source's
// transport format and parser id, falling back to the generic parser for the
// format. A panicking parser is converted to an error.
func (d *Dispatcher) Parse(raw []byte, src registry.Source) (items []RawItem, err error) {
	fn, ok := d.parsers[parserKey{format: src.Format, name: src.Parser}]
	if !ok {
		fn, ok = d.fallbacks[src.Format]
		if !ok {
			return nil, fmt.Errorf("no parser for format %s", src.Format)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("parser for %s panicked: %v", src.ID, r)
		}
	}()

	items, err = fn(raw, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.ID, err)
	}
	if len(items) > maxItemsPerFetch {
		items = items[:maxItemsPerFetch]
	}
	return items, nil
}

// parseRSS handles RSS and Atom payloads via gofeed
func parseRSS(raw []byte, _ registry.Source) ([]RawItem, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	items := make([]RawItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		item := RawItem{
			GUID:        it.GUID,
			Title:       it.Title,
			Description: it.Description,
			Link:        it.Link,
		}
		if it.PublishedParsed != nil {
			item.Date = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			item.Date = *it.UpdatedParsed
		}
		items = append(items, item)
	}
	return items, nil
}

// jsonRecord is a loosely-shaped object from a generic JSON feed; field
// names vary across sources so several aliases map to each canonical field
type jsonRecord struct {
	ID          string `json:"id"`
	GUID        string `json:"guid"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Details     string `json:"details"`
	Link        string `json:"link"`
	URL         string `json:"url"`
	Date        string `json:"date"`
	Published   string `json:"published"`
	CreatedAt   string `json:"created_at"`
	Modified    string `json:"modified"`
}

func (r jsonRecord) toRawItem() RawItem {
	item := RawItem{
		GUID:        firstNonEmpty(r.GUID, r.ID),
		Title:       firstNonEmpty(r.Title, r.Name, r.Summary),
		Description: firstNonEmpty(r.Description, r.Details, r.Summary),
		Link:        firstNonEmpty(r.Link, r.URL),
	}
	item.Date = parseAnyDate(firstNonEmpty(r.Date, r.Published, r.CreatedAt, r.Modified))
	return item
}

// parseJSONGeneric handles a top-level array of records or an object wrapping
// the array under one of the common collection keys
func parseJSONGeneric(raw []byte, src registry.Source) ([]RawItem, error) {
	var records []jsonRecord
	if err := json.Unmarshal(raw, &records); err == nil {
		return recordsToRawItems(records), nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("payload is neither array nor object: %w", err)
	}
	for _, key := range []string{"items", "data", "results", "advisories", "vulnerabilities", "articles"} {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &records); err != nil {
			return nil, fmt.Errorf("decode %q collection: %w", key, err)
		}
		return recordsToRawItems(records), nil
	}
	return nil, fmt.Errorf("no recognizable collection in JSON payload from %s", src.ID)
}

func recordsToRawItems(records []jsonRecord) []RawItem {
	items := make([]RawItem, 0, len(records))
	for _, r := range records {
		item := r.toRawItem()
		if item.Title == "" && item.GUID == "" {
			continue // not a usable record
		}
		items = append(items, item)
	}
	return items
}

// kevCatalog is the known-exploited-vulnerabilities catalog shape
type kevCatalog struct {
	Title           string `json:"title"`
	CatalogVersion  string `json:"catalogVersion"`
	Vulnerabilities []struct {
		CveID                      string `json:"cveID"`
		VendorProject              string `json:"vendorProject"`
		Product                    string `json:"product"`
		VulnerabilityName          string `json:"vulnerabilityName"`
		DateAdded                  string `json:"dateAdded"`
		ShortDescription           string `json:"shortDescription"`
		RequiredAction             string `json:"requiredAction"`
		KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	} `json:"vulnerabilities"`
}

// parseKEV handles the KEV-style catalog: a JSON object with a
// vulnerabilities array keyed by CVE id. Entries come back newest-last in the
// catalog, so the slice is reversed to keep wire ordering newest-first.
func parseKEV(raw []byte, _ registry.Source) ([]RawItem, error) {
	var catalog kevCatalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse kev catalog: %w", err)
	}
	if len(catalog.Vulnerabilities) == 0 {
		return nil, fmt.Errorf("kev catalog has no vulnerabilities")
	}

	items := make([]RawItem, 0, len(catalog.Vulnerabilities))
	for i := len(catalog.Vulnerabilities) - 1; i >= 0; i-- {
		v := catalog.Vulnerabilities[i]
		title := v.CveID
		if v.VulnerabilityName != "" {
			title = fmt.Sprintf("%s: %s", v.CveID, v.VulnerabilityName)
		}
		desc := v.ShortDescription
		if v.RequiredAction != "" {
			desc = fmt.Sprintf("%s Required action: %s", desc, v.RequiredAction)
		}
		if strings.EqualFold(v.KnownRansomwareCampaignUse, "known") {
			desc += " Known ransomware campaign use."
		}
		items = append(items, RawItem{
			GUID:        v.CveID,
			Title:       title,
			Description: desc,
			Link:        "https://nvd.nist.gov/vuln/detail/" + v.CveID,
			Date:        parseAnyDate(v.DateAdded),
		})
	}
	return items, nil
}

// cveRecord follows the CVE JSON record format published by numbering
// authorities: metadata plus a CNA container with descriptions and references
type cveRecord struct {
	CveMetadata struct {
		CveID         string `json:"cveId"`
		DatePublished string `json:"datePublished"`
		DateUpdated   string `json:"dateUpdated"`
	} `json:"cveMetadata"`
	Containers struct {
		CNA struct {
			Title        string `json:"title"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			References []struct {
				URL string `json:"url"`
			} `json:"references"`
		} `json:"cna"`
	} `json:"containers"`
}

// parseCVERecords accepts either a single CVE record or an array of them
func parseCVERecords(raw []byte, _ registry.Source) ([]RawItem, error) {
	var records []cveRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var single cveRecord
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("parse cve records: %w", err)
		}
		records = []cveRecord{single}
	}

	items := make([]RawItem, 0, len(records))
	for _, r := range records {
		if r.CveMetadata.CveID == "" {
			continue
		}
		item := RawItem{
			GUID:  r.CveMetadata.CveID,
			Title: r.CveMetadata.CveID,
			Date:  parseAnyDate(firstNonEmpty(r.CveMetadata.DatePublished, r.CveMetadata.DateUpdated)),
		}
		if r.Containers.CNA.Title != "" {
			item.Title = fmt.Sprintf("%s: %s", r.CveMetadata.CveID, r.Containers.CNA.Title)
		}
		for _, d := range r.Containers.CNA.Descriptions {
			if d.Lang == "" || strings.HasPrefix(strings.ToLower(d.Lang), "en") {
				item.Description = d.Value
				break
			}
		}
		if len(r.Containers.CNA.References) > 0 {
			item.Link = r.Containers.CNA.References[0].URL
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no usable cve records in payload")
	}
	return items, nil
}

// parseText treats each non-empty line as one advisory title
func parseText(raw []byte, _ registry.Source) ([]RawItem, error) {
	lines := strings.Split(string(raw), "\n")
	items := make([]RawItem, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, RawItem{Title: line})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("text payload has no usable lines")
	}
	return items, nil
}

// taxiiEnvelope is a TAXII 2.x envelope carrying STIX objects
type taxiiEnvelope struct {
	Objects []struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		Description        string `json:"description"`
		Created            string `json:"created"`
		Modified           string `json:"modified"`
		ExternalReferences []struct {
			URL string `json:"url"`
		} `json:"external_references"`
	} `json:"objects"`
}

func parseTAXII(raw []byte, src registry.Source) ([]RawItem, error) {
	var env taxiiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse taxii envelope: %w", err)
	}
	if len(env.Objects) == 0 {
		// some collections serve a plain object list, try the generic shape
		return parseJSONGeneric(raw, src)
	}

	items := make([]RawItem, 0, len(env.Objects))
	for _, obj := range env.Objects {
		item := RawItem{
			GUID:        obj.ID,
			Title:       obj.Name,
			Description: obj.Description,
			Date:        parseAnyDate(firstNonEmpty(obj.Created, obj.Modified)),
		}
		if len(obj.ExternalReferences) > 0 {
			item.Link = obj.ExternalReferences[0].URL
		}
		items = append(items, item)
	}
	return items, nil
}

// dateLayouts covers the formats seen across advisory feeds
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseAnyDate tries known layouts, returning zero time when none match
func parseAnyDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
