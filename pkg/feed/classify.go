package feed

import (
	"regexp"
	"sort"
	"strings"
)

// Classification is the result of scanning advisory text for severity,
// CVE identifier and topic tags
type Classification struct {
	Severity Severity `json:"severity,omitempty"`
	CVE      string   `json:"cve,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

var cveRe = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d+\b`)

// severityOrder checks most severe first so "critical" wins over an
// incidental "low" in the same text
var severityOrder = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// tagKeywords maps topic tags to the keywords that trigger them
var tagKeywords = map[string][]string{
	"ransomware":   {"ransomware", "ransom"},
	"zero-day":     {"zero-day", "zero day", "0-day", "0day"},
	"exploit":      {"exploit", "exploited", "exploitation"},
	"patch":        {"patch", "fixed in", "security update"},
	"phishing":     {"phishing", "credential theft"},
	"malware":      {"malware", "trojan", "backdoor", "botnet"},
	"supply-chain": {"supply chain", "supply-chain"},
	"rce":          {"remote code execution", "rce"},
}

// Classify scans free text for a severity keyword, a CVE identifier and
// topic tags. It is a pure string-processing utility with no knowledge of
// fetch or parse logic. Severity stays empty when no keyword matches.
func Classify(text string) Classification {
	lower := strings.ToLower(text)

	var c Classification
	for _, sev := range severityOrder {
		if strings.Contains(lower, strings.ToLower(string(sev))) {
			c.Severity = sev
			break
		}
	}

	if m := cveRe.FindString(text); m != "" {
		c.CVE = strings.ToUpper(m)
	}

	for tag, keywords := range tagKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				c.Tags = append(c.Tags, tag)
				break
			}
		}
	}
	sort.Strings(c.Tags) // map iteration order is random
	return c
}
