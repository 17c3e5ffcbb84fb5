// Package safety provides the sensitive-pattern detector shared by
// Quality's draft scoring and the audit log's redaction.
package safety

import "regexp"

// Finding describes a detected sensitive pattern in a piece of text.
type Finding struct {
	Pattern string // human-readable label, e.g. "credit card number"
	Sample  string // truncated, non-reversible excerpt for logging
}

// Detector scans text for sensitive patterns: secrets, credit-card-like
// digit runs, embedded email addresses and plaintext password
// assignments.
type Detector struct {
	patterns []labeledPattern
}

type labeledPattern struct {
	re    *regexp.Regexp
	label string
}

// NewDetector builds a Detector with the default pattern set.
func NewDetector() *Detector {
	return &Detector{patterns: defaultPatterns}
}

var defaultPatterns = []labeledPattern{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), "API key"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), "bearer token"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), "Google API key"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "OpenAI API key"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`), "private key"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`), "plaintext password"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), "credit card number"},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "email address"},
}

// Scan returns every sensitive pattern match found in text, capped at
// 3 matches per pattern to keep findings from flooding a draft review.
func (d *Detector) Scan(text string) []Finding {
	if text == "" {
		return nil
	}
	var findings []Finding
	for _, p := range d.patterns {
		for _, match := range p.re.FindAllString(text, 3) {
			sample := match
			if len(sample) > 20 {
				sample = sample[:17] + "..."
			}
			findings = append(findings, Finding{Pattern: p.label, Sample: sample})
		}
	}
	return findings
}

// HasSensitiveContent is a cheap boolean check for callers that only
// need to branch, not enumerate findings.
func (d *Detector) HasSensitiveContent(text string) bool {
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}
