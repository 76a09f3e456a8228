package audit

import (
	"bufio"
	"bytes"
	"regexp"
)

// Rule is one regex-based detection rule in the built-in corpus.
type Rule struct {
	RuleID     string
	Category   string
	Severity   Severity
	Pattern    *regexp.Regexp
	Message    string
	Confidence float64
	Suggestion string
}

// defaultRules is the built-in secret/PII corpus. SEC-002 matches
// spec.md §8 scenario S6 exactly (AWS access key IDs).
var defaultRules = []Rule{
	{
		RuleID:     "SEC-001",
		Category:   "secret",
		Severity:   SeverityCritical,
		Pattern:    regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
		Message:    "embedded private key material",
		Confidence: 0.98,
		Suggestion: "move the key to a secrets manager and rotate it",
	},
	{
		RuleID:     "SEC-002",
		Category:   "secret",
		Severity:   SeverityCritical,
		Pattern:    regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		Message:    "AWS access key ID",
		Confidence: 0.95,
		Suggestion: "revoke the key in IAM and use short-lived credentials",
	},
	{
		RuleID:     "SEC-003",
		Category:   "secret",
		Severity:   SeverityHigh,
		Pattern:    regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`),
		Message:    "hardcoded credential-shaped assignment",
		Confidence: 0.6,
		Suggestion: "load this value from environment or a secrets manager instead",
	},
	{
		RuleID:     "PII-001",
		Category:   "pii",
		Severity:   SeverityMedium,
		Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Message:    "value shaped like a US Social Security Number",
		Confidence: 0.5,
		Suggestion: "confirm this is test fixture data, not a real identifier",
	},
}

// RegexDetector runs the built-in (or a caller-supplied) rule corpus
// against a file's content, line by line.
type RegexDetector struct {
	rules []Rule
}

// NewRegexDetector returns a RegexDetector over rules, or the built-in
// corpus if rules is nil.
func NewRegexDetector(rules []Rule) *RegexDetector {
	if rules == nil {
		rules = defaultRules
	}
	return &RegexDetector{rules: rules}
}

func (d *RegexDetector) Name() string { return "regex-corpus" }

func (d *RegexDetector) Detect(file string, content []byte) ([]Finding, error) {
	var findings []Finding
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		for _, rule := range d.rules {
			if !rule.Pattern.MatchString(text) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:      rule.RuleID,
				Category:    rule.Category,
				Severity:    rule.Severity,
				File:        file,
				Line:        line,
				Snippet:     text,
				Message:     rule.Message,
				Detector:    d.Name(),
				Fingerprint: Fingerprint(rule.RuleID, file, line),
				Confidence:  rule.Confidence,
				Suggestion:  rule.Suggestion,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}
