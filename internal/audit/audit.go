// Package audit scans a working tree for findings (secrets, PII) per
// spec.md §4.10. Detection and file enumeration are pluggable so tests
// can substitute in-memory fakes for the filesystem and git.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Severity classifies a finding's risk level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is a single detector hit, per spec.md §4.10.
type Finding struct {
	ID            string
	RuleID        string
	Category      string
	Severity      Severity
	File          string
	Line          int
	Snippet       string
	Message       string
	Detector      string
	Fingerprint   string
	Confidence    float64
	Suggestion    string
	LegalRef      string
	Waived        bool
}

const maxSnippetLen = 300

// Fingerprint computes a deterministic hex fingerprint for a finding:
// SHA-256 of "ruleId:file:line".
func Fingerprint(ruleID, file string, line int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", ruleID, file, line)))
	return hex.EncodeToString(sum[:])
}

func truncateSnippet(s string) string {
	if len(s) <= maxSnippetLen {
		return s
	}
	return s[:maxSnippetLen]
}

// Scope bounds a scan to a set of include/exclude glob patterns and,
// optionally, only files changed since a git ref.
type Scope struct {
	Include     []string
	Exclude     []string
	ChangedSince string
}

// FileLister enumerates candidate files for a scan, respecting
// include/exclude patterns.
type FileLister interface {
	ListFiles(scope Scope) ([]string, error)
}

// ChangedFileLister narrows a file list to paths touched since a git
// ref, used when scope.ChangedSince is set.
type ChangedFileLister interface {
	ChangedFiles(since string) ([]string, error)
}

// FindingDetector inspects one file's content and reports findings.
// The regex corpus (Detectors) is one implementation; callers may
// register others.
type FindingDetector interface {
	Name() string
	Detect(file string, content []byte) ([]Finding, error)
}

// WaiverReader reports whether a fingerprinted finding has been
// acknowledged (via an approval feedback record, per spec.md §4.6).
type WaiverReader interface {
	IsWaived(fingerprint string) (bool, error)
}

// Summary aggregates findings by severity.
type Summary struct {
	BySeverity map[Severity]int
}

// Report is the result of a scan.
type Report struct {
	Findings     []Finding
	Summary      Summary
	ScannedFiles int
	ScannedLines int
	Detectors    []string
	Waivers      []string
}

// Auditor runs detectors over files enumerated by a lister, optionally
// narrowed to changed files and cross-referenced against waivers.
type Auditor struct {
	lister    FileLister
	detectors []FindingDetector
	waivers   WaiverReader
	changed   ChangedFileLister
	reader    func(path string) ([]byte, error)
}

// New wires an Auditor. waivers and changed may be nil.
func New(lister FileLister, detectors []FindingDetector, waivers WaiverReader, changed ChangedFileLister, reader func(path string) ([]byte, error)) *Auditor {
	return &Auditor{lister: lister, detectors: detectors, waivers: waivers, changed: changed, reader: reader}
}

// Audit scans scope and returns the aggregated report. Audit never
// returns an error because of findings; only infrastructure failures
// (listing or reading files) produce an error.
func (a *Auditor) Audit(scope Scope) (*Report, error) {
	files, err := a.lister.ListFiles(scope)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	if scope.ChangedSince != "" && a.changed != nil {
		changedSet, err := a.changed.ChangedFiles(scope.ChangedSince)
		if err != nil {
			return nil, fmt.Errorf("computing changed files: %w", err)
		}
		files = intersect(files, changedSet)
	}

	report := &Report{Summary: Summary{BySeverity: map[Severity]int{}}}
	detectorNames := make([]string, 0, len(a.detectors))
	for _, d := range a.detectors {
		detectorNames = append(detectorNames, d.Name())
	}
	report.Detectors = detectorNames

	for _, file := range files {
		content, err := a.reader(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		report.ScannedFiles++
		report.ScannedLines += countLines(content)

		for _, d := range a.detectors {
			findings, err := d.Detect(file, content)
			if err != nil {
				return nil, fmt.Errorf("detector %s on %s: %w", d.Name(), file, err)
			}
			for i := range findings {
				f := &findings[i]
				f.Snippet = truncateSnippet(f.Snippet)
				if f.Fingerprint == "" {
					f.Fingerprint = Fingerprint(f.RuleID, f.File, f.Line)
				}
				if f.ID == "" {
					f.ID = f.Fingerprint
				}
				if a.waivers != nil {
					waived, err := a.waivers.IsWaived(f.Fingerprint)
					if err == nil && waived {
						f.Waived = true
						report.Waivers = append(report.Waivers, f.Fingerprint)
					}
				}
				if !f.Waived {
					report.Summary.BySeverity[f.Severity]++
				}
				report.Findings = append(report.Findings, *f)
			}
		}
	}

	return report, nil
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
