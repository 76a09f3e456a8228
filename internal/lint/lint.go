// Package lint evaluates cross-record invariants over the projector's
// index, per spec.md §4.11. It is read-only: a Report describes
// violations found, it never mutates records.
package lint

import (
	"regexp"

	"github.com/gitgovernance/core/internal/projector"
	"github.com/gitgovernance/core/internal/records"
)

// Severity mirrors the audit package's scale so reports read
// consistently across both read-only consumers.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is a single invariant failure.
type Violation struct {
	RuleID     string
	Category   string
	Severity   Severity
	RecordType records.RecordType
	RecordID   string
	Message    string
}

// Report aggregates the violations found across one lint pass.
type Report struct {
	Violations []Violation
	ByCategory map[string]int
}

func (r *Report) add(v Violation) {
	r.Violations = append(r.Violations, v)
	if r.ByCategory == nil {
		r.ByCategory = map[string]int{}
	}
	r.ByCategory[v.Category]++
}

// timeIndexedID matches the "<unix-seconds>-<type-prefix>-<slug>" ID
// shape records.TimeIndexedID produces.
var timeIndexedID = regexp.MustCompile(`^\d+-[a-z]+-[a-z0-9-]*$`)

// CustomRuleCheck is a named, pluggable check run over the full index
// in addition to the built-in structural checks; the workflow
// engine's custom_rules (sprint_capacity, epic_complexity, ...) are
// wired in this way rather than re-implemented here.
type CustomRuleCheck struct {
	RuleID string
	Check  func(data *projector.IndexData) []Violation
}

// HeaderLookup resolves a record's envelope header by type and ID, used
// for the missing-signatures check; the projector's IndexData carries
// payloads only, so this is read directly from the stores.
type HeaderLookup func(recordType records.RecordType, id string) (records.Header, bool)

// Linter evaluates the built-in structural invariants plus any
// supplied custom rule checks.
type Linter struct {
	headers HeaderLookup
	custom  []CustomRuleCheck
}

// New wires a Linter. headers may be nil, in which case the
// missing-signatures check is skipped.
func New(headers HeaderLookup, custom []CustomRuleCheck) *Linter {
	return &Linter{headers: headers, custom: custom}
}

// Lint runs every check over data and returns the aggregated report.
func (l *Linter) Lint(data *projector.IndexData) (*Report, error) {
	report := &Report{}

	l.checkMalformedIDs(data, report)
	l.checkOrphanReferences(data, report)
	l.checkDanglingCycleLinks(data, report)
	if l.headers != nil {
		l.checkMissingSignatures(data, report)
	}
	for _, c := range l.custom {
		for _, v := range c.Check(data) {
			report.add(v)
		}
	}

	return report, nil
}

func (l *Linter) checkMalformedIDs(data *projector.IndexData, report *Report) {
	for id := range data.Tasks {
		if !timeIndexedID.MatchString(id) {
			report.add(Violation{
				RuleID: "LINT-ID-001", Category: "malformed-id", Severity: SeverityError,
				RecordType: records.TypeTask, RecordID: id,
				Message: "task id \"" + id + "\" does not match the time-indexed id shape",
			})
		}
	}
	for id := range data.Cycles {
		if !timeIndexedID.MatchString(id) {
			report.add(Violation{
				RuleID: "LINT-ID-001", Category: "malformed-id", Severity: SeverityError,
				RecordType: records.TypeCycle, RecordID: id,
				Message: "cycle id \"" + id + "\" does not match the time-indexed id shape",
			})
		}
	}
}

func (l *Linter) checkOrphanReferences(data *projector.IndexData, report *Report) {
	for id, t := range data.Tasks {
		for _, ref := range t.References {
			if _, ok := data.Tasks[ref]; !ok {
				report.add(Violation{
					RuleID: "LINT-REF-001", Category: "orphan-reference", Severity: SeverityError,
					RecordType: records.TypeTask, RecordID: id,
					Message: "references unknown task \"" + ref + "\"",
				})
			}
		}
	}
	for id, f := range data.Feedback {
		switch f.EntityType {
		case records.EntityTask:
			if _, ok := data.Tasks[f.EntityID]; !ok {
				report.add(Violation{
					RuleID: "LINT-REF-002", Category: "orphan-reference", Severity: SeverityError,
					RecordType: records.TypeFeedback, RecordID: id,
					Message: "targets unknown task \"" + f.EntityID + "\"",
				})
			}
		case records.EntityCycle:
			if _, ok := data.Cycles[f.EntityID]; !ok {
				report.add(Violation{
					RuleID: "LINT-REF-002", Category: "orphan-reference", Severity: SeverityError,
					RecordType: records.TypeFeedback, RecordID: id,
					Message: "targets unknown cycle \"" + f.EntityID + "\"",
				})
			}
		}
	}
}

func (l *Linter) checkDanglingCycleLinks(data *projector.IndexData, report *Report) {
	for cycleID, c := range data.Cycles {
		for _, taskID := range c.TaskIDs {
			task, ok := data.Tasks[taskID]
			if !ok {
				report.add(Violation{
					RuleID: "LINT-LINK-001", Category: "dangling-link", Severity: SeverityError,
					RecordType: records.TypeCycle, RecordID: cycleID,
					Message: "lists unknown task \"" + taskID + "\"",
				})
				continue
			}
			if !containsString(task.CycleIDs, cycleID) {
				report.add(Violation{
					RuleID: "LINT-LINK-002", Category: "dangling-link", Severity: SeverityWarning,
					RecordType: records.TypeCycle, RecordID: cycleID,
					Message: "task \"" + taskID + "\" does not list this cycle back",
				})
			}
		}
	}
	for taskID, t := range data.Tasks {
		for _, cycleID := range t.CycleIDs {
			cycle, ok := data.Cycles[cycleID]
			if !ok {
				report.add(Violation{
					RuleID: "LINT-LINK-001", Category: "dangling-link", Severity: SeverityError,
					RecordType: records.TypeTask, RecordID: taskID,
					Message: "references unknown cycle \"" + cycleID + "\"",
				})
				continue
			}
			if !containsString(cycle.TaskIDs, taskID) {
				report.add(Violation{
					RuleID: "LINT-LINK-002", Category: "dangling-link", Severity: SeverityWarning,
					RecordType: records.TypeTask, RecordID: taskID,
					Message: "cycle \"" + cycleID + "\" does not list this task back",
				})
			}
		}
	}
}

func (l *Linter) checkMissingSignatures(data *projector.IndexData, report *Report) {
	for id := range data.Tasks {
		header, ok := l.headers(records.TypeTask, id)
		if !ok || len(header.Signatures) == 0 {
			report.add(Violation{
				RuleID: "LINT-SIG-001", Category: "missing-signature", Severity: SeverityError,
				RecordType: records.TypeTask, RecordID: id,
				Message: "record carries no signatures",
			})
		}
	}
	for id := range data.Cycles {
		header, ok := l.headers(records.TypeCycle, id)
		if !ok || len(header.Signatures) == 0 {
			report.add(Violation{
				RuleID: "LINT-SIG-001", Category: "missing-signature", Severity: SeverityError,
				RecordType: records.TypeCycle, RecordID: id,
				Message: "record carries no signatures",
			})
		}
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
