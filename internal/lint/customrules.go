package lint

import (
	"fmt"

	"github.com/gitgovernance/core/internal/projector"
	"github.com/gitgovernance/core/internal/records"
)

// EpicComplexityCheck flags cycles whose task count exceeds limit,
// mirroring the workflow engine's epic_complexity custom rule (which
// gates a single transition) at the whole-index level.
func EpicComplexityCheck(limit int) CustomRuleCheck {
	return CustomRuleCheck{
		RuleID: "epic_complexity",
		Check: func(data *projector.IndexData) []Violation {
			var violations []Violation
			for id, c := range data.Cycles {
				if len(c.TaskIDs) > limit {
					violations = append(violations, Violation{
						RuleID: "LINT-RULE-EPIC", Category: "custom-rule", Severity: SeverityWarning,
						RecordType: records.TypeCycle, RecordID: id,
						Message: fmt.Sprintf("cycle has %d tasks, exceeding the epic complexity limit of %d", len(c.TaskIDs), limit),
					})
				}
			}
			return violations
		},
	}
}

// AssignmentRequiredCheck flags active tasks with no assignee feedback
// on record, mirroring the workflow engine's assignment_required rule.
func AssignmentRequiredCheck() CustomRuleCheck {
	return CustomRuleCheck{
		RuleID: "assignment_required",
		Check: func(data *projector.IndexData) []Violation {
			assigned := make(map[string]bool)
			for _, f := range data.Feedback {
				if f.Type == records.FeedbackAssignment && f.EntityType == records.EntityTask && f.Assignee != "" {
					assigned[f.EntityID] = true
				}
			}
			var violations []Violation
			for id, t := range data.Tasks {
				if t.Status != records.TaskActive {
					continue
				}
				if !assigned[id] {
					violations = append(violations, Violation{
						RuleID: "LINT-RULE-ASSIGN", Category: "custom-rule", Severity: SeverityWarning,
						RecordType: records.TypeTask, RecordID: id,
						Message: "active task has no assignment feedback on record",
					})
				}
			}
			return violations
		},
	}
}
