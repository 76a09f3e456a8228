// Package workflow implements the configurable methodology engine of
// spec.md §4.5: a named map of transitions over task statuses, gated by
// command/event/signature/custom-rule requirements.
package workflow

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/gitgovernance/core/internal/records"
)

// SignatureGroup describes one signature requirement within a
// transition's Requires.Signatures map.
type SignatureGroup struct {
	Role            string   `toml:"role"`
	CapabilityRoles []string `toml:"capability_roles"`
	MinApprovals    int      `toml:"min_approvals"`
	ActorType       string   `toml:"actor_type,omitempty"`
	SpecificActors  []string `toml:"specific_actors,omitempty"`
}

// Requires is the set of gates a transition may combine; all populated
// gates must hold (AND semantics) for the transition to proceed.
type Requires struct {
	Command     string                    `toml:"command,omitempty"`
	Event       string                    `toml:"event,omitempty"`
	Signatures  map[string]SignatureGroup `toml:"signatures,omitempty"`
	CustomRules []string                  `toml:"custom_rules,omitempty"`
}

// Transition defines one edge of the methodology's state machine.
type Transition struct {
	From     []records.TaskStatus `toml:"from"`
	To       records.TaskStatus   `toml:"to"`
	Requires Requires             `toml:"requires"`
}

// Methodology is a named map of transitions, loaded from structured
// configuration (JSON/YAML/TOML) and parsed into an immutable in-memory
// representation at startup, per spec.md §9.
type Methodology struct {
	Name        string                `toml:"name"`
	Transitions map[string]Transition `toml:"transitions"`
}

// CustomRule evaluates a named custom rule against a task and its
// evaluation context. Rules are looked up by identifier in a registered
// table; the core never evaluates an expression from untrusted source at
// runtime (spec.md §9).
type CustomRule func(task records.Task, ctx Context) bool

// Registry holds custom rule implementations by identifier.
type Registry struct {
	rules map[string]CustomRule
}

// NewRegistry constructs a Registry seeded with the built-in rules
// (assignment_required, sprint_capacity, epic_complexity) from
// spec.md §4.5, plus any caller-supplied rules.
func NewRegistry(extra map[string]CustomRule) *Registry {
	r := &Registry{rules: map[string]CustomRule{
		"assignment_required": ruleAssignmentRequired,
		"sprint_capacity":     ruleSprintCapacity,
		"epic_complexity":     ruleEpicComplexity,
	}}
	for name, fn := range extra {
		r.rules[name] = fn
	}
	return r
}

func ruleAssignmentRequired(task records.Task, ctx Context) bool {
	return ctx.Assignee != ""
}

func ruleSprintCapacity(task records.Task, ctx Context) bool {
	return ctx.SprintRemainingCapacity > 0
}

func ruleEpicComplexity(task records.Task, ctx Context) bool {
	return ctx.EpicTaskCount <= ctx.EpicComplexityLimit
}

// Context carries the signals a transition's gates are evaluated
// against: the triggering command/event, accumulated signatures, and the
// inputs the built-in custom rules consult.
type Context struct {
	// Trigger is the command or event name that legitimises this
	// transition attempt; matched against Requires.Command/Event.
	Trigger string

	// Signatures is the accumulated set of signatures across the task's
	// header plus any referenced execution/feedback records, used to
	// evaluate Requires.Signatures gates.
	Signatures []SignerInfo

	Assignee                string
	SprintRemainingCapacity int
	EpicTaskCount           int
	EpicComplexityLimit     int
}

// SignerInfo is the subset of an actor's identity relevant to evaluating
// a signature gate: which roles they hold and whether they are an agent
// or human.
type SignerInfo struct {
	ActorID   string
	Roles     []string
	ActorType records.ActorType
}

// BlockedBy identifies which category of gate rejected a transition.
type BlockedBy string

const (
	BlockedByCommand   BlockedBy = "command"
	BlockedByEvent     BlockedBy = "event"
	BlockedBySignature BlockedBy = "signature"
	BlockedByRule      BlockedBy = "rule"
	BlockedByFromState BlockedBy = "from_state"
)

// InvalidTransition is returned when a transition's gates are not
// satisfied, identifying exactly which gate blocked and why.
type InvalidTransition struct {
	From      records.TaskStatus
	To        records.TaskStatus
	BlockedBy BlockedBy
	Detail    string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: blocked by %s (%s)", e.From, e.To, e.BlockedBy, e.Detail)
}

// LoadMethodology parses methodology configuration from a TOML file at
// path and validates it against registry: every custom_rules identifier
// referenced by any transition must resolve to a registered rule, or
// loading fails — an undefined custom rule is rejected at config load,
// never at runtime (spec.md §8).
func LoadMethodology(path string, registry *Registry) (*Methodology, error) {
	var m Methodology
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("loading methodology %s: %w", path, err)
	}
	if err := m.validate(registry); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Methodology) validate(registry *Registry) error {
	for name, t := range m.Transitions {
		for _, ruleName := range t.Requires.CustomRules {
			if _, ok := registry.rules[ruleName]; !ok {
				return fmt.Errorf("methodology %s: transition %q references undefined custom rule %q", m.Name, name, ruleName)
			}
		}
		if len(t.From) == 0 {
			return fmt.Errorf("methodology %s: transition %q has no from states", m.Name, name)
		}
	}
	return nil
}

// CanTransition decides whether transitionName may fire for task given
// ctx, per the procedure in spec.md §4.5: verify the from-state, then AND
// every populated gate.
func (m *Methodology) CanTransition(task records.Task, transitionName string, ctx Context, registry *Registry) error {
	t, ok := m.Transitions[transitionName]
	if !ok {
		return fmt.Errorf("methodology %s: unknown transition %q", m.Name, transitionName)
	}

	if !containsStatus(t.From, task.Status) {
		return &InvalidTransition{
			From: task.Status, To: t.To, BlockedBy: BlockedByFromState,
			Detail: fmt.Sprintf("task status %q is not in allowed from-states %v", task.Status, t.From),
		}
	}

	if t.Requires.Command != "" && ctx.Trigger != t.Requires.Command {
		return &InvalidTransition{
			From: task.Status, To: t.To, BlockedBy: BlockedByCommand,
			Detail: fmt.Sprintf("expected command %q, got trigger %q", t.Requires.Command, ctx.Trigger),
		}
	}

	if t.Requires.Event != "" && ctx.Trigger != t.Requires.Event {
		return &InvalidTransition{
			From: task.Status, To: t.To, BlockedBy: BlockedByEvent,
			Detail: fmt.Sprintf("expected event %q, got trigger %q", t.Requires.Event, ctx.Trigger),
		}
	}

	for groupName, group := range t.Requires.Signatures {
		if !satisfiesSignatureGroup(group, ctx.Signatures) {
			return &InvalidTransition{
				From: task.Status, To: t.To, BlockedBy: BlockedBySignature,
				Detail: fmt.Sprintf("signature group %q needs %d approval(s) with roles %v", groupName, group.MinApprovals, group.CapabilityRoles),
			}
		}
	}

	for _, ruleName := range t.Requires.CustomRules {
		rule, ok := registry.rules[ruleName]
		if !ok {
			return &InvalidTransition{
				From: task.Status, To: t.To, BlockedBy: BlockedByRule,
				Detail: fmt.Sprintf("custom rule %q is not registered", ruleName),
			}
		}
		if !rule(task, ctx) {
			return &InvalidTransition{
				From: task.Status, To: t.To, BlockedBy: BlockedByRule,
				Detail: fmt.Sprintf("custom rule %q rejected the transition", ruleName),
			}
		}
	}

	return nil
}

// TargetStatus returns the `to` status a transition produces.
func (m *Methodology) TargetStatus(transitionName string) (records.TaskStatus, bool) {
	t, ok := m.Transitions[transitionName]
	if !ok {
		return "", false
	}
	return t.To, true
}

func containsStatus(list []records.TaskStatus, s records.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func satisfiesSignatureGroup(group SignatureGroup, signers []SignerInfo) bool {
	count := 0
	for _, s := range signers {
		if group.ActorType != "" && string(s.ActorType) != group.ActorType {
			continue
		}
		if len(group.SpecificActors) > 0 && !containsString(group.SpecificActors, s.ActorID) {
			continue
		}
		if !rolesIntersect(s.Roles, group.CapabilityRoles) {
			continue
		}
		count++
	}
	return count >= group.MinApprovals
}

func rolesIntersect(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
