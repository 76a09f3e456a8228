// Package projector computes and persists the IndexData projection
// described in spec.md §4.8: derived metrics and enriched views over the
// record stores, consumed by downstream readers without touching the
// stores directly.
package projector

import (
	"time"

	"github.com/gitgovernance/core/internal/records"
)

// Metadata carries generation provenance for an IndexData snapshot.
type Metadata struct {
	GeneratedAt     time.Time
	LastCommitHash  string
	IntegrityStatus string // "ok" | "degraded"
	RecordCounts    map[records.RecordType]int
	GenerationTime  time.Duration
}

// Metrics aggregates counts and derived timing statistics across the
// backlog.
type Metrics struct {
	TasksByStatus   map[records.TaskStatus]int
	TasksByPriority map[records.TaskPriority]int
	CyclesByStatus  map[records.CycleStatus]int

	// HealthScore is 0-100: 100 - (stalledPenalty + atRiskPenalty +
	// blockedPenalty), each penalty the percentage of active-ish tasks
	// (ready/active/paused) in that derived state, capped so the score
	// never goes below 0.
	HealthScore int

	Throughput       float64 // tasks completed per day, over the activity window
	AverageLeadTime  time.Duration // created -> done
	AverageCycleTime time.Duration // active -> done
	ActivityHistory  []ActivityPoint
}

// ActivityPoint is one bucket of the activity history (tasks completed
// that day).
type ActivityPoint struct {
	Day       time.Time
	Completed int
}

// DerivedStates buckets tasks by cross-cutting condition, computed at
// projection time rather than stored.
type DerivedStates struct {
	StalledTasks             []string // ready/active with no execution in N days
	AtRiskTasks               []string // priority critical/high, stalled
	NeedsClarificationTasks   []string // has open blocking/question feedback
	BlockedByDependencyTasks  []string // references a task not yet done
}

// EnrichedTask is a task payload plus fields computed by the projector.
type EnrichedTask struct {
	records.Task
	TimeInState    time.Duration
	Age            time.Duration
	DependencyEdges []string
}

// IndexData is the full projection artifact persisted by a Sink.
type IndexData struct {
	Metadata      Metadata
	Metrics       Metrics
	DerivedStates DerivedStates
	EnrichedTasks []EnrichedTask

	Tasks    map[string]records.Task
	Cycles   map[string]records.Cycle
	Actors   map[string]records.Actor
	Feedback map[string]records.Feedback
}
