package records

// ActorType distinguishes human operators from agent actors.
type ActorType string

const (
	ActorHuman ActorType = "human"
	ActorAgent ActorType = "agent"
)

// ActorStatus tracks whether an actor's key is still trusted.
type ActorStatus string

const (
	ActorActive  ActorStatus = "active"
	ActorRevoked ActorStatus = "revoked"
)

// Actor is the payload of an `actor` record.
type Actor struct {
	ID            string      `json:"id"`
	Type          ActorType   `json:"type"`
	DisplayName   string      `json:"displayName"`
	PublicKey     string      `json:"publicKey"`
	Roles         []string    `json:"roles"`
	Status        ActorStatus `json:"status"`
	SupersededBy  string      `json:"supersededBy,omitempty"`
}

// AgentEngineKind discriminates the three supported agent runtimes.
type AgentEngineKind string

const (
	EngineLocal AgentEngineKind = "local"
	EngineAPI   AgentEngineKind = "api"
	EngineMCP   AgentEngineKind = "mcp"
)

// AgentEngine is a tagged union over the per-kind engine configuration.
// Exactly one of the Local/API/MCP fields is populated, matching Kind.
type AgentEngine struct {
	Kind AgentEngineKind `json:"type"`
	Local *LocalEngine `json:"local,omitempty"`
	API   *APIEngine   `json:"api,omitempty"`
	MCP   *MCPEngine   `json:"mcp,omitempty"`
}

// LocalEngine runs the agent as a local subprocess command.
type LocalEngine struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// APIEngine calls a remote HTTP API to run the agent.
type APIEngine struct {
	URL    string `json:"url"`
	Model  string `json:"model,omitempty"`
}

// MCPEngine invokes the agent through an MCP tool.
type MCPEngine struct {
	ServerName string `json:"serverName"`
	ToolName   string `json:"toolName"`
}

// Agent is the payload of an `agent` record; ID must match an existing
// actor record of type agent.
type Agent struct {
	ID                   string          `json:"id"`
	Engine               AgentEngine     `json:"engine"`
	Status               ActorStatus     `json:"status"`
	Triggers             []string        `json:"triggers,omitempty"`
	KnowledgeDependencies []string       `json:"knowledge_dependencies,omitempty"`
}

// TaskStatus enumerates the workflow states a task can occupy.
type TaskStatus string

const (
	TaskDraft     TaskStatus = "draft"
	TaskReview    TaskStatus = "review"
	TaskReady     TaskStatus = "ready"
	TaskActive    TaskStatus = "active"
	TaskDone      TaskStatus = "done"
	TaskArchived  TaskStatus = "archived"
	TaskPaused    TaskStatus = "paused"
	TaskDiscarded TaskStatus = "discarded"
)

// TaskPriority ranks tasks for scheduling/triage purposes.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Task is the payload of a `task` record.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags,omitempty"`
	CycleIDs    []string     `json:"cycleIds,omitempty"`
	References  []string     `json:"references,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// CycleStatus enumerates the lifecycle states of a planning cycle.
type CycleStatus string

const (
	CyclePlanning CycleStatus = "planning"
	CycleActive   CycleStatus = "active"
	CycleComplete CycleStatus = "completed"
	CycleArchived CycleStatus = "archived"
)

// Cycle is the payload of a `cycle` record.
type Cycle struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Status        CycleStatus `json:"status"`
	TaskIDs       []string    `json:"taskIds,omitempty"`
	ChildCycleIDs []string    `json:"childCycleIds,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	Notes         string      `json:"notes,omitempty"`
}

// ExecutionType classifies what an execution record reports.
type ExecutionType string

const (
	ExecAnalysis   ExecutionType = "analysis"
	ExecProgress   ExecutionType = "progress"
	ExecBlocker    ExecutionType = "blocker"
	ExecCompletion ExecutionType = "completion"
	ExecInfo       ExecutionType = "info"
	ExecCorrection ExecutionType = "correction"
)

// IsProgressOrLater reports whether et represents work at or beyond the
// progress stage of a task (progress, blocker, completion, correction),
// as opposed to preparatory reporting (analysis, info) that precedes it.
func (et ExecutionType) IsProgressOrLater() bool {
	switch et {
	case ExecProgress, ExecBlocker, ExecCompletion, ExecCorrection:
		return true
	default:
		return false
	}
}

// Execution is the payload of an `execution` record; TaskID must
// reference an existing task.
type Execution struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"taskId"`
	Type       ExecutionType `json:"type"`
	Title      string        `json:"title"`
	Result     string        `json:"result"`
	Notes      string        `json:"notes,omitempty"`
	References []string      `json:"references,omitempty"`
}

// FeedbackEntityType enumerates the record kinds feedback can target.
// Per spec.md §9 Open Question 2, the broader set including `cycle` is
// adopted.
type FeedbackEntityType string

const (
	EntityTask       FeedbackEntityType = "task"
	EntityExecution  FeedbackEntityType = "execution"
	EntityChangelog  FeedbackEntityType = "changelog"
	EntityFeedback   FeedbackEntityType = "feedback"
	EntityCycle      FeedbackEntityType = "cycle"
)

// FeedbackType classifies the intent of a feedback record.
type FeedbackType string

const (
	FeedbackBlocking      FeedbackType = "blocking"
	FeedbackSuggestion    FeedbackType = "suggestion"
	FeedbackQuestion      FeedbackType = "question"
	FeedbackApproval      FeedbackType = "approval"
	FeedbackClarification FeedbackType = "clarification"
	FeedbackAssignment    FeedbackType = "assignment"
)

// FeedbackStatus tracks resolution state. Feedback records are
// immutable; a status change is modeled by creating a new feedback
// record with ResolvesFeedbackID set.
type FeedbackStatus string

const (
	FeedbackOpen         FeedbackStatus = "open"
	FeedbackAcknowledged FeedbackStatus = "acknowledged"
	FeedbackResolved     FeedbackStatus = "resolved"
	FeedbackWontfix      FeedbackStatus = "wontfix"
)

// MaxFeedbackContentLen is the maximum length of Feedback.Content.
const MaxFeedbackContentLen = 5000

// Feedback is the payload of a `feedback` record.
type Feedback struct {
	ID                 string              `json:"id"`
	EntityType         FeedbackEntityType  `json:"entityType"`
	EntityID           string              `json:"entityId"`
	Type               FeedbackType        `json:"type"`
	Status             FeedbackStatus      `json:"status"`
	Content            string              `json:"content"`
	Assignee           string              `json:"assignee,omitempty"`
	ResolvesFeedbackID string              `json:"resolvesFeedbackId,omitempty"`
}

// Changelog is the payload of a `changelog` record aggregating
// completed tasks into a release note. Per spec.md §9 Open Question 3,
// changelog support is optional but fully implemented where present.
type Changelog struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	RelatedTasks []string `json:"relatedTasks"`
}
