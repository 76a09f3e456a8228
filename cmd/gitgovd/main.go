// Command gitgovd is the composition root for GitGovernance: it wires
// the record stores, identity manager, workflow methodology, adapters,
// event bus, filesystem watcher, projector, sync engine, source auditor
// and governance linter described in spec.md, and exposes them through
// a small set of subcommands.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/adapters"
	"github.com/gitgovernance/core/internal/audit"
	"github.com/gitgovernance/core/internal/config"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/gitexec"
	"github.com/gitgovernance/core/internal/identity"
	"github.com/gitgovernance/core/internal/lint"
	"github.com/gitgovernance/core/internal/projector"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
	"github.com/gitgovernance/core/internal/syncengine"
	"github.com/gitgovernance/core/internal/watcher"
	"github.com/gitgovernance/core/internal/workflow"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "lint":
		runLint(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gitgovd <init|daemon|sync|audit|lint> [flags]")
}

func configureLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

// container holds every wired component the daemon and CLI subcommands
// operate on.
type container struct {
	root     string
	gitgov   string
	cfg      *config.Config
	bus      *eventbus.Bus
	identity *identity.Manager

	tasks      *recordstore.Store[records.Task]
	cycles     *recordstore.Store[records.Cycle]
	actors     *recordstore.Store[records.Actor]
	agents     *recordstore.Store[records.Agent]
	executions *recordstore.Store[records.Execution]
	feedback   *recordstore.Store[records.Feedback]
	changelogs *recordstore.Store[records.Changelog]

	backlog   *adapters.BacklogAdapter
	execution *adapters.ExecutionAdapter
	feedbackA *adapters.FeedbackAdapter
	changelog *adapters.ChangelogAdapter
	agent     *adapters.AgentAdapter

	methodology *workflow.Methodology
	registry    *workflow.Registry

	projector *projector.Projector
	watcher   *watcher.Watcher
	scheduler *projector.Scheduler

	syncEngine *syncengine.Engine
	auditCache *syncengine.AuditCache

	log *logrus.Entry
}

func buildContainer(root string) (*container, error) {
	gitgovRoot := filepath.Join(root, ".gitgov")

	cfgPath := filepath.Join(gitgovRoot, "engine.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading engine config: %w", err)
	}

	logrusLogger := configureLogger(cfg.General.LogLevel)
	log := logrusLogger.WithField("component", "gitgovd")

	bus := eventbus.New()

	actors := recordstore.New[records.Actor](filepath.Join(gitgovRoot, "actors"), records.TypeActor, nil, nil)
	keys := identity.NewFileKeyProvider(gitgovRoot)
	session := identity.NewFileSessionManager(gitgovRoot)
	idMgr := identity.NewManager(actors, keys, session, bus)

	tasks := recordstore.New[records.Task](filepath.Join(gitgovRoot, "tasks"), records.TypeTask, nil, idMgr.ResolvePublicKey)
	cycles := recordstore.New[records.Cycle](filepath.Join(gitgovRoot, "cycles"), records.TypeCycle, nil, idMgr.ResolvePublicKey)
	agentsStore := recordstore.New[records.Agent](filepath.Join(gitgovRoot, "agents"), records.TypeAgent, nil, idMgr.ResolvePublicKey)
	executions := recordstore.New[records.Execution](filepath.Join(gitgovRoot, "executions"), records.TypeExecution, nil, idMgr.ResolvePublicKey)
	feedback := recordstore.New[records.Feedback](filepath.Join(gitgovRoot, "feedback"), records.TypeFeedback, nil, idMgr.ResolvePublicKey)
	changelogs := recordstore.New[records.Changelog](filepath.Join(gitgovRoot, "changelogs"), records.TypeChangelog, nil, idMgr.ResolvePublicKey)

	registry := workflow.NewRegistry(nil)
	methodologyPath := config.ExpandHome(cfg.General.MethodologyPath)
	if methodologyPath == "" {
		methodologyPath = filepath.Join(gitgovRoot, "methodology.toml")
	}
	methodology, err := workflow.LoadMethodology(methodologyPath, registry)
	if err != nil {
		return nil, fmt.Errorf("loading workflow methodology: %w", err)
	}

	backlog := adapters.NewBacklogAdapter(tasks, cycles, idMgr, idMgr, bus, methodology, registry)
	executionAdapter := adapters.NewExecutionAdapter(executions, tasks, idMgr, bus, methodology, registry)
	feedbackAdapter := adapters.NewFeedbackAdapter(feedback, idMgr, bus)
	changelogAdapter := adapters.NewChangelogAdapter(changelogs, tasks, idMgr, bus)
	agentAdapter := adapters.NewAgentAdapter(agentsStore, idMgr, idMgr, bus)

	var sink projector.Sink
	switch cfg.Projector.Sink {
	case "memory":
		sink = projector.NewMemorySink()
	default:
		sink = projector.NewFilesystemSink(root)
	}
	proj := projector.New(tasks, cycles, actors, feedback, executions, sink, root)
	proj.Subscribe(bus)

	w := watcher.New(root, bus, cfg.Watcher.DebounceWindow.Duration)

	var sched *projector.Scheduler
	if cfg.Projector.RebuildSchedule != "" {
		sched, err = projector.NewScheduler(proj, cfg.Projector.RebuildSchedule)
		if err != nil {
			return nil, fmt.Errorf("wiring projector scheduler: %w", err)
		}
	}

	g := gitexec.New(root)
	mirrors := []syncengine.Mirror{
		{DirName: "tasks", Store: tasks},
		{DirName: "cycles", Store: cycles},
		{DirName: "actors", Store: actors},
		{DirName: "agents", Store: agentsStore},
		{DirName: "executions", Store: executions},
		{DirName: "feedback", Store: feedback},
		{DirName: "changelogs", Store: changelogs},
	}
	syncEng := syncengine.New(g, mirrors, cfg.Sync.Remote)

	auditCache, err := syncengine.OpenAuditCache(filepath.Join(gitgovRoot, "audit-cache.db"))
	if err != nil {
		log.WithError(err).Warn("opening sync audit cache failed, continuing without it")
		auditCache = nil
	} else {
		syncEng = syncEng.WithAuditCache(auditCache)
	}

	return &container{
		root: root, gitgov: gitgovRoot, cfg: cfg, bus: bus, identity: idMgr,
		tasks: tasks, cycles: cycles, actors: actors, agents: agentsStore,
		executions: executions, feedback: feedback, changelogs: changelogs,
		backlog: backlog, execution: executionAdapter, feedbackA: feedbackAdapter,
		changelog: changelogAdapter, agent: agentAdapter,
		methodology: methodology, registry: registry,
		projector: proj, watcher: w, scheduler: sched,
		syncEngine: syncEng, auditCache: auditCache,
		log: log,
	}, nil
}

func (c *container) Close() {
	if c.auditCache != nil {
		c.auditCache.Close()
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	projectName := fs.String("name", "", "project name")
	fs.Parse(args)

	gitgovRoot := filepath.Join(*root, ".gitgov")
	for _, dir := range []string{"actors", "agents", "tasks", "cycles", "executions", "feedback", "changelogs"} {
		if err := os.MkdirAll(filepath.Join(gitgovRoot, dir), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	meta := &config.ProjectMetadata{
		ProtocolVersion: config.CurrentProtocolVersion,
		ProjectID:       records.TimeIndexedID(time.Now().Unix(), "project", *projectName),
		ProjectName:     *projectName,
	}
	if err := config.SaveProjectMetadata(*root, meta); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enginePath := filepath.Join(gitgovRoot, "engine.toml")
	if _, err := os.Stat(enginePath); os.IsNotExist(err) {
		if err := os.WriteFile(enginePath, []byte(defaultEngineTOML), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	methodologyPath := filepath.Join(gitgovRoot, "methodology.toml")
	if _, err := os.Stat(methodologyPath); os.IsNotExist(err) {
		if err := os.WriteFile(methodologyPath, []byte(defaultMethodologyTOML), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("initialised GitGovernance project %q at %s\n", *projectName, gitgovRoot)
}

const defaultEngineTOML = `[general]
log_level = "info"

[sync]
remote = "origin"

[watcher]
debounce_window = "300ms"

[projector]
sink = "filesystem"

[audit]
waivers_path = ".gitgov/waivers.json"
`

const defaultMethodologyTOML = `name = "default"

[transitions.start]
from = ["draft"]
to = "active"
[transitions.start.requires]

[transitions.complete]
from = ["active"]
to = "done"
[transitions.complete.requires]
`

func runDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	fs.Parse(args)

	c, err := buildContainer(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.watcher.Start(); err != nil {
		c.log.WithError(err).Fatal("failed to start watcher")
	}
	defer c.watcher.Stop()

	if c.scheduler != nil {
		c.scheduler.Start()
		defer c.scheduler.Stop()
	}

	c.log.Info("gitgovd daemon running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	c.log.Info("shutting down")
}

func runSync(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gitgovd sync <push|pull|resolve|audit> [flags]")
		os.Exit(2)
	}
	sub := args[0]
	fs := flag.NewFlagSet("sync "+sub, flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	actorID := fs.String("actor", "", "acting actor ID")
	dryRun := fs.Bool("dry-run", false, "compute the diff plan without mutating the state branch")
	force := fs.Bool("force", false, "force-push the state branch")
	reason := fs.String("reason", "", "resolution reason (sync resolve)")
	fs.Parse(args[1:])

	c, err := buildContainer(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	switch sub {
	case "push":
		result, err := c.syncEngine.PushState(*actorID, *dryRun, *force)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", result)
	case "pull":
		result, err := c.syncEngine.PullState(false)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", result)
	case "resolve":
		result, err := c.syncEngine.ResolveConflict(*reason, *actorID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", result)
	case "audit":
		report, err := c.syncEngine.AuditState(c.identity.ResolvePublicKey, true)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", report)
	default:
		fmt.Fprintln(os.Stderr, "unknown sync subcommand:", sub)
		os.Exit(2)
	}
}

func runAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	include := fs.String("include", "", "comma-separated include globs")
	exclude := fs.String("exclude", "", "comma-separated exclude globs")
	changedSince := fs.String("changed-since", "", "only scan files changed since this git ref")
	fs.Parse(args)

	c, err := buildContainer(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	lister := audit.NewFilesystemLister(*root)
	detector := audit.NewRegexDetector(nil)
	waivers := audit.NewFileWaiverReader(filepath.Join(*root, config.ExpandHome(c.cfg.Audit.WaiversPath)))
	changed := &audit.GitChangedFileLister{Git: gitexec.New(*root)}
	auditor := audit.New(lister, []audit.FindingDetector{detector}, waivers, changed, os.ReadFile)

	scope := audit.Scope{ChangedSince: *changedSince}
	if *include != "" {
		scope.Include = splitCSV(*include)
	}
	if *exclude != "" {
		scope.Exclude = splitCSV(*exclude)
	}

	report, err := auditor.Audit(scope)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("scanned %d files, %d findings\n", report.ScannedFiles, len(report.Findings))
	for _, f := range report.Findings {
		fmt.Printf("[%s] %s:%d %s\n", f.Severity, f.File, f.Line, f.Message)
	}
}

func runLint(args []string) {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	fs.Parse(args)

	c, err := buildContainer(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	data, err := c.projector.ComputeProjection()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	headerLookup := func(recType records.RecordType, id string) (records.Header, bool) {
		var header records.Header
		var err error
		switch recType {
		case records.TypeTask:
			_, header, err = c.tasks.GetTyped(id)
		case records.TypeCycle:
			_, header, err = c.cycles.GetTyped(id)
		default:
			return records.Header{}, false
		}
		if err != nil {
			return records.Header{}, false
		}
		return header, true
	}

	linter := lint.New(headerLookup, []lint.CustomRuleCheck{
		lint.EpicComplexityCheck(20),
		lint.AssignmentRequiredCheck(),
	})

	report, err := linter.Lint(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, v := range report.Violations {
		fmt.Printf("[%s] %s %s: %s\n", v.Severity, v.RuleID, v.RecordID, v.Message)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
