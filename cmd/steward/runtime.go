// Package main provides runtime assembly and execution for runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/stewardworks/steward/internal/archive"
	"github.com/stewardworks/steward/internal/checkpoint"
	"github.com/stewardworks/steward/internal/conclusion"
	"github.com/stewardworks/steward/internal/config"
	"github.com/stewardworks/steward/internal/confirm"
	"github.com/stewardworks/steward/internal/events"
	"github.com/stewardworks/steward/internal/executor"
	"github.com/stewardworks/steward/internal/oracle"
	"github.com/stewardworks/steward/internal/planner"
	"github.com/stewardworks/steward/internal/playbook"
	"github.com/stewardworks/steward/internal/session"
	"github.com/stewardworks/steward/internal/sovereignty"
	"github.com/stewardworks/steward/internal/task"
	"github.com/stewardworks/steward/internal/tools"
	"github.com/stewardworks/steward/internal/tui"
	"github.com/stewardworks/steward/internal/workspace"
)

// runtime handles the execution phase of a run.
type runtime struct {
	j   *job
	cfg *config.Config

	// Components
	tk       *task.Task
	guard    *workspace.Guard
	registry *tools.Registry
	gate     *sovereignty.Gate
	broker   *confirm.Broker
	watcher  *confirm.Watcher
	exec     *executor.Executor
	orc      oracle.Oracle
	bus      *events.Bus
	telem    telemetry.Exporter
	console  *tui.Sink

	// Recording
	recorder *session.Recorder
	journal  *checkpoint.Journal
	reports  *archive.Store

	// Cleanup
	closers []func()
}

// newRuntime creates a runtime from a loaded job.
func newRuntime(j *job) *runtime {
	return &runtime{j: j, cfg: j.cfg}
}

// setup initializes all runtime components. Returns error on failure.
func (rt *runtime) setup() error {
	if err := os.MkdirAll(rt.cfg.Storage.Root(), 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	rt.tk = task.New(rt.j.tf.Goal)

	rt.setupWorkspace()
	if err := rt.setupOracle(); err != nil {
		return err
	}
	rt.setupGate()
	if err := rt.setupBroker(); err != nil {
		return err
	}
	rt.setupExecutor()
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	rt.setupEvents()
	if err := rt.setupRecording(); err != nil {
		return err
	}
	return rt.setupArchive()
}

// setupWorkspace builds the write guard and the tool registry behind
// it.
func (rt *runtime) setupWorkspace() {
	rt.guard = workspace.New(rt.cfg.Agent.Workspace, rt.cfg.Agent.ExtraWritable...)
	rt.guard.Deny(rt.cfg.Agent.ProtectedPaths...)
	rt.registry = tools.NewRegistry(rt.guard)
}

// setupOracle creates the LLM provider and the planning oracle on top
// of it, with whatever playbook guidance the taskfile asked for.
func (rt *runtime) setupOracle() error {
	provider := rt.cfg.LLM.Provider
	if provider == "" {
		return fmt.Errorf("no LLM provider configured; run steward init")
	}
	key := rt.cfg.GetAPIKey()
	if key == "" {
		envVar := rt.cfg.LLM.APIKeyEnv
		if envVar == "" {
			envVar = config.DefaultAPIKeyEnv(provider)
		}
		return fmt.Errorf("no API key for %s: set $%s", provider, envVar)
	}

	p, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  provider,
		Model:     rt.cfg.LLM.Model,
		APIKey:    key,
		MaxTokens: rt.cfg.LLM.MaxTokens,
		BaseURL:   rt.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}

	rt.orc = oracle.NewLLM(oracle.Config{
		Provider:      p,
		Tools:         rt.registry.Definitions(),
		Guidance:      rt.loadPlaybooks(),
		HistoryWindow: rt.cfg.Limits.HistoryWindow,
	})
	return nil
}

// loadPlaybooks renders the guidance packs the taskfile names.
// Guidance is advisory, so a missing pack degrades to none.
func (rt *runtime) loadPlaybooks() []string {
	if len(rt.j.tf.Playbooks) == 0 {
		return nil
	}
	pbs, err := playbook.Select(rt.j.tf.Playbooks, rt.cfg.Playbooks.Paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: playbooks unavailable: %v\n", err)
		return nil
	}
	return playbook.Render(pbs)
}

// setupGate builds the sovereignty gate from the configured policy.
func (rt *runtime) setupGate() {
	rt.gate = sovereignty.New(rt.cfg.Sovereignty.Policy())
}

// setupBroker wires confirmation delivery: the broker holds pending
// requests, cards mirror them on disk for steward pending, and the
// watcher feeds answers written by steward resolve back in.
func (rt *runtime) setupBroker() error {
	rt.broker = confirm.New(rt.cfg.Confirm.ApprovalTimeout())
	rt.broker.PersistTo(rt.cfg.Storage.RequestsDir())

	w, err := confirm.NewWatcher(rt.broker, rt.cfg.AnswersDir())
	if err != nil {
		return fmt.Errorf("watching answer directory: %w", err)
	}
	w.Start()
	rt.watcher = w
	rt.addCloser(func() { rt.watcher.Close() })
	return nil
}

// setupExecutor creates the step executor.
func (rt *runtime) setupExecutor() {
	rt.exec = executor.New(rt.registry, executor.Options{
		MaxRetries:     rt.cfg.Limits.MaxRetries,
		Backoff:        rt.cfg.Timeouts.RetryBackoff(),
		BackoffCap:     rt.cfg.Timeouts.RetryBackoffCap(),
		DefaultTimeout: rt.cfg.Timeouts.ToolTimeout(),
		Timeouts:       rt.cfg.Timeouts.PerToolTimeouts(),
	})
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupEvents assembles the sink stack. Interactive runs feed the
// console; headless runs log and announce to stderr. A NATS sink
// joins when a broker URL is configured, and carries remote
// confirmation answers back in through the resolver.
func (rt *runtime) setupEvents() {
	var sinks []events.Sink
	if rt.j.interactive {
		rt.console = tui.NewSink(0)
		sinks = append(sinks, rt.console)
	} else {
		sinks = append(sinks, events.NewLogSink(), &announcer{telem: rt.telem})
	}
	if url := rt.cfg.Events.NATSURL; url != "" {
		ns, err := events.DialNATS(url, rt.broker)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: nats unreachable, events stay local: %v\n", err)
		} else {
			sinks = append(sinks, ns)
		}
	}
	rt.bus = events.NewBus(rt.cfg.Events.Buffer, sinks...)
}

// setupRecording opens the session transcript and the checkpoint
// journal. Recording is part of the audit surface, so failures here
// stop the run rather than degrade.
func (rt *runtime) setupRecording() error {
	rec, err := session.NewRecorder(rt.cfg.Storage.SessionsDir(), rt.tk, rt.cfg.Agent.Workspace)
	if err != nil {
		return fmt.Errorf("opening session transcript: %w", err)
	}
	rt.recorder = rec
	// No-op when the loop already wrote the footer; covers error paths
	// that never reach a terminal state.
	rt.addCloser(func() { rt.recorder.Close() })

	j, err := checkpoint.Open(rt.cfg.Storage.CheckpointsDir(), rt.tk.ID, rt.tk.Goal)
	if err != nil {
		return fmt.Errorf("opening checkpoint journal: %w", err)
	}
	rt.journal = j
	return nil
}

// setupArchive opens the report archive.
func (rt *runtime) setupArchive() error {
	store, err := archive.NewStore(rt.cfg.Storage.ArchiveDir())
	if err != nil {
		return fmt.Errorf("opening report archive: %w", err)
	}
	rt.reports = store
	return nil
}

// Run is the steward run entry point.
func (c *RunCmd) Run() error {
	j := &job{
		goal:          c.Goal,
		taskfilePath:  c.File,
		configPath:    c.Config,
		workspacePath: c.Workspace,
		maxSteps:      c.MaxSteps,
		interactive:   c.Interactive,
	}
	if err := j.load(); err != nil {
		return err
	}

	rt := newRuntime(j)
	if err := rt.setup(); err != nil {
		rt.cleanup()
		return err
	}
	defer rt.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if j.interactive {
		return rt.runInteractive(ctx)
	}
	return rt.runHeadless(ctx)
}

// execute runs the loop to a terminal state, honoring the taskfile
// deadline when one is set.
func (rt *runtime) execute(ctx context.Context) (*planner.Outcome, error) {
	if d, ok := rt.j.tf.RunDeadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	p := planner.New(planner.Deps{
		Oracle:     rt.orc,
		Gate:       rt.gate,
		Broker:     rt.broker,
		Executor:   rt.exec,
		Registry:   rt.registry,
		Classifier: conclusion.New(),
		Guard:      rt.guard,
		Bus:        rt.bus,
		Recorder:   rt.recorder,
		Journal:    rt.journal,
	}, planner.Options{
		MaxSteps:       rt.cfg.Limits.MaxSteps,
		RefusalCeiling: rt.cfg.Limits.RefusalCeiling,
	})
	return p.Run(ctx, rt.tk, task.NewMemory())
}

// runHeadless drives the run with stderr narration and a JSON report
// on stdout.
func (rt *runtime) runHeadless(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "▶ %s (task %s)\n", rt.tk.Goal, rt.tk.ID)

	outcome, err := rt.execute(ctx)
	rt.bus.Close()
	if err != nil {
		if outcome != nil {
			rt.finish(outcome)
		}
		return err
	}
	return rt.finish(outcome)
}

// runInteractive drives the run behind a live console. The execute
// goroutine owns the bus; closing it after the loop returns ends the
// console's event stream, which quits the program.
func (rt *runtime) runInteractive(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		outcome *planner.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := rt.execute(ctx)
		rt.bus.Close()
		done <- result{outcome, err}
	}()

	interrupted, uiErr := tui.Run(rt.tk.ID, rt.tk.Goal, rt.console, rt.broker)
	if interrupted {
		cancel()
	}
	res := <-done

	if uiErr != nil {
		fmt.Fprintf(os.Stderr, "warning: console failed: %v\n", uiErr)
	}
	if res.err != nil {
		if res.outcome != nil {
			rt.finish(res.outcome)
		}
		return res.err
	}
	return rt.finish(res.outcome)
}

// finish archives the report, narrates the terminal state on stderr,
// and prints the report on stdout. A failed task maps to
// errTaskFailed so main exits nonzero without repeating what the
// report already says.
func (rt *runtime) finish(outcome *planner.Outcome) error {
	rep := outcome.Report
	if rep == nil {
		return fmt.Errorf("run ended without a report")
	}
	if err := rt.reports.Save(rep); err != nil {
		fmt.Fprintf(os.Stderr, "warning: report not archived: %v\n", err)
	}

	if outcome.Task.Status == task.StatusSucceeded {
		fmt.Fprintf(os.Stderr, "✓ %s\n", rep.Summary)
	} else {
		fmt.Fprintf(os.Stderr, "✗ %s\n", rep.Summary)
	}

	out, _ := json.MarshalIndent(rep, "", "  ")
	fmt.Println(string(out))

	if outcome.Task.Status != task.StatusSucceeded {
		return errTaskFailed
	}
	return nil
}

// cleanup runs all registered cleanup functions.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// announcer narrates run events on stderr for headless runs and
// forwards them to telemetry. It is the non-interactive counterpart
// of the console.
type announcer struct {
	telem telemetry.Exporter
}

func (a *announcer) Accept(ev events.Event) {
	switch ev.Type {
	case events.TypeProgress:
		a.progress(ev)
	case events.TypeConfirmRequest:
		fmt.Fprintf(os.Stderr, "? %s\n  answer with: steward resolve %s --approve|--deny\n",
			asString(ev.Fields["prompt"]), asString(ev.Fields["id"]))
	case events.TypeFailureReport:
		fmt.Fprintf(os.Stderr, "✗ %s\n", asString(ev.Fields["summary"]))
	}
	a.telem.LogEvent(ev.Type, ev.Fields)
}

func (a *announcer) progress(ev events.Event) {
	if done, _ := ev.Fields["done"].(bool); done {
		fmt.Fprintf(os.Stderr, "✓ %s\n", asString(ev.Fields["summary"]))
		return
	}
	tool := asString(ev.Fields["tool"])
	if asString(ev.Fields["decision"]) != "" {
		fmt.Fprintf(os.Stderr, "⊘ %s: %s\n", tool, asString(ev.Fields["reason"]))
		return
	}
	if ok, _ := ev.Fields["success"].(bool); ok {
		fmt.Fprintf(os.Stderr, "→ %s\n", tool)
	} else {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", tool, asString(ev.Fields["error"]))
	}
}

func (a *announcer) Close() error { return nil }

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
