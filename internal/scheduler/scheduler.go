// Package scheduler is the outermost loop of a workflow run. It owns the
// store, the MCP server, the proposal manager, and one controller per agent;
// it runs setup tasks, posts the kickoff, fans mentions out as controller
// wakes, and ends the run on debounced global idle.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/agent"
	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/dashboard"
	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/eventlog"
	"github.com/jharju/weft/internal/mcpserver"
	"github.com/jharju/weft/internal/policy"
	"github.com/jharju/weft/internal/proposal"
	"github.com/jharju/weft/internal/repository"
	"github.com/jharju/weft/internal/storage"
	"github.com/jharju/weft/internal/tools/collab"
	"github.com/jharju/weft/internal/workflow"
	"github.com/jharju/weft/internal/workspace"
)

// serverName is the MCP server identity reported to clients.
const serverName = "weft"

// Exit reasons recorded in the run ledger.
const (
	ExitIdle      = "idle"
	ExitFailed    = "failed"
	ExitCancelled = "cancelled"
	ExitSetup     = "setup_failed"
)

// Options configure a scheduler beyond the workflow file.
type Options struct {
	// ProjectDir is where setup tasks run. Empty means the current directory.
	ProjectDir string
	// Ledger records the run. Nil disables recording.
	Ledger repository.Ledger
	// Backends overrides the backend for named agents. Required for agents
	// declared with the sdk backend type; tests use it to inject fakes.
	Backends map[string]agent.Backend
	Logger   *log.Logger
}

// Scheduler runs one workflow to completion.
type Scheduler struct {
	wf         *domain.ParsedWorkflow
	cfg        *policy.Config
	logger     *log.Logger
	ledger     repository.Ledger
	projectDir string
	runID      string

	store      *contextstore.Store
	events     *eventlog.Log
	proposals  *proposal.Manager
	server     *mcpserver.Server
	workspaces *workspace.Manager
	backends   map[string]agent.Backend

	mu          sync.Mutex
	controllers map[string]*agent.Controller
}

// New builds the run: storage backend, store, proposal manager, MCP server,
// and per-agent backends. Nothing is started until Run.
func New(wf *domain.ParsedWorkflow, cfg *policy.Config, opts Options) (*Scheduler, error) {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[weft] ", log.LstdFlags)
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = repository.Nop{}
	}
	projectDir := opts.ProjectDir
	if projectDir == "" {
		projectDir = "."
	}

	s := &Scheduler{
		wf:          wf,
		cfg:         cfg,
		logger:      logger,
		ledger:      ledger,
		projectDir:  projectDir,
		runID:       uuid.NewString()[:8],
		backends:    make(map[string]agent.Backend),
		controllers: make(map[string]*agent.Controller),
	}

	var backend storage.Backend
	if wf.Context.Dir != "" {
		disk, err := storage.NewDisk(wf.Context.Dir)
		if err != nil {
			return nil, fmt.Errorf("scheduler: context dir: %w", err)
		}
		backend = disk
	} else {
		backend = storage.NewMemory()
	}
	s.store = contextstore.New(backend, logger, contextstore.Options{
		Agents:           wf.AgentNames(),
		MessageThreshold: cfg.MessageThreshold,
		Mode:             wf.Context.Mode,
	})
	s.events = eventlog.New(s.store, logger)
	s.proposals = proposal.NewManager(wf.AgentNames())

	root := wf.Context.Dir
	if root == "" {
		root = filepath.Join(os.TempDir(), "weft-"+s.runID)
	}
	s.workspaces = workspace.NewManager(root, "", logger)

	mcpSrv := server.NewMCPServer(serverName, Version)
	collab.Register(mcpSrv, collab.Deps{
		Store:     s.store,
		Proposals: s.proposals,
		Events:    s.events,
		Logger:    logger,
		OnMention: s.onMention,
	})
	s.server = mcpserver.New(mcpSrv, logger,
		mcpserver.WithValidAgent(s.store.IsAgent),
		mcpserver.WithOnConnect(func(a, id string) { logger.Printf("Scheduler: agent %s connected (%s)", a, id) }),
	)
	dashboard.NewHandler(s.store, s.States, wf.Name, logger).Register(s.server)

	for i := range wf.Agents {
		decl := &wf.Agents[i]
		if b, ok := opts.Backends[decl.Name]; ok {
			s.backends[decl.Name] = b
			continue
		}
		switch decl.Backend.Type {
		case workflow.BackendSubprocess:
			timeout := cfg.SendTimeout()
			if decl.TimeoutSeconds > 0 {
				timeout = time.Duration(decl.TimeoutSeconds) * time.Second
			}
			s.backends[decl.Name] = agent.NewSubprocess(decl.Name, agent.SubprocessConfig{
				Command: decl.Backend.Command,
				Env:     decl.Backend.Env,
				Timeout: timeout,
			})
		default:
			return nil, fmt.Errorf("scheduler: agent %q: backend type %q needs an injected backend", decl.Name, decl.Backend.Type)
		}
	}
	return s, nil
}

// Store exposes the channel store, mainly for inspection in tests and the CLI.
func (s *Scheduler) Store() *contextstore.Store { return s.store }

// RunID returns the ledger id of this run.
func (s *Scheduler) RunID() string { return s.runID }

// States returns each controller's lifecycle state. Agents whose controller
// has not started yet report starting.
func (s *Scheduler) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.wf.Agents))
	for _, name := range s.wf.AgentNames() {
		if c, ok := s.controllers[name]; ok {
			out[name] = string(c.State())
		} else {
			out[name] = string(agent.StateStarting)
		}
	}
	return out
}

// wakeReady wakes every controller with a non-empty inbox, used when the
// channel file changes under us. A wake implies a run, so agents with nothing
// to read are left alone.
func (s *Scheduler) wakeReady() {
	s.mu.Lock()
	controllers := make(map[string]*agent.Controller, len(s.controllers))
	for k, v := range s.controllers {
		controllers[k] = v
	}
	s.mu.Unlock()
	for name, c := range controllers {
		inbox, err := s.store.GetInbox(name)
		if err != nil || len(inbox) == 0 {
			continue
		}
		c.Wake()
	}
}

// onMention wakes the mentioned agent's controller. Unknown targets (system,
// user, agents not in this workflow) are ignored.
func (s *Scheduler) onMention(from, target string, msg domain.Message) {
	s.mu.Lock()
	c := s.controllers[target]
	s.mu.Unlock()
	if c == nil {
		return
	}
	s.logger.Printf("Scheduler: mention %s -> %s, waking", from, target)
	c.Wake()
}

// Run executes the workflow until global idle, terminal failure of every
// agent, or ctx cancellation. The exit reason is recorded in the ledger.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.ledger.Begin(repository.Run{
		ID:        s.runID,
		Workflow:  s.wf.Name,
		Agents:    s.wf.AgentNames(),
		StartedAt: time.Now(),
	}); err != nil {
		s.logger.Printf("Scheduler: ledger begin: %v", err)
	}

	if err := s.server.Start(s.cfg.HTTPAddr); err != nil {
		s.finish(ExitFailed)
		return err
	}
	s.logger.Printf("Scheduler: run %s of workflow %q (%d agents)", s.runID, s.wf.Name, len(s.wf.Agents))

	vars, err := workflow.RunSetup(ctx, s.wf.Setup, s.wf.Vars, s.projectDir, s.logger)
	if err != nil {
		s.shutdown(cancel)
		s.finish(ExitSetup)
		return fmt.Errorf("scheduler: %w", err)
	}

	for _, name := range s.wf.AgentNames() {
		dir, err := s.workspaces.Ensure(name)
		if err != nil {
			s.shutdown(cancel)
			s.finish(ExitFailed)
			return fmt.Errorf("scheduler: %w", err)
		}
		backend := s.backends[name]
		backend.SetWorkspace(dir, agent.MCPConfig{URL: s.server.AgentURL(name), ServerName: serverName})

		decl := s.wf.Agent(name)
		retry := agent.RetryPolicy{
			MaxAttempts: s.cfg.Retry.MaxAttempts,
			Backoff:     s.cfg.Backoff(),
			Multiplier:  s.cfg.Retry.BackoffMultiplier,
			MaxBackoff:  s.cfg.MaxBackoff(),
		}
		if decl.MaxAttempts > 0 {
			retry.MaxAttempts = decl.MaxAttempts
		}
		c := agent.NewController(name, backend, s.store, s.events, s.logger, agent.ControllerConfig{
			Workflow:       s.wf.Name,
			ProjectDir:     dir,
			SystemPrompt:   decl.SystemPrompt,
			PollInterval:   s.cfg.PollInterval(),
			SendTimeout:    s.cfg.SendTimeout(),
			Retry:          retry,
			ActivityWindow: s.cfg.ActivityWindow,
		})
		s.mu.Lock()
		s.controllers[name] = c
		s.mu.Unlock()
	}

	// The run epoch floors every inbox before the kickoff lands, so agents
	// only ever see messages from this run.
	if err := s.store.MarkRunStart(); err != nil {
		s.shutdown(cancel)
		s.finish(ExitFailed)
		return fmt.Errorf("scheduler: mark run start: %w", err)
	}

	s.mu.Lock()
	for _, c := range s.controllers {
		c.Start(ctx)
	}
	s.mu.Unlock()

	// Disk-backed contexts may receive appends from outside this process
	// (an operator tailing a message in, a second weft sharing the context).
	// Watch the channel file and wake everyone when it grows.
	if s.wf.Context.Dir != "" {
		watcher := contextstore.NewWatcher(
			filepath.Join(s.wf.Context.Dir, contextstore.ChannelKey),
			s.wakeReady, s.logger)
		go watcher.Start(ctx)
	}

	if s.wf.Kickoff != "" {
		text := workflow.Interpolate(s.wf.Kickoff, vars)
		msg, err := s.store.AppendChannel(domain.SenderSystem, text, contextstore.AppendOptions{})
		if err != nil {
			s.shutdown(cancel)
			s.finish(ExitFailed)
			return fmt.Errorf("scheduler: kickoff: %w", err)
		}
		targets := msg.Mentions
		if len(targets) == 0 {
			// A kickoff that names nobody addresses everybody.
			targets = s.wf.AgentNames()
		}
		for _, t := range targets {
			s.onMention(domain.SenderSystem, t, msg)
		}
	}

	reason := s.watch(ctx)
	s.logger.Printf("Scheduler: run %s over (%s)", s.runID, reason)
	s.shutdown(cancel)
	s.finish(reason)
	if reason == ExitFailed {
		return fmt.Errorf("scheduler: all agents failed")
	}
	return nil
}

// watch runs the global-idle watcher. The workflow is idle when every live
// controller is idle and every live agent's inbox is empty; the predicate
// must hold for the whole debounce window before the run ends.
func (s *Scheduler) watch(ctx context.Context) string {
	debounce := s.cfg.IdleDebounce()
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ExitCancelled
		case <-ticker.C:
		}

		live, failed := s.census()
		if live == 0 && failed > 0 {
			return ExitFailed
		}

		idle, err := s.globalIdle()
		if err != nil {
			s.logger.Printf("Scheduler: idle check: %v", err)
			idleSince = time.Time{}
			continue
		}
		if !idle {
			idleSince = time.Time{}
			continue
		}
		if idleSince.IsZero() {
			idleSince = time.Now()
			continue
		}
		if time.Since(idleSince) >= debounce && s.cfg.ShouldExitOnIdle() {
			return ExitIdle
		}
	}
}

// census counts controllers that can still run and those that failed.
func (s *Scheduler) census() (live, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.controllers {
		switch c.State() {
		case agent.StateFailed:
			failed++
		case agent.StateStopped:
		default:
			live++
		}
	}
	return live, failed
}

// globalIdle reports whether every live controller is idle with an empty
// inbox. Failed agents are excluded: they can no longer drain anything, and
// counting their stuck inbox would keep the run alive forever.
func (s *Scheduler) globalIdle() (bool, error) {
	s.mu.Lock()
	controllers := make(map[string]*agent.Controller, len(s.controllers))
	for k, v := range s.controllers {
		controllers[k] = v
	}
	s.mu.Unlock()

	for name, c := range controllers {
		switch c.State() {
		case agent.StateFailed, agent.StateStopped:
			continue
		case agent.StateIdle:
		default:
			return false, nil
		}
		inbox, err := s.store.GetInbox(name)
		if err != nil {
			return false, err
		}
		if len(inbox) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// shutdown stops controllers, drains the HTTP server, and applies the context
// persistence policy.
func (s *Scheduler) shutdown(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	controllers := make([]*agent.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()
	for _, c := range controllers {
		select {
		case <-c.Done():
		case <-time.After(10 * time.Second):
			s.logger.Printf("Scheduler: controller %s did not stop in time", c.Name())
		}
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := s.server.Shutdown(shCtx); err != nil {
		s.logger.Printf("Scheduler: server shutdown: %v", err)
	}
	if err := s.store.Destroy(); err != nil {
		s.logger.Printf("Scheduler: context teardown: %v", err)
	}
	if err := s.workspaces.CleanupAll(); err != nil {
		s.logger.Printf("Scheduler: workspace cleanup: %v", err)
	}
}

// finish records the run outcome in the ledger.
func (s *Scheduler) finish(reason string) {
	messages := 0
	if n, err := s.store.ChannelLength(); err == nil {
		messages = n - s.store.RunStart()
	}
	if err := s.ledger.Finish(s.runID, time.Now(), messages, reason); err != nil {
		s.logger.Printf("Scheduler: ledger finish: %v", err)
	}
}
