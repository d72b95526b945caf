// Package daemon hosts the long-running pacer process: the loop driver, the
// prompt watcher, the event sinks, and the admin socket the CLI talks to.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/msageha/pacer/internal/agent"
	"github.com/msageha/pacer/internal/events"
	"github.com/msageha/pacer/internal/lock"
	"github.com/msageha/pacer/internal/loop"
	"github.com/msageha/pacer/internal/mode"
	"github.com/msageha/pacer/internal/model"
	"github.com/msageha/pacer/internal/notify"
	"github.com/msageha/pacer/internal/prompt"
	"github.com/msageha/pacer/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// switchQueueSize bounds the mode.switch admin queue. A full queue answers
// BACKPRESSURE instead of blocking the socket handler.
const switchQueueSize = 16

// Daemon is the pacer host process started by `pacer run`.
type Daemon struct {
	pacerDir string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	bus      *events.Bus
	gate     *agent.ApprovalGate
	watchdog *agent.Watchdog
	ctrl     *mode.Controller
	cache    *prompt.Cache
	loader   *prompt.Loader
	watcher  *prompt.Watcher
	store    *loop.Store
	driver   *loop.Driver
	audit    *events.AuditLogger

	session       agent.Session
	sessionCloser io.Closer

	switchQueue chan *model.ModeSwitchRequest
	startedAt   time.Time
	unsubs      []func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}
	stopped  chan struct{}
	shutdown sync.Once
}

// SetSession overrides the agent session implementation. Must be called
// before Start; the default spawns the configured agent CLI per iteration.
func (d *Daemon) SetSession(s agent.Session) {
	d.session = s
}

// New creates a Daemon that logs to <pacerDir>/logs/daemon.log.
func New(pacerDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(pacerDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(pacerDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(pacerDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		pacerDir:    pacerDir,
		config:      cfg,
		logLevel:    parseLogLevel(cfg.Logging.Level),
		logger:      log.New(w, "", 0),
		logFile:     closer,
		fileLock:    lock.NewFileLock(filepath.Join(pacerDir, "locks", "daemon.lock")),
		server:      uds.NewServer(filepath.Join(pacerDir, uds.DefaultSocketName)),
		bus:         events.NewBus(0),
		gate:        agent.NewApprovalGate(),
		watchdog:    agent.NewWatchdog(),
		switchQueue: make(chan *model.ModeSwitchRequest, switchQueueSize),
		startedAt:   time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	d.ctrl = mode.New(cfg.ModeSwitch, d.gate, d.watchdog, d.bus)
	d.cache = prompt.NewCache(cfg.Prompts.Cache.MaxEntries)
	d.loader = prompt.NewLoader(prompt.Config{
		BaseDir:         d.promptDir(),
		MaxIncludeDepth: cfg.Prompts.MaxIncludeDepth,
		Extensions:      cfg.Prompts.Extensions,
		Strict:          cfg.Prompts.Strict,
	}, d.cache)
	d.store = loop.NewStore(pacerDir, lock.NewMutexMap())

	return d, nil
}

// promptDir resolves prompts.base_dir against the .pacer directory.
func (d *Daemon) promptDir() string {
	base := d.config.Prompts.BaseDir
	if base == "" {
		base = "prompts"
	}
	if filepath.IsAbs(base) {
		return base
	}
	return filepath.Join(d.pacerDir, base)
}

// workDir resolves loop.work_dir against the project root (the parent of
// the .pacer directory), which is also the default.
func (d *Daemon) workDir() string {
	root := filepath.Dir(d.pacerDir)
	wd := d.config.Loop.WorkDir
	switch {
	case wd == "":
		return root
	case filepath.IsAbs(wd):
		return wd
	default:
		return filepath.Join(root, wd)
	}
}

// Run starts the daemon and blocks until a signal or a finished loop shuts
// it down.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start brings up all daemon components without blocking.
func (d *Daemon) Start() error {
	// Step 1: Acquire the daemon file lock
	if err := os.MkdirAll(filepath.Join(d.pacerDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d mode=%s", os.Getpid(), d.ctrl.CurrentMode())

	// Step 2: Open the audit log and subscribe the event sinks
	audit, err := events.NewAuditLogger(filepath.Join(d.pacerDir, "logs", "events.jsonl"), 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.subscribeEvents()

	// Step 3: Watch the prompts directory
	promptDir := d.promptDir()
	if err := os.MkdirAll(promptDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure prompt dir %s: %w", promptDir, err)
	}
	watcher, err := prompt.NewWatcher(16, d.config.Prompts.Extensions)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Watch(promptDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch prompt dir: %w", err)
	}

	// Step 4: Build the agent session unless one was injected
	if d.session == nil {
		runner, err := agent.NewRunner(d.pacerDir, d.config.Agent, d.workDir(), d.config.Logging.Level)
		if err != nil {
			d.cleanup()
			return fmt.Errorf("create agent runner: %w", err)
		}
		d.session = runner
		d.sessionCloser = runner
	}

	// Step 5: Build the loop driver
	driver, err := loop.New(d.pacerDir, d.config, loop.Deps{
		Session:    d.session,
		Controller: d.ctrl,
		Gate:       d.gate,
		Watchdog:   d.watchdog,
		Loader:     d.loader,
		Cache:      d.cache,
		Changes:    watcher.Changes(),
		Store:      d.store,
		Bus:        d.bus,
	})
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create loop driver: %w", err)
	}
	d.driver = driver

	// Step 6: Register admin handlers and start the UDS server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.pacerDir, uds.DefaultSocketName))

	// Step 7: Start the switch dispatcher and the loop
	d.wg.Add(2)
	go d.dispatchSwitches()
	go d.runLoop()

	d.log(LogLevelInfo, "daemon ready")
	return nil
}

// runLoop drives the iteration loop and signals completion.
func (d *Daemon) runLoop() {
	defer d.wg.Done()
	defer close(d.loopDone)

	if err := d.driver.Run(d.ctx); err != nil {
		d.log(LogLevelError, "loop failed: %v", err)
	}
}

// dispatchSwitches serializes queued mode.switch requests into the
// controller.
func (d *Daemon) dispatchSwitches() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case req := <-d.switchQueue:
			if err := d.ctrl.RequestSwitch(req); err != nil {
				d.log(LogLevelWarn, "mode switch rejected request=%s target=%s error=%v", req.ID, req.Target, err)
				continue
			}
			d.log(LogLevelInfo, "mode switch dispatched request=%s target=%s timing=%s", req.ID, req.Target, req.Timing)
		}
	}
}

// subscribeEvents wires the event sinks: every event type is appended to
// the audit log, and the notification hooks fire per the notifications
// config.
func (d *Daemon) subscribeEvents() {
	record := func(e events.Event) {
		if err := d.audit.RecordEvent(e); err != nil {
			d.log(LogLevelWarn, "audit write failed: %v", err)
		}
	}
	for _, typ := range []events.EventType{
		events.EventModeSwitched,
		events.EventModeSwitchPending,
		events.EventModeSwitchFailed,
		events.EventModeTriggerDetected,
		events.EventPromptChanged,
		events.EventLoopIteration,
		events.EventLoopStopped,
	} {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(typ, record))
	}

	if d.config.Notifications.Enabled && d.config.Notifications.OnEscalation {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(events.EventModeTriggerDetected, func(e events.Event) {
			msg := fmt.Sprintf("escalated to attended: %v", e.Data["trigger"])
			if err := notify.Send("pacer", msg); err != nil {
				d.log(LogLevelDebug, "notification failed: %v", err)
			}
		}))
	}
	if d.config.Notifications.Enabled && d.config.Notifications.OnStop {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(events.EventLoopStopped, func(e events.Event) {
			msg := fmt.Sprintf("loop stopped: %v", e.Data["reason"])
			if err := notify.Send("pacer", msg); err != nil {
				d.log(LogLevelDebug, "notification failed: %v", err)
			}
		}))
	}
}

// waitSignals blocks until a shutdown signal arrives, the loop finishes on
// its own, or Shutdown is called from elsewhere.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

		// A second signal forces exit.
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		}()
	case <-d.loopDone:
		d.log(LogLevelInfo, "loop finished, shutting down")
	case <-d.stopped:
		return
	}

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops the loop and the dispatcher)
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		// 3. Drain in-flight work with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
		close(d.stopped)
	})
}

// cleanup releases resources. Safe to call on partially started daemons.
func (d *Daemon) cleanup() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.bus.Close()

	if d.audit != nil {
		d.audit.Close()
	}
	if d.driver != nil {
		d.driver.Close()
	}
	if d.sessionCloser != nil {
		d.sessionCloser.Close()
	}

	os.Remove(filepath.Join(d.pacerDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
