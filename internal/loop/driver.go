// Package loop drives the iteration cycle: load and render the prompt, run
// one agent session, fold the outcome into the safety counters, evaluate the
// stop conditions, and give the mode controller its check points. The driver
// owns the persisted loop state and the pause/resume surface the admin
// socket exposes.
package loop

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/msageha/pacer/internal/agent"
	"github.com/msageha/pacer/internal/events"
	"github.com/msageha/pacer/internal/mode"
	"github.com/msageha/pacer/internal/model"
	"github.com/msageha/pacer/internal/prompt"
	"github.com/msageha/pacer/internal/stop"
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

// Deps are the collaborating components the driver coordinates.
type Deps struct {
	Session    agent.Session
	Controller *mode.Controller
	Gate       *agent.ApprovalGate
	Watchdog   *agent.Watchdog
	Loader     *prompt.Loader
	Cache      *prompt.Cache        // nil disables invalidation
	Changes    <-chan prompt.Change // nil when no watcher is running
	Store      *Store
	Bus        *events.Bus
}

// Driver runs the iteration loop. One Run call is active at a time; Pause,
// Resume, and NoteHumanActivity may be called from other goroutines.
type Driver struct {
	pacerDir string
	cfg      model.Config
	deps     Deps
	logger   *log.Logger
	logFile  io.Closer
	logLevel LogLevel

	mu            sync.Mutex
	paused        bool
	resumeCh      chan struct{}
	lastHuman     time.Time
	sinceProgress int
}

// New creates a driver that logs to <pacerDir>/logs/loop.log.
func New(pacerDir string, cfg model.Config, deps Deps) (*Driver, error) {
	logPath := filepath.Join(pacerDir, "logs", "loop.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open loop log: %w", err)
	}
	return newDriver(pacerDir, cfg, deps, logFile, logFile), nil
}

// newDriver is the internal constructor that accepts an io.Writer for testing.
func newDriver(pacerDir string, cfg model.Config, deps Deps, w io.Writer, closer io.Closer) *Driver {
	if deps.Bus == nil {
		deps.Bus = events.NewBus(0)
	}
	return &Driver{
		pacerDir: pacerDir,
		cfg:      cfg,
		deps:     deps,
		logger:   log.New(w, "", 0),
		logFile:  closer,
		logLevel: parseLogLevel(cfg.Logging.Level),
	}
}

// Close releases the log file handle.
func (d *Driver) Close() error {
	if d.logFile != nil {
		return d.logFile.Close()
	}
	return nil
}

// Pause stops the loop at the next iteration boundary. An in-flight session
// is never interrupted.
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return
	}
	d.paused = true
	d.resumeCh = make(chan struct{})
}

// Resume releases a paused loop. Resuming counts as human activity.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		return
	}
	d.paused = false
	d.lastHuman = time.Now()
	close(d.resumeCh)
}

// Paused reports whether the loop is pausing or paused.
func (d *Driver) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// NoteHumanActivity marks now as the most recent human interaction for the
// idle switch policy.
func (d *Driver) NoteHumanActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastHuman = time.Now()
}

// Run drives iterations until a stop condition is met, the iteration budget
// is exhausted, or ctx ends. The returned error is nil for every ordinary
// stop; only infrastructure failures (unreadable state) surface as errors.
func (d *Driver) Run(ctx context.Context) error {
	state, err := d.deps.Store.Load()
	if err != nil {
		return fmt.Errorf("load loop state: %w", err)
	}

	startedAt := time.Now().UTC()
	started := startedAt.Format(time.RFC3339)
	state.Status = model.LoopStatusRunning
	state.Mode = d.deps.Controller.CurrentMode()
	state.MaxIterations = d.cfg.Loop.MaxIterations
	state.StoppedReason = nil
	state.StartedAt = &started
	if err := d.deps.Store.Save(state); err != nil {
		return fmt.Errorf("save loop state: %w", err)
	}

	d.NoteHumanActivity() // starting the loop is a human act

	d.log(LogLevelInfo, "loop_start mode=%s iteration=%d max_iterations=%d prompt=%s",
		state.Mode, state.Iteration, state.MaxIterations, d.cfg.Loop.Prompt)

	for {
		if ctx.Err() != nil {
			return d.stop(state, "interrupted")
		}

		d.drainPromptChanges()

		if err := d.waitWhilePaused(ctx, state); err != nil {
			return d.stop(state, "interrupted")
		}

		d.checkIdleSwitch()

		if max := d.cfg.Loop.MaxIterations; max > 0 && state.Iteration >= max {
			return d.stop(state, "max_iterations_reached")
		}

		iteration := state.Iteration + 1

		p, err := d.deps.Loader.Load(d.cfg.Loop.Prompt)
		if err != nil {
			d.log(LogLevelError, "prompt_load_failed path=%s error=%v", d.cfg.Loop.Prompt, err)
			return d.stop(state, fmt.Sprintf("prompt error: %v", err))
		}

		var sessionID string
		if id, idErr := model.GenerateID(model.IDTypeSession); idErr == nil {
			sessionID = id
		}
		d.log(LogLevelInfo, "iteration_start iteration=%d session=%s prompt_hash=%.8s",
			iteration, sessionID, p.ContentHash)

		res, err := d.deps.Session.Run(ctx, p.Render())
		if err != nil {
			// The session never started. Count it as a failed iteration so
			// the failure streak and the triggers still see it.
			res = &agent.Result{Err: err, ExitCode: -1}
			d.log(LogLevelError, "session_start_failed iteration=%d error=%v", iteration, err)
		}

		d.deps.Watchdog.Observe(res)
		d.observeProgress(res)

		state.Iteration = iteration
		state.ConsecutiveFailures = d.deps.Watchdog.ConsecutiveFailures()
		state.TestFailureStreak = d.deps.Watchdog.TestFailureStreak()
		if sessionID != "" {
			state.LastSessionID = &sessionID
		}

		d.deps.Bus.Publish(events.EventLoopIteration, map[string]interface{}{
			"iteration":     iteration,
			"session_id":    sessionID,
			"failed":        res.Failed(),
			"files_changed": res.FilesChanged,
			"duration_ms":   res.Duration.Milliseconds(),
		})
		d.log(LogLevelInfo, "iteration_end iteration=%d failed=%t files_changed=%d tests_passed=%d tests_failed=%d",
			iteration, res.Failed(), res.FilesChanged, len(res.TestsPassed), len(res.TestsFailed))

		if reason, met := d.evaluateStop(iteration, startedAt, res); met {
			state.Mode = d.deps.Controller.CurrentMode()
			return d.stop(state, reason)
		}

		d.deps.Controller.CheckTriggers(state.ConsecutiveFailures, res.Output,
			d.deps.Watchdog.Regressed(), res.NearCompletion, iteration)

		d.maybeHybridPause(ctx, iteration, res.FilesChanged)

		d.deps.Controller.CheckPending(model.TimingAfterIteration, iteration)
		state.Mode = d.deps.Controller.CurrentMode()

		if err := d.deps.Store.Save(state); err != nil {
			d.log(LogLevelError, "state_save_failed iteration=%d error=%v", iteration, err)
		}
	}
}

// evaluateStop checks the iteration budget and then the configured
// stop-condition trees, in order.
func (d *Driver) evaluateStop(iteration int, startedAt time.Time, res *agent.Result) (string, bool) {
	if max := d.cfg.Loop.MaxIterations; max > 0 && iteration >= max {
		return "max_iterations_reached", true
	}

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	d.mu.Lock()
	sinceProgress := d.sinceProgress
	d.mu.Unlock()

	sctx := &stop.Context{
		Iteration:               iteration,
		StartedAt:               startedAt,
		EvaluatedAt:             time.Now().UTC(),
		RecentOutput:            res.Output,
		TestFailureStreak:       d.deps.Watchdog.TestFailureStreak(),
		IterationsSinceProgress: sinceProgress,
		TestsPassed:             res.TestsPassed,
		TestsFailed:             res.TestsFailed,
		HasError:                res.Failed(),
		ErrorMessage:            errMsg,
		WorkDir:                 d.cfg.Loop.WorkDir,
	}
	for i, cond := range d.cfg.Loop.StopConditions {
		if stop.Evaluate(cond, sctx).Met {
			return fmt.Sprintf("stop_condition[%d]: %s", i, cond), true
		}
	}
	return "", false
}

// maybeHybridPause pauses for human review in hybrid mode. The pause is an
// at_pause check point, and an unanswered gate proceeds after the
// auto-approve timeout.
func (d *Driver) maybeHybridPause(ctx context.Context, iteration, filesChanged int) {
	if d.deps.Controller.CurrentMode() != model.ModeHybrid {
		return
	}
	if !d.deps.Controller.ShouldHybridPrompt(iteration, filesChanged) {
		return
	}

	d.deps.Controller.CheckPending(model.TimingAtPause, iteration)
	if !d.deps.Gate.Enabled() {
		// The pending check may have moved the loop to unattended.
		return
	}

	timeout := time.Duration(d.cfg.ModeSwitch.Hybrid.AutoApproveTimeoutSec) * time.Second
	d.log(LogLevelInfo, "hybrid_pause iteration=%d files_changed=%d timeout=%s", iteration, filesChanged, timeout)
	approval := d.deps.Gate.Await(ctx, timeout)
	d.log(LogLevelInfo, "hybrid_resume iteration=%d approval=%s", iteration, approval)
	if approval == agent.ApprovalGranted {
		d.NoteHumanActivity()
	}
}

// waitWhilePaused blocks while the driver is paused. The pause is an
// at_pause check point, and both edges are persisted so status always
// reflects reality.
func (d *Driver) waitWhilePaused(ctx context.Context, state *model.LoopState) error {
	d.mu.Lock()
	paused := d.paused
	resumeCh := d.resumeCh
	d.mu.Unlock()
	if !paused {
		return nil
	}

	d.deps.Controller.CheckPending(model.TimingAtPause, state.Iteration)
	state.Status = model.LoopStatusPaused
	state.Mode = d.deps.Controller.CurrentMode()
	if err := d.deps.Store.Save(state); err != nil {
		d.log(LogLevelError, "state_save_failed error=%v", err)
	}
	d.log(LogLevelInfo, "loop_paused iteration=%d", state.Iteration)

	select {
	case <-resumeCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	state.Status = model.LoopStatusRunning
	if err := d.deps.Store.Save(state); err != nil {
		d.log(LogLevelError, "state_save_failed error=%v", err)
	}
	d.log(LogLevelInfo, "loop_resumed iteration=%d", state.Iteration)
	return nil
}

// checkIdleSwitch applies the idle policy in the reverse direction: an
// attended loop with no human input for idle_minutes is handed to unattended
// operation. Driver policy; trigger checks never fire this way.
func (d *Driver) checkIdleSwitch() {
	d.checkIdleSwitchAt(time.Now())
}

func (d *Driver) checkIdleSwitchAt(now time.Time) {
	idle := d.cfg.ModeSwitch.Triggers.IdleMinutes
	if idle <= 0 || d.deps.Controller.CurrentMode() != model.ModeAttended {
		return
	}
	d.mu.Lock()
	last := d.lastHuman
	d.mu.Unlock()
	if now.Sub(last) < time.Duration(idle)*time.Minute {
		return
	}

	req := &model.ModeSwitchRequest{
		Target:      model.ModeUnattended,
		Reason:      model.AutomaticReason(fmt.Sprintf("idle %dm", idle)),
		Timing:      model.TimingImmediate,
		RequestedAt: now.UTC(),
	}
	if id, err := model.GenerateID(model.IDTypeRequest); err == nil {
		req.ID = id
	}
	if err := d.deps.Controller.RequestSwitch(req); err != nil {
		d.log(LogLevelWarn, "idle_switch_rejected error=%v", err)
		return
	}
	d.log(LogLevelInfo, "idle_switch idle_minutes=%d", idle)
	// Restart the idle clock so the next attended stretch gets the full window.
	d.NoteHumanActivity()
}

// drainPromptChanges applies queued watcher notifications without blocking:
// modified and deleted files drop their cache entry, and every change is
// surfaced as a prompt_changed event.
func (d *Driver) drainPromptChanges() {
	if d.deps.Changes == nil {
		return
	}
	for {
		select {
		case ch, ok := <-d.deps.Changes:
			if !ok {
				d.deps.Changes = nil
				return
			}
			if d.deps.Cache != nil && d.cfg.Prompts.Cache.AutoInvalidate && ch.Type != prompt.ChangeCreated {
				d.deps.Cache.Invalidate(ch.Path)
			}
			d.deps.Bus.Publish(events.EventPromptChanged, map[string]interface{}{
				"path": ch.Path,
				"type": string(ch.Type),
			})
			d.log(LogLevelDebug, "prompt_changed path=%s type=%s", ch.Path, ch.Type)
		default:
			return
		}
	}
}

// observeProgress tracks iterations since the agent last changed a file, for
// the stop-condition context.
func (d *Driver) observeProgress(res *agent.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res.FilesChanged > 0 {
		d.sinceProgress = 0
	} else {
		d.sinceProgress++
	}
}

// stop finalizes the persisted state and announces the stop.
func (d *Driver) stop(state *model.LoopState, reason string) error {
	state.Status = model.LoopStatusStopped
	state.StoppedReason = &reason
	state.Mode = d.deps.Controller.CurrentMode()
	if err := d.deps.Store.Save(state); err != nil {
		d.log(LogLevelError, "state_save_failed error=%v", err)
	}

	d.deps.Bus.Publish(events.EventLoopStopped, map[string]interface{}{
		"reason":    reason,
		"iteration": state.Iteration,
	})
	d.log(LogLevelInfo, "loop_stop reason=%q iteration=%d", reason, state.Iteration)
	return nil
}

func (d *Driver) log(level LogLevel, format string, args ...any) {
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
	d.logger.Printf("%s %s loop: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
