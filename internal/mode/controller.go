// Package mode owns the operating mode state machine: the current mode, the
// single pending switch request, the schedule table, and the escalation
// triggers that pull an unattended loop back to a human.
package mode

import (
	"errors"
	"sync"
	"time"

	"github.com/msageha/pacer/internal/events"
	"github.com/msageha/pacer/internal/model"
)

// ErrSwitchingDisabled is returned by RequestSwitch when mode switching is
// turned off in configuration.
var ErrSwitchingDisabled = errors.New("mode switching is disabled")

// Controller is the single source of truth for the operating mode. Every
// mode change goes through it; other components observe through events or
// History, never by mutating state themselves.
type Controller struct {
	mu         sync.RWMutex
	cfg        model.ModeSwitchConfig
	current    model.OperatingMode
	pending    *model.ModeSwitchRequest
	history    []model.ModeHistoryEntry
	lastFired  map[int]string // schedule index -> minute stamp of last firing
	attended   Collaborator
	unattended Collaborator
	bus        *events.Bus
}

// New builds a controller starting in cfg.DefaultMode and aligns the
// collaborators with that mode. A nil bus gets a private one; nil
// collaborators are tolerated and skipped.
func New(cfg model.ModeSwitchConfig, attended, unattended Collaborator, bus *events.Bus) *Controller {
	if bus == nil {
		bus = events.NewBus(0)
	}
	current := cfg.DefaultMode
	if !current.Valid() {
		current = model.ModeAttended
	}
	c := &Controller{
		cfg:        cfg,
		current:    current,
		lastFired:  make(map[int]string),
		attended:   attended,
		unattended: unattended,
		bus:        bus,
	}
	// The unattended collaborator stays available in every mode so safety
	// monitoring never goes dark.
	if c.unattended != nil {
		c.unattended.Enable()
	}
	c.applyCollaborators(current)
	return c
}

// CurrentMode returns the operating mode at this instant.
func (c *Controller) CurrentMode() model.OperatingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// RequestSwitch submits a mode switch. Requests targeting the current mode
// succeed without doing anything. Immediate requests are applied before
// returning; deferred ones become the single pending request, replacing any
// prior pending request.
func (c *Controller) RequestSwitch(req *model.ModeSwitchRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		c.bus.Publish(events.EventModeSwitchFailed, map[string]interface{}{
			"request_id": req.ID,
			"target":     string(req.Target),
			"error":      ErrSwitchingDisabled.Error(),
		})
		return ErrSwitchingDisabled
	}
	if req.Target == c.current {
		return nil
	}
	if req.Timing == model.TimingImmediate {
		c.executeSwitch(req, -1)
		return nil
	}

	c.pending = req
	c.bus.Publish(events.EventModeSwitchPending, map[string]interface{}{
		"request_id": req.ID,
		"target":     string(req.Target),
		"timing":     string(req.Timing),
		"reason":     req.Reason.String(),
	})
	return nil
}

// CheckPending is called by the loop driver at its check points: after each
// iteration and at each pause. A stored pending request whose timing matches
// is executed and cleared; otherwise the schedule table gets a chance. At
// most one switch happens per call, and a consumed pending request always
// takes priority over the schedule.
func (c *Controller) CheckPending(timing model.SwitchTiming, iteration int) *model.ModeSwitchResult {
	return c.checkPendingAt(timing, iteration, time.Now())
}

func (c *Controller) checkPendingAt(timing model.SwitchTiming, iteration int, now time.Time) *model.ModeSwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil
	}

	if c.pending != nil && c.pending.Timing == timing {
		req := c.pending
		c.pending = nil
		if req.Target != c.current {
			return c.executeSwitch(req, iteration)
		}
		// The pending request landed on its own mode: consumed with no
		// switch, so the schedule below still gets its turn.
	}

	return c.checkSchedule(now, iteration)
}

// ShouldHybridPrompt reports whether the loop should pause for human review
// this iteration. Pure policy over the hybrid settings; the caller decides
// whether the current mode warrants asking at all.
func (c *Controller) ShouldHybridPrompt(iteration, filesChanged int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.cfg.Hybrid
	if h.PromptEveryN > 0 && iteration > 0 && iteration%h.PromptEveryN == 0 {
		return true
	}
	return h.SignificantChangeThreshold > 0 && filesChanged >= h.SignificantChangeThreshold
}

// Subscribe registers fn for every mode event type and returns a single
// unsubscribe function covering all of them.
func (c *Controller) Subscribe(fn events.Subscriber) func() {
	unsubs := []func(){
		c.bus.Subscribe(events.EventModeSwitched, fn),
		c.bus.Subscribe(events.EventModeSwitchPending, fn),
		c.bus.Subscribe(events.EventModeSwitchFailed, fn),
		c.bus.Subscribe(events.EventModeTriggerDetected, fn),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// History returns the completed switches, oldest first.
func (c *Controller) History() []model.ModeHistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ModeHistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// Pending returns a copy of the stored deferred request, or nil.
func (c *Controller) Pending() *model.ModeSwitchRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.pending == nil {
		return nil
	}
	req := *c.pending
	return &req
}

// Config returns the active mode switch configuration.
func (c *Controller) Config() model.ModeSwitchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Reconfigure swaps in a new configuration. Schedule firing marks are reset
// because entries are keyed by position in the schedule list. The current
// mode, pending request, and history are untouched.
func (c *Controller) Reconfigure(cfg model.ModeSwitchConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	c.lastFired = make(map[int]string)
}

// executeSwitch flips the mode. Caller holds c.mu. Order matters: previous
// mode recorded, collaborators toggled, mode set, history appended, and only
// then the event published. Pass iteration -1 when no iteration context
// exists.
func (c *Controller) executeSwitch(req *model.ModeSwitchRequest, iteration int) *model.ModeSwitchResult {
	from := c.current
	c.applyCollaborators(req.Target)
	c.current = req.Target

	switchedAt := time.Now().UTC()
	entry := model.ModeHistoryEntry{
		From:       from,
		To:         req.Target,
		Reason:     req.Reason,
		Timing:     req.Timing,
		SwitchedAt: switchedAt,
	}
	if id, err := model.GenerateID(model.IDTypeSwitch); err == nil {
		entry.ID = id
	}
	c.history = append(c.history, entry)

	data := map[string]interface{}{
		"switch_id":  entry.ID,
		"request_id": req.ID,
		"from":       string(from),
		"to":         string(req.Target),
		"reason":     req.Reason.String(),
	}
	if iteration >= 0 {
		data["iteration"] = iteration
	}
	c.bus.Publish(events.EventModeSwitched, data)

	return &model.ModeSwitchResult{
		From:       from,
		To:         req.Target,
		Reason:     req.Reason,
		SwitchedAt: switchedAt,
	}
}

// applyCollaborators aligns the attended collaborator with the target mode.
// The unattended collaborator is enabled once at construction and never
// disabled.
func (c *Controller) applyCollaborators(target model.OperatingMode) {
	if c.attended == nil {
		return
	}
	switch target {
	case model.ModeAttended, model.ModeHybrid:
		c.attended.Enable()
	case model.ModeUnattended:
		c.attended.Disable()
	}
}
