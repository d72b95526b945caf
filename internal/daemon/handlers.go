package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/msageha/pacer/internal/model"
	"github.com/msageha/pacer/internal/uds"
)

// registerHandlers registers the admin commands on the UDS server.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle("status.get", d.handleStatusGet)
	d.server.Handle("mode.get", d.handleModeGet)
	d.server.Handle("mode.switch", d.handleModeSwitch)
	d.server.Handle("mode.history", d.handleModeHistory)
	d.server.Handle("config.reload", d.handleConfigReload)
	d.server.Handle("loop.pause", d.handleLoopPause)
	d.server.Handle("loop.resume", d.handleLoopResume)
	d.server.Handle("loop.approve", d.handleApprove)
}

// noteHuman records the admin command as human activity for the idle switch
// policy. Read-only commands never call it.
func (d *Daemon) noteHuman() {
	if d.driver != nil {
		d.driver.NoteHumanActivity()
	}
}

// ModeSwitchParams are the parameters for the mode.switch command.
type ModeSwitchParams struct {
	Target string `json:"target"`
	Timing string `json:"timing,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ModeSwitchData reports the accepted switch request. Queued means the
// switch waits for a check point instead of applying immediately.
type ModeSwitchData struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target"`
	Timing    string `json:"timing"`
	Queued    bool   `json:"queued"`
}

// handleModeSwitch validates and enqueues a mode switch request. The
// dispatcher goroutine feeds the controller; a full queue answers
// BACKPRESSURE so the socket handler never blocks.
func (d *Daemon) handleModeSwitch(req *uds.Request) *uds.Response {
	var params ModeSwitchParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Target == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "target is required")
	}
	target, err := model.ParseOperatingMode(params.Target)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	timing := model.TimingImmediate
	if params.Timing != "" {
		timing, err = model.ParseSwitchTiming(params.Timing)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
	}
	var reason model.SwitchReason
	switch params.Reason {
	case "", "user":
		reason = model.UserRequestReason()
	case "api":
		reason = model.APIRequestReason()
	default:
		return uds.ErrorResponse(uds.ErrCodeValidation,
			fmt.Sprintf("unknown reason %q (want user or api)", params.Reason))
	}

	if !d.ctrl.Config().Enabled {
		return uds.ErrorResponse(uds.ErrCodeValidation, "mode switching is disabled")
	}

	switchReq, err := model.NewModeSwitchRequest(target, reason, timing)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	select {
	case d.switchQueue <- switchReq:
	default:
		return uds.ErrorResponse(uds.ErrCodeBackpressure, "switch queue is full, retry shortly")
	}
	d.noteHuman()

	return uds.SuccessResponse(&ModeSwitchData{
		RequestID: switchReq.ID,
		Target:    string(target),
		Timing:    string(timing),
		Queued:    timing != model.TimingImmediate,
	})
}

// ModeData is the response payload for mode.get.
type ModeData struct {
	Mode    model.OperatingMode      `json:"mode"`
	Pending *model.ModeSwitchRequest `json:"pending,omitempty"`
}

func (d *Daemon) handleModeGet(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(&ModeData{
		Mode:    d.ctrl.CurrentMode(),
		Pending: d.ctrl.Pending(),
	})
}

// ModeHistoryParams are the optional parameters for mode.history.
type ModeHistoryParams struct {
	Limit int `json:"limit,omitempty"`
}

// ModeHistoryData carries switch history entries, oldest first.
type ModeHistoryData struct {
	Entries []model.ModeHistoryEntry `json:"entries"`
}

func (d *Daemon) handleModeHistory(req *uds.Request) *uds.Response {
	var params ModeHistoryParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Limit < 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "limit must be non-negative")
	}

	entries := d.ctrl.History()
	if params.Limit > 0 && len(entries) > params.Limit {
		entries = entries[len(entries)-params.Limit:]
	}
	return uds.SuccessResponse(&ModeHistoryData{Entries: entries})
}

// StatusData is the response payload for status.get.
type StatusData struct {
	Pid       int                      `json:"pid"`
	StartedAt string                   `json:"started_at"`
	Mode      model.OperatingMode      `json:"mode"`
	Pending   *model.ModeSwitchRequest `json:"pending,omitempty"`
	Paused    bool                     `json:"paused"`
	Switches  int                      `json:"switches"`
	Loop      *model.LoopState         `json:"loop"`
}

func (d *Daemon) handleStatusGet(req *uds.Request) *uds.Response {
	state, err := d.store.Load()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("load loop state: %v", err))
	}

	paused := false
	if d.driver != nil {
		paused = d.driver.Paused()
	}
	return uds.SuccessResponse(&StatusData{
		Pid:       os.Getpid(),
		StartedAt: d.startedAt.Format(time.RFC3339),
		Mode:      d.ctrl.CurrentMode(),
		Pending:   d.ctrl.Pending(),
		Paused:    paused,
		Switches:  len(d.ctrl.History()),
		Loop:      state,
	})
}

// handleConfigReload re-reads config.yaml and applies the mode_switch
// section. Loop, prompt, and agent settings still require a restart.
func (d *Daemon) handleConfigReload(req *uds.Request) *uds.Response {
	cfg, err := model.LoadConfig(d.pacerDir)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("reload config: %v", err))
	}

	d.ctrl.Reconfigure(cfg.ModeSwitch)
	d.noteHuman()
	d.log(LogLevelInfo, "config reloaded")
	return uds.SuccessResponse(map[string]string{"status": "reloaded"})
}

func (d *Daemon) handleLoopPause(req *uds.Request) *uds.Response {
	if d.driver == nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, "loop driver not running")
	}
	d.driver.Pause()
	d.noteHuman()
	d.log(LogLevelInfo, "loop pause requested via UDS")
	return uds.SuccessResponse(map[string]string{"status": "pausing"})
}

func (d *Daemon) handleLoopResume(req *uds.Request) *uds.Response {
	if d.driver == nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, "loop driver not running")
	}
	d.driver.Resume()
	d.log(LogLevelInfo, "loop resume requested via UDS")
	return uds.SuccessResponse(map[string]string{"status": "resumed"})
}

// handleApprove feeds one approval into the hybrid gate. A waiting pause
// consumes it immediately; otherwise it is held for the next pause.
func (d *Daemon) handleApprove(req *uds.Request) *uds.Response {
	d.gate.Approve()
	d.noteHuman()
	d.log(LogLevelInfo, "approval granted via UDS")
	return uds.SuccessResponse(map[string]string{"status": "approved"})
}
