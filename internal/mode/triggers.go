package mode

import (
	"fmt"
	"strings"
	"time"

	"github.com/msageha/pacer/internal/events"
	"github.com/msageha/pacer/internal/model"
)

// CheckTriggers evaluates the escalation triggers against the latest
// iteration facts. Triggers only ever pull the loop back toward a human, so
// the whole call no-ops unless the current mode is unattended. Precedence is
// fixed: failure threshold, then the configured patterns in order, then test
// regression, then near completion. The first satisfied trigger switches to
// attended and the rest are not evaluated.
func (c *Controller) CheckTriggers(consecutiveFailures int, outputText string, testRegressed, nearCompletion bool, iteration int) *model.ModeSwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled || c.current != model.ModeUnattended {
		return nil
	}

	t := c.cfg.Triggers
	if t.ConsecutiveFailures > 0 && consecutiveFailures >= t.ConsecutiveFailures {
		detail := fmt.Sprintf("%d failures", consecutiveFailures)
		return c.fireTrigger(model.TriggerConsecutiveFailures, detail, iteration)
	}
	for _, pattern := range t.Patterns {
		if pattern != "" && strings.Contains(outputText, pattern) {
			return c.fireTrigger(model.TriggerOutputPattern, pattern, iteration)
		}
	}
	if t.OnTestRegression && testRegressed {
		return c.fireTrigger(model.TriggerTestRegression, "", iteration)
	}
	if t.OnNearCompletion && nearCompletion {
		return c.fireTrigger(model.TriggerNearCompletion, "", iteration)
	}
	return nil
}

// fireTrigger emits the detection event and executes an immediate switch to
// attended. Caller holds c.mu.
func (c *Controller) fireTrigger(name, detail string, iteration int) *model.ModeSwitchResult {
	c.bus.Publish(events.EventModeTriggerDetected, map[string]interface{}{
		"trigger":   name,
		"detail":    detail,
		"iteration": iteration,
	})

	req := &model.ModeSwitchRequest{
		Target:      model.ModeAttended,
		Reason:      model.TriggeredReason(name, detail),
		Timing:      model.TimingImmediate,
		RequestedAt: time.Now().UTC(),
	}
	if id, err := model.GenerateID(model.IDTypeRequest); err == nil {
		req.ID = id
	}
	return c.executeSwitch(req, iteration)
}
