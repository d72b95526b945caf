package mode

import (
	"strings"
	"time"

	"github.com/msageha/pacer/internal/model"
)

// checkSchedule fires the first schedule entry matching now's wall-clock
// minute, at most once per minute per entry. Matching uses the clock's own
// location, so "09:00" means nine in the daemon's local time. Caller holds
// c.mu.
func (c *Controller) checkSchedule(now time.Time, iteration int) *model.ModeSwitchResult {
	if len(c.cfg.Schedule) == 0 {
		return nil
	}

	minute := now.Format("15:04")
	day := strings.ToLower(now.Format("Mon"))
	stamp := now.Format("2006-01-02 15:04")

	for i, entry := range c.cfg.Schedule {
		if entry.At != minute || !matchesWeekday(entry.Weekdays, day) {
			continue
		}
		if c.lastFired[i] == stamp {
			continue
		}
		c.lastFired[i] = stamp

		if entry.Target == c.current {
			// Fired into the mode we are already in: the minute is consumed,
			// nothing to switch.
			return nil
		}

		req := &model.ModeSwitchRequest{
			Target:      entry.Target,
			Reason:      model.ScheduledReason(i),
			Timing:      model.TimingImmediate,
			RequestedAt: now.UTC(),
		}
		if id, err := model.GenerateID(model.IDTypeRequest); err == nil {
			req.ID = id
		}
		return c.executeSwitch(req, iteration)
	}
	return nil
}

// matchesWeekday treats an empty list as every day. Names are the lowercase
// three-letter forms enforced at config validation.
func matchesWeekday(weekdays []string, day string) bool {
	if len(weekdays) == 0 {
		return true
	}
	for _, d := range weekdays {
		if strings.ToLower(d) == day {
			return true
		}
	}
	return false
}
