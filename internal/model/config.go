// Package model defines the data structures for pacer's configuration, mode
// control, and loop state.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/msageha/pacer/internal/stop"
)

type Config struct {
	Project       ProjectConfig       `yaml:"project"`
	Loop          LoopConfig          `yaml:"loop"`
	ModeSwitch    ModeSwitchConfig    `yaml:"mode_switch"`
	Prompts       PromptsConfig       `yaml:"prompts"`
	Agent         AgentConfig         `yaml:"agent"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type LoopConfig struct {
	Prompt         string            `yaml:"prompt"`
	MaxIterations  int               `yaml:"max_iterations"`
	StopConditions []*stop.Condition `yaml:"stop_conditions"`
	WorkDir        string            `yaml:"work_dir"`
}

// ModeSwitchConfig is loaded at controller construction and mutable
// thereafter only through the administrative reconfigure entry point.
type ModeSwitchConfig struct {
	Enabled     bool                  `yaml:"enabled"`
	DefaultMode OperatingMode         `yaml:"default_mode"`
	Schedule    []ScheduledModeChange `yaml:"schedule"`
	Triggers    ModeTriggers          `yaml:"triggers"`
	Hybrid      HybridConfig          `yaml:"hybrid"`
}

// ScheduledModeChange fires at most once per matching wall-clock minute.
// At is "HH:MM"; empty Weekdays means every day.
type ScheduledModeChange struct {
	At       string        `yaml:"at"`
	Weekdays []string      `yaml:"weekdays"`
	Target   OperatingMode `yaml:"target"`
}

// ModeTriggers are evaluated only in Unattended mode and only ever request a
// move toward Attended. IdleMinutes governs the reverse direction and is
// enforced by the loop driver, never by trigger checks.
type ModeTriggers struct {
	ConsecutiveFailures int      `yaml:"consecutive_failures"`
	Patterns            []string `yaml:"patterns"`
	OnTestRegression    bool     `yaml:"on_test_regression"`
	OnNearCompletion    bool     `yaml:"on_near_completion"`
	IdleMinutes         int      `yaml:"idle_minutes"`
}

// HybridConfig applies in Hybrid mode only. The auto-approve timeout is
// enforced by the loop driver, which proceeds when no human response arrives
// in time.
type HybridConfig struct {
	PromptEveryN               int `yaml:"prompt_every_n"`
	SignificantChangeThreshold int `yaml:"significant_change_threshold"`
	AutoApproveTimeoutSec      int `yaml:"auto_approve_timeout_sec"`
}

type PromptsConfig struct {
	BaseDir         string            `yaml:"base_dir"`
	MaxIncludeDepth int               `yaml:"max_include_depth"`
	Extensions      []string          `yaml:"extensions"`
	Strict          bool              `yaml:"strict"`
	Cache           PromptCacheConfig `yaml:"cache"`
}

type PromptCacheConfig struct {
	MaxEntries     int  `yaml:"max_entries"`
	AutoInvalidate bool `yaml:"auto_invalidate"`
}

type AgentConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

type NotificationsConfig struct {
	Enabled      bool `yaml:"enabled"`
	OnEscalation bool `yaml:"on_escalation"`
	OnStop       bool `yaml:"on_stop"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

var scheduleAtRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var validWeekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

// ApplyDefaults fills zero values with working defaults. Call before Validate.
func (c *Config) ApplyDefaults() {
	if c.Loop.Prompt == "" {
		c.Loop.Prompt = "PROMPT.md"
	}
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = 10
	}
	if c.ModeSwitch.DefaultMode == "" {
		c.ModeSwitch.DefaultMode = ModeAttended
	}
	if c.ModeSwitch.Triggers.ConsecutiveFailures == 0 {
		c.ModeSwitch.Triggers.ConsecutiveFailures = 3
	}
	if c.ModeSwitch.Hybrid.PromptEveryN == 0 {
		c.ModeSwitch.Hybrid.PromptEveryN = 5
	}
	if c.ModeSwitch.Hybrid.AutoApproveTimeoutSec == 0 {
		c.ModeSwitch.Hybrid.AutoApproveTimeoutSec = 300
	}
	if c.Prompts.BaseDir == "" {
		c.Prompts.BaseDir = "prompts"
	}
	if c.Prompts.MaxIncludeDepth == 0 {
		c.Prompts.MaxIncludeDepth = 5
	}
	if len(c.Prompts.Extensions) == 0 {
		c.Prompts.Extensions = []string{".md", ".txt"}
	}
	if c.Prompts.Cache.MaxEntries == 0 {
		c.Prompts.Cache.MaxEntries = 64
	}
	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
	}
	if c.Daemon.ShutdownTimeoutSec == 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for issues that would cause confusing
// runtime failures. It returns all found issues joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.Loop.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be >= 0 (0 = unlimited)"))
	}
	for i, cond := range c.Loop.StopConditions {
		if err := cond.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("loop.stop_conditions[%d]: %w", i, err))
		}
	}

	if !c.ModeSwitch.DefaultMode.Valid() {
		errs = append(errs, fmt.Errorf("mode_switch.default_mode: invalid mode %q", c.ModeSwitch.DefaultMode))
	}
	for i, s := range c.ModeSwitch.Schedule {
		if !scheduleAtRe.MatchString(s.At) {
			errs = append(errs, fmt.Errorf("mode_switch.schedule[%d].at must be \"HH:MM\", got %q", i, s.At))
		}
		if !s.Target.Valid() {
			errs = append(errs, fmt.Errorf("mode_switch.schedule[%d].target: invalid mode %q", i, s.Target))
		}
		for _, d := range s.Weekdays {
			if !validWeekdays[strings.ToLower(d)] {
				errs = append(errs, fmt.Errorf("mode_switch.schedule[%d]: unknown weekday %q", i, d))
			}
		}
	}
	if c.ModeSwitch.Triggers.ConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("mode_switch.triggers.consecutive_failures must be >= 0 (0 = disabled)"))
	}
	if c.ModeSwitch.Triggers.IdleMinutes < 0 {
		errs = append(errs, fmt.Errorf("mode_switch.triggers.idle_minutes must be >= 0 (0 = disabled)"))
	}
	if c.ModeSwitch.Hybrid.PromptEveryN < 1 {
		errs = append(errs, fmt.Errorf("mode_switch.hybrid.prompt_every_n must be >= 1"))
	}
	if c.ModeSwitch.Hybrid.SignificantChangeThreshold < 0 {
		errs = append(errs, fmt.Errorf("mode_switch.hybrid.significant_change_threshold must be >= 0 (0 = disabled)"))
	}
	if c.ModeSwitch.Hybrid.AutoApproveTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("mode_switch.hybrid.auto_approve_timeout_sec must be >= 0"))
	}

	if c.Prompts.MaxIncludeDepth < 1 {
		errs = append(errs, fmt.Errorf("prompts.max_include_depth must be >= 1"))
	}
	for _, ext := range c.Prompts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("prompts.extensions entries must start with '.', got %q", ext))
		}
	}
	if c.Prompts.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("prompts.cache.max_entries must be >= 1"))
	}

	if c.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command must not be empty"))
	}
	if c.Agent.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("agent.timeout_sec must be >= 0 (0 = no timeout)"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
