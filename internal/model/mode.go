package model

import (
	"fmt"
	"time"
)

// OperatingMode is the governance state of the loop. Exactly one mode is
// current at any instant; switches are the only way to change it.
type OperatingMode string

const (
	ModeAttended   OperatingMode = "attended"
	ModeUnattended OperatingMode = "unattended"
	ModeHybrid     OperatingMode = "hybrid"
)

var validModes = map[OperatingMode]bool{
	ModeAttended:   true,
	ModeUnattended: true,
	ModeHybrid:     true,
}

func (m OperatingMode) Valid() bool {
	return validModes[m]
}

func ParseOperatingMode(s string) (OperatingMode, error) {
	m := OperatingMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid operating mode: %q (want attended, unattended, or hybrid)", s)
	}
	return m, nil
}

// SwitchTiming controls when a requested switch is applied.
type SwitchTiming string

const (
	TimingImmediate      SwitchTiming = "immediate"
	TimingAfterIteration SwitchTiming = "after_iteration"
	TimingAtPause        SwitchTiming = "at_pause"
)

var validTimings = map[SwitchTiming]bool{
	TimingImmediate:      true,
	TimingAfterIteration: true,
	TimingAtPause:        true,
}

func (t SwitchTiming) Valid() bool {
	return validTimings[t]
}

func ParseSwitchTiming(s string) (SwitchTiming, error) {
	t := SwitchTiming(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid switch timing: %q (want immediate, after_iteration, or at_pause)", s)
	}
	return t, nil
}

// ReasonKind identifies what initiated a mode switch.
type ReasonKind string

const (
	ReasonUserRequest ReasonKind = "user_request"
	ReasonScheduled   ReasonKind = "scheduled"
	ReasonTriggered   ReasonKind = "triggered"
	ReasonAPIRequest  ReasonKind = "api_request"
	ReasonAutomatic   ReasonKind = "automatic"
)

// Trigger names carried by Triggered reasons, in check precedence order.
const (
	TriggerConsecutiveFailures = "consecutive_failures"
	TriggerOutputPattern       = "output_pattern"
	TriggerTestRegression      = "test_regression"
	TriggerNearCompletion      = "near_completion"
)

// SwitchReason is a tagged value: Kind selects the variant, ScheduleIndex is
// set for Scheduled, TriggerName (and Detail, e.g. the matched pattern) for
// Triggered.
type SwitchReason struct {
	Kind          ReasonKind `json:"kind"`
	ScheduleIndex int        `json:"schedule_index,omitempty"`
	TriggerName   string     `json:"trigger_name,omitempty"`
	Detail        string     `json:"detail,omitempty"`
}

func UserRequestReason() SwitchReason {
	return SwitchReason{Kind: ReasonUserRequest}
}

func ScheduledReason(index int) SwitchReason {
	return SwitchReason{Kind: ReasonScheduled, ScheduleIndex: index}
}

func TriggeredReason(triggerName, detail string) SwitchReason {
	return SwitchReason{Kind: ReasonTriggered, TriggerName: triggerName, Detail: detail}
}

func APIRequestReason() SwitchReason {
	return SwitchReason{Kind: ReasonAPIRequest}
}

func AutomaticReason(detail string) SwitchReason {
	return SwitchReason{Kind: ReasonAutomatic, Detail: detail}
}

func (r SwitchReason) String() string {
	switch r.Kind {
	case ReasonScheduled:
		return fmt.Sprintf("scheduled[%d]", r.ScheduleIndex)
	case ReasonTriggered:
		if r.Detail != "" {
			return fmt.Sprintf("triggered:%s(%s)", r.TriggerName, r.Detail)
		}
		return fmt.Sprintf("triggered:%s", r.TriggerName)
	case ReasonAutomatic:
		if r.Detail != "" {
			return fmt.Sprintf("automatic(%s)", r.Detail)
		}
		return string(ReasonAutomatic)
	default:
		return string(r.Kind)
	}
}

// ModeSwitchRequest asks the controller to change mode. It is consumed
// exactly once: applied immediately, or stored as the single pending request
// until a matching check point.
type ModeSwitchRequest struct {
	ID          string        `json:"id"`
	Target      OperatingMode `json:"target"`
	Reason      SwitchReason  `json:"reason"`
	Timing      SwitchTiming  `json:"timing"`
	RequestedAt time.Time     `json:"requested_at"`
}

// NewModeSwitchRequest assigns a request ID and timestamp.
func NewModeSwitchRequest(target OperatingMode, reason SwitchReason, timing SwitchTiming) (*ModeSwitchRequest, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid target mode: %q", target)
	}
	if !timing.Valid() {
		return nil, fmt.Errorf("invalid switch timing: %q", timing)
	}
	id, err := GenerateID(IDTypeRequest)
	if err != nil {
		return nil, err
	}
	return &ModeSwitchRequest{
		ID:          id,
		Target:      target,
		Reason:      reason,
		Timing:      timing,
		RequestedAt: time.Now().UTC(),
	}, nil
}

// ModeSwitchResult records a completed switch.
type ModeSwitchResult struct {
	From       OperatingMode `json:"from"`
	To         OperatingMode `json:"to"`
	Reason     SwitchReason  `json:"reason"`
	SwitchedAt time.Time     `json:"switched_at"`
}

// ModeHistoryEntry is the immutable history record appended per completed
// switch. Entries are never mutated after creation.
type ModeHistoryEntry struct {
	ID         string        `json:"id"`
	From       OperatingMode `json:"from"`
	To         OperatingMode `json:"to"`
	Reason     SwitchReason  `json:"reason"`
	Timing     SwitchTiming  `json:"timing"`
	SwitchedAt time.Time     `json:"switched_at"`
}
