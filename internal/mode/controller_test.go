package mode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/pacer/internal/events"
	"github.com/msageha/pacer/internal/model"
)

type fakeCollaborator struct {
	enabled  bool
	enables  int
	disables int
}

func (f *fakeCollaborator) Enable()  { f.enabled = true; f.enables++ }
func (f *fakeCollaborator) Disable() { f.enabled = false; f.disables++ }

func testConfig() model.ModeSwitchConfig {
	return model.ModeSwitchConfig{
		Enabled:     true,
		DefaultMode: model.ModeAttended,
		Triggers:    model.ModeTriggers{ConsecutiveFailures: 3},
		Hybrid:      model.HybridConfig{PromptEveryN: 5, SignificantChangeThreshold: 10},
	}
}

func unattendedConfig() model.ModeSwitchConfig {
	cfg := testConfig()
	cfg.DefaultMode = model.ModeUnattended
	return cfg
}

func newRequest(t *testing.T, target model.OperatingMode, timing model.SwitchTiming) *model.ModeSwitchRequest {
	t.Helper()
	req, err := model.NewModeSwitchRequest(target, model.UserRequestReason(), timing)
	require.NoError(t, err)
	return req
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan events.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_StartsInDefaultMode(t *testing.T) {
	c := New(unattendedConfig(), nil, nil, nil)
	assert.Equal(t, model.ModeUnattended, c.CurrentMode())
}

func TestNew_InvalidDefaultModeFallsBackToAttended(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultMode = "turbo"
	c := New(cfg, nil, nil, nil)
	assert.Equal(t, model.ModeAttended, c.CurrentMode())
}

func TestRequestSwitch_ImmediateExecutesSynchronously(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()
	c := New(testConfig(), nil, nil, bus)

	received := make(chan events.Event, 10)
	unsub := c.Subscribe(func(e events.Event) { received <- e })
	defer unsub()

	req := newRequest(t, model.ModeUnattended, model.TimingImmediate)
	require.NoError(t, c.RequestSwitch(req))
	assert.Equal(t, model.ModeUnattended, c.CurrentMode())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.ModeAttended, history[0].From)
	assert.Equal(t, model.ModeUnattended, history[0].To)
	assert.Equal(t, model.ReasonUserRequest, history[0].Reason.Kind)
	assert.Equal(t, model.TimingImmediate, history[0].Timing)
	assert.False(t, history[0].SwitchedAt.IsZero())

	e := waitEvent(t, received)
	assert.Equal(t, events.EventModeSwitched, e.Type)
	assert.Equal(t, "attended", e.Data["from"])
	assert.Equal(t, "unattended", e.Data["to"])
	assert.Equal(t, req.ID, e.Data["request_id"])
}

func TestRequestSwitch_SelfTargetIsNoOp(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()
	c := New(testConfig(), nil, nil, bus)

	received := make(chan events.Event, 10)
	unsub := c.Subscribe(func(e events.Event) { received <- e })
	defer unsub()

	req := newRequest(t, model.ModeAttended, model.TimingImmediate)
	require.NoError(t, c.RequestSwitch(req))

	assert.Equal(t, model.ModeAttended, c.CurrentMode())
	assert.Empty(t, c.History())
	assertNoEvent(t, received)
}

func TestRequestSwitch_DisabledReturnsError(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()
	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, nil, nil, bus)

	received := make(chan events.Event, 10)
	unsub := c.Subscribe(func(e events.Event) { received <- e })
	defer unsub()

	req := newRequest(t, model.ModeUnattended, model.TimingImmediate)
	err := c.RequestSwitch(req)
	require.ErrorIs(t, err, ErrSwitchingDisabled)
	assert.Equal(t, model.ModeAttended, c.CurrentMode())
	assert.Empty(t, c.History())

	e := waitEvent(t, received)
	assert.Equal(t, events.EventModeSwitchFailed, e.Type)
	assert.Equal(t, req.ID, e.Data["request_id"])
	assert.Equal(t, "unattended", e.Data["target"])
}

func TestRequestSwitch_DeferredEmitsPendingEvent(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()
	c := New(testConfig(), nil, nil, bus)

	received := make(chan events.Event, 10)
	unsub := c.Subscribe(func(e events.Event) { received <- e })
	defer unsub()

	req := newRequest(t, model.ModeUnattended, model.TimingAfterIteration)
	require.NoError(t, c.RequestSwitch(req))

	// Mode is unchanged until the check point arrives.
	assert.Equal(t, model.ModeAttended, c.CurrentMode())

	e := waitEvent(t, received)
	assert.Equal(t, events.EventModeSwitchPending, e.Type)
	assert.Equal(t, "unattended", e.Data["target"])
	assert.Equal(t, "after_iteration", e.Data["timing"])
}

func TestRequestSwitch_SecondPendingReplacesFirst(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	first := newRequest(t, model.ModeUnattended, model.TimingAfterIteration)
	second := newRequest(t, model.ModeHybrid, model.TimingAfterIteration)
	require.NoError(t, c.RequestSwitch(first))
	require.NoError(t, c.RequestSwitch(second))

	pending := c.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, second.ID, pending.ID)

	res := c.CheckPending(model.TimingAfterIteration, 4)
	require.NotNil(t, res)
	assert.Equal(t, model.ModeHybrid, res.To)
	assert.Equal(t, model.ModeHybrid, c.CurrentMode())
	assert.Nil(t, c.Pending())

	// Only the replacement produced a switch.
	assert.Len(t, c.History(), 1)
	assert.Nil(t, c.CheckPending(model.TimingAfterIteration, 5))
}

func TestCheckPending_TimingMustMatch(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	req := newRequest(t, model.ModeUnattended, model.TimingAtPause)
	require.NoError(t, c.RequestSwitch(req))

	assert.Nil(t, c.CheckPending(model.TimingAfterIteration, 1))
	assert.Equal(t, model.ModeAttended, c.CurrentMode())
	require.NotNil(t, c.Pending())

	res := c.CheckPending(model.TimingAtPause, 1)
	require.NotNil(t, res)
	assert.Equal(t, model.ModeUnattended, c.CurrentMode())
}

func TestCheckPending_StalePendingOnOwnModeIsConsumed(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	// Deferred request to unattended, then an immediate one gets there first.
	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingAfterIteration)))
	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingImmediate)))
	assert.Equal(t, model.ModeUnattended, c.CurrentMode())

	res := c.CheckPending(model.TimingAfterIteration, 2)
	assert.Nil(t, res)
	assert.Nil(t, c.Pending())
	assert.Len(t, c.History(), 1)
}

func TestCollaboratorToggles(t *testing.T) {
	attended := &fakeCollaborator{}
	unattended := &fakeCollaborator{}
	c := New(unattendedConfig(), attended, unattended, nil)

	assert.False(t, attended.enabled)
	assert.True(t, unattended.enabled)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeHybrid, model.TimingImmediate)))
	assert.True(t, attended.enabled)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingImmediate)))
	assert.False(t, attended.enabled)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeAttended, model.TimingImmediate)))
	assert.True(t, attended.enabled)

	// The unattended collaborator never gets turned off.
	assert.Equal(t, 0, unattended.disables)
	assert.Equal(t, 1, unattended.enables)
}

func TestHistory_ReturnsOrderedCopy(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingImmediate)))
	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeHybrid, model.TimingImmediate)))

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.ModeUnattended, history[0].To)
	assert.Equal(t, model.ModeHybrid, history[1].To)

	history[0].To = model.ModeAttended
	assert.Equal(t, model.ModeUnattended, c.History()[0].To)
}

func TestPending_ReturnsCopy(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingAtPause)))

	pending := c.Pending()
	require.NotNil(t, pending)
	pending.Target = model.ModeHybrid
	assert.Equal(t, model.ModeUnattended, c.Pending().Target)
}

func TestReconfigure_DisablesSwitching(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	cfg := testConfig()
	cfg.Enabled = false
	c.Reconfigure(cfg)

	err := c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingImmediate))
	assert.ErrorIs(t, err, ErrSwitchingDisabled)
	assert.Equal(t, model.ModeAttended, c.CurrentMode())
}

func TestCheckPending_DisabledLeavesPendingStored(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingAfterIteration)))

	cfg := testConfig()
	cfg.Enabled = false
	c.Reconfigure(cfg)
	assert.Nil(t, c.CheckPending(model.TimingAfterIteration, 1))
	require.NotNil(t, c.Pending())

	// Re-enabling lets the stored request apply at the next check point.
	c.Reconfigure(testConfig())
	res := c.CheckPending(model.TimingAfterIteration, 2)
	require.NotNil(t, res)
	assert.Equal(t, model.ModeUnattended, res.To)
}

func TestShouldHybridPrompt(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	tests := []struct {
		name         string
		iteration    int
		filesChanged int
		want         bool
	}{
		{"iteration zero never prompts", 0, 0, false},
		{"multiple of interval", 5, 0, true},
		{"second multiple", 10, 0, true},
		{"off interval", 4, 0, false},
		{"change threshold met exactly", 3, 10, true},
		{"change threshold exceeded", 3, 25, true},
		{"below change threshold", 3, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ShouldHybridPrompt(tt.iteration, tt.filesChanged))
		})
	}
}

func TestShouldHybridPrompt_ZeroValuesDisableRules(t *testing.T) {
	cfg := testConfig()
	cfg.Hybrid.SignificantChangeThreshold = 0
	c := New(cfg, nil, nil, nil)
	assert.False(t, c.ShouldHybridPrompt(3, 1000))

	cfg = testConfig()
	cfg.Hybrid.PromptEveryN = 0
	c = New(cfg, nil, nil, nil)
	assert.False(t, c.ShouldHybridPrompt(5, 0))
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()
	c := New(testConfig(), nil, nil, bus)

	received := make(chan events.Event, 10)
	unsub := c.Subscribe(func(e events.Event) { received <- e })

	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeUnattended, model.TimingImmediate)))
	e := waitEvent(t, received)
	assert.Equal(t, events.EventModeSwitched, e.Type)

	unsub()
	require.NoError(t, c.RequestSwitch(newRequest(t, model.ModeAttended, model.TimingImmediate)))
	assertNoEvent(t, received)
}
