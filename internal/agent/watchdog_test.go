package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatchdog_ConsecutiveFailureStreak(t *testing.T) {
	w := NewWatchdog()
	assert.Equal(t, 0, w.ConsecutiveFailures())

	w.Observe(&Result{ExitCode: 1})
	w.Observe(&Result{Err: errors.New("timeout")})
	assert.Equal(t, 2, w.ConsecutiveFailures())

	w.Observe(&Result{})
	assert.Equal(t, 0, w.ConsecutiveFailures())
}

func TestWatchdog_TestFailureStreakIsIndependent(t *testing.T) {
	w := NewWatchdog()

	// Session succeeded but reported failing tests.
	w.Observe(&Result{TestsFailed: []string{"TestX"}})
	assert.Equal(t, 0, w.ConsecutiveFailures())
	assert.Equal(t, 1, w.TestFailureStreak())

	w.Observe(&Result{TestsFailed: []string{"TestX", "TestY"}})
	assert.Equal(t, 2, w.TestFailureStreak())

	w.Observe(&Result{TestsPassed: []string{"TestX"}})
	assert.Equal(t, 0, w.TestFailureStreak())
}

func TestWatchdog_RegressionNeedsAPriorPass(t *testing.T) {
	w := NewWatchdog()

	w.Observe(&Result{TestsFailed: []string{"TestNew"}})
	assert.False(t, w.Regressed())

	w.Observe(&Result{TestsPassed: []string{"TestNew"}})
	assert.False(t, w.Regressed())

	w.Observe(&Result{TestsFailed: []string{"TestNew"}})
	assert.True(t, w.Regressed())
	assert.Equal(t, []string{"TestNew"}, w.RegressedTests())

	// Passing again clears the latest-session regression.
	w.Observe(&Result{TestsPassed: []string{"TestNew"}})
	assert.False(t, w.Regressed())
}

func TestWatchdog_RegressionTracksOnlyLatestSession(t *testing.T) {
	w := NewWatchdog()
	w.Observe(&Result{TestsPassed: []string{"TestA", "TestB"}})

	w.Observe(&Result{TestsFailed: []string{"TestA"}})
	assert.Equal(t, []string{"TestA"}, w.RegressedTests())

	w.Observe(&Result{TestsFailed: []string{"TestB"}})
	assert.Equal(t, []string{"TestB"}, w.RegressedTests())
}

func TestWatchdog_Reset(t *testing.T) {
	w := NewWatchdog()
	w.Observe(&Result{ExitCode: 1, TestsFailed: []string{"TestA"}})
	w.Observe(&Result{TestsPassed: []string{"TestA"}})
	w.Reset()

	assert.Equal(t, 0, w.ConsecutiveFailures())
	assert.Equal(t, 0, w.TestFailureStreak())

	// The pass before Reset no longer counts as a baseline.
	w.Observe(&Result{TestsFailed: []string{"TestA"}})
	assert.False(t, w.Regressed())
}

func TestWatchdog_EnableDisable(t *testing.T) {
	w := NewWatchdog()
	assert.False(t, w.Enabled())
	w.Enable()
	assert.True(t, w.Enabled())
	w.Disable()
	assert.False(t, w.Enabled())

	// Observation continues regardless of the flag.
	w.Observe(&Result{ExitCode: 2})
	assert.Equal(t, 1, w.ConsecutiveFailures())
}
