package agent

import "sync"

// Watchdog is the unattended-mode collaborator. It folds session results
// into the safety facts the escalation triggers feed on: the consecutive
// failure streak, the test failure streak, and test regressions. The
// controller keeps it enabled in every mode; Enable and Disable only record
// whether unattended operation currently leans on it.
type Watchdog struct {
	mu             sync.Mutex
	enabled        bool
	failures       int
	testFailStreak int
	everPassed     map[string]bool
	regressions    []string
}

func NewWatchdog() *Watchdog {
	return &Watchdog{everPassed: make(map[string]bool)}
}

func (w *Watchdog) Enable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = true
}

func (w *Watchdog) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = false
}

func (w *Watchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Observe folds one session result into the safety counters.
func (w *Watchdog) Observe(res *Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if res.Failed() {
		w.failures++
	} else {
		w.failures = 0
	}

	if len(res.TestsFailed) > 0 {
		w.testFailStreak++
	} else {
		w.testFailStreak = 0
	}

	var regressions []string
	for _, name := range res.TestsFailed {
		if w.everPassed[name] {
			regressions = append(regressions, name)
		}
	}
	for _, name := range res.TestsPassed {
		w.everPassed[name] = true
	}
	w.regressions = regressions
}

// ConsecutiveFailures returns the current failed-session streak.
func (w *Watchdog) ConsecutiveFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// TestFailureStreak returns how many sessions in a row reported at least one
// failing test.
func (w *Watchdog) TestFailureStreak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.testFailStreak
}

// Regressed reports whether the latest session broke a test that passed in
// an earlier one.
func (w *Watchdog) Regressed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.regressions) > 0
}

// RegressedTests returns the names behind Regressed, latest session only.
func (w *Watchdog) RegressedTests() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.regressions))
	copy(out, w.regressions)
	return out
}

// Reset clears the streaks and the regression baseline.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = 0
	w.testFailStreak = 0
	w.everPassed = make(map[string]bool)
	w.regressions = nil
}
