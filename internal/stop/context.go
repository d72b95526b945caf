package stop

import "time"

// Context is a read-only snapshot of the loop supplied by the caller for one
// evaluation. Evaluation never retains a reference to it across calls.
type Context struct {
	Iteration               int
	StartedAt               time.Time
	EvaluatedAt             time.Time
	RecentOutput            string
	TestFailureStreak       int
	IterationsSinceProgress int
	TestsPassed             []string
	TestsFailed             []string
	HasError                bool
	ErrorMessage            string
	UserInterrupt           bool
	WorkDir                 string
}

// Result is one evaluation outcome. Progress is only set for conditions with
// a natural completion ratio; composite conditions propagate none.
type Result struct {
	Met      bool
	Progress *float64
}
