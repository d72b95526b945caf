// Package agent runs one external coding session per loop iteration and
// provides the collaborators the mode controller enables and disables.
package agent

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Session runs one loop iteration against the external coding agent.
type Session interface {
	Run(ctx context.Context, prompt string) (*Result, error)
}

// Result is the observable outcome of one agent session.
type Result struct {
	Output         string
	FilesChanged   int
	TestsPassed    []string
	TestsFailed    []string
	NearCompletion bool
	ExitCode       int
	Err            error
	Duration       time.Duration
}

// Failed reports whether the session counts against the failure streak.
func (r *Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// reportTag opens the report markers a session may print, one or more fields
// per line:
//
//	[pacer] files_changed:4
//	[pacer] test_pass:TestLoadConfig test_fail:TestWatcher
//	[pacer] near_completion
//
// Everything else in the output is free-form text.
const reportTag = "[pacer]"

// parseOutput derives the structured iteration facts from raw session output.
func parseOutput(output string) *Result {
	res := &Result{Output: output}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, reportTag) {
			continue
		}
		for _, field := range strings.Fields(line[len(reportTag):]) {
			key, value, _ := strings.Cut(field, ":")
			switch key {
			case "files_changed":
				if n, err := strconv.Atoi(value); err == nil && n >= 0 {
					res.FilesChanged = n
				}
			case "test_pass":
				if value != "" {
					res.TestsPassed = append(res.TestsPassed, value)
				}
			case "test_fail":
				if value != "" {
					res.TestsFailed = append(res.TestsFailed, value)
				}
			case "near_completion":
				res.NearCompletion = true
			}
		}
	}
	return res
}
