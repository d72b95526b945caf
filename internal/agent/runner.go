package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/pacer/internal/model"
)

// LogLevel controls logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Runner implements Session by spawning the configured agent CLI once per
// Run call. The rendered prompt is appended as the final argument, after the
// configured args.
type Runner struct {
	cfg      model.AgentConfig
	workDir  string
	logger   *log.Logger
	logFile  io.Closer
	logLevel LogLevel
}

// NewRunner creates a Runner that logs to <pacerDir>/logs/agent.log.
func NewRunner(pacerDir string, cfg model.AgentConfig, workDir, logLevel string) (*Runner, error) {
	logPath := filepath.Join(pacerDir, "logs", "agent.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return newRunner(cfg, workDir, logLevel, logFile, logFile), nil
}

// newRunner is the internal constructor that accepts an io.Writer for testing.
func newRunner(cfg model.AgentConfig, workDir, logLevel string, w io.Writer, closer io.Closer) *Runner {
	return &Runner{
		cfg:      cfg,
		workDir:  workDir,
		logger:   log.New(w, "", 0),
		logFile:  closer,
		logLevel: parseLogLevel(logLevel),
	}
}

// Close releases the log file handle.
func (r *Runner) Close() error {
	if r.logFile != nil {
		return r.logFile.Close()
	}
	return nil
}

// Run executes one session and derives the iteration facts from its output.
// A session that ran but exited non-zero (or hit the timeout) is reported in
// the Result, not as a Run error; the error return is reserved for failing
// to start the process at all.
func (r *Runner) Run(ctx context.Context, prompt string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSec)*time.Second)
		defer cancel()
	}

	args := append(append([]string{}, r.cfg.Args...), prompt)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.workDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.log(LogLevelInfo, "session_start command=%s timeout_sec=%d", r.cfg.Command, r.cfg.TimeoutSec)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	res := parseOutput(output.String())
	res.Duration = duration

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			res.ExitCode = -1
			res.Err = fmt.Errorf("agent session: %w", ctx.Err())
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			r.log(LogLevelError, "session_error command=%s error=%v", r.cfg.Command, err)
			return nil, fmt.Errorf("run agent %s: %w", r.cfg.Command, err)
		}
	}

	r.log(LogLevelInfo, "session_end exit_code=%d duration_ms=%d files_changed=%d tests_passed=%d tests_failed=%d",
		res.ExitCode, duration.Milliseconds(), res.FilesChanged, len(res.TestsPassed), len(res.TestsFailed))
	return res, nil
}

func (r *Runner) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s agent: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
