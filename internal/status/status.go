// Package status gathers daemon and loop state for the status subcommand.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/msageha/pacer/internal/lock"
	"github.com/msageha/pacer/internal/loop"
	"github.com/msageha/pacer/internal/model"
	"github.com/msageha/pacer/internal/uds"
)

// recentSwitchLimit caps how much mode history the status view shows.
const recentSwitchLimit = 5

// Report is the combined daemon and loop status.
type Report struct {
	Daemon  DaemonStatus             `json:"daemon"`
	Mode    *ModeStatus              `json:"mode,omitempty"`
	Loop    *model.LoopState         `json:"loop,omitempty"`
	History []model.ModeHistoryEntry `json:"history,omitempty"`
}

// DaemonStatus says whether a daemon answers on the admin socket.
type DaemonStatus struct {
	Running   bool   `json:"running"`
	Pid       int    `json:"pid,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// ModeStatus is the live mode picture, available only from a running daemon.
type ModeStatus struct {
	Current  model.OperatingMode      `json:"current"`
	Pending  *model.ModeSwitchRequest `json:"pending,omitempty"`
	Paused   bool                     `json:"paused"`
	Switches int                      `json:"switches"`
}

// daemonStatusPayload mirrors the daemon's status.get response.
type daemonStatusPayload struct {
	Pid       int                      `json:"pid"`
	StartedAt string                   `json:"started_at"`
	Mode      model.OperatingMode      `json:"mode"`
	Pending   *model.ModeSwitchRequest `json:"pending"`
	Paused    bool                     `json:"paused"`
	Switches  int                      `json:"switches"`
	Loop      *model.LoopState         `json:"loop"`
}

// modeHistoryPayload mirrors the daemon's mode.history response.
type modeHistoryPayload struct {
	Entries []model.ModeHistoryEntry `json:"entries"`
}

// Run gathers the status and prints it.
func Run(pacerDir string, jsonOutput bool) error {
	report := gather(pacerDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

// gather asks the daemon first and falls back to the on-disk loop state when
// no daemon answers.
func gather(pacerDir string) Report {
	sockPath := filepath.Join(pacerDir, uds.DefaultSocketName)
	if payload, ok := queryDaemon(sockPath); ok {
		return Report{
			Daemon: DaemonStatus{Running: true, Pid: payload.Pid, StartedAt: payload.StartedAt},
			Mode: &ModeStatus{
				Current:  payload.Mode,
				Pending:  payload.Pending,
				Paused:   payload.Paused,
				Switches: payload.Switches,
			},
			Loop:    payload.Loop,
			History: queryHistory(sockPath),
		}
	}

	report := Report{Daemon: DaemonStatus{Running: false}}
	if state, err := loop.NewStore(pacerDir, lock.NewMutexMap()).Load(); err == nil {
		report.Loop = state
	}
	return report
}

func queryDaemon(sockPath string) (*daemonStatusPayload, bool) {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("status.get", nil)
	if err != nil || !resp.Success {
		return nil, false
	}
	var payload daemonStatusPayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

// queryHistory fetches the most recent switches, best effort. The rest of the
// report stands on its own when the daemon cannot answer.
func queryHistory(sockPath string) []model.ModeHistoryEntry {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("mode.history", map[string]interface{}{"limit": recentSwitchLimit})
	if err != nil || !resp.Success {
		return nil
	}
	var payload modeHistoryPayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil
	}
	return payload.Entries
}

func printReport(r Report) {
	if r.Daemon.Running {
		fmt.Printf("Daemon: running (pid %d, since %s)\n", r.Daemon.Pid, r.Daemon.StartedAt)
	} else {
		fmt.Println("Daemon: stopped")
	}

	if r.Mode != nil {
		fmt.Printf("\nMode: %s", r.Mode.Current)
		if r.Mode.Paused {
			fmt.Print(" (paused)")
		}
		fmt.Println()
		if r.Mode.Pending != nil {
			fmt.Printf("  pending switch to %s at %s\n", r.Mode.Pending.Target, r.Mode.Pending.Timing)
		}
		fmt.Printf("  switches this run: %d\n", r.Mode.Switches)
	}

	if len(r.History) > 0 {
		fmt.Println("\nRecent switches:")
		for _, e := range r.History {
			fmt.Printf("  %s  %s -> %s  %s\n", e.SwitchedAt.Format(time.RFC3339), e.From, e.To, e.Reason)
		}
	}

	if r.Loop != nil {
		fmt.Println("\nLoop:")
		fmt.Printf("  status:     %s\n", r.Loop.Status)
		fmt.Printf("  iteration:  %d/%s\n", r.Loop.Iteration, iterationBudget(r.Loop.MaxIterations))
		fmt.Printf("  mode:       %s\n", r.Loop.Mode)
		if r.Loop.ConsecutiveFailures > 0 {
			fmt.Printf("  failures:   %d consecutive\n", r.Loop.ConsecutiveFailures)
		}
		if r.Loop.StoppedReason != nil {
			fmt.Printf("  stopped:    %s\n", *r.Loop.StoppedReason)
		}
		if r.Loop.UpdatedAt != nil {
			fmt.Printf("  updated:    %s\n", *r.Loop.UpdatedAt)
		}
	}
}

func iterationBudget(max int) string {
	if max <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(max)
}
