// Package main is the entry point for the pacer CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/pacer/internal/daemon"
	"github.com/msageha/pacer/internal/model"
	"github.com/msageha/pacer/internal/prompt"
	"github.com/msageha/pacer/internal/setup"
	"github.com/msageha/pacer/internal/status"
	"github.com/msageha/pacer/internal/uds"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pacer",
		Short:        "Autonomous coding loop with mode control",
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		runCmd(),
		initCmd(),
		statusCmd(),
		modeCmd(),
		historyCmd(),
		approveCmd(),
		pauseCmd(),
		resumeCmd(),
		reloadCmd(),
		stopCmd(),
		validateCmd(),
		versionCmd(),
	)

	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the loop daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pacerDir, err := model.FindPacerDir(".")
			if err != nil {
				return err
			}
			cfg, err := model.LoadConfig(pacerDir)
			if err != nil {
				return err
			}
			d, err := daemon.New(pacerDir, *cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			return d.Run()
		},
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a .pacer directory with a starter config and prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			name, _ := cmd.Flags().GetString("name")
			if err := setup.Run(dir, name); err != nil {
				return err
			}
			absDir, _ := filepath.Abs(dir)
			fmt.Printf("Initialized %s in %s\n", model.PacerDirName, absDir)
			fmt.Println("Edit .pacer/prompts/PROMPT.md, then start with: pacer run")
			return nil
		},
	}
	cmd.Flags().String("name", "", "project name (defaults to the directory name)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, mode, and loop status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			pacerDir, err := model.FindPacerDir(".")
			if err != nil {
				return err
			}
			return status.Run(pacerDir, jsonOutput)
		},
	}
	cmd.Flags().Bool("json", false, "machine-readable output")
	return cmd
}

func modeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or switch the operating mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendCommand("mode.get", nil)
			if err != nil {
				return err
			}
			var data daemon.ModeData
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Println(data.Mode)
			if data.Pending != nil {
				fmt.Printf("pending switch to %s at %s\n", data.Pending.Target, data.Pending.Timing)
			}
			return nil
		},
	}
	cmd.AddCommand(modeSwitchCmd())
	return cmd
}

func modeSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <attended|unattended|hybrid>",
		Short: "Request a mode switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timing, _ := cmd.Flags().GetString("timing")
			reason, _ := cmd.Flags().GetString("reason")
			resp, err := sendCommand("mode.switch", daemon.ModeSwitchParams{
				Target: args[0],
				Timing: timing,
				Reason: reason,
			})
			if err != nil {
				return err
			}
			var data daemon.ModeSwitchData
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if data.Queued {
				fmt.Printf("switch to %s accepted, applies at %s (%s)\n", data.Target, data.Timing, data.RequestID)
			} else {
				fmt.Printf("switch to %s accepted (%s)\n", data.Target, data.RequestID)
			}
			return nil
		},
	}
	cmd.Flags().String("timing", "", "when to apply: immediate, at_pause, or after_iteration (default immediate)")
	cmd.Flags().String("reason", "", "attribution recorded in history: user or api (default user)")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show mode switch history for the current daemon run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			resp, err := sendCommand("mode.history", daemon.ModeHistoryParams{Limit: limit})
			if err != nil {
				return err
			}
			var data daemon.ModeHistoryData
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if len(data.Entries) == 0 {
				fmt.Println("no mode switches recorded")
				return nil
			}
			for _, e := range data.Entries {
				fmt.Printf("%s  %s -> %s  %s (%s)\n",
					e.SwitchedAt.Format(time.RFC3339), e.From, e.To, e.Reason, e.Timing)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "show only the most recent N switches")
	return cmd
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve",
		Short: "Approve the pending hybrid pause",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand("loop.approve", nil); err != nil {
				return err
			}
			fmt.Println("approved")
			return nil
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the loop before its next iteration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand("loop.pause", nil); err != nil {
				return err
			}
			fmt.Println("pause requested")
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand("loop.resume", nil); err != nil {
				return err
			}
			fmt.Println("resumed")
			return nil
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload config.yaml (mode_switch settings apply live)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand("config.reload", nil); err != nil {
				return err
			}
			fmt.Println("config reloaded; loop, prompt, and agent settings need a restart")
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the daemon to shut down gracefully",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand("shutdown", nil); err != nil {
				return err
			}
			fmt.Println("shutdown requested")
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config.yaml and the configured prompt without starting the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pacerDir, err := model.FindPacerDir(".")
			if err != nil {
				return err
			}
			cfg, err := model.LoadConfig(pacerDir)
			if err != nil {
				return err
			}

			baseDir := cfg.Prompts.BaseDir
			if !filepath.IsAbs(baseDir) {
				baseDir = filepath.Join(pacerDir, baseDir)
			}
			loader := prompt.NewLoader(prompt.Config{
				BaseDir:         baseDir,
				MaxIncludeDepth: cfg.Prompts.MaxIncludeDepth,
				Extensions:      cfg.Prompts.Extensions,
				Strict:          true,
			}, nil)
			if _, err := loader.Load(cfg.Loop.Prompt); err != nil {
				return fmt.Errorf("prompt %s: %w", cfg.Loop.Prompt, err)
			}

			fmt.Printf("%s is valid\n", filepath.Join(pacerDir, model.ConfigFileName))
			fmt.Printf("  prompt:         %s\n", cfg.Loop.Prompt)
			fmt.Printf("  max iterations: %s\n", iterationBudget(cfg.Loop.MaxIterations))
			fmt.Printf("  default mode:   %s\n", cfg.ModeSwitch.DefaultMode)
			fmt.Printf("  agent command:  %s\n", cfg.Agent.Command)
			return nil
		},
	}
}

func iterationBudget(max int) string {
	if max <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", max)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pacer version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pacer %s\n", version)
		},
	}
}

// sendCommand locates the daemon socket and performs one request/response
// exchange, turning error responses into errors.
func sendCommand(command string, params any) (*uds.Response, error) {
	pacerDir, err := model.FindPacerDir(".")
	if err != nil {
		return nil, err
	}
	client := uds.NewClient(filepath.Join(pacerDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("%s failed [%s]: %s", command, code, msg)
	}
	return resp, nil
}
