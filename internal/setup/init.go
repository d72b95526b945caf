// Package setup scaffolds a project's .pacer directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/pacer/internal/model"
	yamlutil "github.com/msageha/pacer/internal/yaml"
	"github.com/msageha/pacer/templates"
)

// Run initializes the .pacer/ directory structure in the given project
// directory. projectName overrides the auto-detected name (defaults to the
// directory basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, model.PacerDirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"prompts", "state", "locks", "logs"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// Starter prompt and its shared fragment.
	for _, name := range []string{"PROMPT.md", "REPORTING.md"} {
		if err := installTemplate(name, filepath.Join(base, "prompts", name)); err != nil {
			return err
		}
	}

	cfg, err := seedConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := yamlutil.AtomicWrite(filepath.Join(base, model.ConfigFileName), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := writeLoopState(filepath.Join(base, "state", "loop.yaml"), cfg); err != nil {
		return fmt.Errorf("write loop.yaml: %w", err)
	}

	// daemon.lock starts empty; the daemon flocks it on startup.
	if err := os.WriteFile(filepath.Join(base, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

// installTemplate copies one embedded template into the new tree.
func installTemplate(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// seedConfig parses the embedded config template and fills in the
// project-specific fields.
func seedConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	cfg.Project.Name = projectName
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(projectDir)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("template config invalid: %w", err)
	}
	return &cfg, nil
}

func writeLoopState(path string, cfg *model.Config) error {
	state := model.LoopState{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      yamlutil.FileTypeLoopState,
		MaxIterations: cfg.Loop.MaxIterations,
		Status:        model.LoopStatusStopped,
		Mode:          cfg.ModeSwitch.DefaultMode,
	}
	return yamlutil.AtomicWrite(path, state)
}
