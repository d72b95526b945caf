package yaml

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupted file into <pacerDir>/quarantine with a
// timestamped .corrupt suffix so recovery never destroys evidence.
func Quarantine(pacerDir, filePath string) error {
	dir := filepath.Join(pacerDir, "quarantine")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	stamp := time.Now().Format("20060102T150405")
	dest := filepath.Join(dir, fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), stamp))
	if err := os.Rename(filePath, dest); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s -> %s", filePath, dest)
	return nil
}

// RestoreFromBackup copies filePath.bak over filePath after checking the
// backup still parses.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s -> %s", bakPath, filePath)
	return nil
}

// GenerateSkeleton writes a minimal valid file of the given type.
func GenerateSkeleton(filePath string, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}

	log.Printf("generated skeleton: %s (type: %s)", filePath, fileType)
	return nil
}

// RecoverCorruptedFile quarantines filePath, then restores it from its .bak
// if one parses, falling back to a fresh skeleton.
func RecoverCorruptedFile(pacerDir, filePath, fileType string) error {
	if err := Quarantine(pacerDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	err := RestoreFromBackup(filePath)
	if err == nil {
		return nil
	}
	log.Printf("backup restore failed for %s: %v; generating a skeleton instead", filePath, err)

	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}
	return nil
}

func skeletonFor(fileType string) any {
	switch fileType {
	case FileTypeLoopState:
		return map[string]any{
			"schema_version":       CurrentSchemaVersion,
			"file_type":            FileTypeLoopState,
			"iteration":            0,
			"max_iterations":       10,
			"status":               "stopped",
			"mode":                 "attended",
			"consecutive_failures": 0,
			"test_failure_streak":  0,
			"stopped_reason":       nil,
			"last_session_id":      nil,
			"started_at":           nil,
			"updated_at":           nil,
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
