package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is written into every state file pacer creates.
const CurrentSchemaVersion = 1

// FileTypeLoopState marks the loop state file.
const FileTypeLoopState = "state_loop"

// SchemaHeader is the envelope every .pacer state file starts with.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// Validate checks the header against what this build understands.
// expectedFileType may be empty to accept any known type.
func (h SchemaHeader) Validate(expectedFileType string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return fmt.Errorf("missing file_type")
	case !knownFileType(h.FileType):
		return fmt.Errorf("unknown file_type: %q", h.FileType)
	case expectedFileType != "" && h.FileType != expectedFileType:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", h.FileType, expectedFileType)
	}
	return nil
}

func knownFileType(t string) bool {
	return t == FileTypeLoopState
}

// ValidateSchemaHeader reads path and checks its schema header.
func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

// ValidateSchemaHeaderFromBytes parses just the header fields out of content
// and validates them.
func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return header.Validate(expectedFileType)
}

// NeedsMigration reports whether a file written by an older pacer must be
// rewritten at the current schema version.
func NeedsMigration(schemaVersion int) bool {
	return schemaVersion < CurrentSchemaVersion
}
