package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize caps the live audit log at 10MB before rotation.
	DefaultMaxLogSize = 10 * 1024 * 1024
	// LogFileExtension is the suffix audit logs are written with.
	LogFileExtension = ".jsonl"
	// ArchiveDir is the directory rotated logs move into, next to the
	// live log.
	ArchiveDir = "archive"
)

// LogEntry is one line of the JSONL audit log.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	EventID   string                 `json:"event_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger appends entries to a JSONL file and rotates it into
// ArchiveDir once it outgrows maxSize. Every write is synced so the
// trail survives a daemon crash.
type AuditLogger struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	maxSize int64
	path    string
	seq     int
}

// NewAuditLogger opens or creates the audit log at logPath. A maxSize
// of zero or less selects DefaultMaxLogSize.
func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &AuditLogger{path: logPath, maxSize: maxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.f = f
	l.size = stat.Size()
	return nil
}

// Log records an event by name, stamped with the current time.
func (l *AuditLogger) Log(eventType string, details map[string]interface{}) error {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
	}
	liftIDs(&entry)
	return l.WriteEntry(&entry)
}

// RecordEvent writes a bus event to the audit log, preserving its
// original timestamp.
func (l *AuditLogger) RecordEvent(e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		Details:   e.Data,
	}
	liftIDs(&entry)
	return l.WriteEntry(&entry)
}

// liftIDs copies the well-known identifiers out of Details into their
// typed columns so readers can filter without digging through Details.
func liftIDs(entry *LogEntry) {
	if id, ok := entry.Details["event_id"].(string); ok {
		entry.EventID = id
	}
	if id, ok := entry.Details["request_id"].(string); ok {
		entry.RequestID = id
	}
	if id, ok := entry.Details["session_id"].(string); ok {
		entry.SessionID = id
	}
}

// WriteEntry appends one entry, rotating first when the write would
// push the file past maxSize.
func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size+int64(len(line)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.f.Write(line)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	l.size += int64(n)
	return nil
}

// rotate moves the live log into ArchiveDir and starts a fresh one.
// Caller holds l.mu.
func (l *AuditLogger) rotate() error {
	if err := l.f.Close(); err != nil {
		return err
	}

	archiveDir := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return err
	}

	// The sequence number keeps names unique when two rotations land
	// in the same second.
	l.seq++
	base := strings.TrimSuffix(filepath.Base(l.path), LogFileExtension)
	name := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), l.seq, LogFileExtension)
	if err := os.Rename(l.path, filepath.Join(archiveDir, name)); err != nil {
		return err
	}

	return l.open()
}

// Close syncs and closes the live log file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	if err := l.f.Sync(); err != nil {
		return err
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadEntries reads all well-formed entries from a JSONL log file.
// Lines that do not parse are skipped rather than failing the read, so
// a log truncated by a crash stays usable.
func ReadEntries(logPath string) ([]LogEntry, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}
