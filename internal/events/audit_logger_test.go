package events

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, maxSize int64) (*AuditLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := NewAuditLogger(logPath, maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger, logPath
}

func readAll(t *testing.T, logPath string) []LogEntry {
	t.Helper()
	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	return entries
}

func TestNewAuditLogger_CreatesFile(t *testing.T) {
	_, logPath := newTestLogger(t, DefaultMaxLogSize)

	_, err := os.Stat(logPath)
	assert.NoError(t, err, "log file should exist after construction")
}

func TestAuditLogger_WriteEntry(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	entry := &LogEntry{
		Timestamp: time.Now().UTC(),
		EventType: "mode_switched",
		EventID:   "evt_0000000001_deadbeef",
		RequestID: "req_0000000001_deadbeef",
		SessionID: "sess_0000000001_deadbeef",
		Details: map[string]interface{}{
			"from": "unattended",
			"to":   "attended",
		},
	}
	require.NoError(t, logger.WriteEntry(entry))

	entries := readAll(t, logPath)
	require.Len(t, entries, 1)
	assert.Equal(t, "mode_switched", entries[0].EventType)
	assert.Equal(t, "evt_0000000001_deadbeef", entries[0].EventID)
	assert.Equal(t, "req_0000000001_deadbeef", entries[0].RequestID)
	assert.Equal(t, "sess_0000000001_deadbeef", entries[0].SessionID)
}

func TestAuditLogger_Log_LiftsIDsFromDetails(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	require.NoError(t, logger.Log("mode_switched", map[string]interface{}{
		"event_id":   "evt_test",
		"request_id": "req_test",
		"session_id": "sess_test",
		"from":       "attended",
		"to":         "unattended",
		"reason":     "scheduled[0]",
	}))

	entries := readAll(t, logPath)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, "mode_switched", got.EventType)
	assert.Equal(t, "evt_test", got.EventID)
	assert.Equal(t, "req_test", got.RequestID)
	assert.Equal(t, "sess_test", got.SessionID)
	assert.False(t, got.Timestamp.IsZero(), "Log should stamp the entry")
}

func TestAuditLogger_RecordEvent_PreservesTimestamp(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	published := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, logger.RecordEvent(Event{
		Type:      EventModeSwitched,
		Timestamp: published,
		Data: map[string]interface{}{
			"request_id": "req_record",
			"from":       "unattended",
			"to":         "attended",
		},
	}))

	entries := readAll(t, logPath)
	require.Len(t, entries, 1)
	assert.Equal(t, string(EventModeSwitched), entries[0].EventType)
	assert.True(t, entries[0].Timestamp.Equal(published), "publish time must survive the round trip")
	assert.Equal(t, "req_record", entries[0].RequestID)
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	const writers, perWriter = 100, 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := logger.Log(fmt.Sprintf("evt_%d_%d", id, j), map[string]interface{}{
					"writer":    id,
					"iteration": j,
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, readAll(t, logPath), writers*perWriter)
}

func TestAuditLogger_RotatesIntoArchive(t *testing.T) {
	logger, logPath := newTestLogger(t, 1024)
	archiveDir := filepath.Join(filepath.Dir(logPath), ArchiveDir)

	// Each entry is well over 100 bytes, so a handful forces rotation.
	details := map[string]interface{}{
		"data": strings.Repeat("mode trigger fired and escalated the loop ", 4),
	}
	for i := 0; i < 40; i++ {
		require.NoError(t, logger.Log(fmt.Sprintf("event_%d", i), details))
	}

	archived, err := os.ReadDir(archiveDir)
	require.NoError(t, err, "archive dir should exist after rotation")
	require.NotEmpty(t, archived)
	for _, f := range archived {
		assert.True(t, strings.HasPrefix(f.Name(), "events."), "archive name keeps the base: %s", f.Name())
		assert.True(t, strings.HasSuffix(f.Name(), LogFileExtension), "archive keeps the extension: %s", f.Name())
	}

	// The live file keeps accepting writes after rotation.
	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestReadEntries_SkipsMalformedLines(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)
	for i := 0; i < 3; i++ {
		require.NoError(t, logger.Log("event", map[string]interface{}{"index": i}))
	}
	require.NoError(t, logger.Close())

	// Append a truncated line, then a valid one, as a crash mid-write would.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"event_type\":\"trunc\n" +
		"{\"timestamp\":\"2026-01-02T15:04:05Z\",\"event_type\":\"after_garbage\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries := readAll(t, logPath)
	require.Len(t, entries, 4, "three originals plus the line after the garbage")
	assert.Equal(t, "after_garbage", entries[3].EventType)
}

func TestAuditLogger_AppendsAcrossRestarts(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")

	first, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, first.Log("event", map[string]interface{}{"index": i}))
	}
	require.NoError(t, first.Close())

	second, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	require.NoError(t, err)
	defer second.Close()
	for i := 5; i < 10; i++ {
		require.NoError(t, second.Log("event", map[string]interface{}{"index": i}))
	}

	entries := readAll(t, logPath)
	require.Len(t, entries, 10)

	seen := make(map[int]bool)
	for _, entry := range entries {
		if idx, ok := entry.Details["index"].(float64); ok {
			seen[int(idx)] = true
		}
	}
	for i := 0; i < 10; i++ {
		assert.True(t, seen[i], "entry %d should survive the restart", i)
	}
}
