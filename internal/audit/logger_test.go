package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Failed to decode line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to scan log file: %v", err)
	}
	return entries
}

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Enabled() {
		t.Error("Expected logger to be disabled")
	}

	logger.Log(Entry{Action: ActionRoundDecision, RoundID: "r-1"})
	logger.LogHealthTransition("healthy", "unavailable", 0, "router unreachable")

	if err := logger.Rotate(); err != nil {
		t.Errorf("Rotate failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	logger.Log(Entry{Action: ActionRoundDecision})
	if logger.Enabled() || logger.Path() != "" {
		t.Error("Expected nil logger to be disabled")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNewLogger_RequiresPath(t *testing.T) {
	if _, err := NewLogger(Config{Enabled: true}); err == nil {
		t.Error("Expected error for missing log path")
	}
}

func TestNewLogger_CreatesDirectory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "audit.log")

	logger, err := NewLogger(Config{Enabled: true, LogPath: logPath})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(filepath.Dir(logPath)); os.IsNotExist(err) {
		t.Errorf("Expected directory %s to be created", filepath.Dir(logPath))
	}
	if logger.Path() != logPath {
		t.Errorf("Expected path %s, got %s", logPath, logger.Path())
	}
}

func TestLog_WritesRoundDecision(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, LogPath: logPath})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.Log(Entry{
		Timestamp:      ts,
		Action:         ActionRoundDecision,
		RequestID:      "req-1",
		RoundID:        "round-1",
		Task:           "inference-task",
		Decision:       "rejected",
		RejectionCode:  "agreement_below_threshold",
		AgreementScore: 33,
		TrustScore:     73,
		Responders:     []string{"a", "b", "c"},
		Outliers:       []string{"a"},
		FailureCount:   1,
		ReceiptID:      "rcpt-1",
	})
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, got.Timestamp)
	}
	if got.RoundID != "round-1" || got.Decision != "rejected" || got.RejectionCode != "agreement_below_threshold" {
		t.Errorf("Unexpected round fields: %+v", got)
	}
	if got.AgreementScore != 33 || got.TrustScore != 73 || got.FailureCount != 1 {
		t.Errorf("Unexpected scores: %+v", got)
	}
	if len(got.Outliers) != 1 || got.Outliers[0] != "a" {
		t.Errorf("Unexpected outliers: %v", got.Outliers)
	}
}

func TestLog_SetsTimestamp(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, LogPath: logPath})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	before := time.Now()
	logger.LogHealthTransition("healthy", "degraded", 1, "fewer responders than quorum")
	after := time.Now()
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("Timestamp %v is outside [%v, %v]", e.Timestamp, before, after)
	}
	if e.Action != ActionHealthTransition {
		t.Errorf("Expected action %s, got %s", ActionHealthTransition, e.Action)
	}
	if e.Details["from"] != "healthy" || e.Details["to"] != "degraded" {
		t.Errorf("Unexpected details: %v", e.Details)
	}
}

func TestLog_Concurrent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, LogPath: logPath})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(Entry{Action: ActionRoundDecision, Decision: "approved"})
		}()
	}
	wg.Wait()
	logger.Close()

	if entries := readEntries(t, logPath); len(entries) != 50 {
		t.Errorf("Expected 50 entries, got %d", len(entries))
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	logger, err := NewLogger(Config{Enabled: true, LogPath: logPath})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Log(Entry{Action: ActionRoundDecision, RoundID: "before"})
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	logger.Log(Entry{Action: ActionRoundDecision, RoundID: "after"})

	files, err := filepath.Glob(filepath.Join(dir, "audit*.log"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Expected current and rotated file, got %v", files)
	}
	entries := readEntries(t, logPath)
	if len(entries) != 1 || entries[0].RoundID != "after" {
		t.Errorf("Expected only the post-rotation entry, got %+v", entries)
	}
}
