// Package audit writes one JSON line per round decision and per router
// health transition to a rotating log file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Action types recorded in Entry.Action.
const (
	ActionRoundDecision    = "round_decision"
	ActionHealthTransition = "health_transition"
)

// Entry is a single audit record. Round fields are empty for health entries.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	RequestID string    `json:"request_id,omitempty"`

	RoundID        string   `json:"round_id,omitempty"`
	Task           string   `json:"task,omitempty"`
	Decision       string   `json:"decision,omitempty"`
	RejectionCode  string   `json:"rejection_code,omitempty"`
	AgreementScore int      `json:"agreement_score"`
	TrustScore     int      `json:"trust_score"`
	Degraded       bool     `json:"degraded_mode"`
	DegradedReason string   `json:"degraded_reason,omitempty"`
	Responders     []string `json:"responder_ids,omitempty"`
	Outliers       []string `json:"outliers,omitempty"`
	FailureCount   int      `json:"failure_count"`
	ReceiptID      string   `json:"receipt_id,omitempty"`
	ReceiptDigest  string   `json:"receipt_digest,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// Logger is safe for concurrent use. A disabled logger drops every entry.
type Logger struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	file     *lumberjack.Logger
	enabled  bool
	logPath  string
	fallback *log.Logger
}

// Config holds configuration for the audit logger.
type Config struct {
	Enabled bool
	LogPath string

	// MaxSizeMB defaults to 100.
	MaxSizeMB int
	// MaxBackups defaults to 10.
	MaxBackups int
	// MaxAgeDays defaults to 30.
	MaxAgeDays int
	Compress   bool
}

// NewLogger creates an audit logger. When cfg.Enabled is false the returned
// logger is a no-op.
func NewLogger(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{fallback: log.StandardLogger()}, nil
	}
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("audit log path is required when audit is enabled")
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return &Logger{
		encoder:  json.NewEncoder(fileLogger),
		file:     fileLogger,
		enabled:  true,
		logPath:  cfg.LogPath,
		fallback: log.StandardLogger(),
	}, nil
}

// Enabled reports whether entries are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Path returns the log file path, or "" when disabled.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// Log writes entry as a JSON line. A zero timestamp is stamped with the
// current UTC time.
func (l *Logger) Log(entry Entry) {
	if !l.Enabled() {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(entry); err != nil {
		l.fallback.WithFields(log.Fields{
			"error":    err.Error(),
			"action":   entry.Action,
			"round_id": entry.RoundID,
			"decision": entry.Decision,
		}).Error("Failed to write audit log entry")
	}
}

// LogHealthTransition records a router health status change.
func (l *Logger) LogHealthTransition(from, to string, responders int, reason string) {
	l.Log(Entry{
		Action: ActionHealthTransition,
		Details: map[string]any{
			"from":       from,
			"to":         to,
			"responders": responders,
			"reason":     reason,
		},
	})
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if !l.Enabled() || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Rotate starts a new log file, keeping the current one as a backup.
func (l *Logger) Rotate() error {
	if !l.Enabled() || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Rotate()
}
