// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogDir is used when ConfigureLogOutput is given an empty directory.
const DefaultLogDir = "logs"

const (
	mainLogName    = "main.log"
	mainLogSizeMB  = 10
	noRequestID    = "--------"
	requestIDField = "request_id"
)

// outputs holds every writer owned by the package. All fields are guarded by mu.
type outputs struct {
	mu      sync.Mutex
	file    *lumberjack.Logger
	ginInfo *io.PipeWriter
	ginErr  *io.PipeWriter
}

var (
	setupOnce sync.Once
	sinks     outputs
)

// LogFormatter renders one line per entry:
//
//	[2026-03-01 10:04:05] [a1b2c3d4] [info ] [engine.go:212] round decided | decision=approved
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("[" + entry.Time.Format("2006-01-02 15:04:05") + "] ")
	sb.WriteString("[" + entryRequestID(entry) + "] ")
	sb.WriteString(fmt.Sprintf("[%-5s] ", shortLevel(entry.Level)))
	if entry.Caller != nil {
		sb.WriteString(fmt.Sprintf("[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line))
	}
	sb.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	if fields := sortedFields(entry.Data); len(fields) > 0 {
		sb.WriteString(" | ")
		sb.WriteString(strings.Join(fields, ", "))
	}
	sb.WriteByte('\n')

	if entry.Buffer != nil {
		entry.Buffer.WriteString(sb.String())
		return entry.Buffer.Bytes(), nil
	}
	return []byte(sb.String()), nil
}

func entryRequestID(entry *log.Entry) string {
	if id, ok := entry.Data[requestIDField].(string); ok && id != "" {
		return id
	}
	return noRequestID
}

func shortLevel(level log.Level) string {
	if level == log.WarnLevel {
		return "warn"
	}
	return level.String()
}

// sortedFields returns k=v pairs for every field except the request id.
func sortedFields(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != requestIDField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return fields
}

// SetupBaseLogger installs LogFormatter on the standard logger and routes
// gin's output through it. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		std := log.StandardLogger()
		std.SetOutput(os.Stdout)
		std.SetReportCaller(true)
		std.SetFormatter(&LogFormatter{})

		sinks.mu.Lock()
		sinks.ginInfo = std.Writer()
		sinks.ginErr = std.WriterLevel(log.ErrorLevel)
		gin.DefaultWriter = sinks.ginInfo
		gin.DefaultErrorWriter = sinks.ginErr
		sinks.mu.Unlock()

		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			std.Infof(strings.TrimRight(format, "\r\n"), values...)
		}
		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ConfigureLogOutput sends logs to dir/main.log (rotated by lumberjack) when
// loggingToFile is set, and to stdout otherwise. A positive
// logsMaxTotalSizeMB starts a cleaner that caps the size of dir.
func ConfigureLogOutput(loggingToFile bool, dir string, logsMaxTotalSizeMB int) error {
	SetupBaseLogger()
	if dir == "" {
		dir = DefaultLogDir
	}

	sinks.mu.Lock()
	defer sinks.mu.Unlock()

	sinks.closeFileLocked()
	if !loggingToFile {
		log.SetOutput(os.Stdout)
		configureLogDirCleanerLocked(dir, logsMaxTotalSizeMB, "")
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	mainLog := filepath.Join(dir, mainLogName)
	sinks.file = &lumberjack.Logger{Filename: mainLog, MaxSize: mainLogSizeMB}
	log.SetOutput(sinks.file)
	configureLogDirCleanerLocked(dir, logsMaxTotalSizeMB, mainLog)
	return nil
}

// SetLevel switches between debug and info logging and the matching gin mode.
func SetLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
		return
	}
	log.SetLevel(log.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

func (o *outputs) closeFileLocked() {
	if o.file != nil {
		_ = o.file.Close()
		o.file = nil
	}
}

func closeLogOutputs() {
	sinks.mu.Lock()
	defer sinks.mu.Unlock()

	stopLogDirCleanerLocked()
	sinks.closeFileLocked()
	for _, w := range []**io.PipeWriter{&sinks.ginInfo, &sinks.ginErr} {
		if *w != nil {
			_ = (*w).Close()
			*w = nil
		}
	}
}
