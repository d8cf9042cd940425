// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatter(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 3, 1, 10, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "round decided\n",
		Data:    log.Fields{"request_id": "abc123", "trust": 76, "decision": "approved"},
	}
	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2026-03-01 10:04:05] [abc123] [warn ] round decided | decision=approved, trust=76\n", string(out))
}

func TestLogFormatter_NoRequestID(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 3, 1, 10, 4, 5, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "started",
		Data:    log.Fields{},
	}
	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2026-03-01 10:04:05] [--------] [info ] started\n", string(out))
}

func TestCleanLogDir(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	write := func(name string, size int, age time.Duration) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
		require.NoError(t, os.Chtimes(p, now.Add(-age), now.Add(-age)))
		return p
	}
	oldest := write("main-1.log", 400, 3*time.Hour)
	middle := write("main-2.log", 400, 2*time.Hour)
	protected := write("main.log", 400, 4*time.Hour)
	other := write("notes.txt", 5000, 5*time.Hour)

	removed, err := cleanLogDir(dir, 900, protected)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldest)
	assert.FileExists(t, middle)
	assert.FileExists(t, protected)
	assert.FileExists(t, other)
}

func TestCleanLogDir_MissingDir(t *testing.T) {
	_, err := cleanLogDir(filepath.Join(t.TempDir(), "missing"), 1, "")
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	var fromGin, fromCtx string
	r.GET("/", func(c *gin.Context) {
		fromGin = GetGinRequestID(c)
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, fromGin)
	assert.Equal(t, generated, fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "client-id-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-id-1", fromCtx)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestGinLogrusRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), GinLogrusLogger(), GinLogrusRecovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok?x=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContextWithoutRequestID(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
