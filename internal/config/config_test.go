// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Empty(t, cfg.Server.APIKeys)
	assert.Equal(t, "", cfg.Router.URL)
	assert.Equal(t, DefaultRouterAPIKey, cfg.Router.APIKey)
	assert.Equal(t, 3, cfg.Fanout.Quorum)
	assert.Equal(t, 3, cfg.Fanout.MaxResponders)
	assert.Equal(t, 30*time.Second, cfg.Fanout.CallTimeoutDuration())
	assert.Equal(t, 60*time.Second, cfg.Fanout.RoundDeadlineDuration())
	assert.Equal(t, 5*time.Second, cfg.Fanout.DiscoveryTimeoutDuration())
	assert.Equal(t, "combined", cfg.Consensus.Metric)
	assert.Equal(t, 60, cfg.Consensus.AgreementThreshold)
	assert.Equal(t, 70, cfg.Consensus.TrustThreshold)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, DefaultAuditPath, cfg.Audit.Path)
	assert.True(t, cfg.Hooks.Watch)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.IntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.TimeoutDuration())
}

func TestLoadConfig_CustomValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
  debug: true
  api-keys: [" key-one ", "", "key-two"]
  cors-allowed-origins: ["https://app.example.com"]
router:
  url: http://router.local:5010/
  api-key: secret
fanout:
  quorum: 5
  max-responders: 7
  max-concurrent: 2
  call-timeout: 10s
  round-deadline: 20s
  session-id: 12
  synthetic-seed: 42
consensus:
  metric: levenshtein
  agreement-threshold: 55
  trust-threshold: 65
audit:
  enabled: true
  path: /tmp/audit.log
heartbeat:
  enabled: true
  interval: 10s
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Server.APIKeys)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "http://router.local:5010", cfg.Router.URL)
	assert.Equal(t, "secret", cfg.Router.APIKey)
	assert.Equal(t, 5, cfg.Fanout.Quorum)
	assert.Equal(t, 7, cfg.Fanout.MaxResponders)
	assert.Equal(t, 2, cfg.Fanout.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Fanout.CallTimeoutDuration())
	assert.Equal(t, int64(12), cfg.Fanout.SessionID)
	assert.Equal(t, int64(42), cfg.Fanout.SyntheticSeed)
	assert.Equal(t, "edit-distance", cfg.Consensus.Metric)
	assert.Equal(t, 55, cfg.Consensus.AgreementThreshold)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.IntervalDuration())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfigOptional_Missing(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultQuorum, cfg.Fanout.Quorum)
}

func TestSanitize_InvalidValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  port: 70000
  logs-max-total-size-mb: -5
  cors-allowed-origins: [" "]
fanout:
  quorum: -1
  max-responders: 1
  max-concurrent: 9
  call-timeout: soon
  round-deadline: 1ms
consensus:
  metric: cosine
  agreement-threshold: 150
  trust-threshold: -3
hooks:
  queue-size: 0
heartbeat:
  interval: 10ms
  timeout: nope
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.LogsMaxTotalSizeMB)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, DefaultQuorum, cfg.Fanout.Quorum)
	assert.Equal(t, DefaultQuorum, cfg.Fanout.MaxResponders)
	assert.Equal(t, 0, cfg.Fanout.MaxConcurrent)
	assert.Equal(t, DefaultCallTimeout, cfg.Fanout.CallTimeout)
	assert.Equal(t, DefaultRoundDeadline, cfg.Fanout.RoundDeadline)
	assert.Equal(t, DefaultMetric, cfg.Consensus.Metric)
	assert.Equal(t, DefaultAgreementThreshold, cfg.Consensus.AgreementThreshold)
	assert.Equal(t, DefaultTrustThreshold, cfg.Consensus.TrustThreshold)
	assert.Equal(t, DefaultHooksQueueSize, cfg.Hooks.QueueSize)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Heartbeat.Interval)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.Heartbeat.Timeout)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvRouterURLAlt:    "http://cortensor:5010/",
		EnvRouterAPIKey:    "primary-key",
		EnvRouterAPIKeyAlt: "ignored",
		EnvPort:            "9191",
		EnvAPIKeys:         "a, b ,,c",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://cortensor:5010", cfg.Router.URL)
	assert.Equal(t, "primary-key", cfg.Router.APIKey)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)

	env[EnvRouterURL] = "http://preferred:1"
	env[EnvPort] = "not-a-port"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "http://preferred:1", cfg.Router.URL)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestAPIKeys(t *testing.T) {
	hashed, err := HashAPIKey("s3cret")
	require.NoError(t, err)
	assert.True(t, LooksLikeBcrypt(hashed))
	assert.False(t, LooksLikeBcrypt("s3cret"))

	_, err = HashAPIKey("  ")
	assert.Error(t, err)

	keys := []string{"plain-key", hashed}
	assert.True(t, MatchAPIKey(keys, "plain-key"))
	assert.True(t, MatchAPIKey(keys, "s3cret"))
	assert.False(t, MatchAPIKey(keys, "wrong"))
	assert.False(t, MatchAPIKey(keys, ""))
	assert.False(t, MatchAPIKey(nil, "plain-key"))
}
