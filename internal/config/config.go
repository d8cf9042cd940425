// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the TrustLayer YAML configuration and applies
// environment overrides. All keys are kebab-case. Defaults are set before
// unmarshalling so absent keys keep them, and the Sanitize methods pull
// invalid values back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfigOptional and Default.
const (
	DefaultPort               = 8080
	DefaultRouterAPIKey       = "default-dev-token"
	DefaultQuorum             = 3
	DefaultCallTimeout        = "30s"
	DefaultRoundDeadline      = "60s"
	DefaultDiscoveryTimeout   = "5s"
	DefaultMetric             = "combined"
	DefaultAgreementThreshold = 60
	DefaultTrustThreshold     = 70
	DefaultAuditPath          = "./logs/trustlayer_audit.log"
	DefaultHooksQueueSize     = 1000
)

// Environment variables read by ApplyEnv. The CORTENSOR_* names are accepted
// as fallbacks.
const (
	EnvRouterURL       = "TRUSTLAYER_ROUTER_URL"
	EnvRouterURLAlt    = "CORTENSOR_ROUTER_URL"
	EnvRouterAPIKey    = "TRUSTLAYER_ROUTER_API_KEY"
	EnvRouterAPIKeyAlt = "CORTENSOR_API_KEY"
	EnvPort            = "TRUSTLAYER_PORT"
	EnvAPIKeys         = "TRUSTLAYER_API_KEYS"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Router    RouterConfig    `yaml:"router" json:"router"`
	Fanout    FanoutConfig    `yaml:"fanout" json:"fanout"`
	Consensus ConsensusConfig `yaml:"consensus" json:"consensus"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Hooks     HooksConfig     `yaml:"hooks" json:"hooks"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`
}

// ServerConfig holds the inbound HTTP settings.
type ServerConfig struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to rotating files under logs/ instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
	// LogsMaxTotalSizeMB caps the logs directory. Zero disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// APIKeys protects the round endpoints when non-empty. Entries may be
	// plaintext or bcrypt hashes.
	APIKeys []string `yaml:"api-keys" json:"-"`

	CORSAllowedOrigins []string `yaml:"cors-allowed-origins" json:"cors-allowed-origins"`
}

// RouterConfig points at the responder router.
type RouterConfig struct {
	// URL of the router. Empty means no live responders; every round runs
	// degraded.
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api-key" json:"-"`
	// CompletionTimeout is sent to the router with each completion request.
	CompletionTimeout string `yaml:"completion-timeout" json:"completion-timeout"`
	UserAgent         string `yaml:"user-agent" json:"user-agent,omitempty"`
}

// FanoutConfig controls how replies are collected.
type FanoutConfig struct {
	Quorum           int    `yaml:"quorum" json:"quorum"`
	MaxResponders    int    `yaml:"max-responders" json:"max-responders"`
	MaxConcurrent    int    `yaml:"max-concurrent" json:"max-concurrent"`
	CallTimeout      string `yaml:"call-timeout" json:"call-timeout"`
	RoundDeadline    string `yaml:"round-deadline" json:"round-deadline"`
	DiscoveryTimeout string `yaml:"discovery-timeout" json:"discovery-timeout"`
	SessionID        int64  `yaml:"session-id" json:"session-id"`

	// SyntheticSeed seeds degraded-mode replies. Zero seeds from the clock.
	SyntheticSeed int64 `yaml:"synthetic-seed" json:"synthetic-seed"`
	// CatalogFile adds prompt templates for degraded mode.
	CatalogFile string `yaml:"catalog-file" json:"catalog-file,omitempty"`
}

// ConsensusConfig selects the similarity metric and decision thresholds.
type ConsensusConfig struct {
	Metric             string `yaml:"metric" json:"metric"`
	AgreementThreshold int    `yaml:"agreement-threshold" json:"agreement-threshold"`
	TrustThreshold     int    `yaml:"trust-threshold" json:"trust-threshold"`
}

// AuditConfig controls the round decision audit log.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max-size-mb" json:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups" json:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days" json:"max-age-days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// HooksConfig controls YAML hook loading.
type HooksConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Dir defaults to ~/.trustlayer/hooks.
	Dir       string `yaml:"dir" json:"dir"`
	Watch     bool   `yaml:"watch" json:"watch"`
	QueueSize int    `yaml:"queue-size" json:"queue-size"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (cfg *Config) setDefaults() {
	cfg.Server.Port = DefaultPort
	cfg.Server.CORSAllowedOrigins = []string{"*"}

	cfg.Router.APIKey = DefaultRouterAPIKey
	cfg.Router.CompletionTimeout = DefaultCallTimeout

	cfg.Fanout.Quorum = DefaultQuorum
	cfg.Fanout.MaxResponders = DefaultQuorum
	cfg.Fanout.CallTimeout = DefaultCallTimeout
	cfg.Fanout.RoundDeadline = DefaultRoundDeadline
	cfg.Fanout.DiscoveryTimeout = DefaultDiscoveryTimeout

	cfg.Consensus.Metric = DefaultMetric
	cfg.Consensus.AgreementThreshold = DefaultAgreementThreshold
	cfg.Consensus.TrustThreshold = DefaultTrustThreshold

	cfg.Audit.Path = DefaultAuditPath

	cfg.Hooks.Watch = true
	cfg.Hooks.QueueSize = DefaultHooksQueueSize

	cfg.Heartbeat.Interval = DefaultHeartbeatInterval
	cfg.Heartbeat.Timeout = DefaultHeartbeatTimeout
}

// LoadConfig reads and sanitizes the configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the
// defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := Default()
			cfg.Sanitize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Sanitize()
	return cfg, nil
}

// Sanitize runs every section sanitizer.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	cfg.SanitizeServer()
	cfg.SanitizeRouter()
	cfg.SanitizeFanout()
	cfg.SanitizeConsensus()
	cfg.SanitizeAudit()
	cfg.SanitizeHooks()
	cfg.SanitizeHeartbeat()
}

// SanitizeServer clamps the port and drops blank keys and origins.
func (cfg *Config) SanitizeServer() {
	s := &cfg.Server
	s.Host = strings.TrimSpace(s.Host)
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.LogsMaxTotalSizeMB < 0 {
		s.LogsMaxTotalSizeMB = 0
	}
	s.APIKeys = normalizeList(s.APIKeys)
	s.CORSAllowedOrigins = normalizeList(s.CORSAllowedOrigins)
	if len(s.CORSAllowedOrigins) == 0 {
		s.CORSAllowedOrigins = []string{"*"}
	}
}

// SanitizeRouter trims the URL and restores the default key and timeout.
func (cfg *Config) SanitizeRouter() {
	r := &cfg.Router
	r.URL = strings.TrimRight(strings.TrimSpace(r.URL), "/")
	r.APIKey = strings.TrimSpace(r.APIKey)
	if r.APIKey == "" {
		r.APIKey = DefaultRouterAPIKey
	}
	r.CompletionTimeout = sanitizeDuration(r.CompletionTimeout, DefaultCallTimeout, time.Second)
}

// SanitizeFanout restores invalid quorum, responder and timeout values.
func (cfg *Config) SanitizeFanout() {
	f := &cfg.Fanout
	if f.Quorum <= 0 {
		f.Quorum = DefaultQuorum
	}
	if f.MaxResponders < f.Quorum {
		f.MaxResponders = f.Quorum
	}
	if f.MaxConcurrent < 0 || f.MaxConcurrent > f.MaxResponders {
		f.MaxConcurrent = 0
	}
	if f.SessionID < 0 {
		f.SessionID = 0
	}
	f.CallTimeout = sanitizeDuration(f.CallTimeout, DefaultCallTimeout, 100*time.Millisecond)
	f.RoundDeadline = sanitizeDuration(f.RoundDeadline, DefaultRoundDeadline, 100*time.Millisecond)
	f.DiscoveryTimeout = sanitizeDuration(f.DiscoveryTimeout, DefaultDiscoveryTimeout, 100*time.Millisecond)
	f.CatalogFile = strings.TrimSpace(f.CatalogFile)
}

// SanitizeConsensus restores an unknown metric and out-of-range thresholds.
func (cfg *Config) SanitizeConsensus() {
	c := &cfg.Consensus
	switch strings.ToLower(strings.TrimSpace(c.Metric)) {
	case "combined", "":
		c.Metric = DefaultMetric
	case "edit-distance", "levenshtein":
		c.Metric = "edit-distance"
	default:
		c.Metric = DefaultMetric
	}
	if c.AgreementThreshold < 0 || c.AgreementThreshold > 100 {
		c.AgreementThreshold = DefaultAgreementThreshold
	}
	if c.TrustThreshold < 0 || c.TrustThreshold > 100 {
		c.TrustThreshold = DefaultTrustThreshold
	}
}

// SanitizeAudit restores the default audit path.
func (cfg *Config) SanitizeAudit() {
	a := &cfg.Audit
	a.Path = strings.TrimSpace(a.Path)
	if a.Path == "" {
		a.Path = DefaultAuditPath
	}
	if a.MaxSizeMB < 0 {
		a.MaxSizeMB = 0
	}
	if a.MaxBackups < 0 {
		a.MaxBackups = 0
	}
	if a.MaxAgeDays < 0 {
		a.MaxAgeDays = 0
	}
}

// SanitizeHooks restores the default queue size.
func (cfg *Config) SanitizeHooks() {
	h := &cfg.Hooks
	h.Dir = strings.TrimSpace(h.Dir)
	if h.QueueSize <= 0 {
		h.QueueSize = DefaultHooksQueueSize
	}
}

// ApplyEnv overrides router, port and API key settings from the
// environment, reading getenv. A nil getenv uses os.Getenv.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := firstEnv(getenv, EnvRouterURL, EnvRouterURLAlt); v != "" {
		cfg.Router.URL = strings.TrimRight(v, "/")
	}
	if v := firstEnv(getenv, EnvRouterAPIKey, EnvRouterAPIKeyAlt); v != "" {
		cfg.Router.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(getenv(EnvAPIKeys)); v != "" {
		cfg.Server.APIKeys = normalizeList(strings.Split(v, ","))
	}
}

// CallTimeoutDuration returns the parsed per-call timeout.
func (f FanoutConfig) CallTimeoutDuration() time.Duration {
	return mustDuration(f.CallTimeout, DefaultCallTimeout)
}

// RoundDeadlineDuration returns the parsed round deadline.
func (f FanoutConfig) RoundDeadlineDuration() time.Duration {
	return mustDuration(f.RoundDeadline, DefaultRoundDeadline)
}

// DiscoveryTimeoutDuration returns the parsed discovery timeout.
func (f FanoutConfig) DiscoveryTimeoutDuration() time.Duration {
	return mustDuration(f.DiscoveryTimeout, DefaultDiscoveryTimeout)
}

// CompletionTimeoutDuration returns the parsed router completion timeout.
func (r RouterConfig) CompletionTimeoutDuration() time.Duration {
	return mustDuration(r.CompletionTimeout, DefaultCallTimeout)
}

// HashAPIKey returns a bcrypt hash suitable for server.api-keys.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("api key must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashed), nil
}

// LooksLikeBcrypt reports whether s appears to be a bcrypt hash.
func LooksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// MatchAPIKey reports whether candidate matches one of keys. Bcrypt entries
// are compared with bcrypt, others by exact match.
func MatchAPIKey(keys []string, candidate string) bool {
	if candidate == "" {
		return false
	}
	for _, k := range keys {
		if LooksLikeBcrypt(k) {
			if bcrypt.CompareHashAndPassword([]byte(k), []byte(candidate)) == nil {
				return true
			}
			continue
		}
		if k == candidate {
			return true
		}
	}
	return false
}

func firstEnv(getenv func(string) string, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sanitizeDuration(value, def string, min time.Duration) string {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d >= min {
		return value
	}
	return def
}

func mustDuration(value, def string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}
