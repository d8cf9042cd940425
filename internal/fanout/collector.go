// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fanout collects a quorum of responder replies for one round and
// falls back to synthetic replies when the quorum cannot be met.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/traylinx/trustlayer/internal/consensus"
	"github.com/traylinx/trustlayer/internal/responder"
)

// Defaults for Config.
const (
	DefaultQuorum           = 3
	DefaultCallTimeout      = 30 * time.Second
	DefaultRoundDeadline    = 60 * time.Second
	DefaultDiscoveryTimeout = 5 * time.Second
)

var (
	// ErrFallbackFailed is returned when degraded mode cannot synthesize replies.
	ErrFallbackFailed = errors.New("fanout: synthetic fallback failed")

	errUnhealthy        = errors.New("router health check failed")
	errTooFewResponders = errors.New("insufficient responders")
)

// Config is read-only for the lifetime of a collector.
type Config struct {
	// Quorum is the minimum number of successful replies.
	Quorum int
	// MaxResponders caps how many responders are queried. Values below Quorum
	// are raised to Quorum.
	MaxResponders int
	// MaxConcurrent bounds in-flight calls. Zero means MaxResponders.
	MaxConcurrent int

	CallTimeout      time.Duration
	RoundDeadline    time.Duration
	DiscoveryTimeout time.Duration

	// SessionID pins completions to a router session. Zero resolves the first
	// session from the router when the client supports it.
	SessionID int64
}

// DefaultConfig returns a quorum of 3 with the standard timeouts.
func DefaultConfig() Config {
	return Config{
		Quorum:           DefaultQuorum,
		MaxResponders:    DefaultQuorum,
		CallTimeout:      DefaultCallTimeout,
		RoundDeadline:    DefaultRoundDeadline,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
	}
}

// Sanitized returns a copy with invalid values replaced by defaults.
func (c Config) Sanitized() Config {
	if c.Quorum <= 0 {
		c.Quorum = DefaultQuorum
	}
	if c.MaxResponders < c.Quorum {
		c.MaxResponders = c.Quorum
	}
	if c.MaxConcurrent <= 0 || c.MaxConcurrent > c.MaxResponders {
		c.MaxConcurrent = c.MaxResponders
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.RoundDeadline <= 0 {
		c.RoundDeadline = DefaultRoundDeadline
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	return c
}

// Failure records a dropped responder call.
type Failure struct {
	ResponderID string              `json:"responder_id"`
	Code        responder.ErrorCode `json:"code"`
	Message     string              `json:"message"`
}

// Collection is what the collector hands to the scoring pipeline.
type Collection struct {
	Replies        []consensus.Reply `json:"replies"`
	Degraded       bool              `json:"degraded_mode"`
	DegradedReason string            `json:"degraded_reason,omitempty"`
	Failures       []Failure         `json:"failures,omitempty"`
	// Attempted is the number of live calls issued.
	Attempted int `json:"attempted"`
}

// Collector fans a prompt out to responders.
type Collector struct {
	client responder.Client
	cfg    Config
	synth  *Synthesizer
}

// NewCollector creates a collector. A nil client means no endpoint is
// configured and every round runs in degraded mode. A nil synthesizer uses
// a time-seeded one with the built-in catalog.
func NewCollector(client responder.Client, cfg Config, synth *Synthesizer) *Collector {
	if synth == nil {
		synth = NewSynthesizer(0, nil)
	}
	return &Collector{client: client, cfg: cfg.Sanitized(), synth: synth}
}

// Config returns the sanitized configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// HasClient reports whether a live responder network is configured.
func (c *Collector) HasClient() bool {
	return c.client != nil
}

// Collect gathers replies for prompt. The returned collection always holds at
// least Quorum replies unless an error is returned.
func (c *Collector) Collect(ctx context.Context, prompt string) (Collection, error) {
	roundCtx, cancel := context.WithTimeout(ctx, c.cfg.RoundDeadline)
	defer cancel()

	if c.client == nil {
		return c.degrade(prompt, "no responder endpoint configured", nil, 0)
	}

	descs, err := c.discover(roundCtx)
	if err != nil {
		log.Infof("fan-out falling back to degraded mode: %v", err)
		return c.degrade(prompt, err.Error(), nil, 0)
	}

	sessionID := c.resolveSession(roundCtx)
	replies, failures := c.fanOut(roundCtx, prompt, descs, sessionID)
	if len(replies) >= c.cfg.Quorum {
		return Collection{Replies: replies, Failures: failures, Attempted: len(descs)}, nil
	}

	reason := fmt.Sprintf("quorum not met: %d of %d replies", len(replies), c.cfg.Quorum)
	log.Infof("fan-out falling back to degraded mode: %s", reason)
	return c.degrade(prompt, reason, failures, len(descs))
}

func (c *Collector) discover(ctx context.Context) ([]responder.Descriptor, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()

	if !c.client.HealthCheck(dctx) {
		return nil, errUnhealthy
	}
	descs, err := c.client.ListResponders(dctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list responders: %w", err)
	}
	if len(descs) < c.cfg.Quorum {
		return nil, fmt.Errorf("%w: %d < %d", errTooFewResponders, len(descs), c.cfg.Quorum)
	}
	if len(descs) > c.cfg.MaxResponders {
		descs = descs[:c.cfg.MaxResponders]
	}
	return descs, nil
}

func (c *Collector) resolveSession(ctx context.Context) int64 {
	if c.cfg.SessionID != 0 {
		return c.cfg.SessionID
	}
	lister, ok := c.client.(responder.SessionLister)
	if !ok {
		return 0
	}
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()
	sessions, err := lister.ListSessions(dctx)
	if err != nil || len(sessions) == 0 {
		return 0
	}
	return sessions[0].ID
}

type callResult struct {
	index      int
	completion responder.Completion
	elapsed    time.Duration
	err        error
}

// fanOut issues the calls concurrently and waits for all of them to settle or
// for ctx to end. Replies keep fan-out order.
func (c *Collector) fanOut(ctx context.Context, prompt string, descs []responder.Descriptor, sessionID int64) ([]consensus.Reply, []Failure) {
	results := make(chan callResult, len(descs))
	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrent))

	for i, d := range descs {
		go func(i int, d responder.Descriptor) {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- callResult{index: i, err: err}
				return
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
			start := time.Now()
			comp, err := c.client.Query(callCtx, responder.Request{Responder: d, Prompt: prompt, SessionID: sessionID})
			results <- callResult{index: i, completion: comp, elapsed: time.Since(start), err: err}
		}(i, d)
	}

	settled := make([]*callResult, len(descs))
	pending := len(descs)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			settled[r.index] = &r
			pending--
		case <-ctx.Done():
			break wait
		}
	}

	replies := make([]consensus.Reply, 0, len(descs))
	failures := make([]Failure, 0)
	seen := make(map[string]int)
	for i, d := range descs {
		r := settled[i]
		id := d.ID
		if r == nil {
			failures = append(failures, Failure{ResponderID: fallbackID(id, i), Code: responder.CodeTimeout, Message: "abandoned at round deadline"})
			continue
		}
		if r.err != nil {
			failures = append(failures, Failure{ResponderID: fallbackID(id, i), Code: responder.CodeOf(r.err), Message: r.err.Error()})
			log.Debugf("responder %s dropped: %v", fallbackID(id, i), r.err)
			continue
		}

		if r.completion.ResponderID != "" {
			id = r.completion.ResponderID
		}
		id = uniqueID(seen, fallbackID(id, len(replies)))
		latency := r.completion.LatencyMs
		if latency <= 0 {
			latency = r.elapsed.Milliseconds()
		}
		replies = append(replies, consensus.Reply{ResponderID: id, Text: r.completion.Text, LatencyMs: latency})
	}
	return replies, failures
}

func (c *Collector) degrade(prompt, reason string, failures []Failure, attempted int) (Collection, error) {
	replies, err := c.synth.Generate(prompt, c.cfg.Quorum)
	if err != nil {
		return Collection{}, err
	}
	return Collection{
		Replies:        replies,
		Degraded:       true,
		DegradedReason: reason,
		Failures:       failures,
		Attempted:      attempted,
	}, nil
}

func fallbackID(id string, index int) string {
	if id != "" {
		return id
	}
	return "miner_" + strconv.Itoa(index)
}

// uniqueID returns id, or id#n with the first n that no earlier reply used.
func uniqueID(seen map[string]int, id string) string {
	seen[id]++
	if seen[id] == 1 {
		return id
	}
	for n := seen[id]; ; n++ {
		candidate := id + "#" + strconv.Itoa(n)
		if seen[candidate] == 0 {
			seen[id] = n
			seen[candidate] = 1
			return candidate
		}
	}
}
