// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package round runs one trust validation round end to end: fan-out,
// consensus scoring, the decision and the receipt.
package round

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/trustlayer/internal/audit"
	"github.com/traylinx/trustlayer/internal/consensus"
	"github.com/traylinx/trustlayer/internal/fanout"
	"github.com/traylinx/trustlayer/internal/hooks"
	"github.com/traylinx/trustlayer/internal/logging"
	"github.com/traylinx/trustlayer/internal/metrics"
	"github.com/traylinx/trustlayer/internal/receipt"
)

// DefaultTask labels rounds submitted without a task.
const DefaultTask = "inference-task"

// ErrEmptyPrompt is returned for a blank prompt. No round is created.
var ErrEmptyPrompt = errors.New("round: prompt is required")

// Result is the full outcome of a round.
type Result struct {
	RoundID         string                  `json:"round_id"`
	Task            string                  `json:"task"`
	Prompt          string                  `json:"prompt"`
	Replies         []consensus.Reply       `json:"replies"`
	Scores          []consensus.Score       `json:"scores"`
	AgreementScore  int                     `json:"agreement_score"`
	TrustScore      int                     `json:"trust_score"`
	Decision        consensus.Decision      `json:"decision"`
	RejectionCode   consensus.RejectionCode `json:"rejection_code,omitempty"`
	RejectionReason string                  `json:"rejection_reason,omitempty"`
	CanonicalOutput string                  `json:"canonical_output"`
	CanonicalIndex  int                     `json:"canonical_index"`
	DegradedMode    bool                    `json:"degraded_mode"`
	DegradedReason  string                  `json:"degraded_reason,omitempty"`
	Failures        []fanout.Failure        `json:"failures"`
	StartedAt       time.Time               `json:"started_at"`
	CompletedAt     time.Time               `json:"completed_at"`

	Receipt receipt.Receipt `json:"-"`
}

// Approved reports whether the round was approved.
func (r *Result) Approved() bool {
	return r.Decision == consensus.DecisionApproved
}

// Outliers returns the ids of responders flagged as outliers.
func (r *Result) Outliers() []string {
	ids := make([]string, 0)
	for _, s := range r.Scores {
		if s.IsOutlier {
			ids = append(ids, s.ResponderID)
		}
	}
	return ids
}

// Engine is safe for concurrent use; each SubmitRound call is independent.
type Engine struct {
	collector  *fanout.Collector
	metric     consensus.Metric
	thresholds consensus.Thresholds
	receipts   *receipt.Builder
	metrics    *metrics.Metrics
	events     hooks.Publisher
	audit      *audit.Logger
	newID      func() string
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetric selects the similarity metric. Unknown values fall back to the
// combined metric.
func WithMetric(m consensus.Metric) Option {
	return func(e *Engine) { e.metric = m }
}

// WithThresholds overrides the 60/70 decision thresholds.
func WithThresholds(th consensus.Thresholds) Option {
	return func(e *Engine) { e.thresholds = th }
}

// WithReceiptBuilder overrides the receipt builder.
func WithReceiptBuilder(b *receipt.Builder) Option {
	return func(e *Engine) { e.receipts = b }
}

// WithMetrics records round statistics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEvents publishes round events to p.
func WithEvents(p hooks.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithAuditLogger writes one audit entry per decided round.
func WithAuditLogger(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithIDGenerator overrides round id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithClock overrides the round timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over collector.
func NewEngine(collector *fanout.Collector, opts ...Option) *Engine {
	e := &Engine{
		collector:  collector,
		metric:     consensus.MetricCombined,
		thresholds: consensus.DefaultThresholds(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.receipts == nil {
		e.receipts = receipt.NewBuilder(receipt.WithClock(e.now))
	}
	return e
}

// Thresholds returns the configured decision thresholds.
func (e *Engine) Thresholds() consensus.Thresholds {
	return e.thresholds
}

// Metric returns the configured similarity metric.
func (e *Engine) Metric() consensus.Metric {
	return e.metric
}

// Collector returns the fan-out collector.
func (e *Engine) Collector() *fanout.Collector {
	return e.collector
}

// SubmitRound runs a round for prompt. A rejected round is returned as a
// result with a nil error; errors mean no decision could be made.
func (e *Engine) SubmitRound(ctx context.Context, prompt, task string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		if e.metrics != nil {
			e.metrics.RecordValidationError()
		}
		return nil, ErrEmptyPrompt
	}
	if strings.TrimSpace(task) == "" {
		task = DefaultTask
	}

	res := &Result{RoundID: e.newID(), Task: task, Prompt: prompt, StartedAt: e.now()}
	entry := log.WithFields(log.Fields{"round_id": res.RoundID, "task": task})
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		entry = entry.WithField("request_id", reqID)
	}
	if e.metrics != nil {
		e.metrics.RoundStarted()
	}

	collection, err := e.collector.Collect(ctx, prompt)
	if err != nil {
		e.roundFailed()
		entry.Errorf("round failed during fan-out: %v", err)
		return nil, fmt.Errorf("failed to collect replies: %w", err)
	}

	eval, err := consensus.Evaluate(collection.Replies, e.metric, e.thresholds)
	if err != nil {
		e.roundFailed()
		entry.Errorf("round failed during evaluation: %v", err)
		return nil, fmt.Errorf("failed to evaluate replies: %w", err)
	}

	v := eval.Verdict
	res.Replies = collection.Replies
	res.Scores = eval.Scores
	res.AgreementScore = eval.Agreement
	res.TrustScore = v.TrustScore
	res.Decision = v.Decision
	res.RejectionCode = v.RejectionCode
	res.RejectionReason = v.RejectionReason
	res.CanonicalOutput = v.CanonicalOutput
	res.CanonicalIndex = v.CanonicalIndex
	res.DegradedMode = collection.Degraded
	res.DegradedReason = collection.DegradedReason
	res.Failures = collection.Failures
	if res.Failures == nil {
		res.Failures = []fanout.Failure{}
	}
	res.CompletedAt = e.now()

	res.Receipt = e.receipts.Build(receipt.Round{
		RoundID:   res.RoundID,
		Task:      task,
		Prompt:    prompt,
		Replies:   res.Replies,
		Agreement: res.AgreementScore,
		Verdict:   v,
		Degraded:  res.DegradedMode,
	})

	e.record(res, collection)
	e.publish(res)
	e.writeAudit(ctx, res)

	entry.WithFields(log.Fields{
		"decision":  res.Decision,
		"agreement": res.AgreementScore,
		"trust":     res.TrustScore,
		"degraded":  res.DegradedMode,
	}).Info("round decided")

	return res, nil
}

func (e *Engine) roundFailed() {
	if e.metrics != nil {
		e.metrics.RecordRoundError()
	}
}

func (e *Engine) record(res *Result, c fanout.Collection) {
	if e.metrics == nil {
		return
	}
	codes := make([]string, len(c.Failures))
	for i, f := range c.Failures {
		codes[i] = string(f.Code)
	}
	succeeded := c.Attempted - len(c.Failures)
	if succeeded < 0 {
		succeeded = 0
	}
	e.metrics.RecordResponderCalls(succeeded, codes)
	e.metrics.RecordOutliers(len(res.Outliers()))
	e.metrics.RecordRound(res.Approved(), res.DegradedMode, string(res.RejectionCode),
		res.AgreementScore, res.TrustScore, res.CompletedAt.Sub(res.StartedAt).Milliseconds())
}

func (e *Engine) publish(res *Result) {
	if e.events == nil {
		return
	}

	for _, f := range res.Failures {
		evt := hooks.NewEvent(hooks.EventResponderFailed, res.RoundID, map[string]any{
			"code":    string(f.Code),
			"message": f.Message,
		})
		evt.Responder = f.ResponderID
		evt.ErrorMessage = f.Message
		e.events.PublishAsync(evt)
	}
	if res.DegradedMode {
		e.events.PublishAsync(hooks.NewEvent(hooks.EventDegradedMode, res.RoundID, map[string]any{
			"reason":  res.DegradedReason,
			"replies": len(res.Replies),
		}))
	}
	for _, s := range res.Scores {
		if !s.IsOutlier {
			continue
		}
		evt := hooks.NewEvent(hooks.EventOutlierFlagged, res.RoundID, map[string]any{
			"consistency": s.Consistency,
			"final_score": s.FinalScore,
		})
		evt.Responder = s.ResponderID
		e.events.PublishAsync(evt)
	}

	data := map[string]any{
		"task":            res.Task,
		"decision":        string(res.Decision),
		"agreement_score": res.AgreementScore,
		"trust_score":     res.TrustScore,
		"degraded_mode":   res.DegradedMode,
		"replies":         len(res.Replies),
		"receipt_id":      res.Receipt.ReceiptID,
	}
	event := hooks.EventRoundCompleted
	if !res.Approved() {
		event = hooks.EventRoundRejected
		data["rejection_code"] = string(res.RejectionCode)
	}
	evt := hooks.NewEvent(event, res.RoundID, data)
	evt.ErrorMessage = res.RejectionReason
	e.events.PublishAsync(evt)
}

func (e *Engine) writeAudit(ctx context.Context, res *Result) {
	if !e.audit.Enabled() {
		return
	}
	digest, err := res.Receipt.Digest()
	if err != nil {
		log.Warnf("failed to digest receipt %s: %v", res.Receipt.ReceiptID, err)
	}
	ids := make([]string, len(res.Replies))
	for i, r := range res.Replies {
		ids[i] = r.ResponderID
	}
	e.audit.Log(audit.Entry{
		Timestamp:      res.CompletedAt.UTC(),
		Action:         audit.ActionRoundDecision,
		RequestID:      logging.RequestIDFromContext(ctx),
		RoundID:        res.RoundID,
		Task:           res.Task,
		Decision:       string(res.Decision),
		RejectionCode:  string(res.RejectionCode),
		AgreementScore: res.AgreementScore,
		TrustScore:     res.TrustScore,
		Degraded:       res.DegradedMode,
		DegradedReason: res.DegradedReason,
		Responders:     ids,
		Outliers:       res.Outliers(),
		FailureCount:   len(res.Failures),
		ReceiptID:      res.Receipt.ReceiptID,
		ReceiptDigest:  digest,
	})
}
