// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package consensus implements the trust validation math for a fan-out round:
// pairwise text similarity, the aggregate agreement score, per-responder
// scoring with outlier detection, and the final approve/reject decision.
//
// Every function in this package is a pure function of its arguments and is
// safe to call concurrently from multiple rounds.
package consensus

import "errors"

// Decision is the binary outcome of a round.
type Decision string

const (
	// DecisionApproved means both the agreement and trust thresholds were met.
	DecisionApproved Decision = "approved"
	// DecisionRejected means at least one threshold was not met.
	DecisionRejected Decision = "rejected"
)

// RejectionCode names the metric that caused a rejection.
type RejectionCode string

const (
	RejectionNone      RejectionCode = ""
	RejectionAgreement RejectionCode = "agreement_below_threshold"
	RejectionTrust     RejectionCode = "trust_below_threshold"
)

// Default thresholds applied when none are configured.
const (
	DefaultAgreementThreshold = 60
	DefaultTrustThreshold     = 70
)

var (
	// ErrNoReplies is returned when a decision is requested for an empty round.
	ErrNoReplies = errors.New("consensus: round has no replies")
	// ErrLengthMismatch is returned when scores and replies are not parallel slices.
	ErrLengthMismatch = errors.New("consensus: scores and replies length mismatch")
)

// Reply is a single responder's answer in a round.
type Reply struct {
	ResponderID string `json:"responder_id"`
	Text        string `json:"text"`
	LatencyMs   int64  `json:"latency_ms"`
}

// Score is the per-responder composite score.
type Score struct {
	ResponderID  string `json:"responder_id"`
	Quality      int    `json:"quality"`
	LatencyScore int    `json:"latency_score"`
	Consistency  int    `json:"consistency"`
	FinalScore   int    `json:"final_score"`
	IsOutlier    bool   `json:"is_outlier"`
}

// Thresholds configures the decision engine.
type Thresholds struct {
	Agreement int `json:"agreement" yaml:"agreement"`
	Trust     int `json:"trust" yaml:"trust"`
}

// DefaultThresholds returns the standard 60/70 thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Agreement: DefaultAgreementThreshold, Trust: DefaultTrustThreshold}
}

// Verdict is the output of Decide.
type Verdict struct {
	TrustScore      int           `json:"trust_score"`
	Decision        Decision      `json:"decision"`
	RejectionCode   RejectionCode `json:"rejection_code,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	CanonicalOutput string        `json:"canonical_output"`
	// CanonicalIndex is the position of the chosen reply in fan-out order.
	CanonicalIndex int `json:"canonical_index"`
}

// Approved reports whether the verdict approved the round.
func (v Verdict) Approved() bool {
	return v.Decision == DecisionApproved
}

// Texts extracts the reply texts in order.
func Texts(replies []Reply) []string {
	texts := make([]string, len(replies))
	for i, r := range replies {
		texts[i] = r.Text
	}
	return texts
}

func round(x float64) int {
	// Half-up rounding; all callers pass non-negative values.
	return int(x + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
