// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package receipt stamps the machine-checkable record of a finished round.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/traylinx/trustlayer/internal/consensus"
)

// Receipt is the immutable record returned with every round result.
type Receipt struct {
	ReceiptID       string             `json:"receipt_id"`
	RoundID         string             `json:"round_id"`
	Task            string             `json:"task"`
	Input           string             `json:"input"`
	ResponderIDs    []string           `json:"responder_ids"`
	Outputs         []string           `json:"outputs"`
	AgreementScore  int                `json:"agreement_score"`
	TrustScore      int                `json:"trust_score"`
	CanonicalOutput string             `json:"canonical_output"`
	Decision        consensus.Decision `json:"decision"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	DegradedMode    bool               `json:"degraded_mode"`
	Timestamp       string             `json:"timestamp"`
}

// Digest returns the hex SHA-256 of the receipt's JSON encoding.
func (r Receipt) Digest() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode receipt: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Round is the subset of a round result a receipt is built from.
type Round struct {
	RoundID   string
	Task      string
	Prompt    string
	Replies   []consensus.Reply
	Agreement int
	Verdict   consensus.Verdict
	Degraded  bool
}

// Builder creates receipts. The zero value is not usable; call NewBuilder.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator overrides the receipt id source.
func WithIDGenerator(newID func() string) Option {
	return func(b *Builder) { b.newID = newID }
}

// NewBuilder returns a builder stamping uuid ids and the wall clock.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build stamps a receipt for r. Slices are copied so later changes to the
// round do not alter the receipt.
func (b *Builder) Build(r Round) Receipt {
	ids := make([]string, len(r.Replies))
	outputs := make([]string, len(r.Replies))
	for i, reply := range r.Replies {
		ids[i] = reply.ResponderID
		outputs[i] = reply.Text
	}

	rcpt := Receipt{
		ReceiptID:       b.newID(),
		RoundID:         r.RoundID,
		Task:            r.Task,
		Input:           r.Prompt,
		ResponderIDs:    ids,
		Outputs:         outputs,
		AgreementScore:  r.Agreement,
		TrustScore:      r.Verdict.TrustScore,
		CanonicalOutput: r.Verdict.CanonicalOutput,
		Decision:        r.Verdict.Decision,
		DegradedMode:    r.Degraded,
		Timestamp:       b.now().UTC().Format(time.RFC3339),
	}
	if !r.Verdict.Approved() {
		rcpt.RejectionReason = r.Verdict.RejectionReason
	}
	return rcpt
}
