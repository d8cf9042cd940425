// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package receipt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/trustlayer/internal/consensus"
)

func fixedBuilder() *Builder {
	return NewBuilder(
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.FixedZone("CET", 3600)) }),
		WithIDGenerator(func() string { return "rcpt-1" }),
	)
}

func sampleRound() Round {
	return Round{
		RoundID: "round-1",
		Task:    "inference-task",
		Prompt:  "What is the capital of France?",
		Replies: []consensus.Reply{
			{ResponderID: "a", Text: "Paris.", LatencyMs: 120},
			{ResponderID: "b", Text: "It is Paris.", LatencyMs: 340},
		},
		Agreement: 72,
		Verdict: consensus.Verdict{
			TrustScore:      81,
			Decision:        consensus.DecisionApproved,
			CanonicalOutput: "Paris.",
		},
	}
}

func TestBuild(t *testing.T) {
	rcpt := fixedBuilder().Build(sampleRound())

	assert.Equal(t, "rcpt-1", rcpt.ReceiptID)
	assert.Equal(t, "round-1", rcpt.RoundID)
	assert.Equal(t, "inference-task", rcpt.Task)
	assert.Equal(t, "What is the capital of France?", rcpt.Input)
	assert.Equal(t, []string{"a", "b"}, rcpt.ResponderIDs)
	assert.Equal(t, []string{"Paris.", "It is Paris."}, rcpt.Outputs)
	assert.Equal(t, 72, rcpt.AgreementScore)
	assert.Equal(t, 81, rcpt.TrustScore)
	assert.Equal(t, "Paris.", rcpt.CanonicalOutput)
	assert.Equal(t, consensus.DecisionApproved, rcpt.Decision)
	assert.Empty(t, rcpt.RejectionReason)
	assert.False(t, rcpt.DegradedMode)
	assert.Equal(t, "2026-05-04T09:30:00Z", rcpt.Timestamp)
}

func TestBuild_Rejected(t *testing.T) {
	r := sampleRound()
	r.Degraded = true
	r.Verdict.Decision = consensus.DecisionRejected
	r.Verdict.RejectionCode = consensus.RejectionAgreement
	r.Verdict.RejectionReason = "Agreement score (30%) below threshold (60%)"

	rcpt := fixedBuilder().Build(r)
	assert.Equal(t, consensus.DecisionRejected, rcpt.Decision)
	assert.Equal(t, "Agreement score (30%) below threshold (60%)", rcpt.RejectionReason)
	assert.True(t, rcpt.DegradedMode)
}

func TestBuild_CopiesReplies(t *testing.T) {
	r := sampleRound()
	rcpt := fixedBuilder().Build(r)
	r.Replies[0].Text = "changed"
	assert.Equal(t, "Paris.", rcpt.Outputs[0])
}

func TestBuild_DefaultIDIsUUID(t *testing.T) {
	rcpt := NewBuilder().Build(sampleRound())
	_, err := uuid.Parse(rcpt.ReceiptID)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339, rcpt.Timestamp)
	assert.NoError(t, err)
}

func TestReceiptJSONKeys(t *testing.T) {
	data, err := json.Marshal(fixedBuilder().Build(sampleRound()))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"receipt_id", "round_id", "task", "input", "responder_ids", "outputs",
		"agreement_score", "trust_score", "canonical_output", "decision",
		"degraded_mode", "timestamp",
	} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "rejection_reason")
}

func TestDigest(t *testing.T) {
	a := fixedBuilder().Build(sampleRound())
	b := fixedBuilder().Build(sampleRound())

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Len(t, da, 64)
	assert.Equal(t, da, db)

	b.TrustScore++
	changed, err := b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, changed)
}
