// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consensus

import (
	"fmt"
	"sort"
)

// Decide applies the agreement and trust thresholds and selects the
// canonical output. scores and replies must be parallel slices in fan-out order.
//
// Agreement is checked before trust, so when both fail the reason names the
// agreement score.
func Decide(agreement int, scores []Score, replies []Reply, th Thresholds) (Verdict, error) {
	if len(scores) == 0 || len(replies) == 0 {
		return Verdict{}, ErrNoReplies
	}
	if len(scores) != len(replies) {
		return Verdict{}, fmt.Errorf("%w: %d scores, %d replies", ErrLengthMismatch, len(scores), len(replies))
	}

	trust := TrustScore(scores)
	v := Verdict{
		TrustScore: trust,
		Decision:   DecisionApproved,
	}

	switch {
	case agreement < th.Agreement:
		v.Decision = DecisionRejected
		v.RejectionCode = RejectionAgreement
		v.RejectionReason = fmt.Sprintf("Agreement score (%d%%) below threshold (%d%%)", agreement, th.Agreement)
	case trust < th.Trust:
		v.Decision = DecisionRejected
		v.RejectionCode = RejectionTrust
		v.RejectionReason = fmt.Sprintf("Trust score (%d) below threshold (%d)", trust, th.Trust)
	}

	v.CanonicalIndex = CanonicalIndex(scores)
	v.CanonicalOutput = replies[v.CanonicalIndex].Text
	return v, nil
}

// TrustScore is the rounded mean final score of the non-outliers, or of
// every entry when all are outliers. An empty slice scores 0.
func TrustScore(scores []Score) int {
	if len(scores) == 0 {
		return 0
	}
	sum, n := 0, 0
	for _, s := range scores {
		if !s.IsOutlier {
			sum += s.FinalScore
			n++
		}
	}
	if n == 0 {
		for _, s := range scores {
			sum += s.FinalScore
		}
		n = len(scores)
	}
	return clamp(round(float64(sum)/float64(n)), 0, 100)
}

// CanonicalIndex returns the index of the highest scoring non-outlier,
// falling back to the highest scoring entry overall. Ties keep the earliest
// index. An empty slice returns -1.
func CanonicalIndex(scores []Score) int {
	if len(scores) == 0 {
		return -1
	}

	candidates := make([]int, 0, len(scores))
	for i, s := range scores {
		if !s.IsOutlier {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range scores {
			candidates = append(candidates, i)
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return scores[candidates[a]].FinalScore > scores[candidates[b]].FinalScore
	})
	return candidates[0]
}
