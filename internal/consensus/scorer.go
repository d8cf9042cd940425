// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consensus

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Final score weights.
const (
	consistencyWeight = 0.55
	qualityWeight     = 0.25
	latencyWeight     = 0.20
)

const (
	baseQuality          = 50
	lengthPenaltyPoints  = 15
	lengthDeviationLimit = 0.5
	outlierConsistency   = 50
	outlierFinalScore    = 40
	shortTextRunes       = 20
)

var (
	errorPattern        = regexp.MustCompile(`(?i)error|exception|undefined|null`)
	terminalPunctuation = regexp.MustCompile(`[.!?]$`)
	digitPattern        = regexp.MustCompile(`\d`)
)

// ScoreMatrix computes one Score per reply, in reply order. The matrix must have
// been built from the same replies.
func ScoreMatrix(replies []Reply, matrix Matrix) []Score {
	n := len(replies)
	if n == 0 {
		return []Score{}
	}

	totalLen := 0
	for _, r := range replies {
		totalLen += utf8.RuneCountInString(r.Text)
	}
	meanLen := float64(totalLen) / float64(n)

	scores := make([]Score, n)
	for i, r := range replies {
		sum := 0
		for j := 0; j < n; j++ {
			sum += matrix.At(i, j)
		}
		consistency := round(float64(sum) / float64(n))
		quality := QualityScore(r.Text)
		latency := LatencyScore(r.LatencyMs)

		penalty := 0
		if meanLen > 0 {
			dev := math.Abs(float64(utf8.RuneCountInString(r.Text))-meanLen) / meanLen
			if dev > lengthDeviationLimit {
				penalty = lengthPenaltyPoints
			}
		}

		base := round(float64(consistency)*consistencyWeight +
			float64(quality)*qualityWeight +
			float64(latency)*latencyWeight)
		final := clamp(base-penalty, 0, 100)

		scores[i] = Score{
			ResponderID:  r.ResponderID,
			Quality:      quality,
			LatencyScore: latency,
			Consistency:  consistency,
			FinalScore:   final,
			IsOutlier:    consistency < outlierConsistency || final < outlierFinalScore,
		}
	}
	return scores
}

// ScoreReplies builds the matrix with metric and scores the replies.
func ScoreReplies(replies []Reply, metric Metric) []Score {
	return ScoreMatrix(replies, NewMatrix(Texts(replies), metric))
}

// QualityScore is a peer-independent heuristic of how usable a text looks.
func QualityScore(text string) int {
	if text == "" {
		return 0
	}

	score := baseQuality
	words := len(strings.Fields(text))
	switch {
	case words >= 10 && words <= 500:
		score += 20
	case words >= 5 && words <= 1000:
		score += 10
	}

	if strings.Contains(text, "\n") {
		score += 5
	}
	if terminalPunctuation.MatchString(strings.TrimSpace(text)) {
		score += 5
	}
	if digitPattern.MatchString(text) {
		score += 5
	}

	if errorPattern.MatchString(text) {
		score -= 20
	}
	if utf8.RuneCountInString(text) < shortTextRunes {
		score -= 30
	}

	return clamp(score, 0, 100)
}

// LatencyScore maps a latency to a non-increasing step score.
func LatencyScore(latencyMs int64) int {
	switch {
	case latencyMs < 500:
		return 100
	case latencyMs < 1000:
		return 90
	case latencyMs < 2000:
		return 80
	case latencyMs < 3000:
		return 70
	case latencyMs < 5000:
		return 50
	}
	s := 100 - latencyMs/100
	if s < 0 {
		return 0
	}
	return int(s)
}
