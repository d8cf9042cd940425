// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consensus

import (
	"fmt"
	"regexp"
	"strings"
)

// Metric selects the pairwise similarity function used for a deployment.
// Thresholds are calibrated against one metric, so a process uses exactly one.
type Metric string

const (
	// MetricCombined weights token overlap 0.6 and edit distance 0.4.
	MetricCombined Metric = "combined"
	// MetricEditDistance uses the normalized edit distance alone.
	MetricEditDistance Metric = "edit-distance"
)

const (
	tokenWeight = 0.6
	editWeight  = 0.4
)

var nonWordPattern = regexp.MustCompile(`\W+`)

// ParseMetric maps a configuration value to a Metric.
// An empty value selects MetricCombined.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCombined:
		return MetricCombined, nil
	case MetricEditDistance, "levenshtein":
		return MetricEditDistance, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Func returns the similarity function for the metric.
func (m Metric) Func() func(a, b string) int {
	if m == MetricEditDistance {
		return EditDistanceScore
	}
	return Similarity
}

// Similarity returns the combined similarity of a and b in [0,100].
func Similarity(a, b string) int {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	jac := tokenOverlap(na, nb)
	lev := editScore(na, nb)
	return round(tokenWeight*float64(jac) + editWeight*float64(lev))
}

// EditDistanceScore returns 100*(maxLen-distance)/maxLen over the
// normalized inputs, rounded.
func EditDistanceScore(a, b string) int {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	return editScore(na, nb)
}

// TokenOverlapScore returns the Jaccard index of the token sets of a and b.
func TokenOverlapScore(a, b string) int {
	return tokenOverlap(normalize(a), normalize(b))
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func editScore(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 100
	}
	d := levenshtein(ra, rb)
	return round(100 * float64(maxLen-d) / float64(maxLen))
}

// levenshtein fills a (len(b)+1) x (len(a)+1) table.
func levenshtein(a, b []rune) int {
	matrix := make([][]int, len(b)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(a)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(a); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(b); i++ {
		for j := 1; j <= len(a); j++ {
			if b[i-1] == a[j-1] {
				matrix[i][j] = matrix[i-1][j-1]
				continue
			}
			matrix[i][j] = min(
				matrix[i-1][j-1]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j]+1,
			)
		}
	}
	return matrix[len(b)][len(a)]
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range nonWordPattern.Split(s, -1) {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func tokenOverlap(a, b string) int {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return round(100 * float64(intersection) / float64(union))
}
