// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consensus

// Matrix is the symmetric pairwise similarity matrix of a round.
// The diagonal is fixed at 100.
type Matrix struct {
	values [][]int
}

// NewMatrix computes every unordered pair once using the given metric.
func NewMatrix(texts []string, metric Metric) Matrix {
	sim := metric.Func()
	n := len(texts)
	values := make([][]int, n)
	for i := range values {
		values[i] = make([]int, n)
		values[i][i] = 100
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := sim(texts[i], texts[j])
			values[i][j] = s
			values[j][i] = s
		}
	}
	return Matrix{values: values}
}

// Len returns the number of texts the matrix was built from.
func (m Matrix) Len() int {
	return len(m.values)
}

// At returns the similarity between texts i and j.
func (m Matrix) At(i, j int) int {
	return m.values[i][j]
}

// Row returns a copy of row i.
func (m Matrix) Row(i int) []int {
	row := make([]int, len(m.values[i]))
	copy(row, m.values[i])
	return row
}

// Agreement is the rounded mean over all pairs i<j.
// Fewer than two texts is trivially 100.
func (m Matrix) Agreement() int {
	n := len(m.values)
	if n < 2 {
		return 100
	}
	total, pairs := 0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total += m.values[i][j]
			pairs++
		}
	}
	return round(float64(total) / float64(pairs))
}

// Agreement scores texts with the combined metric.
func Agreement(texts []string) int {
	return NewMatrix(texts, MetricCombined).Agreement()
}
