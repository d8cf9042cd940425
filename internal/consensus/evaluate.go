// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consensus

// Evaluation bundles the outputs of one pass over a round's replies.
type Evaluation struct {
	Agreement int     `json:"agreement_score"`
	Scores    []Score `json:"scores"`
	Verdict   Verdict `json:"verdict"`
}

// Outliers returns the responder IDs flagged as outliers.
func (e Evaluation) Outliers() []string {
	ids := make([]string, 0)
	for _, s := range e.Scores {
		if s.IsOutlier {
			ids = append(ids, s.ResponderID)
		}
	}
	return ids
}

// Evaluate runs the full pipeline: one similarity matrix shared by the
// agreement aggregate and the consistency scores, then the decision.
func Evaluate(replies []Reply, metric Metric, th Thresholds) (Evaluation, error) {
	if len(replies) == 0 {
		return Evaluation{}, ErrNoReplies
	}
	matrix := NewMatrix(Texts(replies), metric)
	agreement := matrix.Agreement()
	scores := ScoreMatrix(replies, matrix)
	verdict, err := Decide(agreement, scores, replies, th)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{Agreement: agreement, Scores: scores, Verdict: verdict}, nil
}
