// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/trustlayer/internal/buildinfo"
	"github.com/traylinx/trustlayer/internal/consensus"
	"github.com/traylinx/trustlayer/internal/fanout"
	"github.com/traylinx/trustlayer/internal/round"
)

// RoundRequest is the body of POST /v1/rounds and POST /api/inference.
type RoundRequest struct {
	Prompt string `json:"prompt"`
	Task   string `json:"task"`
}

// LegacyMiner is one reply in the /api/inference response.
type LegacyMiner struct {
	MinerID  string `json:"miner_id"`
	Response string `json:"response"`
	Latency  int64  `json:"latency"`
}

// LegacyValidatorScore is one score in the /api/inference response.
type LegacyValidatorScore struct {
	MinerID          string `json:"miner_id"`
	ResponseQuality  int    `json:"response_quality"`
	LatencyScore     int    `json:"latency_score"`
	ConsistencyScore int    `json:"consistency_score"`
	FinalScore       int    `json:"final_score"`
	IsOutlier        bool   `json:"is_outlier"`
}

// LegacyInferenceResponse is the flat response of POST /api/inference.
type LegacyInferenceResponse struct {
	Miners           []LegacyMiner          `json:"miners"`
	AgreementScore   int                    `json:"agreement_score"`
	ValidatorScore   int                    `json:"validator_score"`
	FinalOutput      string                 `json:"final_output"`
	Decision         consensus.Decision     `json:"decision"`
	RejectionReason  string                 `json:"rejection_reason,omitempty"`
	IsDemoMode       bool                   `json:"is_demo_mode"`
	ValidatorDetails []LegacyValidatorScore `json:"validator_details"`
}

func (s *Server) handleSubmitRound(c *gin.Context) {
	res, ok := s.runRound(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "receipt": res.Receipt})
}

func (s *Server) handleInference(c *gin.Context) {
	res, ok := s.runRound(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, legacyResponse(res))
}

// runRound decodes the request and submits it. On failure the error response
// has already been written.
func (s *Server) runRound(c *gin.Context) (*round.Result, bool) {
	var req RoundRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required"})
		return nil, false
	}
	if s.rounds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "round engine not configured"})
		return nil, false
	}

	res, err := s.rounds.SubmitRound(c.Request.Context(), req.Prompt, req.Task)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, round.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required"})
	case errors.Is(err, fanout.ErrFallbackFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Errorf("round submission failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return nil, false
}

func legacyResponse(res *round.Result) LegacyInferenceResponse {
	out := LegacyInferenceResponse{
		Miners:           make([]LegacyMiner, 0, len(res.Replies)),
		AgreementScore:   res.AgreementScore,
		ValidatorScore:   res.TrustScore,
		FinalOutput:      res.CanonicalOutput,
		Decision:         res.Decision,
		RejectionReason:  res.RejectionReason,
		IsDemoMode:       res.DegradedMode,
		ValidatorDetails: make([]LegacyValidatorScore, 0, len(res.Scores)),
	}
	for _, r := range res.Replies {
		out.Miners = append(out.Miners, LegacyMiner{MinerID: r.ResponderID, Response: r.Text, Latency: r.LatencyMs})
	}
	for _, sc := range res.Scores {
		out.ValidatorDetails = append(out.ValidatorDetails, LegacyValidatorScore{
			MinerID:          sc.ResponderID,
			ResponseQuality:  sc.Quality,
			LatencyScore:     sc.LatencyScore,
			ConsistencyScore: sc.Consistency,
			FinalScore:       sc.FinalScore,
			IsOutlier:        sc.IsOutlier,
		})
	}
	return out
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"build":           buildinfo.Current(),
		"live_responders": s.client != nil,
	}
	if s.rounds != nil {
		body["thresholds"] = s.rounds.Thresholds()
		body["metric"] = s.rounds.Metric()
	}
	if s.monitor != nil {
		body["router"] = s.monitor.Status()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleResponders(c *gin.Context) {
	if s.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no router configured"})
		return
	}
	listed, err := s.client.ListResponders(c.Request.Context())
	if err != nil {
		log.Warnf("failed to list responders: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"responders": listed, "count": len(listed)})
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	snap := s.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"metrics":       snap,
		"approval_rate": snap.ApprovalRate(),
		"degraded_rate": snap.DegradedRate(),
	})
}
