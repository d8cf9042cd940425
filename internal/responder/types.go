// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package responder defines the outbound collaborator used by the fan-out
// collector and provides an HTTP adapter for a Cortensor router.
package responder

import (
	"context"
	"errors"
)

// Descriptor identifies one available responder.
type Descriptor struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	Model   string `json:"model,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Session is a router session that completions are submitted under.
type Session struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Request is one prompt addressed to one responder.
type Request struct {
	Responder Descriptor
	Prompt    string
	SessionID int64
}

// Completion is a normalized responder answer.
type Completion struct {
	ResponderID string `json:"responder_id"`
	Text        string `json:"text"`
	LatencyMs   int64  `json:"latency_ms"`
}

// Client is the capability the collector needs from a responder network.
// Implementations must honor context cancellation on every method.
type Client interface {
	Query(ctx context.Context, req Request) (Completion, error)
	ListResponders(ctx context.Context) ([]Descriptor, error)
	HealthCheck(ctx context.Context) bool
}

// SessionLister is implemented by clients whose completions are scoped to a
// router session.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]Session, error)
}

var errNotImplemented = errors.New("responder: operation not implemented")

// Funcs adapts plain functions to Client. Nil fields fall back to a
// not-implemented error, an empty listing, or a healthy check.
type Funcs struct {
	QueryFunc  func(ctx context.Context, req Request) (Completion, error)
	ListFunc   func(ctx context.Context) ([]Descriptor, error)
	HealthFunc func(ctx context.Context) bool
}

// Query calls QueryFunc.
func (f Funcs) Query(ctx context.Context, req Request) (Completion, error) {
	if f.QueryFunc == nil {
		return Completion{}, errNotImplemented
	}
	return f.QueryFunc(ctx, req)
}

// ListResponders calls ListFunc.
func (f Funcs) ListResponders(ctx context.Context) ([]Descriptor, error) {
	if f.ListFunc == nil {
		return nil, nil
	}
	return f.ListFunc(ctx)
}

// HealthCheck calls HealthFunc.
func (f Funcs) HealthCheck(ctx context.Context) bool {
	if f.HealthFunc == nil {
		return true
	}
	return f.HealthFunc(ctx)
}
