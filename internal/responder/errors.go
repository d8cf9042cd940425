// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package responder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies router failures.
type ErrorCode string

const (
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeAuthFailed       ErrorCode = "AUTH_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeMinerUnavailable ErrorCode = "MINER_UNAVAILABLE"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Error is returned by RouterClient for every failed call.
type Error struct {
	Code        ErrorCode
	Status      int
	Message     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the error code carried by err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// IsRecoverable reports whether retrying the call later may succeed.
func IsRecoverable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Recoverable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func statusError(status int, body string) *Error {
	code := CodeUnknown
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeAuthFailed
	case http.StatusServiceUnavailable:
		code = CodeMinerUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		code = CodeTimeout
	}
	msg := body
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Code: code, Status: status, Message: msg, Recoverable: status >= 500}
}

func transportError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Recoverable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeUnknown, Message: "request cancelled", Err: err}
	}
	return &Error{Code: CodeConnectionFailed, Message: err.Error(), Recoverable: true, Err: err}
}
