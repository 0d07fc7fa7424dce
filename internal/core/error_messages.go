package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Export not found: unknown export ID
//	EXP002 - Not ready: download requested before the export completed
//	EXP003 - File missing: the export completed but its file is gone
//	EXP004 - Range not satisfiable: requested bytes lie outside the file
//	EXP005 - Shutting down: the service is not accepting new exports
//	EXP006 - Cancelled while queued
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid parameter: a filter, column or format option was rejected
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Timeout
//	DB004 - Missing table or column
//
// # Default Error (ERR000)
//
// Sentinel errors are matched with errors.Is first; other errors fall back to
// case-insensitive substring patterns. The first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrNotFound, UserMessage{"Export not found", "Check the export ID or start a new export", "EXP001"}},
	{ErrNotReady, UserMessage{"Export not yet completed", "Poll the status endpoint and retry when the export is completed", "EXP002"}},
	{ErrArtifactMissing, UserMessage{"File not found", "The export file was removed. Please start a new export", "EXP003"}},
	{ErrRangeNotSatisfiable, UserMessage{"Requested range is outside the file", "Request a range within the file size", "EXP004"}},
	{ErrShuttingDown, UserMessage{"Service is shutting down", "Please try again in a few moments", "EXP005"}},
	{ErrAdmissionCancelled, UserMessage{"Export was cancelled before it started", "Start a new export when ready", "EXP006"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"timeout", UserMessage{"Operation timed out", "Narrow the filters or try again later", "DB003"}},
	{"context deadline exceeded", UserMessage{"Operation timed out", "Narrow the filters or try again later", "DB003"}},
	{"does not exist", UserMessage{"Source table is not available", "Contact support", "DB004"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return UserMessage{
			Message: ve.Error(),
			Action:  "Correct the parameter and resubmit",
			Code:    "VAL001",
		}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific (non-ERR000) message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
