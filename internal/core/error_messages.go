package core

// error_messages.go maps technical errors to user-friendly messages with
// codes for support reference. Users quote the code; support staff look it
// up here.
//
// # Breakpoint and Vocabulary Errors (BP, VOC)
//
//	BP001 - Invalid breakpoint: a table entry violates its threshold order
//	        Patterns: "invalid breakpoint"
//	BP002 - Unknown standard: no breakpoints exist for the standard/version
//	        Patterns: "unknown standard"
//	BP003 - Breakpoint table unreadable
//	        Patterns: "breakpoint table"
//	VOC001 - Invalid vocabulary table
//	        Patterns: "invalid vocabulary"
//
// # Validation Errors (VAL001-VAL006)
//
//	VAL001 - Invalid date         Patterns: "invalid date"
//	VAL002 - Invalid number       Patterns: "invalid number"
//	VAL003 - Missing column       Patterns: "missing required column"
//	VAL004 - Column not found     Patterns: "column not found"
//	VAL005 - Invalid request body Patterns: "invalid json", "invalid request"
//	VAL006 - Unknown method       Patterns: "unknown method"
//
// # File Errors (FILE001-FILE005)
//
//	FILE001 - File too large      Patterns: "file too large"
//	FILE002 - Invalid CSV         Patterns: "invalid csv"
//	FILE003 - Encoding error      Patterns: "encoding error"
//	FILE004 - No file             Patterns: "no file provided"
//	FILE005 - Empty file          Patterns: "empty file"
//
// # Job Errors (JOB001-JOB004)
//
//	JOB001 - Job not found        Patterns: "job not found"
//	JOB002 - Queue unavailable    Patterns: "queue unavailable"
//	JOB003 - System busy          Patterns: "too many runs"
//	JOB004 - Run not found        Patterns: "run not found"
//
// # Database Errors (DB001-DB007)
//
//	DB001 - Duplicate key         DB004 - Connection refused
//	DB002 - Unique constraint     DB005 - Connection reset
//	DB003 - Foreign key           DB006 - Timeout
//	                              DB007 - Deadlock
//
// # Requests (REQ001-REQ002), Rate Limiting (RATE001), Default (ERR000)
//
// Patterns are matched case-insensitively with strings.Contains. The first
// matching pattern wins, so specific patterns come before general ones.
// For ERR000, check application logs for the original technical error.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Breakpoint and vocabulary tables
	{"invalid breakpoint", UserMessage{
		Message: "A breakpoint table entry is invalid",
		Action:  "Check that MIC S < I and zone S > I for every entry",
		Code:    "BP001",
	}},
	{"unknown standard", UserMessage{
		Message: "No breakpoints are loaded for this standard and version",
		Action:  "Use one of the versions listed by the breakpoints endpoint",
		Code:    "BP002",
	}},
	{"breakpoint table", UserMessage{
		Message: "The breakpoint table could not be read",
		Action:  "Check the table file path and YAML syntax",
		Code:    "BP003",
	}},
	{"invalid vocabulary", UserMessage{
		Message: "A vocabulary table is invalid",
		Action:  "Every code needs at least one synonym",
		Code:    "VOC001",
	}},

	// Validation
	{"invalid date", UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
		Code:    "VAL001",
	}},
	{"invalid number", UserMessage{
		Message: "Invalid number format detected",
		Action:  "Use plain decimal numbers for MIC and zone values",
		Code:    "VAL002",
	}},
	{"missing required column", UserMessage{
		Message: "Required column is missing",
		Action:  "Check that all required columns are present in your file",
		Code:    "VAL003",
	}},
	{"column not found", UserMessage{
		Message: "Expected column not found",
		Action:  "Verify the column names in your request",
		Code:    "VAL004",
	}},
	{"invalid json", UserMessage{
		Message: "Request body is not valid JSON",
		Action:  "Send an array of records or {\"records\": [...]}",
		Code:    "VAL005",
	}},
	{"invalid request", UserMessage{
		Message: "Request is invalid",
		Action:  "Check the request parameters",
		Code:    "VAL005",
	}},
	{"unknown method", UserMessage{
		Message: "Unknown test method",
		Action:  "Use mic or zone",
		Code:    "VAL006",
	}},

	// Files
	{"file too large", UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{"invalid csv", UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Ensure file is comma-separated with a single header row",
		Code:    "FILE002",
	}},
	{"encoding error", UserMessage{
		Message: "File contains invalid characters",
		Action:  "Save file as UTF-8 encoding",
		Code:    "FILE003",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}},
	{"empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with data rows",
		Code:    "FILE005",
	}},

	// Jobs and runs
	{"job not found", UserMessage{
		Message: "Job not found",
		Action:  "The job may have expired. Please submit it again",
		Code:    "JOB001",
	}},
	{"queue unavailable", UserMessage{
		Message: "The job queue is not available",
		Action:  "Use the synchronous pipeline endpoint or try again later",
		Code:    "JOB002",
	}},
	{"too many runs", UserMessage{
		Message: "System is busy processing other runs",
		Action:  "Please wait a moment and try again",
		Code:    "JOB003",
	}},
	{"run not found", UserMessage{
		Message: "Run not found",
		Action:  "Check the run ID; old runs are purged by retention",
		Code:    "JOB004",
	}},

	// Database
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Please try again",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"violates unique", UserMessage{
		Message: "A duplicate value was found",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Check the run ID",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to a backing service",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},

	// Requests
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or submit it as a background job",
		Code:    "REQ002",
	}},

	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},

	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
//
// Example:
//
//	err := fmt.Errorf("seed: %w", ErrInvalidBreakpoint)
//	msg := MapError(err)
//	// msg.Code == "BP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern (not ERR000).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
