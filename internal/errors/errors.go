// Package errors defines the structured error taxonomy shared by the
// correlation engine: auth, not-found, rate-limit, transient, parse and
// config failures. The fetch pool uses the taxonomy to pick its retry
// strategy; the job coordinator uses it to decide whether a run fails.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category classifies where an error sits in the engine's taxonomy.
type Category string

const (
	// Auth indicates invalid or forbidden tracker credentials. Never retried.
	Auth Category = "AUTH"
	// NotFound indicates an unknown ticket key. Fatal for the incident,
	// per-key for candidates.
	NotFound Category = "NOT_FOUND"
	// RateLimit indicates the tracker is throttling us. Retried with
	// exponential backoff.
	RateLimit Category = "RATE_LIMIT"
	// Transient covers network errors, 5xx and timeouts. Retried with
	// linear backoff.
	Transient Category = "TRANSIENT"
	// Parse indicates a normalizer field that could not be decoded.
	// Non-fatal; the field is omitted and a warning recorded.
	Parse Category = "PARSE"
	// Config indicates invalid input rejected before any tracker I/O.
	Config Category = "CONFIG"
)

// Code is a structured error code within a category.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidWindow     Code = "INVALID_WINDOW"
	CodeInvalidWeights    Code = "INVALID_WEIGHTS"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeTicketNotFound    Code = "TICKET_NOT_FOUND"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeTrackerError      Code = "TRACKER_ERROR"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeTimeout           Code = "TIMEOUT"
	CodeParseFailure      Code = "PARSE_FAILURE"
)

// StructuredError carries a code, category, message and an optional
// recovery suggestion.
type StructuredError struct {
	Code       Code        `json:"code"`
	Category   Category    `json:"category"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// ToJSON converts the error to a JSON string.
func (e *StructuredError) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","category":"%s","message":"%s"}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// New creates a new structured error.
func New(code Code, category Category, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error.
func (e *StructuredError) WithDetails(details interface{}) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error.
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// Common error constructors

// NewInvalidInput creates a config-category invalid input error.
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, Config, message).
		WithSuggestion("Check the input parameters and try again")
}

// NewInvalidWindow creates an error for a time-window string that does not
// match the ^\d+[hdm]$ grammar.
func NewInvalidWindow(window string) *StructuredError {
	return New(CodeInvalidWindow, Config, fmt.Sprintf("Invalid time window %q, expected e.g. 48h, 2d or 30m", window)).
		WithSuggestion("Use a number followed by h, d or m")
}

// NewUnauthorized creates an auth error for invalid credentials.
func NewUnauthorized() *StructuredError {
	return New(CodeUnauthorized, Auth, "Authentication required or credentials invalid").
		WithSuggestion("Check your tracker username and password")
}

// NewForbidden creates an auth error for a permission failure.
func NewForbidden() *StructuredError {
	return New(CodeForbidden, Auth, "Access forbidden").
		WithSuggestion("Check your permissions for this project")
}

// NewTicketNotFound creates a not-found error for an unknown issue key.
func NewTicketNotFound(key string) *StructuredError {
	return New(CodeTicketNotFound, NotFound, fmt.Sprintf("Ticket %q not found", key)).
		WithSuggestion("Verify the issue key and try again")
}

// NewRateLimitExceeded creates a rate limit error.
func NewRateLimitExceeded() *StructuredError {
	return New(CodeRateLimitExceeded, RateLimit, "Rate limit exceeded").
		WithSuggestion("Wait a moment and try again")
}

// NewTrackerError creates a transient error for a tracker-side failure.
func NewTrackerError(statusCode int, message string) *StructuredError {
	return New(CodeTrackerError, Transient, fmt.Sprintf("Tracker error (HTTP %d): %s", statusCode, message)).
		WithDetails(map[string]interface{}{"status_code": statusCode})
}

// NewNetworkError creates a transient network error.
func NewNetworkError(message string) *StructuredError {
	return New(CodeNetworkError, Transient, message).
		WithSuggestion("Check your network connection and try again")
}

// NewTimeout creates a transient timeout error.
func NewTimeout(operation string) *StructuredError {
	return New(CodeTimeout, Transient, fmt.Sprintf("Operation %q timed out", operation))
}

// NewParseFailure creates a non-fatal parse error for a normalizer field.
func NewParseFailure(field, message string) *StructuredError {
	return New(CodeParseFailure, Parse, fmt.Sprintf("Could not parse %s: %s", field, message))
}

// FromHTTPStatus creates an appropriate error from a tracker HTTP status.
func FromHTTPStatus(statusCode int, responseBody string) *StructuredError {
	switch {
	case statusCode == 400:
		return NewInvalidInput(responseBody)
	case statusCode == 401:
		return NewUnauthorized()
	case statusCode == 403:
		return NewForbidden()
	case statusCode == 404:
		return New(CodeTicketNotFound, NotFound, "Resource not found")
	case statusCode == 429:
		return NewRateLimitExceeded()
	default:
		return NewTrackerError(statusCode, responseBody)
	}
}

// categoryOf extracts the category of a structured error, or "" for
// other error types.
func categoryOf(err error) Category {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsAuth reports whether err is an authentication or permission failure.
func IsAuth(err error) bool {
	return categoryOf(err) == Auth
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return categoryOf(err) == NotFound
}

// IsRateLimit reports whether err should be retried with exponential
// backoff. Besides the structured category it also matches rate-limit
// signals in plain error text, as trackers phrase throttling responses
// in several ways.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if categoryOf(err) == RateLimit {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "429") || strings.Contains(text, "rate") || strings.Contains(text, "too many")
}

// IsRetryable reports whether err is worth another attempt at all.
// Auth, not-found and config errors are definitive.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch categoryOf(err) {
	case Auth, NotFound, Config:
		return false
	}
	return true
}
