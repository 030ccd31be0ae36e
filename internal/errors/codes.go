package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for queue and matching operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument      ErrorCode = 1000
	ErrCodeInvalidRange         ErrorCode = 1001
	ErrCodeInvalidKeystoneInput ErrorCode = 1002
	ErrCodeInvalidComposition   ErrorCode = 1003
	ErrCodeInvalidRoles         ErrorCode = 1004
	ErrCodeInvalidTenantID      ErrorCode = 1005
	ErrCodeEntryNotFound        ErrorCode = 1006
	ErrCodeSessionNotFound      ErrorCode = 1007
	ErrCodeUnknownScenario      ErrorCode = 1008
	ErrCodeInvalidBracket       ErrorCode = 1009

	// Server errors (5xx equivalent)
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeUnavailable        ErrorCode = 2001
	ErrCodeInvariantViolation ErrorCode = 2002
	ErrCodeStatsFailed        ErrorCode = 2003
	ErrCodeDeliveryFailed     ErrorCode = 2004
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                   "OK",
	ErrCodeInvalidArgument:      "INVALID_ARGUMENT",
	ErrCodeInvalidRange:         "INVALID_RANGE",
	ErrCodeInvalidKeystoneInput: "INVALID_KEYSTONE_INPUT",
	ErrCodeInvalidComposition:   "INVALID_COMPOSITION",
	ErrCodeInvalidRoles:         "INVALID_ROLES",
	ErrCodeInvalidTenantID:      "INVALID_TENANT_ID",
	ErrCodeEntryNotFound:        "ENTRY_NOT_FOUND",
	ErrCodeSessionNotFound:      "SESSION_NOT_FOUND",
	ErrCodeUnknownScenario:      "UNKNOWN_SCENARIO",
	ErrCodeInvalidBracket:       "INVALID_BRACKET",
	ErrCodeInternal:             "INTERNAL_ERROR",
	ErrCodeUnavailable:          "SERVICE_UNAVAILABLE",
	ErrCodeInvariantViolation:   "INVARIANT_VIOLATION",
	ErrCodeStatsFailed:          "STATS_FAILED",
	ErrCodeDeliveryFailed:       "DELIVERY_FAILED",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// MatchError represents a structured error with code and context
type MatchError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *MatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *MatchError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status code
func (e *MatchError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidRange, ErrCodeInvalidKeystoneInput,
		ErrCodeInvalidComposition, ErrCodeInvalidRoles, ErrCodeInvalidTenantID,
		ErrCodeInvalidBracket:
		return http.StatusBadRequest
	case ErrCodeEntryNotFound, ErrCodeSessionNotFound, ErrCodeUnknownScenario:
		return http.StatusNotFound
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewMatchError creates a new MatchError
func NewMatchError(code ErrorCode, message string, cause error) *MatchError {
	return &MatchError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *MatchError) WithDetail(key string, value interface{}) *MatchError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *MatchError {
	return NewMatchError(ErrCodeInvalidArgument, message, cause)
}

func InvalidRange(levelMin, levelMax int, reason string) *MatchError {
	return NewMatchError(ErrCodeInvalidRange, fmt.Sprintf("invalid level range [%d,%d]: %s", levelMin, levelMax, reason), nil).
		WithDetail("level_min", levelMin).
		WithDetail("level_max", levelMax).
		WithDetail("reason", reason)
}

func InvalidKeystoneInput(reason string) *MatchError {
	return NewMatchError(ErrCodeInvalidKeystoneInput, fmt.Sprintf("invalid keystone input: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidComposition(reason string) *MatchError {
	return NewMatchError(ErrCodeInvalidComposition, fmt.Sprintf("invalid composition: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidRoles(reason string) *MatchError {
	return NewMatchError(ErrCodeInvalidRoles, fmt.Sprintf("invalid roles: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidTenantID(tenantID int64, reason string) *MatchError {
	return NewMatchError(ErrCodeInvalidTenantID, fmt.Sprintf("invalid tenant ID %d: %s", tenantID, reason), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("reason", reason)
}

func InvalidBracket(name string) *MatchError {
	return NewMatchError(ErrCodeInvalidBracket, fmt.Sprintf("unknown level bracket %q", name), nil).
		WithDetail("bracket", name)
}

func EntryNotFound(tenantID, participantID int64) *MatchError {
	return NewMatchError(ErrCodeEntryNotFound, fmt.Sprintf("participant %d is not queued in tenant %d", participantID, tenantID), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("participant_id", participantID)
}

func SessionNotFound(sessionID string) *MatchError {
	return NewMatchError(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID), nil).
		WithDetail("session_id", sessionID)
}

func UnknownScenario(name string) *MatchError {
	return NewMatchError(ErrCodeUnknownScenario, fmt.Sprintf("unknown scenario %q", name), nil).
		WithDetail("scenario", name)
}

func InvariantViolation(message string) *MatchError {
	return NewMatchError(ErrCodeInvariantViolation, message, nil)
}

func InternalError(message string, cause error) *MatchError {
	return NewMatchError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *MatchError {
	return NewMatchError(ErrCodeUnavailable, message, cause)
}

func StatsFailed(cause error) *MatchError {
	return NewMatchError(ErrCodeStatsFailed, "failed to record completion", cause)
}

// IsMatchError checks if an error is (or wraps) a MatchError
func IsMatchError(err error) bool {
	var me *MatchError
	return errors.As(err, &me)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var me *MatchError
	if errors.As(err, &me) {
		return me.Code
	}
	return ErrCodeInternal
}
