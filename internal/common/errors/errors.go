// Package errors provides the standardized error taxonomy for the intent pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Stages and Error Codes
// ==========================

// Stage identifies the pipeline stage an error originated from.
type Stage string

const (
	StageSanitize   Stage = "sanitize"
	StageParse      Stage = "parse"
	StagePolicy     Stage = "policy"
	StageLedger     Stage = "ledger"
	StageRoute      Stage = "route"
	StageCapability Stage = "capability"
	StageExecute    Stage = "execute"
	StageConfirm    Stage = "confirm"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodePolicyBlocked        ErrorCode = "POLICY_BLOCKED"
	ErrCodeVenueNotImplemented  ErrorCode = "VENUE_NOT_IMPLEMENTED"
	ErrCodeCapabilityInvalid    ErrorCode = "CAPABILITY_INVALID"
	ErrCodeConfigMissing        ErrorCode = "CONFIG_MISSING"
	ErrCodeSignerNotConfigured  ErrorCode = "SIGNER_NOT_CONFIGURED"
	ErrCodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeNonceConflict        ErrorCode = "NONCE_CONFLICT"
	ErrCodeSubmissionFailed     ErrorCode = "SUBMISSION_FAILED"
	ErrCodeChainReverted        ErrorCode = "CHAIN_REVERTED"
	ErrCodeConfirmTimeout       ErrorCode = "CONFIRM_TIMEOUT"
	ErrCodeLedgerWriteFailed    ErrorCode = "LEDGER_WRITE_FAILED"
	ErrCodeLedgerNotFound       ErrorCode = "LEDGER_NOT_FOUND"
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
	ErrCodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeUnexpected           ErrorCode = "UNEXPECTED_ERROR"
)

// ==========================
// 2. StageError
// ==========================

// StageError is the terminal error triple recorded on a failed intent and
// surfaced to callers inside the stable result shape.
type StageError struct {
	Stage   Stage     `json:"stage"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s[%s]: %s", e.Stage, e.Code, e.Message)
}

// NewStageError builds a StageError with a formatted message.
func NewStageError(stage Stage, code ErrorCode, format string, args ...interface{}) *StageError {
	return &StageError{
		Stage:   stage,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapStage attaches stage/code context to an underlying error.
func WrapStage(stage Stage, code ErrorCode, err error) *StageError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StageError{Stage: stage, Code: code, Message: msg}
}

// ==========================
// 3. Structured Service Errors
// ==========================

// ServiceError represents a structured error from an external collaborator
// (ledger, chain RPC, validator, alerting).
type ServiceError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ServiceError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("ServiceError[%s]: %s", e.Code, e.Message)
}

// NewExternalServiceError creates a retryable external service error.
func NewExternalServiceError(service string, err error) *ServiceError {
	return &ServiceError{
		Code:      ErrCodeExternalServiceError,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerWriteError creates a retryable ledger write error.
func NewLedgerWriteError(err error) *ServiceError {
	return &ServiceError{
		Code:      ErrCodeLedgerWriteFailed,
		Message:   "Ledger write operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionError creates a retryable chain submission error.
func NewSubmissionError(chain string, err error) *ServiceError {
	return &ServiceError{
		Code:      ErrCodeSubmissionFailed,
		Message:   fmt.Sprintf("Transaction submission failed on %s", chain),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Classification Helpers
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeLedgerWriteFailed,
		ErrCodeSubmissionFailed,
		ErrCodeExternalServiceError:
		return 3 // retryable technical errors

	case ErrCodeRateLimited:
		return 2

	case ErrCodeNonceConflict:
		return 1 // single resubmit after nonce re-read

	default:
		return 0 // business and terminal errors: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "POLICY"):
		return "POLICY"
	case strings.Contains(codeStr, "VENUE") || strings.Contains(codeStr, "SIGNER") || strings.Contains(codeStr, "CONFIG"):
		return "ROUTING"
	case strings.Contains(codeStr, "LEDGER"):
		return "LEDGER"
	case strings.Contains(codeStr, "NONCE") || strings.Contains(codeStr, "SUBMISSION") ||
		strings.Contains(codeStr, "CHAIN") || strings.Contains(codeStr, "CONFIRM") ||
		strings.Contains(codeStr, "BALANCE"):
		return "EXECUTION"
	case strings.Contains(codeStr, "CAPABILITY"):
		return "VALIDATION"
	case strings.Contains(codeStr, "RATE") || strings.Contains(codeStr, "EXTERNAL"):
		return "EXTERNAL"
	default:
		return "OTHER"
	}
}
