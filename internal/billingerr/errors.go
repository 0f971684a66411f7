package billingerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class surfaced by metering and settlement.
type Code string

const (
	CodeRateLimited         Code = "rate_limited"
	CodeFeatureLocked       Code = "feature_locked"
	CodeBudgetExceeded      Code = "budget_exceeded"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeUnknownAction       Code = "unknown_action"
	CodeSettlementConflict  Code = "settlement_conflict"
	CodeStorageFailure      Code = "storage_failure"
	CodeInvalidRequest      Code = "invalid_request"
	CodeNotFound            Code = "not_found"
)

type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeRateLimited: {
		HTTPStatus:    http.StatusTooManyRequests,
		Retryable:     true,
		PublicMessage: "too many requests, retry after the window resets",
	},
	CodeFeatureLocked: {
		HTTPStatus:    http.StatusForbidden,
		Retryable:     false,
		PublicMessage: "feature is not available on the current plan",
	},
	CodeBudgetExceeded: {
		HTTPStatus:    http.StatusPaymentRequired,
		Retryable:     false,
		PublicMessage: "monthly token budget reached",
	},
	CodeInsufficientBalance: {
		HTTPStatus:    http.StatusPaymentRequired,
		Retryable:     true,
		PublicMessage: "insufficient token balance, top up to continue",
	},
	CodeUnknownAction: {
		HTTPStatus:    http.StatusBadRequest,
		Retryable:     false,
		PublicMessage: "unknown metered action",
	},
	CodeSettlementConflict: {
		HTTPStatus:    http.StatusOK,
		Retryable:     false,
		PublicMessage: "payment event already handled",
	},
	CodeStorageFailure: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeInvalidRequest: {
		HTTPStatus:    http.StatusBadRequest,
		Retryable:     false,
		PublicMessage: "invalid request",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		Retryable:     false,
		PublicMessage: "resource not found",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeStorageFailure]
}

// Details carries the structured reason a caller needs to render guidance.
// Only the fields relevant to the code are set.
type Details struct {
	Cap     *int64 `json:"cap,omitempty"`
	Used    *int64 `json:"used,omitempty"`
	Balance *int64 `json:"balance,omitempty"`
	Cost    *int64 `json:"cost,omitempty"`
	ResetAt string `json:"reset_at,omitempty"`
	Field   string `json:"field,omitempty"`
}

type Error struct {
	code    Code
	message string
	details *Details
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeStorageFailure
	}
	return e.code
}

// ErrorCode exposes the code as a plain string for callers outside this package.
func (e *Error) ErrorCode() string {
	return string(e.Code())
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() *Details {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details Details) *Error {
	if e == nil {
		return nil
	}
	e.details = &details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func (e *Error) Metadata() Metadata {
	return MetadataFor(e.Code())
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf reports the code of err, or CodeStorageFailure for untyped errors.
func CodeOf(err error) Code {
	if typed, ok := As(err); ok {
		return typed.Code()
	}
	return CodeStorageFailure
}

func Int64(v int64) *int64 {
	return &v
}

func RateLimited(resetAt string) *Error {
	return New(CodeRateLimited, "rate limit exceeded").WithDetails(Details{ResetAt: resetAt})
}

func FeatureLocked(featureKey string) *Error {
	return New(CodeFeatureLocked, fmt.Sprintf("feature %q is not enabled", featureKey))
}

func BudgetExceeded(cap, used, cost int64) *Error {
	return New(CodeBudgetExceeded, "monthly token cap exceeded").WithDetails(Details{
		Cap:  Int64(cap),
		Used: Int64(used),
		Cost: Int64(cost),
	})
}

func InsufficientBalance(balance, cost int64) *Error {
	return New(CodeInsufficientBalance, "insufficient token balance").WithDetails(Details{
		Balance: Int64(balance),
		Cost:    Int64(cost),
	})
}

func UnknownAction(action string) *Error {
	return New(CodeUnknownAction, fmt.Sprintf("action %q has no rate", action))
}

func StorageFailure(err error, op string) *Error {
	return Wrap(CodeStorageFailure, err, op)
}

func InvalidRequest(field, message string) *Error {
	return New(CodeInvalidRequest, message).WithDetails(Details{Field: field})
}
