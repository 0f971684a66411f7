package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"github.com/smallbiznis/tokenwallet/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string              `json:"type"`
	Message string              `json:"message"`
	Details *billingerr.Details `json:"details,omitempty"`
	Errors  []ValidationError   `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrInternal     = errors.New("internal_error")
)

func ErrorHandlingMiddleware(clk clock.Clock) gin.HandlerFunc {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusTooManyRequests && payload.Details != nil {
			if retryAfter, ok := retryAfterSeconds(payload.Details.ResetAt, clk.Now()); ok {
				c.Header("Retry-After", strconv.Itoa(retryAfter))
			}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if typed, ok := billingerr.As(err); ok {
		meta := typed.Metadata()
		message := meta.PublicMessage
		if typed.Code() == billingerr.CodeInvalidRequest && typed.Message() != "" {
			message = typed.Message()
		}
		return meta.HTTPStatus, errorPayload{
			Type:    string(typed.Code()),
			Message: message,
			Details: typed.Details(),
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: err.Error(),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrIntentNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}
	case errors.Is(err, paymentdomain.ErrProviderRefConflict),
		errors.Is(err, paymentdomain.ErrIntentNotPending),
		errors.Is(err, walletdomain.ErrDuplicateCredit):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrMissingTokenQuantity):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "missing_token_quantity",
			Message: "payment intent has no token quantity",
		}
	case errors.Is(err, walletdomain.ErrInsufficientBalance):
		meta := billingerr.MetadataFor(billingerr.CodeInsufficientBalance)
		return meta.HTTPStatus, errorPayload{
			Type:    string(billingerr.CodeInsufficientBalance),
			Message: meta.PublicMessage,
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

var validationSentinels = []error{
	pagination.ErrInvalidPageToken,
	walletdomain.ErrInvalidWorkspace,
	walletdomain.ErrInvalidAmount,
	walletdomain.ErrInvalidReason,
	paymentdomain.ErrInvalidWorkspace,
	paymentdomain.ErrInvalidKind,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidIntentRef,
	paymentdomain.ErrInvalidTokens,
	paymentdomain.ErrInvalidStatus,
	entitlementdomain.ErrInvalidWorkspace,
	entitlementdomain.ErrInvalidKey,
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_page_token":
		return "page_token"
	case "invalid_workspace":
		return "workspace_id"
	case "invalid_amount":
		return "amount"
	case "invalid_reason":
		return "reason"
	case "invalid_intent_kind":
		return "kind"
	case "invalid_currency":
		return "currency"
	case "invalid_provider":
		return "provider"
	case "invalid_event":
		return "provider_event_id"
	case "invalid_intent_ref":
		return "payment_intent_id"
	case "invalid_token_quantity":
		return "meta.tokens"
	case "invalid_notification_status":
		return "status"
	case "invalid_entitlement_key":
		return "key"
	}
	return "request"
}

// classifyErrorForLog returns the error type and code logged with a request.
// Business rejections are "denied" so the logger keeps them out of error level.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if typed, ok := billingerr.As(err); ok {
		switch typed.Code() {
		case billingerr.CodeRateLimited,
			billingerr.CodeFeatureLocked,
			billingerr.CodeBudgetExceeded,
			billingerr.CodeInsufficientBalance:
			return "denied", string(typed.Code())
		case billingerr.CodeInvalidRequest, billingerr.CodeUnknownAction:
			return "validation", string(typed.Code())
		case billingerr.CodeNotFound:
			return "not_found", string(typed.Code())
		case billingerr.CodeSettlementConflict:
			return "conflict", string(typed.Code())
		}
		return "internal", string(typed.Code())
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		code := "invalid_request"
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation", code
	}
	if code, ok := validationErrorCode(err); ok {
		return "validation", code
	}

	status, payload := mapError(err)
	switch {
	case status == http.StatusUnauthorized:
		return "auth", payload.Type
	case status == http.StatusNotFound:
		return "not_found", payload.Type
	case status == http.StatusConflict:
		return "conflict", payload.Type
	case status == http.StatusPaymentRequired:
		return "denied", payload.Type
	case status < http.StatusInternalServerError:
		return "validation", payload.Type
	}
	return "internal", payload.Type
}

// retryAfterSeconds rounds the wait until resetAt up to whole seconds.
func retryAfterSeconds(resetAt string, now time.Time) (int, bool) {
	if resetAt == "" {
		return 0, false
	}
	at, err := time.Parse(time.RFC3339Nano, resetAt)
	if err != nil {
		return 0, false
	}
	wait := at.Sub(now).Seconds()
	if wait < 1 {
		return 1, true
	}
	return int(math.Ceil(wait)), true
}
