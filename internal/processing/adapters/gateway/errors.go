package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory is the normalized failure taxonomy for gateway calls.
type ErrorCategory string

const (
	// ErrorTimeout means the gateway did not answer before the deadline
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData means the gateway answered with invalid or malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication means the API key was refused
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorOutage means the gateway is unavailable or the breaker is open
	ErrorOutage ErrorCategory = "provider_outage"

	// ErrorContractMismatch means an unexpected status or API version
	ErrorContractMismatch ErrorCategory = "contract_mismatch"

	// ErrorNotFound means the gateway could not read the document
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited means too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal means a failure on our side of the call
	ErrorInternal ErrorCategory = "internal"
)

// Error wraps a gateway failure with its category.
type Error struct {
	Category   ErrorCategory
	Gateway    string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("gateway %s [%s]: %s: %v", e.Gateway, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("gateway %s [%s]: %s", e.Gateway, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError builds a categorized gateway error. Timeouts, outages and rate
// limiting are retryable.
func NewError(category ErrorCategory, gatewayName, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Gateway:    gatewayName,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorOutage || category == ErrorRateLimited,
	}
}

// IsRetryable reports whether err is a gateway error worth retrying.
func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// CategoryOf extracts the category from err, or ErrorInternal.
func CategoryOf(err error) ErrorCategory {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Category
	}
	return ErrorInternal
}

// categorizeStatus maps a non-2xx status onto the taxonomy.
func categorizeStatus(gatewayName string, status int, body []byte) *Error {
	msg := fmt.Sprintf("unexpected status %d", status)
	if len(body) > 0 && len(body) <= 256 {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(ErrorAuthentication, gatewayName, msg, nil)
	case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return NewError(ErrorNotFound, gatewayName, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewError(ErrorRateLimited, gatewayName, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(ErrorTimeout, gatewayName, msg, nil)
	case status >= 500:
		return NewError(ErrorOutage, gatewayName, msg, nil)
	default:
		return NewError(ErrorContractMismatch, gatewayName, msg, nil)
	}
}

// categorizeTransport maps a transport-level failure onto the taxonomy.
func categorizeTransport(gatewayName string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTimeout, gatewayName, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorInternal, gatewayName, "request cancelled", err)
	}
	return NewError(ErrorOutage, gatewayName, "request failed", err)
}
