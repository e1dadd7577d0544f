package identity

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalised failure taxonomy for provider calls.
type ErrorCategory string

const (
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorBadData          ErrorCategory = "bad_data"
	ErrorAuthentication   ErrorCategory = "authentication"
	ErrorProviderOutage   ErrorCategory = "provider_outage"
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
	ErrorNotFound         ErrorCategory = "not_found"
	ErrorRateLimited      ErrorCategory = "rate_limited"
	ErrorInternal         ErrorCategory = "internal"
)

// GatewayError is any failed provider call. Provider error detail fields
// (error_id and friends) are kept so support can trace a request.
type GatewayError struct {
	Category   ErrorCategory
	HTTPStatus int
	Code       string
	Message    string
	ErrorID    string
	ErrorType  string
	Retryable  bool
	Underlying error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("identity gateway [%s]", e.Category)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" status %d", e.HTTPStatus)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ErrorID != "" {
		msg += " (error_id " + e.ErrorID + ")"
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Underlying
}

// Details exposes the provider error fields for API responses.
func (e *GatewayError) Details() map[string]string {
	d := map[string]string{"gateway_category": string(e.Category)}
	if e.ErrorID != "" {
		d["error_id"] = e.ErrorID
	}
	if e.ErrorType != "" {
		d["error_type"] = e.ErrorType
	}
	if e.Code != "" {
		d["error_code"] = e.Code
	}
	if e.Message != "" {
		d["error_message"] = e.Message
	}
	return d
}

// NewGatewayError builds an error whose retryability follows its category.
func NewGatewayError(category ErrorCategory, message string, underlying error) *GatewayError {
	return &GatewayError{
		Category:   category,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorProviderOutage || category == ErrorRateLimited,
	}
}

// CategoryForStatus maps an HTTP status to a category.
func CategoryForStatus(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return ErrorAuthentication
	case status == 404:
		return ErrorNotFound
	case status == 408 || status == 504:
		return ErrorTimeout
	case status == 429:
		return ErrorRateLimited
	case status >= 500:
		return ErrorProviderOutage
	case status >= 400:
		return ErrorBadData
	default:
		return ErrorContractMismatch
	}
}

// AsGatewayError extracts a *GatewayError from an error chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	if ge, ok := AsGatewayError(err); ok {
		return ge.Retryable
	}
	return false
}
