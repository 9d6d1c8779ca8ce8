package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code carried on every API error.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeTooManySymbols     Code = "TOO_MANY_SYMBOLS"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeTimeout            Code = "TIMEOUT"
	CodeProviderError      Code = "PROVIDER_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// Error is the typed error that flows from the provider clients up through the
// retry controller and the market data service to the HTTP layer.
type Error struct {
	Code      Code
	Message   string
	Status    int  // upstream HTTP status when one exists, 0 otherwise
	Retryable bool // whether another attempt could plausibly succeed
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidInput reports malformed caller input. Never retryable.
func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// TooManySymbols reports a batch request over the per-call cap.
func TooManySymbols(got, max int) *Error {
	return &Error{
		Code:    CodeTooManySymbols,
		Message: fmt.Sprintf("batch of %d symbols exceeds maximum of %d", got, max),
	}
}

// RateLimited reports local queue saturation or an upstream 429.
func RateLimited(format string, args ...interface{}) *Error {
	return &Error{Code: CodeRateLimited, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Timeout reports an unresponsive upstream within the call budget.
func Timeout(msg string, err error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Retryable: true, Err: err}
}

// Provider reports a non-2xx upstream response. 5xx and 429 are retryable;
// other 4xx (bad credentials, bad request) are not.
func Provider(status int, msg string) *Error {
	if status == http.StatusTooManyRequests {
		return &Error{Code: CodeRateLimited, Message: msg, Status: status, Retryable: true}
	}
	return &Error{
		Code:      CodeProviderError,
		Message:   msg,
		Status:    status,
		Retryable: status >= 500,
	}
}

// Transport reports a network-level failure that wasn't a timeout. Retryable:
// connection resets and refused dials are usually transient.
func Transport(msg string, err error) *Error {
	return &Error{Code: CodeProviderError, Message: msg, Retryable: true, Err: err}
}

// Malformed reports a 2xx body missing the fields the provider contract
// promises. Treated as not-found: the symbol is valid but has no data.
func Malformed(provider, detail string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s returned no usable data: %s", provider, detail),
	}
}

// NotFound reports a valid symbol with no data from a provider.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unavailable reports that every configured provider failed.
func Unavailable(msg string, err error) *Error {
	return &Error{Code: CodeServiceUnavailable, Message: msg, Retryable: true, Err: err}
}

// Exhausted clones err with the retryable flag cleared, so callers above the
// retry controller know not to retry again themselves.
func Exhausted(err error) error {
	var e *Error
	if errors.As(err, &e) {
		clone := *e
		clone.Retryable = false
		return &clone
	}
	return err
}

// IsRetryable reports whether another attempt at the failed operation could
// plausibly succeed. Unknown error types (transport failures that were not
// classified) default to retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// CodeOf extracts the stable code from err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to the response status the API layer should emit.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeTooManySymbols:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderError:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
