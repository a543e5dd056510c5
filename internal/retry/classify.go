package retry

import (
	"context"
	"errors"
	"net"
)

// TransportErrorCodes are provider error codes that indicate a network-level
// failure rather than an application error, and are always retried
// regardless of the configured status-code allowlist.
var TransportErrorCodes = []string{
	"ERR_STREAM_PREMATURE_CLOSE",
	"ECONNRESET",
	"ETIMEDOUT",
}

// ErrorResponse is the provider error envelope. Several providers nest an
// inner error object of the same shape inside the outer one
// (`{"error": {"error": {...}}}`), so Error is recursive.
type ErrorResponse struct {
	Message *string
	Code    *string
	Error   *ErrorResponse
}

// StatusCoder is implemented by errors carrying a plain HTTP response status
// code (the request never reached the provider, or it replied with a
// standard HTTP error).
type StatusCoder interface {
	StatusCode() int
}

// EventStatusCoder is implemented by mid-stream SSE/event errors, which
// report their status under a different accessor than a rejected request.
type EventStatusCoder interface {
	EventStatusCode() int
}

// APIStatusCoder is implemented by a provider's own API error body, which
// may carry a status distinct from the transport-level response status.
type APIStatusCoder interface {
	APIStatusCode() int
}

// ResponseBody is implemented by errors that can report a parsed
// ErrorResponse envelope, used for transport-error-code and empty-body
// detection.
type ResponseBody interface {
	ResponseBody() *ErrorResponse
}

func getStatusCode(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	var esc EventStatusCoder
	if errors.As(err, &esc) {
		return esc.EventStatusCode(), true
	}
	var asc APIStatusCoder
	if errors.As(err, &asc) {
		return asc.APIStatusCode(), true
	}
	return 0, false
}

// hasTransportErrorCode walks the ErrorResponse.Error chain looking for a
// code in TransportErrorCodes.
func hasTransportErrorCode(resp *ErrorResponse) bool {
	if resp == nil {
		return false
	}
	if resp.Code != nil {
		for _, c := range TransportErrorCodes {
			if *resp.Code == c {
				return true
			}
		}
	}
	return hasTransportErrorCode(resp.Error)
}

// isEmptyError reports whether none of message, code, or a nested error is
// present — a body so bare it's treated as a dropped connection rather than
// a meaningful application error.
func isEmptyError(resp *ErrorResponse) bool {
	if resp == nil {
		return true
	}
	return resp.Message == nil && resp.Code == nil && resp.Error == nil
}

// IsRetryable classifies err: a status code in retryStatusCodes is
// retryable; otherwise a transport error code or an entirely empty error
// body (anywhere in the nested chain) is retryable, as is a transport
// timeout or connect error; anything else is left alone (not retryable).
// err is never mutated or wrapped — callers decide what to do with a
// non-retryable error.
func IsRetryable(err error, retryStatusCodes []int) bool {
	if err == nil {
		return false
	}

	if code, ok := getStatusCode(err); ok {
		for _, c := range retryStatusCodes {
			if c == code {
				return true
			}
		}
	}

	var rb ResponseBody
	if errors.As(err, &rb) {
		resp := rb.ResponseBody()
		if hasTransportErrorCode(resp) {
			return true
		}
		if isEmptyError(resp) {
			return true
		}
	}

	if isTransportTimeoutOrConnectError(err) {
		return true
	}

	return false
}

// isTransportTimeoutOrConnectError reports whether err is (or wraps) a
// context deadline, a net.Error reporting Timeout(), or a net.OpError —
// a connection that never reached the provider at all.
func isTransportTimeoutOrConnectError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
