package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// classifyStatus maps an HTTP status code to a failure kind
func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status >= 400 && status < 500:
		return FailureInvalidInput
	default:
		return FailureProvider
	}
}

// classifyTransport maps a transport-level error to a failure kind
func classifyTransport(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureProvider
}
