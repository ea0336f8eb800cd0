package translator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	go_openai "github.com/sashabaranov/go-openai"
)

// statusOverloaded is returned by some providers when the model is saturated.
const statusOverloaded = 529

// Classify maps an error returned by the endpoint client to a FailureKind.
// Anything not recognised is FailureUnclassified.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		if kind := classifyStatus(apiErr.HTTPStatusCode); kind != FailureUnclassified {
			return kind
		}
		if strings.Contains(apiErr.Type, "overloaded") {
			return FailureOverloaded
		}
		return FailureUnclassified
	}

	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnection
	}

	msg := err.Error()
	if strings.Contains(msg, "overloaded_error") {
		return FailureOverloaded
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF") {
		return FailureConnection
	}
	return FailureUnclassified
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status == statusOverloaded || status == http.StatusServiceUnavailable:
		return FailureOverloaded
	case status >= 500:
		return FailureOverloaded
	default:
		return FailureUnclassified
	}
}
