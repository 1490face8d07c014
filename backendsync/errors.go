package backendsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the closed set of failure modes the sync engine distinguishes.
// Everything a worker can hit maps onto one of these; per-item failures are
// captured into the batch result, never thrown past the worker boundary.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindRateLimited  ErrorKind = "rate_limited"
	KindNotFound     ErrorKind = "not_found"
	KindValidation   ErrorKind = "validation"
	KindFileNotFound ErrorKind = "file_not_found"
)

const rateLimitMessage = "backend rate limit reached, please retry later"

type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Retryable reports whether the next sync pass may succeed without any
// local change.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	}
	return false
}

func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func IsNotFound(err error) bool     { return IsKind(err, KindNotFound) }
func IsRateLimited(err error) bool  { return IsKind(err, KindRateLimited) }
func IsTimeout(err error) bool      { return IsKind(err, KindTimeout) }
func IsFileNotFound(err error) bool { return IsKind(err, KindFileNotFound) }

// errorBody is the backend's structured error envelope. Either field may be
// populated depending on the endpoint.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeAPIError turns a non-2xx response into a tagged error. The message
// fallback chain is fixed: structured body field, then raw body text, then
// the status line.
func decodeAPIError(status int, body []byte) *APIError {
	message := ""
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			message = parsed.Error
		} else if parsed.Message != "" {
			message = parsed.Message
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = fmt.Sprintf("%d %s", status, http.StatusText(status))
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, Status: status, Message: rateLimitMessage}
	case status == http.StatusNotFound:
		return &APIError{Kind: KindNotFound, Status: status, Message: message}
	case status >= 400 && status < 500:
		return &APIError{Kind: KindValidation, Status: status, Message: message}
	default:
		return &APIError{Kind: KindNetwork, Status: status, Message: fmt.Sprintf("backend error: %s", message)}
	}
}

// classifyTransportError tags a failed round trip. Timeout is split from
// plain network failure only for logging tone; both retry on the next pass.
func classifyTransportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Message: "request timed out, will retry on next sync"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: "request timed out, will retry on next sync"}
	}
	return &APIError{Kind: KindNetwork, Message: fmt.Sprintf("network error: %v", err)}
}
