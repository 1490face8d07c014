package backendsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestDecodeAPIErrorMessageFallback(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    ErrorKind
		message string
	}{
		{
			name:    "structured error field",
			status:  422,
			body:    `{"error":"entryDate is required"}`,
			kind:    KindValidation,
			message: "entryDate is required",
		},
		{
			name:    "structured message field",
			status:  400,
			body:    `{"message":"bad payload"}`,
			kind:    KindValidation,
			message: "bad payload",
		},
		{
			name:    "raw body text",
			status:  400,
			body:    "something broke",
			kind:    KindValidation,
			message: "something broke",
		},
		{
			name:    "empty body falls back to status line",
			status:  400,
			body:    "",
			kind:    KindValidation,
			message: "400 Bad Request",
		},
		{
			name:    "not found",
			status:  404,
			body:    `{"error":"no such record"}`,
			kind:    KindNotFound,
			message: "no such record",
		},
		{
			name:    "server error",
			status:  500,
			body:    "boom",
			kind:    KindNetwork,
			message: "backend error: boom",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := decodeAPIError(tc.status, []byte(tc.body))
			if apiErr.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", apiErr.Kind, tc.kind)
			}
			if apiErr.Message != tc.message {
				t.Fatalf("message = %q, want %q", apiErr.Message, tc.message)
			}
			if apiErr.Status != tc.status {
				t.Fatalf("status = %d, want %d", apiErr.Status, tc.status)
			}
		})
	}
}

func TestDecodeAPIErrorRateLimitMessageIsFixed(t *testing.T) {
	// Whatever the backend says on 429, the user-facing message is the
	// stable rate-limit phrasing.
	apiErr := decodeAPIError(http.StatusTooManyRequests, []byte(`{"error":"slow down #4921"}`))
	if apiErr.Kind != KindRateLimited {
		t.Fatalf("kind = %s, want %s", apiErr.Kind, KindRateLimited)
	}
	if !strings.Contains(apiErr.Message, "rate limit") {
		t.Fatalf("message %q does not mention the rate limit", apiErr.Message)
	}
	if strings.Contains(apiErr.Message, "#4921") {
		t.Fatalf("message %q leaked the backend body", apiErr.Message)
	}
}

func TestClassifyTransportError(t *testing.T) {
	if got := classifyTransportError(context.DeadlineExceeded); got.Kind != KindTimeout {
		t.Fatalf("deadline exceeded classified as %s, want %s", got.Kind, KindTimeout)
	}
	if got := classifyTransportError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); got.Kind != KindTimeout {
		t.Fatalf("wrapped deadline classified as %s, want %s", got.Kind, KindTimeout)
	}
	if got := classifyTransportError(errors.New("connection refused")); got.Kind != KindNetwork {
		t.Fatalf("plain failure classified as %s, want %s", got.Kind, KindNetwork)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindRateLimited, true},
		{KindNotFound, false},
		{KindValidation, false},
		{KindFileNotFound, false},
	}
	for _, tc := range cases {
		err := &APIError{Kind: tc.kind, Message: "x"}
		if err.Retryable() != tc.want {
			t.Fatalf("Retryable(%s) = %v, want %v", tc.kind, !tc.want, tc.want)
		}
	}
}
