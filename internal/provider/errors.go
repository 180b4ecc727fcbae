package provider

import (
	"fmt"
	"net/http"
)

// Kind buckets provider failures into the retry policy's categories.
type Kind string

const (
	// KindConfig means the provider is not configured. Never retried.
	KindConfig Kind = "CONFIG_ERROR"
	// KindAuth is an upstream 401. Never retried.
	KindAuth Kind = "AUTH_ERROR"
	// KindInvalidRequest is any upstream 4xx other than 401/429. Never retried.
	KindInvalidRequest Kind = "INVALID_REQUEST"
	// KindRateLimited is an upstream 429. Retryable.
	KindRateLimited Kind = "RATE_LIMIT"
	// KindServer is any upstream 5xx. Retryable.
	KindServer Kind = "SERVER_ERROR"
	// KindBadPayload means the upstream answered 200 with a body that does
	// not satisfy the result contract. Never retried.
	KindBadPayload Kind = "BAD_PAYLOAD"
)

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the retry policy may re-attempt after this error.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServer
}

func classifyStatus(status int, message string) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindServer
	default:
		kind = KindInvalidRequest
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Message: message}
}
