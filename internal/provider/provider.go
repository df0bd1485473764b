// Package provider defines the contract between the engine and external
// model endpoints, plus transient/fatal error classification and retry.
// Concrete network transports plug in behind the Provider interface.
package provider

import (
	"context"
	"strings"

	"github.com/openkoi/openkoi/internal/task"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is a single model invocation.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse carries the model output and its token usage.
type ChatResponse struct {
	Content    string          `json:"content"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      task.TokenUsage `json:"usage"`
}

// Provider is the narrow interface the engine and the judge consume.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// IsRateLimitError checks if the error is a rate limit / overload error.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity")
}

// IsServerError checks if the error is a transient server error (5xx).
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// IsTransient checks if the error is retryable (rate limit or server error).
func IsTransient(err error) bool {
	return IsRateLimitError(err) || IsServerError(err)
}

// IsFatal checks for auth/billing/invalid-request errors that must not
// be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "402")
}
