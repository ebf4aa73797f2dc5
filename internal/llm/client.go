// Package llm holds the chat-completion data model and the provider clients
// that send a single completion request upstream.
package llm

import (
	"context"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a completion request. System messages come first,
// followed by the conversation in chronological order.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is built once and never mutated afterwards.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// NewCompletionRequest copies messages so later changes to the caller's slice
// do not leak into the request.
func NewCompletionRequest(model string, messages []ChatMessage, temperature float32, maxTokens int) CompletionRequest {
	msgs := make([]ChatMessage, len(messages))
	copy(msgs, messages)
	return CompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// CompletionResult is the generated text, possibly empty.
type CompletionResult struct {
	Text string `json:"text"`
}

// Client sends exactly one request to a chat-completion endpoint. Errors from
// the endpoint are returned as-is (optionally wrapped in *APIError); retrying
// is the caller's job.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req CompletionRequest) (CompletionResult, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	return f(ctx, req)
}

// WithTimeout bounds every Complete call on c by d. A non-positive d returns c.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return ClientFunc(func(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Complete(ctx, req)
	})
}
