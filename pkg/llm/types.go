// Package llm implements the provider clients and the manager that routes
// analysis requests across them under rate, breaker, and concurrency
// control.
package llm

import (
	"fmt"
	"time"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

// Chat message roles.
const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one message in an OpenAI-shaped conversation.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest is the payload for POST {base_url}/chat/completions.
// Pointer fields are omitted from the wire payload when nil.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stream           bool          `json:"stream"`
}

// ContentLength returns the total message content length in bytes.
func (r *ChatRequest) ContentLength() int {
	total := 0
	for _, m := range r.Messages {
		total += len(m.Content)
	}
	return total
}

// EstimateInputTokens approximates the prompt token count (chars/4). The
// usage ring in the rate limiter corrects systematic bias over time.
func (r *ChatRequest) EstimateInputTokens() int {
	return r.ContentLength() / 4
}

// Validate checks the request's structural constraints. maxContext bounds
// the estimated input token count at 80% of the model's context length.
func (r *ChatRequest) Validate(maxContext int) error {
	if len(r.Messages) == 0 {
		return &Error{Kind: KindValidation, Message: "request has no messages"}
	}
	for i, m := range r.Messages {
		if m.Content == "" {
			return &Error{Kind: KindValidation, Message: fmt.Sprintf("message %d has empty content", i)}
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("temperature %v outside [0, 2]", *r.Temperature)}
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("top_p %v outside [0, 1]", *r.TopP)}
	}
	if maxContext > 0 && r.EstimateInputTokens() >= maxContext*8/10 {
		return &Error{
			Kind: KindValidation,
			Message: fmt.Sprintf("estimated input tokens %d exceed 80%% of context %d",
				r.EstimateInputTokens(), maxContext),
		}
	}
	return nil
}

// TokenUsage reports token consumption for one completed call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the parsed result of a successful chat completion.
type ChatResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        TokenUsage    `json:"usage"`
	FinishReason string        `json:"finish_reason"`
	Provider     string        `json:"provider"`
	ResponseTime time.Duration `json:"response_time"`
}

// Wire-format types for the OpenAI-shaped endpoint.

type wireResponse struct {
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   TokenUsage   `json:"usage"`
	Error   *wireError   `json:"error,omitempty"`
}

type wireChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}
