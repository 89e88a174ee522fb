package agent

import (
	"context"
	"encoding/json"
)

// LLMProvider abstracts the model backend. Implementations must be safe for
// concurrent use: sub-forecast fan-out calls Complete from several
// goroutines at once.
type LLMProvider interface {
	// Complete sends one turn and returns the model's full response.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for one model turn.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider default.
	Model string `json:"model"`

	// System sets the session's behavior; handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the callable tool set for this session.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response length (0 means provider default).
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single message in the conversation. Role values:
// "user", "assistant".
type CompletionMessage struct {
	Role        string           `json:"role"`
	Content     string           `json:"content,omitempty"`
	ToolCalls   []ToolCall       `json:"tool_calls,omitempty"`
	ToolResults []ToolCallResult `json:"tool_results,omitempty"`
}

// ToolCall is the model requesting a tool execution.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCallResult carries an executed tool's output back to the model.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Completion is the model's full response for one turn.
type Completion struct {
	// Text is the concatenated text content.
	Text string

	// ToolCalls are tool executions the model requested, in emission order.
	ToolCalls []ToolCall

	// StopReason is the provider's termination reason ("end_turn",
	// "tool_use", "max_tokens").
	StopReason string

	// InputTokens and OutputTokens report the turn's token usage.
	InputTokens  int
	OutputTokens int
}
