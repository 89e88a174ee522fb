package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/retrodict"
)

// ErrTurnBudget is returned when the model did not produce a final
// structured result within the configured turn cap.
var ErrTurnBudget = errors.New("turn budget exhausted before final result")

// ErrCostBudget is returned when estimated model spend crosses the
// configured per-session cap before a final result.
var ErrCostBudget = errors.New("cost budget exhausted before final result")

// Loop drives one model session: it feeds the prompt, routes tool calls to
// the registry in emission order, and exits when the model stops requesting
// tools and emits its final structured result.
type Loop struct {
	Provider LLMProvider
	Hook     *retrodict.Hook
	Log      *observability.Logger
	Metrics  *observability.Metrics

	// Model is the fixed model identifier for the session.
	Model string

	// MaxTurns caps provider round-trips per session.
	MaxTurns int

	// MaxTokens is the per-turn response budget (0 means provider default).
	MaxTokens int

	// MaxCostUSD caps estimated spend per session (0 means uncapped).
	MaxCostUSD float64

	// Cost estimates the dollar cost of the session's token usage so far;
	// required when MaxCostUSD is set.
	Cost func(inputTokens, outputTokens int) float64
}

// LoopRequest is one session's input.
type LoopRequest struct {
	System   string
	Prompt   string
	Registry *Registry
}

// LoopResult is the session outcome.
type LoopResult struct {
	// FinalText is the model's last message.
	FinalText string

	// FinalJSON is the structured result extracted from the final message,
	// nil when the model emitted none.
	FinalJSON json.RawMessage

	// Turns is the number of provider round-trips consumed.
	Turns int

	InputTokens  int
	OutputTokens int

	// ToolCalls counts invocations per qualified tool name.
	ToolCalls map[string]int

	// ToolErrors counts results returned with is_error=true.
	ToolErrors int
}

// Run executes the session to completion.
func (l *Loop) Run(ctx context.Context, req *LoopRequest) (*LoopResult, error) {
	if l.MaxTurns <= 0 {
		return nil, errors.New("loop: MaxTurns must be positive")
	}

	result := &LoopResult{ToolCalls: make(map[string]int)}
	messages := []CompletionMessage{{Role: "user", Content: req.Prompt}}
	tools := req.Registry.Tools()

	for turn := 0; turn < l.MaxTurns; turn++ {
		start := time.Now()
		completion, err := l.Provider.Complete(ctx, &CompletionRequest{
			Model:     l.Model,
			System:    req.System,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: l.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("model turn %d: %w", turn+1, err)
		}

		result.Turns = turn + 1
		result.InputTokens += completion.InputTokens
		result.OutputTokens += completion.OutputTokens
		if l.Metrics != nil {
			l.Metrics.ModelRequestDuration.WithLabelValues(l.Model).Observe(time.Since(start).Seconds())
			l.Metrics.ModelTokensUsed.WithLabelValues(l.Model, "input").Add(float64(completion.InputTokens))
			l.Metrics.ModelTokensUsed.WithLabelValues(l.Model, "output").Add(float64(completion.OutputTokens))
		}

		if len(completion.ToolCalls) == 0 {
			result.FinalText = completion.Text
			result.FinalJSON = ExtractJSON(completion.Text)
			return result, nil
		}

		// A final answer on the crossing turn still lands; the cap only
		// stops the session from requesting more tools.
		if l.MaxCostUSD > 0 && l.Cost != nil {
			if spent := l.Cost(result.InputTokens, result.OutputTokens); spent >= l.MaxCostUSD {
				return nil, fmt.Errorf("%w ($%.2f of $%.2f after %d turns)",
					ErrCostBudget, spent, l.MaxCostUSD, result.Turns)
			}
		}

		// Tool calls execute strictly in emission order; every call gets a
		// result before the next turn begins.
		toolResults := make([]ToolCallResult, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			res := l.dispatch(ctx, req.Registry, call)
			result.ToolCalls[call.Name]++
			if res.IsError {
				result.ToolErrors++
			}
			toolResults = append(toolResults, ToolCallResult{
				ToolCallID: call.ID,
				Content:    res.Content,
				IsError:    res.IsError,
			})
		}

		messages = append(messages,
			CompletionMessage{Role: "assistant", Content: completion.Text, ToolCalls: completion.ToolCalls},
			CompletionMessage{Role: "user", ToolResults: toolResults},
		)
	}

	return nil, fmt.Errorf("%w (max %d)", ErrTurnBudget, l.MaxTurns)
}

// dispatch runs one tool call. It never lets an error escape: unknown
// tools, denied calls, handler errors, and panics all become is_error
// results the model can react to.
func (l *Loop) dispatch(ctx context.Context, registry *Registry, call ToolCall) (result *ToolResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.Log.Error(ctx, "tool handler panicked", "tool", call.Name, "panic", r)
			result = NewToolError("internal error in %s", call.Name)
		}
		if l.Metrics != nil {
			status := "success"
			if result.IsError {
				status = "error"
			}
			l.Metrics.ToolCallCounter.WithLabelValues(call.Name, status).Inc()
			l.Metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		}
	}()

	tool, ok := registry.Get(call.Name)
	if !ok {
		return NewToolError("unknown tool: %s", call.Name)
	}

	input := call.Input
	if l.Hook != nil {
		var args map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return NewToolError("invalid arguments for %s: %v", call.Name, err)
			}
		}
		rewritten, err := l.Hook.Before(ctx, call.Name, args)
		if err != nil {
			if errors.Is(err, retrodict.ErrDenied) {
				return NewToolError("%s is not available under the research cutoff", call.Name)
			}
			return NewToolError("pre-invocation check failed for %s: %v", call.Name, err)
		}
		if rewritten != nil {
			adjusted, err := json.Marshal(rewritten)
			if err != nil {
				return NewToolError("encoding arguments for %s: %v", call.Name, err)
			}
			input = adjusted
		}
	}

	res, err := tool.Execute(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			l.Log.Warn(ctx, "tool cancelled", "tool", call.Name)
			return NewToolError("%s cancelled: %v", call.Name, err)
		}
		l.Log.Error(ctx, "tool failed", "tool", call.Name, "error", err)
		return NewToolError("%s failed: %v", call.Name, err)
	}
	if res == nil {
		return NewToolError("%s returned no result", call.Name)
	}
	return res
}

// ExtractJSON pulls the final structured result from a model message. A
// fenced ```json block wins; otherwise the last balanced top-level JSON
// object that parses is used. Returns nil when neither is present.
func ExtractJSON(text string) json.RawMessage {
	if block := fencedJSON(text); block != nil {
		return block
	}
	return lastJSONObject(text)
}

func fencedJSON(text string) json.RawMessage {
	marker := "```json"
	idx := strings.LastIndex(text, marker)
	if idx < 0 {
		return nil
	}
	rest := text[idx+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil
	}
	candidate := strings.TrimSpace(rest[:end])
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate)
	}
	return nil
}

// lastJSONObject scans forward for balanced top-level objects, skipping past
// each match so nested objects are never picked over their parent, and
// returns the last one that parses.
func lastJSONObject(text string) json.RawMessage {
	var last json.RawMessage
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := matchObject(text, i)
		if !ok {
			continue
		}
		candidate := text[i:end]
		if json.Valid([]byte(candidate)) {
			last = json.RawMessage(candidate)
			i = end - 1
		}
	}
	return last
}

// matchObject finds the index just past the brace that closes the object
// opening at start, respecting string literals and escapes.
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
