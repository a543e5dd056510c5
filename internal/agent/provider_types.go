package agent

import (
	"context"
	"encoding/json"

	"github.com/forgewright/coreloop/pkg/models"
)

// LLMProvider is the streaming-completion capability the turn loop consumes.
// Implementations translate between the engine's request/chunk shapes and
// one upstream API (see internal/agent/providers).
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call Complete simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed when the stream ends; errors arrive as chunks.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Models returns the provider's known models and capabilities.
	Models() []Model

	// SupportsTools reports whether the provider accepts native tool-call
	// completions. When false, the turn loop falls back to the inline XML
	// tool-call protocol.
	SupportsTools() bool
}

// CompletionRequest carries one completion's full input: conversation
// history, system prompt, tool catalog, and generation parameters.
type CompletionRequest struct {
	// Model names the upstream model; empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, carried separately from Messages since
	// most provider APIs frame it that way.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools is the catalog the model may call. Empty disables tool calling.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking requests extended reasoning from models that support
	// it; ThinkingBudgetTokens bounds the reasoning spend.
	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one message in a CompletionRequest: text content,
// tool calls, tool results, or attachments, depending on role.
type CompletionMessage struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one streamed fragment of a completion. Providers emit
// raw fragments — text deltas, whole tool calls or tool-call parts,
// reasoning deltas, usage snapshots — and the Stream Assembler reduces them
// into one complete message.
type CompletionChunk struct {
	// Text is a partial content delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool call, for providers that emit them whole.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// ToolCallPart is a streamed fragment of a tool call; fragments sharing
	// a call_id are reassembled downstream.
	ToolCallPart *models.ToolCallPart `json:"tool_call_part,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// Thinking is a reasoning-text delta; ThinkingStart/ThinkingEnd bracket
	// a reasoning block for providers that signal boundaries.
	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	// ReasoningDetail is one structured reasoning fragment, groupable by
	// signature.
	ReasoningDetail *models.ReasoningDetail `json:"reasoning_detail,omitempty"`

	// Usage, when present, replaces any prior usage snapshot for this
	// stream (providers send running totals, not deltas).
	Usage *models.Usage `json:"usage,omitempty"`

	// FinishReason is set on the terminal chunk by providers that report one.
	FinishReason string `json:"finish_reason,omitempty"`
}

// Model describes an available model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`

	// SupportsParallelToolCalls indicates the model may emit several tool
	// calls in one assistant turn.
	SupportsParallelToolCalls bool `json:"supports_parallel_tool_calls,omitempty"`

	// SupportsReasoning indicates the model can stream extended reasoning.
	SupportsReasoning bool `json:"supports_reasoning,omitempty"`
}

// Tool is the interface every executable tool implements. Name, Description,
// and Schema feed the tool catalog shown to the model; Execute runs the tool
// with schema-validated arguments.
type Tool interface {
	// Name returns the tool name used in function calling. Must be a valid
	// identifier (alphanumeric and underscores).
	Name() string

	// Description tells the model what the tool does and when to call it.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Failures are reported via ToolResult.IsError
	// where possible; a returned error is treated as a defect and captured
	// into an error result by the executor.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool implementation's output before it is converted to the
// wire shape (models.ToolResult) for the context log.
type ToolResult struct {
	// Content is the tool's text output.
	Content string `json:"content"`

	// IsError marks the result as a failure; the content then carries the
	// error message shown to the model.
	IsError bool `json:"is_error,omitempty"`

	// Artifacts are files or media the tool produced; image artifacts
	// become image output values in the wire result.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a file or media blob produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}
