package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageKind discriminates the tagged-union variants of ContextMessage.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageTool  MessageKind = "tool"
	MessageImage MessageKind = "image"
)

// ContextMessage is the tagged union described by the data model: a Text
// message (optionally carrying tool calls and reasoning), a Tool message
// wrapping a ToolResult, or an Image attachment.
type ContextMessage struct {
	Kind MessageKind `json:"kind"`

	// Text variant fields.
	Role             Role              `json:"role,omitempty"`
	Content          string            `json:"content,omitempty"`
	ToolCalls        []ToolCallFull    `json:"tool_calls,omitempty"`
	ReasoningDetails []ReasoningDetail `json:"reasoning_details,omitempty"`
	Model            string            `json:"model,omitempty"`

	// Tool variant field.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Image variant field.
	Image *Image `json:"image,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// NewSystemMessage builds a Text message with RoleSystem.
func NewSystemMessage(content string) ContextMessage {
	return ContextMessage{Kind: MessageText, Role: RoleSystem, Content: content}
}

// NewUserMessage builds a Text message with RoleUser.
func NewUserMessage(content string) ContextMessage {
	return ContextMessage{Kind: MessageText, Role: RoleUser, Content: content}
}

// NewAssistantMessage builds a Text message with RoleAssistant, optionally
// carrying tool calls and reasoning details.
func NewAssistantMessage(content string, toolCalls []ToolCallFull, reasoning []ReasoningDetail) ContextMessage {
	return ContextMessage{
		Kind:             MessageText,
		Role:             RoleAssistant,
		Content:          content,
		ToolCalls:        toolCalls,
		ReasoningDetails: reasoning,
	}
}

// NewToolMessage wraps a ToolResult as a Tool-kind ContextMessage.
func NewToolMessage(result ToolResult) ContextMessage {
	return ContextMessage{Kind: MessageTool, ToolResult: &result}
}

// HasToolCalls reports whether this is an assistant message bearing tool calls.
func (m ContextMessage) HasToolCalls() bool {
	return m.Kind == MessageText && m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// IsToolResult reports whether this message wraps a tool result.
func (m ContextMessage) IsToolResult() bool {
	return m.Kind == MessageTool && m.ToolResult != nil
}

// Image is an attached image message.
type Image struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is a provider-native tool call as emitted whole by an LLMProvider
// (non-streaming or single-shot tool calls). The Stream Assembler converts
// these into ToolCallFull for the context log.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCallFull is a fully-assembled tool call: a name and parsed JSON arguments.
type ToolCallFull struct {
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FromToolCall converts a provider-native ToolCall into the assembled
// ToolCallFull shape used by the context log.
func FromToolCall(tc ToolCall) ToolCallFull {
	return ToolCallFull{CallID: tc.ID, Name: tc.Name, Arguments: tc.Input}
}

// ToolCallPart is a single streamed fragment of a tool call that must be
// reassembled by call_id (see the Stream Assembler).
type ToolCallPart struct {
	CallID        string `json:"call_id,omitempty"`
	Name          string `json:"name,omitempty"`
	ArgumentsPart string `json:"arguments_part,omitempty"`
}

// ToolOutputKind discriminates ToolOutput value variants.
type ToolOutputKind string

const (
	ToolOutputText  ToolOutputKind = "text"
	ToolOutputImage ToolOutputKind = "image"
	ToolOutputEmpty ToolOutputKind = "empty"
)

// ToolOutputValue is one element of a ToolResult's output sequence.
type ToolOutputValue struct {
	Kind  ToolOutputKind `json:"kind"`
	Text  string         `json:"text,omitempty"`
	Image *Image         `json:"image,omitempty"`
}

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	Name    string            `json:"name"`
	CallID  string            `json:"call_id,omitempty"`
	Output  []ToolOutputValue `json:"output"`
	IsError bool              `json:"is_error,omitempty"`
}

// TextOutput is a convenience constructor for a single-text ToolResult.
func TextOutput(name, callID, text string, isError bool) ToolResult {
	return ToolResult{
		Name:    name,
		CallID:  callID,
		Output:  []ToolOutputValue{{Kind: ToolOutputText, Text: text}},
		IsError: isError,
	}
}

// FlattenedText concatenates all text output values, ignoring images/empties.
func (r ToolResult) FlattenedText() string {
	out := ""
	for _, v := range r.Output {
		if v.Kind == ToolOutputText {
			out += v.Text
		}
	}
	return out
}

// ReasoningDetail is one structured reasoning fragment, groupable by Signature.
type ReasoningDetail struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	CachedTokens     int      `json:"cached_tokens,omitempty"`
	EstimatedTokens  int      `json:"estimated_tokens,omitempty"`
	Cost             *float64 `json:"cost,omitempty"`
}

// Attachment is a file or image attached to an inbound Event.
type Attachment struct {
	Path      string `json:"path,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"data,omitempty"`
	TotalLine int    `json:"total_lines,omitempty"`
}

// Event is an inbound trigger dispatched to subscribed agents.
type Event struct {
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}
