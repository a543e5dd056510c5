package agent

import (
	"time"

	"github.com/forgewright/coreloop/pkg/models"
)

// ChatResponseKind discriminates the lifecycle events the Turn Loop emits
// upward to its caller.
type ChatResponseKind string

const (
	ChatResponseText           ChatResponseKind = "text"
	ChatResponseReasoning      ChatResponseKind = "reasoning"
	ChatResponseToolCallStart  ChatResponseKind = "tool_call_start"
	ChatResponseToolCallEnd    ChatResponseKind = "tool_call_end"
	ChatResponseUsage          ChatResponseKind = "usage"
	ChatResponseRetryAttempt   ChatResponseKind = "retry_attempt"
	ChatResponseInterrupt      ChatResponseKind = "interrupt"
	ChatResponseSummary        ChatResponseKind = "summary"
)

// InterruptReasonKind discriminates why the Turn Loop ended early.
type InterruptReasonKind string

const (
	InterruptMaxRequestPerTurn  InterruptReasonKind = "max_request_per_turn_limit_reached"
	InterruptMaxToolFailure     InterruptReasonKind = "max_tool_failure_per_turn_limit_reached"
)

// InterruptReason carries the limit that was hit.
type InterruptReason struct {
	Kind  InterruptReasonKind
	Limit int
}

// ChatResponse is one lifecycle event in the stream the Turn Loop emits to
// its caller. It is a tagged union over ChatResponseKind; only the fields
// relevant to Kind are populated.
type ChatResponse struct {
	Kind ChatResponseKind

	// ChatResponseText fields.
	Text       string
	IsComplete bool
	IsMarkdown bool

	// ChatResponseReasoning field.
	Reasoning string

	// ChatResponseToolCallStart field.
	ToolCall *models.ToolCallFull

	// ChatResponseToolCallEnd field.
	ToolResult *models.ToolResult

	// ChatResponseUsage field.
	Usage *models.Usage

	// ChatResponseRetryAttempt fields.
	RetryCause error
	RetryDelay time.Duration

	// ChatResponseInterrupt field.
	Interrupt *InterruptReason

	// ChatResponseSummary field.
	Summary string
}

func textResponse(text string, isComplete, isMarkdown bool) ChatResponse {
	return ChatResponse{Kind: ChatResponseText, Text: text, IsComplete: isComplete, IsMarkdown: isMarkdown}
}

func reasoningResponse(content string) ChatResponse {
	return ChatResponse{Kind: ChatResponseReasoning, Reasoning: content}
}

func toolCallStartResponse(call models.ToolCallFull) ChatResponse {
	return ChatResponse{Kind: ChatResponseToolCallStart, ToolCall: &call}
}

func toolCallEndResponse(result models.ToolResult) ChatResponse {
	return ChatResponse{Kind: ChatResponseToolCallEnd, ToolResult: &result}
}

func usageResponse(u models.Usage) ChatResponse {
	return ChatResponse{Kind: ChatResponseUsage, Usage: &u}
}

func retryAttemptResponse(cause error, delay time.Duration) ChatResponse {
	return ChatResponse{Kind: ChatResponseRetryAttempt, RetryCause: cause, RetryDelay: delay}
}

func interruptResponse(reason InterruptReason) ChatResponse {
	return ChatResponse{Kind: ChatResponseInterrupt, Interrupt: &reason}
}

func summaryResponse(content string) ChatResponse {
	return ChatResponse{Kind: ChatResponseSummary, Summary: content}
}
