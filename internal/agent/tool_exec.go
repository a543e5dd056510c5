package agent

import (
	"context"

	"github.com/forgewright/coreloop/internal/observability"
	"github.com/forgewright/coreloop/pkg/models"
)

// ToolExecutor runs the tool calls assembled from one assistant turn. It is
// strictly sequential — never parallel, even when the bound provider would
// tolerate concurrent tool calls — because later calls in a turn may depend
// on the side effects of earlier ones, and ordering must stay deterministic
// for replay.
//
// A semaphore-pool parallel execution path was considered and dropped:
// running tools concurrently within a single turn would violate the
// ordering guarantee callers rely on (see DESIGN.md).
type ToolExecutor struct {
	registry *ToolRegistry
	logger   *observability.Logger
}

// NewToolExecutor returns a ToolExecutor bound to registry. A nil logger
// falls back to a quiet default logger so tool argument/output redaction
// still applies to anything that is logged.
func NewToolExecutor(registry *ToolRegistry, logger *observability.Logger) *ToolExecutor {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "error"})
	}
	return &ToolExecutor{registry: registry, logger: logger}
}

// ExecuteSequentially runs calls one at a time, in order, emitting a
// ToolCallStart/ToolCallEnd pair per call through emit: for
// each call, emit ToolCallStart(call), invoke the registry (which never
// throws — failures are captured into ToolResult.IsError), warn-log on
// error with the call's arguments and output, then emit ToolCallEnd(result)
// and record the (call, result) pair. A non-nil error here only ever
// reflects a context cancellation observed between calls.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, calls []models.ToolCallFull, emit func(ChatResponse)) ([]models.ToolCallResultPair, error) {
	pairs := make([]models.ToolCallResultPair, 0, len(calls))

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return pairs, err
		}

		if emit != nil {
			emit(toolCallStartResponse(call))
		}

		result, err := e.registry.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			// The registry contract never returns (nil, err) for tool-level
			// failures; this path is reserved for unexpected defects.
			result = &ToolResult{Content: err.Error(), IsError: true}
		}
		if result == nil {
			result = &ToolResult{}
		}

		wireResult := toWireResult(call, *result)

		if wireResult.IsError {
			e.logger.Warn(ctx, "tool call failed",
				"tool", call.Name,
				"call_id", call.CallID,
				"arguments", string(call.Arguments),
				"output", wireResult.FlattenedText(),
			)
		}

		if emit != nil {
			emit(toolCallEndResponse(wireResult))
		}

		pairs = append(pairs, models.ToolCallResultPair{Call: call, Result: wireResult})
	}

	return pairs, nil
}

// toWireResult converts the agent-package-local ToolResult (the shape every
// internal/tools/* implementation returns from Execute) into the wire/
// context-log-facing models.ToolResult (the shape ContextMessage carries).
func toWireResult(call models.ToolCallFull, result ToolResult) models.ToolResult {
	output := make([]models.ToolOutputValue, 0, 1+len(result.Artifacts))
	if result.Content != "" || len(result.Artifacts) == 0 {
		output = append(output, models.ToolOutputValue{Kind: models.ToolOutputText, Text: result.Content})
	}
	for _, a := range result.Artifacts {
		if len(a.Data) == 0 && a.URL == "" {
			continue
		}
		output = append(output, models.ToolOutputValue{
			Kind: models.ToolOutputImage,
			Image: &models.Image{
				URL:      a.URL,
				Data:     a.Data,
				MimeType: a.MimeType,
			},
		})
	}
	if len(output) == 0 {
		output = append(output, models.ToolOutputValue{Kind: models.ToolOutputEmpty})
	}
	return models.ToolResult{
		Name:    call.Name,
		CallID:  call.CallID,
		Output:  output,
		IsError: result.IsError,
	}
}
