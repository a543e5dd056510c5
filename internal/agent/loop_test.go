package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/internal/retry"
	"github.com/forgewright/coreloop/pkg/models"
)

// scriptedProvider replays one set of CompletionChunks per successive call
// to Complete, so a test can drive the turn loop through a scripted
// sequence of model responses without a real provider.
type scriptedProvider struct {
	responses [][]*CompletionChunk
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	ch := make(chan *CompletionChunk, len(p.responses[idx]))
	for _, c := range p.responses[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

type noopTool struct{}

func (noopTool) Name() string           { return "noop" }
func (noopTool) Description() string    { return "does nothing" }
func (noopTool) Schema() json.RawMessage { return nil }
func (noopTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: "ok"}, nil
}

func completionCallChunk() *CompletionChunk {
	return &CompletionChunk{
		ToolCall: &models.ToolCall{ID: "call_done", Name: models.CompletionToolName, Input: json.RawMessage(`{"summary":"done"}`)},
	}
}

func noopCallChunk(id string) *CompletionChunk {
	return &CompletionChunk{
		ToolCall: &models.ToolCall{ID: id, Name: "noop", Input: json.RawMessage(`{}`)},
	}
}

func newTestOrchestrator(provider LLMProvider, tools ...Tool) *Orchestrator {
	reg := NewToolRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	return NewOrchestrator(OrchestratorConfig{
		Resolve: func(models.ModelId) (LLMProvider, error) { return provider, nil },
		Tools:   reg,
		Retry:   retry.Config{},
	})
}

func newTestConversation(agent models.Agent) *models.Conversation {
	return models.NewConversation(models.NewConversationID(), []models.Agent{agent})
}

// One iteration: the model immediately calls the completion tool.
func TestRunTurn_CompletesOnFirstIteration(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{completionCallChunk()},
	}}
	orch := newTestOrchestrator(provider, noopTool{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})

	var events []ChatResponse
	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, func(r ChatResponse) {
		events = append(events, r)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	var sawInterrupt bool
	for _, e := range events {
		if e.Kind == ChatResponseInterrupt {
			sawInterrupt = true
		}
	}
	assert.False(t, sawInterrupt)
}

// S7: with max_requests_per_turn=2, a non-completing agent drives exactly
// two iterations, then an Interrupt{MaxRequestPerTurn} is emitted.
func TestRunTurn_MaxRequestsPerTurnInterrupts(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{noopCallChunk("c1")},
		{noopCallChunk("c2")},
		{noopCallChunk("c3")},
	}}
	orch := newTestOrchestrator(provider, noopTool{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})
	limit := 2
	conv.MaxRequestsPerTurn = &limit

	var interrupt *InterruptReason
	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, func(r ChatResponse) {
		if r.Kind == ChatResponseInterrupt {
			interrupt = r.Interrupt
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
	require.NotNil(t, interrupt)
	assert.Equal(t, InterruptMaxRequestPerTurn, interrupt.Kind)
	assert.Equal(t, 2, interrupt.Limit)
}

// S6: a completion with zero tool calls appends the "tools required"
// reminder as a user message and keeps looping rather than forcing
// completion.
func TestRunTurn_EmptyToolCallAppendsReminder(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{{Text: "thinking out loud, no tool call"}},
		{completionCallChunk()},
	}}
	orch := newTestOrchestrator(provider, noopTool{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})

	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)

	var sawReminder bool
	for _, m := range conv.Context.Messages {
		if m.Kind == models.MessageText && m.Role == models.RoleUser && m.Content == defaultEmptyToolCallReminder {
			sawReminder = true
		}
	}
	assert.True(t, sawReminder)
}

// P2/P6: tool results appear in the log immediately after their assistant
// message, in the same order the calls were issued.
func TestRunTurn_ToolResultsFollowAssistantMessageInOrder(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{noopCallChunk("c1"), completionCallChunk()},
	}}
	orch := newTestOrchestrator(provider, noopTool{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})

	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, nil)
	require.NoError(t, err)

	msgs := conv.Context.Messages
	var assistantIdx = -1
	for i, m := range msgs {
		if m.HasToolCalls() {
			assistantIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, assistantIdx, 0)
	require.Len(t, msgs, assistantIdx+3) // assistant + 2 tool results
	assert.True(t, msgs[assistantIdx+1].IsToolResult())
	assert.Equal(t, "noop", msgs[assistantIdx+1].ToolResult.Name)
	assert.True(t, msgs[assistantIdx+2].IsToolResult())
	assert.Equal(t, models.CompletionToolName, msgs[assistantIdx+2].ToolResult.Name)
}

// Conversation variables, workflow custom rules, and the resolved
// parallel-tool-call capability all reach the rendered prompts.
func TestRunTurn_ThreadsVariablesAndCustomRules(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{completionCallChunk()},
	}}
	orch := newTestOrchestrator(provider, noopTool{})

	conv := newTestConversation(models.Agent{
		ID:           models.DefaultAgentId,
		Model:        "test-model",
		SystemPrompt: "Rules: {{.CustomRules}} (parallel={{.SupportsParallelToolCalls}})",
		UserPrompt:   "Task for {{index .Variables \"project\"}}: {{.Event.Name}}",
	})
	conv.CustomRules = "never push to main"
	conv.SetVariable("project", json.RawMessage(`"coreloop"`))

	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{
		Name:  "user_task",
		Value: json.RawMessage(`"get started"`),
	}, nil)
	require.NoError(t, err)

	msgs := conv.Context.Messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Rules: never push to main")
	assert.Contains(t, msgs[0].Content, "parallel=false")

	var sawUserPrompt bool
	for _, m := range msgs {
		if m.HasRole(models.RoleUser) && m.Content == "Task for coreloop: user_task" {
			sawUserPrompt = true
		}
	}
	assert.True(t, sawUserPrompt)
}

// A completion-tool call ends the turn with a Summary lifecycle event
// carrying the summary the model passed to the tool.
func TestRunTurn_EmitsSummaryOnCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{completionCallChunk()},
	}}
	orch := newTestOrchestrator(provider, noopTool{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})

	var summary string
	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, func(r ChatResponse) {
		if r.Kind == ChatResponseSummary {
			summary = r.Summary
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "done", summary)
}

// flakyProvider fails its first Complete call with a retryable 503 and
// succeeds afterwards, so the Retry Driver surfaces a RetryAttempt event.
type flakyProvider struct {
	scriptedProvider
	failures int
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "status error" }
func (e *statusErr) StatusCode() int { return e.code }

func (p *flakyProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.failures > 0 {
		p.failures--
		return nil, &statusErr{code: 503}
	}
	return p.scriptedProvider.Complete(ctx, req)
}

func TestRunTurn_EmitsRetryAttempt(t *testing.T) {
	provider := &flakyProvider{
		scriptedProvider: scriptedProvider{responses: [][]*CompletionChunk{
			{completionCallChunk()},
		}},
		failures: 1,
	}
	reg := NewToolRegistry()
	reg.Register(noopTool{})
	orch := NewOrchestrator(OrchestratorConfig{
		Resolve: func(models.ModelId) (LLMProvider, error) { return provider, nil },
		Tools:   reg,
		Retry:   retry.Config{MaxRetryAttempts: 2, InitialBackoff: time.Millisecond, MinDelay: time.Millisecond, BackoffFactor: 2, RetryStatusCodes: []int{503}},
	})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId, Model: "test-model"})

	var retries []ChatResponse
	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "user_task"}, func(r ChatResponse) {
		if r.Kind == ChatResponseRetryAttempt {
			retries = append(retries, r)
		}
	})
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Error(t, retries[0].RetryCause)
	assert.Equal(t, time.Millisecond, retries[0].RetryDelay)
}

func TestRunTurn_MissingModelFails(t *testing.T) {
	orch := newTestOrchestrator(&scriptedProvider{})
	conv := newTestConversation(models.Agent{ID: models.DefaultAgentId})
	err := orch.RunTurn(context.Background(), conv, models.DefaultAgentId, models.Event{Name: "x"}, nil)
	require.Error(t, err)
	var loopErr *LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.ErrorIs(t, loopErr.Cause, ErrMissingModel)
}
