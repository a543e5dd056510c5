package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/forgewright/coreloop/internal/compaction"
	ctxwindow "github.com/forgewright/coreloop/internal/context"
	"github.com/forgewright/coreloop/internal/observability"
	"github.com/forgewright/coreloop/internal/retry"
	"github.com/forgewright/coreloop/pkg/models"
)

// ProviderResolver resolves a bound model id to the LLMProvider that serves
// it. Supplied by the caller so the orchestrator never hardcodes a provider
// registry of its own.
type ProviderResolver func(model models.ModelId) (LLMProvider, error)

// OrchestratorConfig configures one Orchestrator.
type OrchestratorConfig struct {
	// Resolve binds a model id to the provider that serves it. Required.
	Resolve ProviderResolver

	// Tools is the catalog the Tool Executor dispatches against. Required.
	Tools *ToolRegistry

	// Retry configures the Retry Driver wrapping each chat completion.
	Retry retry.Config

	// Logger receives turn-loop diagnostics, with argument/output redaction
	// applied before anything reaches the sink. Defaults to a quiet logger.
	Logger *observability.Logger

	// ListFiles, when set, supplies the workspace file listing rendered
	// into the system prompt's Files variable (sorted by the composer).
	ListFiles func() []string

	// Env supplies the environment values rendered into the system prompt.
	Env map[string]string

	// EmptyToolCallReminder overrides the default "tools required" nudge
	// appended when a turn iteration produces no tool calls.
	EmptyToolCallReminder string
}

// defaultEmptyToolCallReminder is appended as a user message whenever an
// iteration's assembled message carries no tool calls, nudging the model
// back toward making progress or signalling completion.
const defaultEmptyToolCallReminder = "No tool call was made. Call a tool to continue the task, or call " +
	models.CompletionToolName + " once the task is finished."

// emptyToolCallWarnThreshold is how many consecutive empty-tool-call
// iterations within one turn trigger a warning log.
const emptyToolCallWarnThreshold = 3

// Orchestrator drives one Conversation's turn loop: compose context, stream
// a chat completion while concurrently checking for compaction, assemble
// the response, execute any tool calls sequentially, append the results,
// and repeat until the agent signals completion (by calling the reserved
// completion tool) or a per-turn bound interrupts the turn.
type Orchestrator struct {
	resolve   ProviderResolver
	tools     *ToolRegistry
	executor  *ToolExecutor
	prompt    *PromptComposer
	retryCfg  retry.Config
	logger    *observability.Logger
	listFiles func() []string
	env       map[string]string
	reminder  string
}

// NewOrchestrator builds an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "error"})
	}
	reminder := cfg.EmptyToolCallReminder
	if reminder == "" {
		reminder = defaultEmptyToolCallReminder
	}
	if cfg.Tools != nil {
		if _, ok := cfg.Tools.Get(models.CompletionToolName); !ok {
			cfg.Tools.Register(completionTool{})
		}
	}
	return &Orchestrator{
		resolve:   cfg.Resolve,
		tools:     cfg.Tools,
		executor:  NewToolExecutor(cfg.Tools, logger),
		prompt:    NewPromptComposer(),
		retryCfg:  cfg.Retry,
		logger:    logger,
		listFiles: cfg.ListFiles,
		env:       cfg.Env,
		reminder:  reminder,
	}
}

// RunTurn drives one full turn-loop execution for agentID in response to
// event, emitting lifecycle events through emit until the agent signals
// completion or a per-turn bound interrupts it. emit may be nil.
func (o *Orchestrator) RunTurn(ctx context.Context, conv *models.Conversation, agentID models.AgentId, event models.Event, emit func(ChatResponse)) error {
	if emit == nil {
		emit = func(ChatResponse) {}
	}

	agPtr, err := conv.GetAgent(agentID)
	if err != nil {
		return &LoopError{Phase: PhaseInit, Message: err.Error(), Cause: ErrAgentUndefined}
	}
	ag := *agPtr
	if ag.Model == "" {
		return &LoopError{Phase: PhaseInit, Message: fmt.Sprintf("agent %s has no model bound", ag.ID), Cause: ErrMissingModel}
	}

	provider, err := o.resolve(ag.Model)
	if err != nil {
		return &LoopError{Phase: PhaseInit, Message: err.Error(), Cause: ErrNoProvider}
	}

	// Every capability resolves agent override -> model lookup -> false,
	// through the one resolver the Prompt Composer inputs share.
	caps, err := ResolveCapabilities(ag, provider)
	if err != nil {
		return &LoopError{Phase: PhaseInit, Message: fmt.Sprintf("agent %s: cannot resolve capabilities", ag.ID), Cause: err}
	}
	toolSupported := caps.ToolSupported

	octx := conv.Context
	if octx == nil {
		octx = &models.Context{}
	}
	octx.ConversationID = string(conv.ID)
	if caps.Reasoning && octx.Reasoning == nil {
		octx.Reasoning = &models.ReasoningConfig{Enabled: true}
	}

	toolDefs := o.exposedToolDefinitions(ag.Tools)
	octx.Tools = toolDefs
	if ag.Temperature != nil {
		octx.Temperature = ag.Temperature
	}
	if ag.TopP != nil {
		octx.TopP = ag.TopP
	}
	if ag.TopK != nil {
		octx.TopK = ag.TopK
	}

	variables := conv.VariablesMap()
	var files []string
	if o.listFiles != nil {
		files = o.listFiles()
	}

	if err := o.prompt.ComposeSystemPrompt(octx, ag, caps.ToolSupported, caps.ParallelToolCalls, files, conv.CustomRules, o.env, variables, toolDefs); err != nil {
		return &LoopError{Phase: PhaseInit, Cause: err}
	}
	if err := o.prompt.ComposeUserPrompt(octx, ag, event, variables); err != nil {
		return &LoopError{Phase: PhaseInit, Cause: err}
	}
	o.prompt.FoldAttachments(octx, event.Attachments)

	conv.ResetTurnCounters()
	strategy := compaction.StrategyFromConfig(ag.Compact)

	// The agent's own MaxTurns tightens the conversation-level request
	// bound when both are present.
	requestLimit := conv.MaxRequestsPerTurn
	if ag.MaxTurns > 0 && (requestLimit == nil || ag.MaxTurns < *requestLimit) {
		requestLimit = &ag.MaxTurns
	}

	emptyToolCallCount := 0
	requestCount := 0
	isComplete := false
	iteration := 0

	for !isComplete {
		conv.Context = octx

		assembled, nextCtx, err := o.runChatAndCompact(ctx, &ag, provider, octx, toolSupported, strategy, emit)
		if err != nil {
			return &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}
		// A compacted context only replaces the loop's working context for
		// subsequent iterations; the completion just received was streamed
		// against the pre-compaction context, which is correct by design.
		if nextCtx != nil {
			octx = nextCtx
		}

		usage := models.Usage{}
		if assembled.Usage != nil {
			usage = *assembled.Usage
		}
		usage.EstimatedTokens = octx.TokenCount()
		emit(usageResponse(usage))

		window := ctxwindow.NewWindowForModel(string(ag.Model))
		window.SetUsed(usage.EstimatedTokens)
		if info := window.Info(); info.ShouldWarn() {
			o.logger.Warn(ctx, "context window running low",
				"agent", string(ag.ID),
				"model", string(ag.Model),
				"window", info.String())
		}

		isComplete = hasCompletionCall(assembled.ToolCalls)

		if !isComplete && len(assembled.ToolCalls) > 0 {
			if text := stripReservedTags(assembled.Content); text != "" {
				emit(textResponse(text, false, true))
			}
			if assembled.ReasoningText != "" {
				emit(reasoningResponse(assembled.ReasoningText))
			}
		}

		limitsExceeded := false
		for _, call := range assembled.ToolCalls {
			if conv.ToolFailureLimitExceeded(call.Name) {
				limitsExceeded = true
			}
		}

		pairs, err := o.executor.ExecuteSequentially(ctx, assembled.ToolCalls, emit)
		if err != nil {
			return &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
		}
		o.trackToolFailures(conv, pairs)

		octx.AppendMessage(assembled.Content, assembled.ReasoningDetails, pairs)

		if isComplete {
			for _, pair := range pairs {
				if pair.Call.Name == models.CompletionToolName {
					emit(summaryResponse(pair.Result.FlattenedText()))
					break
				}
			}
		}

		if len(assembled.ToolCalls) == 0 {
			octx.AddMessage(models.NewUserMessage(o.reminder))
			emptyToolCallCount++
			if emptyToolCallCount >= emptyToolCallWarnThreshold {
				o.logger.Warn(ctx, "turn produced no tool calls across multiple iterations",
					"agent", string(ag.ID),
					"empty_tool_call_count", emptyToolCallCount)
			}
		} else {
			emptyToolCallCount = 0
		}

		if limitsExceeded {
			emit(interruptResponse(InterruptReason{Kind: InterruptMaxToolFailure, Limit: *conv.MaxToolFailurePerTurn}))
			isComplete = true
		}

		conv.Context = octx
		requestCount++
		if !isComplete && requestLimit != nil && requestCount >= *requestLimit {
			emit(interruptResponse(InterruptReason{Kind: InterruptMaxRequestPerTurn, Limit: *requestLimit}))
			isComplete = true
		}

		iteration++
	}

	return nil
}

// completionTool implements the reserved completion signal as a real
// registry entry: executing it never fails, it just echoes the summary
// argument back as a successful result, so the Tool Executor's generic
// call/result bookkeeping applies to it exactly like any other tool.
type completionTool struct{}

func (completionTool) Name() string           { return models.CompletionToolName }
func (completionTool) Description() string    { return models.CompletionToolDefinition().Description }
func (completionTool) Schema() json.RawMessage { return models.CompletionToolDefinition().Schema }

func (completionTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var body struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(params, &body)
	return &ToolResult{Content: body.Summary}, nil
}

// toolDefAdapter exposes a models.ToolDefinition (a catalog entry with no
// executable backing) as a Tool so it can be placed in a
// CompletionRequest's Tools list, which providers only ever read
// Name/Description/Schema from.
type toolDefAdapter struct{ def models.ToolDefinition }

func (t toolDefAdapter) Name() string           { return t.def.Name }
func (t toolDefAdapter) Description() string    { return t.def.Description }
func (t toolDefAdapter) Schema() json.RawMessage { return t.def.Schema }

func (t toolDefAdapter) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	return nil, fmt.Errorf("tool definition %q has no executable backing", t.def.Name)
}

// exposedToolDefinitions builds the tool catalog for this turn: the agent's
// allow-listed tools plus the reserved completion tool, which every turn
// exposes regardless of allow-list.
func (o *Orchestrator) exposedToolDefinitions(allow []string) []models.ToolDefinition {
	tools := o.tools.Allowed(allow)
	defs := make([]models.ToolDefinition, 0, len(tools)+1)
	for _, t := range tools {
		defs = append(defs, models.ToolDefinition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	defs = append(defs, models.CompletionToolDefinition())
	return defs
}

// trackToolFailures updates conv's per-tool failure counters from one
// iteration's results: increments a tool's counter on error, clears it on
// success, and appends a remaining-attempts hint to an error result's
// output when a per-turn limit is configured.
func (o *Orchestrator) trackToolFailures(conv *models.Conversation, pairs []models.ToolCallResultPair) {
	for i := range pairs {
		name := pairs[i].Call.Name
		if !pairs[i].Result.IsError {
			conv.ClearToolFailure(name)
			continue
		}
		count := conv.RecordToolFailure(name)
		if conv.MaxToolFailurePerTurn == nil {
			continue
		}
		remaining := *conv.MaxToolFailurePerTurn - count
		if remaining < 0 {
			remaining = 0
		}
		hint := fmt.Sprintf("(%d attempt(s) remaining for %s before this turn is interrupted)", remaining, name)
		pairs[i].Result.Output = append(pairs[i].Result.Output, models.ToolOutputValue{Kind: models.ToolOutputText, Text: hint})
	}
}

// hasCompletionCall reports whether any call in calls is the reserved
// completion tool.
func hasCompletionCall(calls []models.ToolCallFull) bool {
	for _, c := range calls {
		if c.Name == models.CompletionToolName {
			return true
		}
	}
	return false
}

// reservedTagPattern strips any XML-ish element whose tag name starts with
// the "forge_" reserved prefix (inline tool-call blocks, context-summary
// wrappers) before assistant content is surfaced as a text lifecycle event.
var reservedTagPattern = regexp.MustCompile(`(?s)<forge_[a-zA-Z0-9_]*(?:\s[^>]*)?>.*?</forge_[a-zA-Z0-9_]*>`)

func stripReservedTags(content string) string {
	return reservedTagPattern.ReplaceAllString(content, "")
}

// runChatAndCompact runs the chat completion and the compaction check
// concurrently, per the turn loop's join of two fallible operations: either
// failure aborts the turn. The returned context, if non-nil, replaces the
// loop's working context starting with the next iteration only.
func (o *Orchestrator) runChatAndCompact(
	ctx context.Context,
	ag *models.Agent,
	provider LLMProvider,
	current *models.Context,
	toolSupported bool,
	strategy compaction.CompactionStrategy,
	emit func(ChatResponse),
) (AssembledMessage, *models.Context, error) {
	var wg sync.WaitGroup
	wg.Add(2)

	var assembled AssembledMessage
	var chatErr error
	go func() {
		defer wg.Done()
		assembled, chatErr = o.runChat(ctx, provider, current, ag.Model, toolSupported, emit)
	}()

	var nextCtx *models.Context
	var compactErr error
	go func() {
		defer wg.Done()
		nextCtx, compactErr = o.maybeCompact(ctx, ag, provider, current, strategy)
	}()

	wg.Wait()

	if chatErr != nil {
		return AssembledMessage{}, nil, chatErr
	}
	if compactErr != nil {
		return AssembledMessage{}, nil, compactErr
	}
	return assembled, nextCtx, nil
}

// runChat issues one chat completion against provider, retrying via the
// Retry Driver, and reduces the resulting stream through a fresh Stream
// Assembler.
func (o *Orchestrator) runChat(ctx context.Context, provider LLMProvider, current *models.Context, model models.ModelId, toolSupported bool, emit func(ChatResponse)) (AssembledMessage, error) {
	req := toCompletionRequest(current, model, toolSupported)

	onRetry := func(cause error, delay time.Duration) {
		emit(retryAttemptResponse(cause, delay))
	}
	return retry.Do(ctx, o.retryCfg, onRetry, func(ctx context.Context) (AssembledMessage, error) {
		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return AssembledMessage{}, err
		}

		asm := NewAssembler(AssemblerConfig{InterruptOnInlineToolCall: !toolSupported})
		for chunk := range chunks {
			if chunk.Error != nil {
				return AssembledMessage{}, chunk.Error
			}
			if !asm.Feed(chunk) {
				break
			}
		}
		return asm.Finish()
	})
}

// maybeCompact runs the Compactor's summarize-and-splice pipeline against a
// clone of current if ag's compaction policy fires, returning nil (no
// error, no replacement) when compaction is disabled or does not trigger.
func (o *Orchestrator) maybeCompact(ctx context.Context, ag *models.Agent, provider LLMProvider, current *models.Context, strategy compaction.CompactionStrategy) (*models.Context, error) {
	if ag.Compact == nil {
		return nil, nil
	}
	if !ag.Compact.ShouldCompact(current, uint64(current.TokenCount())) {
		return nil, nil
	}

	summaryProvider := provider
	if ag.Compact.Model != "" && ag.Compact.Model != ag.Model {
		if p, err := o.resolve(ag.Compact.Model); err == nil {
			summaryProvider = p
		}
	}

	clone := current.Clone()
	next, didCompact, err := compaction.Compact(ctx, providerAsCompletionProvider{summaryProvider}, clone, ag.Compact, strategy)
	if err != nil {
		return nil, err
	}
	if !didCompact {
		return nil, nil
	}
	return next, nil
}

// toCompletionRequest flattens a Context into the CompletionRequest shape a
// provider expects: the system message extracted separately, text/tool/image
// messages converted to CompletionMessage, and sampling params carried
// through.
func toCompletionRequest(ctx *models.Context, model models.ModelId, toolSupported bool) *CompletionRequest {
	req := &CompletionRequest{Model: string(model), Messages: make([]CompletionMessage, 0, len(ctx.Messages))}

	if ctx.MaxTokens != nil {
		req.MaxTokens = *ctx.MaxTokens
	}
	if ctx.Reasoning != nil {
		req.EnableThinking = ctx.Reasoning.Enabled
		req.ThinkingBudgetTokens = ctx.Reasoning.BudgetTokens
	}
	if toolSupported {
		req.Tools = make([]Tool, 0, len(ctx.Tools))
		for _, def := range ctx.Tools {
			req.Tools = append(req.Tools, toolDefAdapter{def: def})
		}
	}

	for _, m := range ctx.Messages {
		switch m.Kind {
		case models.MessageText:
			if m.Role == models.RoleSystem {
				req.System = m.Content
				continue
			}
			cm := CompletionMessage{Role: string(m.Role), Content: m.Content}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, models.ToolCall{ID: tc.CallID, Name: tc.Name, Input: tc.Arguments})
			}
			req.Messages = append(req.Messages, cm)
		case models.MessageTool:
			if m.ToolResult == nil {
				continue
			}
			req.Messages = append(req.Messages, CompletionMessage{
				Role:        string(models.RoleTool),
				ToolResults: []models.ToolResult{*m.ToolResult},
			})
		case models.MessageImage:
			if m.Image == nil {
				continue
			}
			req.Messages = append(req.Messages, CompletionMessage{
				Role:        string(models.RoleUser),
				Attachments: []models.Attachment{{URL: m.Image.URL, Data: m.Image.Data, MimeType: m.Image.MimeType}},
			})
		}
	}

	return req
}

// providerAsCompletionProvider adapts the agent package's LLMProvider to
// the Compactor's narrower CompletionProvider interface, translating
// between the two packages' independent CompletionRequest/Chunk shapes so
// internal/compaction never has to import internal/agent.
type providerAsCompletionProvider struct {
	provider LLMProvider
}

func (a providerAsCompletionProvider) Complete(ctx context.Context, req *compaction.CompletionRequest) (<-chan *compaction.CompletionChunk, error) {
	msgs := make([]CompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = CompletionMessage{Role: m.Role, Content: m.Content}
	}

	chunks, err := a.provider.Complete(ctx, &CompletionRequest{Model: req.Model, Messages: msgs, MaxTokens: req.MaxTokens})
	if err != nil {
		return nil, err
	}

	out := make(chan *compaction.CompletionChunk)
	go func() {
		defer close(out)
		for c := range chunks {
			if c == nil {
				continue
			}
			out <- &compaction.CompletionChunk{Text: c.Text, Error: c.Error}
		}
	}()
	return out, nil
}
