package models

// AgentId identifies an agent within a conversation's workflow.
type AgentId string

// DefaultAgentId is the conventional id of the main (top-level) agent, the
// one the turn loop dispatches user events to by default.
const DefaultAgentId AgentId = "forge"

// ModelId identifies a language model binding, e.g. "claude-opus-4-6".
type ModelId string

// CompactionConfig configures automatic context compaction for an agent. A
// nil *CompactionConfig on Agent disables compaction entirely.
type CompactionConfig struct {
	// RetentionWindow is how many of the most recent messages are never
	// considered for eviction (the "last n" in find_sequence_preserving_last_n).
	RetentionWindow int `json:"retention_window"`

	// MaxTokens, if set, is sent as max_tokens on each summarization request;
	// StrategyFromConfig also narrows the retention window with a 50%
	// eviction strategy when it is set.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// TokenThreshold triggers compaction once the context's estimated token
	// count reaches or exceeds it.
	TokenThreshold *uint64 `json:"token_threshold,omitempty"`

	// TurnThreshold triggers compaction once the number of user messages in
	// the context reaches or exceeds it.
	TurnThreshold *int `json:"turn_threshold,omitempty"`

	// MessageThreshold triggers compaction once the total message count
	// reaches or exceeds it.
	MessageThreshold *int `json:"message_threshold,omitempty"`

	// Prompt, if set, overrides the default summarization instruction.
	Prompt string `json:"prompt,omitempty"`

	// Model is the (usually cheaper/faster) model used to generate the
	// summary of the evicted sub-range.
	Model ModelId `json:"model"`

	// SummaryTag is the XML tag name the summarization response is expected
	// to wrap its summary in, e.g. "<forge_context_summary>...".
	SummaryTag string `json:"summary_tag,omitempty"`
}

// DefaultSummaryTag is the conventional default.
const DefaultSummaryTag = "forge_context_summary"

// NewCompactionConfig returns a CompactionConfig bound to model with every
// optional threshold left unset (compaction then never triggers on its own
// until a threshold is configured).
func NewCompactionConfig(model ModelId) *CompactionConfig {
	return &CompactionConfig{Model: model, SummaryTag: DefaultSummaryTag}
}

// ShouldCompact reports whether any configured threshold has been exceeded.
// tokenCount is the caller's best estimate of the context's current token
// count (usage-reported when available, estimated otherwise).
func (c *CompactionConfig) ShouldCompact(ctx *Context, tokenCount uint64) bool {
	if c == nil {
		return false
	}
	if c.TokenThreshold != nil && tokenCount >= *c.TokenThreshold {
		return true
	}
	if c.TurnThreshold != nil {
		turns := 0
		for _, m := range ctx.Messages {
			if m.Kind == MessageText && m.Role == RoleUser {
				turns++
			}
		}
		if turns >= *c.TurnThreshold {
			return true
		}
	}
	if c.MessageThreshold != nil && len(ctx.Messages) >= *c.MessageThreshold {
		return true
	}
	return false
}

// Agent describes one participant in a conversation's workflow: its model
// binding, prompt templates, tool allowlist, event subscriptions, and
// compaction policy.
type Agent struct {
	ID AgentId `json:"id"`

	// Title is a human-readable name for the agent.
	Title string `json:"title,omitempty"`

	// Model is the language model this agent's completions are requested
	// from. Empty means "resolve from the conversation's workflow default".
	Model ModelId `json:"model,omitempty"`

	// Description is used to build the agent's own ToolDefinition when it is
	// exposed to a parent/orchestrating agent as a callable tool.
	Description string `json:"description,omitempty"`

	// SystemPrompt is the text/template template rendered into the first
	// system message (see the Prompt Composer).
	SystemPrompt string `json:"system_prompt,omitempty"`

	// UserPrompt is the template rendered for each dispatched Event.
	UserPrompt string `json:"user_prompt,omitempty"`

	// Tools restricts the tool catalog offered to this agent. Nil means "all
	// registered tools".
	Tools []string `json:"tools,omitempty"`

	// Subscribe lists the event names that dispatch a turn to this agent.
	Subscribe []string `json:"subscribe,omitempty"`

	// MaxTurns caps how many turn-loop iterations a single dispatch may run.
	// Zero adds no cap of its own; the conversation's MaxRequestsPerTurn, if
	// set, still applies.
	MaxTurns int `json:"max_turns,omitempty"`

	// ToolSupported overrides whether this agent's bound model accepts
	// native tool-call completions (nil defers to the model's own
	// capability).
	ToolSupported *bool `json:"tool_supported,omitempty"`

	// ParallelToolCalls overrides whether the bound model may emit several
	// tool calls in one assistant turn (nil defers to the model's own
	// capability).
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`

	// ReasoningSupported overrides whether the bound model streams extended
	// reasoning (nil defers to the model's own capability).
	ReasoningSupported *bool `json:"reasoning_supported,omitempty"`

	// Compact configures automatic context compaction for this agent. Nil
	// disables compaction.
	Compact *CompactionConfig `json:"compact,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// NewAgent returns an Agent with the given id and every other field at its
// zero value.
func NewAgent(id AgentId) Agent {
	return Agent{ID: id}
}

// ShouldCompact reports whether the agent's Compact policy, if any, fires
// for the given context and token count.
func (a Agent) ShouldCompact(ctx *Context, tokenCount uint64) bool {
	return a.Compact.ShouldCompact(ctx, tokenCount)
}

// SupportsTools reports whether this agent should request native tool-call
// completions, defaulting to true when unset.
func (a Agent) SupportsTools() bool {
	if a.ToolSupported == nil {
		return true
	}
	return *a.ToolSupported
}
