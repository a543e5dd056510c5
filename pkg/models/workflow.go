package models

import "encoding/json"

// Command is one slash command a workflow exposes. The default agent is
// automatically subscribed to every command's name, so dispatching a
// command event always reaches it.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// Workflow is the declarative definition a Conversation is constructed
// from: the agent roster plus workflow-level defaults that fill in any
// field an agent leaves unset.
type Workflow struct {
	Agents   []Agent   `json:"agents"`
	Commands []Command `json:"commands,omitempty"`

	// Model, if set, binds every agent (and every agent's compaction
	// config) to this model, overriding whatever the agent declares.
	Model ModelId `json:"model,omitempty"`

	// CustomRules are folded into each agent's system prompt rendering.
	CustomRules string `json:"custom_rules,omitempty"`

	// Variables seed the conversation's variable map.
	Variables map[string]json.RawMessage `json:"variables,omitempty"`

	// ToolSupported, sampling params, and the per-turn bounds apply to any
	// agent that does not set its own value.
	ToolSupported *bool    `json:"tool_supported,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`

	MaxToolFailurePerTurn *int `json:"max_tool_failure_per_turn,omitempty"`
	MaxRequestsPerTurn    *int `json:"max_requests_per_turn,omitempty"`
}

// NewConversationFromWorkflow builds a Conversation whose agents have the
// workflow-level defaults applied: an unset agent field inherits the
// workflow's value, the workflow model (when present) overwrites every
// agent model and compaction model, and the default agent is subscribed to
// each configured command name.
func NewConversationFromWorkflow(id ConversationID, w Workflow) *Conversation {
	agents := make([]Agent, len(w.Agents))
	for i, ag := range w.Agents {
		agents[i] = w.applyDefaults(ag)
	}

	conv := NewConversation(id, agents)
	conv.CustomRules = w.CustomRules
	conv.MaxToolFailurePerTurn = w.MaxToolFailurePerTurn
	conv.MaxRequestsPerTurn = w.MaxRequestsPerTurn
	for k, v := range w.Variables {
		conv.SetVariable(k, v)
	}
	return conv
}

func (w Workflow) applyDefaults(ag Agent) Agent {
	if ag.Model == "" {
		ag.Model = w.Model
	}
	if ag.ToolSupported == nil {
		ag.ToolSupported = w.ToolSupported
	}
	if ag.Temperature == nil {
		ag.Temperature = w.Temperature
	}
	if ag.TopP == nil {
		ag.TopP = w.TopP
	}
	if ag.TopK == nil {
		ag.TopK = w.TopK
	}

	// A workflow model is authoritative: it overwrites per-agent models and
	// per-agent compaction models even when those are already set.
	if w.Model != "" {
		ag.Model = w.Model
		if ag.Compact != nil {
			compact := *ag.Compact
			compact.Model = w.Model
			ag.Compact = &compact
		}
	}

	if ag.ID == DefaultAgentId {
		ag.Subscribe = subscribeToCommands(ag.Subscribe, w.Commands)
	}
	return ag
}

// subscribeToCommands appends each command name missing from subs.
func subscribeToCommands(subs []string, commands []Command) []string {
	seen := make(map[string]bool, len(subs))
	for _, s := range subs {
		seen[s] = true
	}
	out := append([]string(nil), subs...)
	for _, cmd := range commands {
		if cmd.Name == "" || seen[cmd.Name] {
			continue
		}
		seen[cmd.Name] = true
		out = append(out, cmd.Name)
	}
	return out
}
