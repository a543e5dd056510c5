package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ConversationID uniquely identifies a conversation for its lifetime.
type ConversationID string

// NewConversationID generates a fresh random conversation id.
func NewConversationID() ConversationID {
	return ConversationID(uuid.NewString())
}

// Conversation owns the message log, variables, per-agent configuration,
// and received-event history for one session. It is mutated only by the
// orchestrator task that drives it; never concurrently.
type Conversation struct {
	ID        ConversationID             `json:"id"`
	Archived  bool                       `json:"archived"`
	Context   *Context                   `json:"context,omitempty"`
	Variables map[string]json.RawMessage `json:"variables"`
	Agents    []Agent                    `json:"agents"`
	Events    []Event                    `json:"events"`

	// CustomRules are workflow-level instructions rendered into every
	// agent's system prompt.
	CustomRules string `json:"custom_rules,omitempty"`

	// MaxToolFailurePerTurn, if set, bounds how many times a single tool
	// name may fail within one turn before the loop interrupts. Nil means
	// unbounded.
	MaxToolFailurePerTurn *int `json:"max_tool_failure_per_turn,omitempty"`

	// MaxRequestsPerTurn, if set, bounds how many chat requests one turn may
	// issue before the loop interrupts. Nil means unbounded.
	MaxRequestsPerTurn *int `json:"max_requests_per_turn,omitempty"`

	// ToolFailureAttempts counts consecutive failures per tool name, scoped
	// to the current turn; ResetTurnCounters clears it between turns.
	ToolFailureAttempts map[string]int `json:"-"`
}

// NewConversation builds an empty Conversation seeded with the given agents.
func NewConversation(id ConversationID, agents []Agent) *Conversation {
	return &Conversation{
		ID:        id,
		Variables: make(map[string]json.RawMessage),
		Agents:    agents,
	}
}

// GetAgent looks up an agent by id.
func (c *Conversation) GetAgent(id AgentId) (*Agent, error) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], nil
		}
	}
	return nil, fmt.Errorf("agent undefined: %s", id)
}

// MainModel returns the default agent's bound model.
func (c *Conversation) MainModel() (ModelId, error) {
	agent, err := c.GetAgent(DefaultAgentId)
	if err != nil {
		return "", err
	}
	if agent.Model == "" {
		return "", fmt.Errorf("no model defined for agent: %s", agent.ID)
	}
	return agent.Model, nil
}

// SetMainModel updates the default agent's bound model.
func (c *Conversation) SetMainModel(model ModelId) error {
	for i := range c.Agents {
		if c.Agents[i].ID == DefaultAgentId {
			c.Agents[i].Model = model
			return nil
		}
	}
	return fmt.Errorf("agent undefined: %s", DefaultAgentId)
}

// Subscriptions returns every agent subscribed to the named event.
func (c *Conversation) Subscriptions(eventName string) []Agent {
	var out []Agent
	for _, a := range c.Agents {
		for _, sub := range a.Subscribe {
			if sub == eventName {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// DispatchEvent appends event to the event history and returns the ids of
// every agent subscribed to it.
func (c *Conversation) DispatchEvent(event Event) []AgentId {
	subs := c.Subscriptions(event.Name)
	ids := make([]AgentId, 0, len(subs))
	for _, a := range subs {
		ids = append(ids, a.ID)
	}
	c.Events = append(c.Events, event)
	return ids
}

// RFindEvent returns the most recent event with the given name, if any.
func (c *Conversation) RFindEvent(name string) *Event {
	for i := len(c.Events) - 1; i >= 0; i-- {
		if c.Events[i].Name == name {
			return &c.Events[i]
		}
	}
	return nil
}

// GetVariable returns a variable's raw JSON value, if set.
func (c *Conversation) GetVariable(key string) (json.RawMessage, bool) {
	v, ok := c.Variables[key]
	return v, ok
}

// SetVariable sets a variable's value.
func (c *Conversation) SetVariable(key string, value json.RawMessage) {
	if c.Variables == nil {
		c.Variables = make(map[string]json.RawMessage)
	}
	c.Variables[key] = value
}

// VariablesMap decodes the raw JSON variables into the template-facing map
// the prompt composer renders. A value that fails to decode is passed
// through as its raw string.
func (c *Conversation) VariablesMap() map[string]any {
	if len(c.Variables) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.Variables))
	for k, raw := range c.Variables {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			out[k] = string(raw)
			continue
		}
		out[k] = v
	}
	return out
}

// ResetTurnCounters clears the per-tool failure counters at the start of a
// new turn.
func (c *Conversation) ResetTurnCounters() {
	c.ToolFailureAttempts = make(map[string]int)
}

// RecordToolFailure increments name's failure counter and returns the new
// count.
func (c *Conversation) RecordToolFailure(name string) int {
	if c.ToolFailureAttempts == nil {
		c.ToolFailureAttempts = make(map[string]int)
	}
	c.ToolFailureAttempts[name]++
	return c.ToolFailureAttempts[name]
}

// ClearToolFailure resets name's failure counter to zero, used when a tool
// call succeeds after prior failures.
func (c *Conversation) ClearToolFailure(name string) {
	if c.ToolFailureAttempts == nil {
		return
	}
	delete(c.ToolFailureAttempts, name)
}

// ToolFailureCount returns name's current failure count for this turn.
func (c *Conversation) ToolFailureCount(name string) int {
	return c.ToolFailureAttempts[name]
}

// ToolFailureLimitExceeded reports whether name's failure count has already
// reached MaxToolFailurePerTurn (always false when the bound is unset).
func (c *Conversation) ToolFailureLimitExceeded(name string) bool {
	if c.MaxToolFailurePerTurn == nil {
		return false
	}
	return c.ToolFailureAttempts[name] >= *c.MaxToolFailurePerTurn
}

// DeleteVariable removes a variable, reporting whether it was present.
func (c *Conversation) DeleteVariable(key string) bool {
	if _, ok := c.Variables[key]; !ok {
		return false
	}
	delete(c.Variables, key)
	return true
}
