package models

import "encoding/json"

// ToolChoiceMode constrains how a model may select tools for a completion.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// ToolChoice steers tool selection for a single completion request.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	// Name, if set alongside a non-auto mode, forces selection of one named tool.
	Name string `json:"name,omitempty"`
}

// ToolDefinition is the catalog entry a model sees for one callable tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// NewToolDefinition builds a bare ToolDefinition carrying only a name and
// description, used for agent-as-tool handoffs that have no input schema.
func NewToolDefinition(name, description string) ToolDefinition {
	return ToolDefinition{Name: name, Description: description}
}

// CompletionToolName is the reserved tool name an agent calls to signal task
// completion; the Turn Loop always appends its definition to the exposed
// tool set and treats a call to it as the end-of-turn signal.
const CompletionToolName = "forge_task_complete"

// CompletionToolDefinition is the reserved completion tool every turn
// exposes regardless of the agent's own tool allow-list.
func CompletionToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        CompletionToolName,
		Description: "Signal that the current task is complete and no further tool calls are needed.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "A short summary of what was accomplished."}
			},
			"required": ["summary"]
		}`),
	}
}
