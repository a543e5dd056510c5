package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool

	r.schemaMu.Lock()
	delete(r.schemas, tool.Name())
	r.schemaMu.Unlock()
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)

	r.schemaMu.Lock()
	delete(r.schemas, name)
	r.schemaMu.Unlock()
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// compiledSchema lazily compiles and caches a tool's declared JSON Schema,
// following the plugin manifest validator's cache-by-key pattern.
func (r *ToolRegistry) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	if s, ok := r.schemas[tool.Name()]; ok {
		return s, nil
	}
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString(tool.Name()+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	r.schemas[tool.Name()] = compiled
	return compiled, nil
}

// validateParams checks params against tool's declared schema, if any.
func (r *ToolRegistry) validateParams(tool Tool, params json.RawMessage) error {
	schema, err := r.compiledSchema(tool)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}
	if schema == nil {
		return nil
	}
	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result (never a Go error) if the tool is not found,
// parameters are invalid, or arguments fail schema validation — the Tool
// Executor never throws; failures are captured into ToolResult.IsError
//.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}

	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if err := r.validateParams(tool, params); err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Allowed filters the registry's tools down to names, in the order names
// lists them; unregistered names are skipped. A nil names means "every
// registered tool" (an agent with no Tools allow-list, per
// pkg/models.Agent.Tools), returned in no particular order.
func (r *ToolRegistry) Allowed(names []string) []Tool {
	if names == nil {
		return r.AsLLMTools()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}
