// Package toolconv converts the engine's tool catalog entries into each
// provider SDK's native tool/function-declaration wire type.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/forgewright/coreloop/pkg/models"
)

// ToAnthropicTools converts catalog entries to Anthropic tool params.
func ToAnthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		param, err := toAnthropicTool(def)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

func toAnthropicTool(def models.ToolDefinition) (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(normalizeSchema(def.Schema), &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
	}

	param := anthropic.ToolUnionParamOfTool(schema, def.Name)
	if param.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
	}
	param.OfTool.Description = anthropic.String(def.Description)
	return param, nil
}

// normalizeSchema substitutes the canonical empty object schema for tools
// declared without one, so every SDK conversion sees valid JSON Schema.
func normalizeSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return schema
}
