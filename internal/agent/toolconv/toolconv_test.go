package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/forgewright/coreloop/pkg/models"
)

var readTool = models.ToolDefinition{
	Name:        "fs_read",
	Description: "Read a file from the workspace",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path"},
			"mode": {"type": "string", "enum": ["text", "binary"]}
		},
		"required": ["path"]
	}`),
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools([]models.ToolDefinition{readTool})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.EqualValues(t, "fs_read", tools[0].OfTool.Name)

	empty, err := ToAnthropicTools(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestToAnthropicTools_EmptySchemaNormalized(t *testing.T) {
	tools, err := ToAnthropicTools([]models.ToolDefinition{{Name: "noop", Description: "does nothing"}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]models.ToolDefinition{readTool})
	require.Len(t, tools, 1)
	assert.Equal(t, "fs_read", tools[0].Function.Name)
	assert.Equal(t, "Read a file from the workspace", tools[0].Function.Description)

	params, ok := tools[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools([]models.ToolDefinition{readTool})
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 1)

	decl := tools[0].FunctionDeclarations[0]
	assert.Equal(t, "fs_read", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"path"}, decl.Parameters.Required)

	mode, ok := decl.Parameters.Properties["mode"]
	require.True(t, ok)
	assert.Equal(t, []string{"text", "binary"}, mode.Enum)
}

func TestToGeminiSchema_Items(t *testing.T) {
	schema := ToGeminiSchema(map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "string",
		},
	})
	require.NotNil(t, schema.Items)
	assert.Equal(t, genai.TypeString, schema.Items.Type)
}
