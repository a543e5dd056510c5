package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/forgewright/coreloop/internal/agent"
)

// PatchTool applies exact find/replace edits to one workspace file. Edits
// apply in order against the evolving content; any edit whose old_text is
// absent fails the whole call without writing.
type PatchTool struct {
	resolver Resolver
}

// NewPatchTool creates the fs_patch tool scoped to the workspace.
func NewPatchTool(cfg Config) *PatchTool {
	return &PatchTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *PatchTool) Name() string { return "fs_patch" }

func (t *PatchTool) Description() string {
	return "Apply one or more exact find/replace edits to a file in the workspace."
}

func (t *PatchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to edit, relative to the workspace."},
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"old_text": {"type": "string", "description": "Exact text to replace."},
						"new_text": {"type": "string", "description": "Replacement text."},
						"replace_all": {"type": "boolean", "description": "Replace every occurrence (default: first only)."}
					},
					"required": ["old_text", "new_text"]
				}
			}
		},
		"required": ["path", "edits"]
	}`)
}

func (t *PatchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	replacements := 0
	for i, edit := range input.Edits {
		if edit.OldText == "" {
			return toolError(fmt.Sprintf("edit %d: old_text is required", i+1)), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return toolError(fmt.Sprintf("edit %d: old_text not found in %s", i+1, input.Path)), nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := fmt.Sprintf(`<file_operation path=%q operation="patch" replacements=%d/>`, input.Path, replacements)
	return &agent.ToolResult{Content: result}, nil
}
