package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgewright/coreloop/internal/agent"
)

// CreateTool writes a file into the workspace, creating parent directories
// as needed.
type CreateTool struct {
	resolver Resolver
}

// NewCreateTool creates the fs_create tool scoped to the workspace.
func NewCreateTool(cfg Config) *CreateTool {
	return &CreateTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *CreateTool) Name() string { return "fs_create" }

func (t *CreateTool) Description() string {
	return "Create or overwrite a file in the workspace with the given content."
}

func (t *CreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to write, relative to the workspace."},
			"content": {"type": "string", "description": "File contents to write."},
			"append": {"type": "boolean", "description": "Append instead of overwrite (default: false)."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	operation := "overwrite"
	if input.Append {
		flags |= os.O_APPEND
		operation = "append"
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	content := fmt.Sprintf(`<file_operation path=%q operation=%q bytes_written=%d/>`, input.Path, operation, n)
	return &agent.ToolResult{Content: content}, nil
}

// RemoveTool deletes a file from the workspace.
type RemoveTool struct {
	resolver Resolver
}

// NewRemoveTool creates the fs_remove tool scoped to the workspace.
func NewRemoveTool(cfg Config) *RemoveTool {
	return &RemoveTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *RemoveTool) Name() string { return "fs_remove" }

func (t *RemoveTool) Description() string {
	return "Remove a single file from the workspace. Directories are not removed."
}

func (t *RemoveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path of the file to remove, relative to the workspace."}
		},
		"required": ["path"]
	}`)
}

func (t *RemoveTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}
	if info.IsDir() {
		return toolError("path is a directory; fs_remove only removes files"), nil
	}

	if err := os.Remove(resolved); err != nil {
		return toolError(fmt.Sprintf("remove file: %v", err)), nil
	}

	content := fmt.Sprintf(`<file_operation path=%q operation="remove"/>`, input.Path)
	return &agent.ToolResult{Content: content}, nil
}
