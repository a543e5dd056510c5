// Package files implements the workspace file tools: fs_read, fs_create,
// fs_remove, fs_patch, and fs_apply_patch. All paths resolve through a
// workspace-confining Resolver, and read output uses the same
// <file_content> element the prompt composer renders for event attachments.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/forgewright/coreloop/internal/agent"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is the root directory every path is confined to.
	Workspace string

	// MaxReadLines caps how many lines one fs_read call returns.
	MaxReadLines int
}

const defaultMaxReadLines = 2000

// ReadTool reads a line range from a workspace file.
type ReadTool struct {
	resolver Resolver
	maxLines int
}

// NewReadTool creates the fs_read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadLines
	if limit <= 0 {
		limit = defaultMaxReadLines
	}
	return &ReadTool{resolver: Resolver{Root: cfg.Workspace}, maxLines: limit}
}

func (t *ReadTool) Name() string { return "fs_read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace, optionally restricted to a line range."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file, relative to the workspace."},
			"start_line": {"type": "integer", "description": "First line to read, 1-based (default: 1).", "minimum": 1},
			"end_line": {"type": "integer", "description": "Last line to read, inclusive (default: end of file).", "minimum": 1}
		},
		"required": ["path"]
	}`)
}

// Execute reads the requested range and wraps it in a <file_content>
// element carrying the range and total line count.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	totalLines := len(lines)

	start := input.StartLine
	if start < 1 {
		start = 1
	}
	end := input.EndLine
	if end < 1 || end > totalLines {
		end = totalLines
	}
	if start > totalLines {
		return toolError(fmt.Sprintf("start_line %d is past the end of the file (%d lines)", start, totalLines)), nil
	}
	if end < start {
		return toolError("end_line must not precede start_line"), nil
	}
	if end-start+1 > t.maxLines {
		end = start + t.maxLines - 1
	}

	body := strings.Join(lines[start-1:end], "\n")
	content := fmt.Sprintf(
		"<file_content path=%q start_line=%d end_line=%d total_lines=%d>\n%s\n</file_content>",
		input.Path, start, end, totalLines, body,
	)
	return &agent.ToolResult{Content: content}, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
