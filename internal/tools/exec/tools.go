package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/truncate"
)

// Default head/tail line counts the Output Truncator clips shell stdout and
// stderr to before they are returned to the model.
const (
	DefaultPrefixLines = 10
	DefaultSuffixLines = 10
)

// ShellTool runs shell commands, shaping stdout/stderr through the Output
// Truncator before they reach the model.
type ShellTool struct {
	name        string
	manager     *Manager
	prefixLines int
	suffixLines int
}

// NewShellTool creates a shell tool with the given name (defaults to
// "shell").
func NewShellTool(name string, manager *Manager) *ShellTool {
	if strings.TrimSpace(name) == "" {
		name = "shell"
	}
	return &ShellTool{name: name, manager: manager, prefixLines: DefaultPrefixLines, suffixLines: DefaultSuffixLines}
}

// WithTruncation overrides the head/tail line counts applied to stdout and
// stderr.
func (t *ShellTool) WithTruncation(prefixLines, suffixLines int) *ShellTool {
	t.prefixLines = prefixLines
	t.suffixLines = suffixLines
	return t
}

func (t *ShellTool) Name() string { return t.name }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute."},
			"cwd": {"type": "string", "description": "Working directory, relative to the workspace."},
			"env": {"type": "object", "description": "Environment overrides (string values)."},
			"input": {"type": "string", "description": "Stdin content to pass to the command."},
			"timeout_seconds": {"type": "integer", "description": "Timeout in seconds (0 = no timeout).", "minimum": 0},
			"background": {"type": "boolean", "description": "Run in background and return a process id."}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("shell manager unavailable"), nil
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		info, err := t.manager.StartBackground(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return toolError(err.Error()), nil
		}
		return &agent.ToolResult{
			Content: fmt.Sprintf(`<shell_background process_id=%q status="running"/>`, info.ID),
		}, nil
	}

	result, err := t.manager.RunCommand(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}

	stdout := truncate.Lines("stdout", result.Stdout, t.prefixLines, t.suffixLines)
	stderr := truncate.Lines("stderr", result.Stderr, t.prefixLines, t.suffixLines)

	var b strings.Builder
	fmt.Fprintf(&b, "<shell_output command=%q exit_code=%d duration_ms=%d>\n",
		command, result.ExitCode, result.Duration.Milliseconds())
	if stdout.Text != "" {
		writeStream(&b, "stdout", stdout)
	}
	if stderr.Text != "" {
		writeStream(&b, "stderr", stderr)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "<error>%s</error>\n", result.Error)
	}
	b.WriteString("</shell_output>")

	toolResult := &agent.ToolResult{Content: b.String(), IsError: result.ExitCode != 0}
	for _, stream := range []struct {
		tag string
		res truncate.LineResult
	}{{"stdout", stdout}, {"stderr", stderr}} {
		if stream.res.TempFilePath != "" {
			toolResult.Artifacts = append(toolResult.Artifacts, agent.Artifact{
				Type:     stream.tag,
				MimeType: "text/plain",
				URL:      stream.res.TempFilePath,
			})
		}
	}
	return toolResult, nil
}

// writeStream emits one stream's shaped output: the truncator's result
// already carries the <stdout>/<stderr> framing when clipped, so unclipped
// output gets the plain single-block framing here.
func writeStream(b *strings.Builder, tag string, res truncate.LineResult) {
	if res.Truncated {
		b.WriteString(res.Text)
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "<%s>\n%s</%s>\n", tag, ensureTrailingNewline(res.Text), tag)
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// ProcessTool inspects and manages background shell processes.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool bound to manager.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background shell processes (list, status, log, write, kill, remove)."
}

func (t *ProcessTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["list", "status", "log", "write", "kill", "remove"], "description": "Action to perform."},
			"process_id": {"type": "string", "description": "Process id for actions that target a process."},
			"input": {"type": "string", "description": "Input for the write action."}
		},
		"required": ["action"]
	}`)
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	if t.manager == nil {
		return toolError("process manager unavailable"), nil
	}
	var input struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))

	if action == "list" {
		payload, _ := json.MarshalIndent(map[string]any{"processes": t.manager.List()}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	}

	id := strings.TrimSpace(input.ProcessID)
	if id == "" {
		return toolError("process_id is required"), nil
	}
	proc, ok := t.manager.get(id)
	if !ok {
		return toolError("process not found: " + id), nil
	}

	switch action {
	case "status":
		payload, _ := json.MarshalIndent(proc.info(), "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	case "log":
		payload, _ := json.MarshalIndent(map[string]any{
			"stdout": proc.stdout.String(),
			"stderr": proc.stderr.String(),
			"status": proc.status(),
		}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	case "write":
		if proc.stdin == nil {
			return toolError("process stdin unavailable"), nil
		}
		if input.Input == "" {
			return toolError("input is required"), nil
		}
		if _, err := proc.stdin.Write([]byte(input.Input)); err != nil {
			return toolError(fmt.Sprintf("write stdin: %v", err)), nil
		}
		return &agent.ToolResult{Content: `{"status": "written"}`}, nil

	case "kill":
		if proc.cmd.Process == nil {
			return toolError("process not running"), nil
		}
		if err := proc.cmd.Process.Kill(); err != nil {
			return toolError(fmt.Sprintf("kill process: %v", err)), nil
		}
		return &agent.ToolResult{Content: `{"status": "killed"}`}, nil

	case "remove":
		if proc.status() == "running" {
			return toolError("process still running"), nil
		}
		if !t.manager.remove(proc.id) {
			return toolError("remove failed"), nil
		}
		return &agent.ToolResult{Content: `{"status": "removed"}`}, nil
	}

	return toolError("unsupported action: " + action), nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
