package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runShell(t *testing.T, tool *ShellTool, params map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	result, err := tool.Execute(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)
	return result.Content
}

func TestShellToolRunsCommand(t *testing.T) {
	tool := NewShellTool("shell", NewManager(t.TempDir()))

	content := runShell(t, tool, map[string]any{"command": "echo hello"})
	assert.Contains(t, content, "exit_code=0")
	assert.Contains(t, content, "<stdout>\nhello\n</stdout>")
}

func TestShellToolNonZeroExitIsError(t *testing.T) {
	tool := NewShellTool("shell", NewManager(t.TempDir()))
	raw, _ := json.Marshal(map[string]any{"command": "exit 3"})

	result, err := tool.Execute(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "exit_code=3")
}

// 25 stdout lines with a 10/10 clip produce two <stdout> blocks around a
// five-line <truncated> marker, and the spilled temp file holds all 25.
func TestShellToolTruncatesLongOutput(t *testing.T) {
	tool := NewShellTool("shell", NewManager(t.TempDir())).WithTruncation(10, 10)

	content := runShell(t, tool, map[string]any{"command": "seq 1 25"})
	assert.Contains(t, content, `<stdout lines="1-10">`)
	assert.Contains(t, content, "(5 lines not shown")
	assert.Contains(t, content, `<stdout lines="16-25">`)

	raw, _ := json.Marshal(map[string]any{"command": "seq 1 25"})
	result, err := tool.Execute(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 1)

	spilled, err := os.ReadFile(result.Artifacts[0].URL)
	require.NoError(t, err)
	var want strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&want, "%d\n", i)
	}
	assert.Equal(t, want.String(), string(spilled))
}

func TestProcessToolLifecycle(t *testing.T) {
	mgr := NewManager(t.TempDir())
	shell := NewShellTool("shell", mgr)
	procTool := NewProcessTool(mgr)

	content := runShell(t, shell, map[string]any{
		"command":    "echo background",
		"background": true,
	})
	require.Contains(t, content, "<shell_background process_id=")

	start := strings.Index(content, `process_id="`) + len(`process_id="`)
	id := content[start : start+strings.Index(content[start:], `"`)]
	require.NotEmpty(t, id)

	time.Sleep(50 * time.Millisecond)

	raw, _ := json.Marshal(map[string]any{"action": "status", "process_id": id})
	result, err := procTool.Execute(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, `"exited"`)

	raw, _ = json.Marshal(map[string]any{"action": "log", "process_id": id})
	result, err = procTool.Execute(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "background")

	raw, _ = json.Marshal(map[string]any{"action": "remove", "process_id": id})
	result, err = procTool.Execute(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)

	raw, _ = json.Marshal(map[string]any{"action": "status", "process_id": id})
	result, err = procTool.Execute(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestProcessToolUnknownAction(t *testing.T) {
	procTool := NewProcessTool(NewManager(t.TempDir()))
	raw, _ := json.Marshal(map[string]any{"action": "dance", "process_id": "x"})
	result, err := procTool.Execute(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
