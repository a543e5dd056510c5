package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversationFromWorkflow_InheritsDefaults(t *testing.T) {
	temp := 0.2
	topP := 0.9
	topK := 40
	supported := false

	w := Workflow{
		Model:         "workflow-model",
		ToolSupported: &supported,
		Temperature:   &temp,
		TopP:          &topP,
		TopK:          &topK,
		Agents: []Agent{
			{ID: DefaultAgentId},
		},
	}

	conv := NewConversationFromWorkflow(NewConversationID(), w)
	ag, err := conv.GetAgent(DefaultAgentId)
	require.NoError(t, err)

	assert.Equal(t, ModelId("workflow-model"), ag.Model)
	require.NotNil(t, ag.ToolSupported)
	assert.False(t, *ag.ToolSupported)
	require.NotNil(t, ag.Temperature)
	assert.Equal(t, temp, *ag.Temperature)
	require.NotNil(t, ag.TopP)
	assert.Equal(t, topP, *ag.TopP)
	require.NotNil(t, ag.TopK)
	assert.Equal(t, topK, *ag.TopK)
}

func TestNewConversationFromWorkflow_ModelOverwritesAgentAndCompaction(t *testing.T) {
	w := Workflow{
		Model: "workflow-model",
		Agents: []Agent{
			{
				ID:      DefaultAgentId,
				Model:   "agent-model",
				Compact: NewCompactionConfig("compact-model"),
			},
		},
	}

	conv := NewConversationFromWorkflow(NewConversationID(), w)
	ag, err := conv.GetAgent(DefaultAgentId)
	require.NoError(t, err)

	assert.Equal(t, ModelId("workflow-model"), ag.Model)
	require.NotNil(t, ag.Compact)
	assert.Equal(t, ModelId("workflow-model"), ag.Compact.Model)
}

func TestNewConversationFromWorkflow_AgentFieldsWinOverDefaults(t *testing.T) {
	wTemp := 0.2
	agTemp := 0.8
	wSupported := false
	agSupported := true

	w := Workflow{
		Temperature:   &wTemp,
		ToolSupported: &wSupported,
		Agents: []Agent{
			{ID: "reviewer", Model: "agent-model", Temperature: &agTemp, ToolSupported: &agSupported},
		},
	}

	conv := NewConversationFromWorkflow(NewConversationID(), w)
	ag, err := conv.GetAgent("reviewer")
	require.NoError(t, err)

	assert.Equal(t, ModelId("agent-model"), ag.Model)
	assert.Equal(t, agTemp, *ag.Temperature)
	assert.True(t, *ag.ToolSupported)
}

func TestNewConversationFromWorkflow_DefaultAgentSubscribedToCommands(t *testing.T) {
	w := Workflow{
		Model: "m",
		Commands: []Command{
			{Name: "plan"},
			{Name: "fixme"},
		},
		Agents: []Agent{
			{ID: DefaultAgentId, Subscribe: []string{"user_task", "plan"}},
			{ID: "reviewer", Subscribe: []string{"review"}},
		},
	}

	conv := NewConversationFromWorkflow(NewConversationID(), w)

	main, err := conv.GetAgent(DefaultAgentId)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_task", "plan", "fixme"}, main.Subscribe)

	reviewer, err := conv.GetAgent("reviewer")
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, reviewer.Subscribe)

	assert.Equal(t, []AgentId{DefaultAgentId}, conv.DispatchEvent(Event{Name: "fixme"}))
}

func TestNewConversationFromWorkflow_BoundsRulesAndVariables(t *testing.T) {
	failures := 3
	requests := 10
	w := Workflow{
		Model:                 "m",
		CustomRules:           "prefer small diffs",
		MaxToolFailurePerTurn: &failures,
		MaxRequestsPerTurn:    &requests,
		Variables:             map[string]json.RawMessage{"cwd": json.RawMessage(`"/tmp"`)},
		Agents:                []Agent{{ID: DefaultAgentId}},
	}

	conv := NewConversationFromWorkflow(NewConversationID(), w)

	assert.Equal(t, "prefer small diffs", conv.CustomRules)
	require.NotNil(t, conv.MaxToolFailurePerTurn)
	assert.Equal(t, 3, *conv.MaxToolFailurePerTurn)
	require.NotNil(t, conv.MaxRequestsPerTurn)
	assert.Equal(t, 10, *conv.MaxRequestsPerTurn)

	v, ok := conv.GetVariable("cwd")
	require.True(t, ok)
	assert.JSONEq(t, `"/tmp"`, string(v))

	vars := conv.VariablesMap()
	assert.Equal(t, "/tmp", vars["cwd"])
}
