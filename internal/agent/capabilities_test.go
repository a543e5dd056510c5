package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/pkg/models"
)

// capsProvider is a provider stub whose model table drives capability
// resolution tests.
type capsProvider struct {
	models        []Model
	supportsTools bool
}

func (p *capsProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk)
	close(ch)
	return ch, nil
}

func (p *capsProvider) Name() string        { return "caps" }
func (p *capsProvider) Models() []Model     { return p.models }
func (p *capsProvider) SupportsTools() bool { return p.supportsTools }

func boolPtr(v bool) *bool { return &v }

func TestResolveCapabilities_MissingModel(t *testing.T) {
	_, err := ResolveCapabilities(models.Agent{ID: "a"}, &capsProvider{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingModel)
}

func TestResolveCapabilities_DefaultsFalse(t *testing.T) {
	// Unknown model, provider without tool support: everything false.
	caps, err := ResolveCapabilities(
		models.Agent{ID: "a", Model: "mystery"},
		&capsProvider{},
	)
	require.NoError(t, err)
	assert.False(t, caps.ToolSupported)
	assert.False(t, caps.ParallelToolCalls)
	assert.False(t, caps.Reasoning)
}

func TestResolveCapabilities_ModelLookup(t *testing.T) {
	provider := &capsProvider{
		supportsTools: true,
		models: []Model{
			{ID: "plain"},
			{ID: "fancy", SupportsParallelToolCalls: true, SupportsReasoning: true},
		},
	}

	caps, err := ResolveCapabilities(models.Agent{ID: "a", Model: "fancy"}, provider)
	require.NoError(t, err)
	assert.True(t, caps.ToolSupported)
	assert.True(t, caps.ParallelToolCalls)
	assert.True(t, caps.Reasoning)

	caps, err = ResolveCapabilities(models.Agent{ID: "a", Model: "plain"}, provider)
	require.NoError(t, err)
	assert.True(t, caps.ToolSupported)
	assert.False(t, caps.ParallelToolCalls)
	assert.False(t, caps.Reasoning)
}

func TestResolveCapabilities_AgentOverrideWins(t *testing.T) {
	provider := &capsProvider{
		supportsTools: true,
		models: []Model{
			{ID: "fancy", SupportsParallelToolCalls: true, SupportsReasoning: true},
		},
	}

	ag := models.Agent{
		ID:                 "a",
		Model:              "fancy",
		ToolSupported:      boolPtr(false),
		ParallelToolCalls:  boolPtr(false),
		ReasoningSupported: boolPtr(false),
	}
	caps, err := ResolveCapabilities(ag, provider)
	require.NoError(t, err)
	assert.False(t, caps.ToolSupported)
	assert.False(t, caps.ParallelToolCalls)
	assert.False(t, caps.Reasoning)

	// And the override can also enable what the model table denies.
	ag = models.Agent{ID: "a", Model: "unknown", ReasoningSupported: boolPtr(true)}
	caps, err = ResolveCapabilities(ag, provider)
	require.NoError(t, err)
	assert.True(t, caps.Reasoning)
}
