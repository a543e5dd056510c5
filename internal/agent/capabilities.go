package agent

import (
	"github.com/forgewright/coreloop/pkg/models"
)

// Capabilities are the per-turn model capabilities the Turn Loop resolves
// once and shares with the Prompt Composer: native tool calling, parallel
// tool calls, and extended reasoning.
type Capabilities struct {
	ToolSupported     bool
	ParallelToolCalls bool
	Reasoning         bool
}

// ResolveCapabilities resolves every capability with the same precedence:
// agent override, then the provider's model entry, then false. Tool support
// additionally falls back to the provider-level capability, since a
// provider either speaks native tool calls for all its models or for none.
// A missing model binding is an error — capabilities are per-model, so
// there is nothing to resolve against.
func ResolveCapabilities(ag models.Agent, provider LLMProvider) (Capabilities, error) {
	if ag.Model == "" {
		return Capabilities{}, ErrMissingModel
	}

	var entry *Model
	for _, m := range provider.Models() {
		if m.ID == string(ag.Model) {
			entry = &m
			break
		}
	}

	caps := Capabilities{ToolSupported: provider.SupportsTools()}
	if entry != nil {
		caps.ParallelToolCalls = entry.SupportsParallelToolCalls
		caps.Reasoning = entry.SupportsReasoning
	}

	if ag.ToolSupported != nil {
		caps.ToolSupported = *ag.ToolSupported
	}
	if ag.ParallelToolCalls != nil {
		caps.ParallelToolCalls = *ag.ParallelToolCalls
	}
	if ag.ReasoningSupported != nil {
		caps.Reasoning = *ag.ReasoningSupported
	}

	return caps, nil
}
