package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the turn loop's initialization phase. All are
// configuration errors: fatal, never retried, propagated to the caller.
var (
	// ErrMissingModel indicates an agent has no model bound and dispatch
	// cannot proceed.
	ErrMissingModel = errors.New("agent has no model bound")

	// ErrAgentUndefined indicates a lookup for an agent id found no match.
	ErrAgentUndefined = errors.New("agent undefined")

	// ErrNoProvider indicates no LLM provider resolves the agent's model.
	ErrNoProvider = errors.New("no provider configured")
)

// LoopPhase tags a LoopError with the turn-loop phase it escaped from.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseCompact      LoopPhase = "compact"
	PhaseExecuteTools LoopPhase = "execute_tools"
)

// LoopError wraps an error escaping the turn loop with the phase and
// iteration it occurred in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error { return e.Cause }
