// Package state defines the per-command circuit records and the flocked
// JSON store that persists them across hook invocations.
package state

import "time"

// CircuitState is the per-command circuit position.
type CircuitState string

const (
	// StateClosed means normal execution.
	StateClosed CircuitState = "closed"
	// StateOpen means the command is disabled and execution is skipped.
	StateOpen CircuitState = "open"
	// StateHalfOpen means probation: the next outcomes decide closed vs open.
	StateHalfOpen CircuitState = "half_open"
)

// HookState is one circuit record, keyed by the exact command line.
// failure_count is lifetime and reporting-only; consecutive_failures drives
// the open transition.
type HookState struct {
	CommandID            string       `json:"command_id"`
	State                CircuitState `json:"state"`
	FailureCount         int          `json:"failure_count"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	LastError            string       `json:"last_error,omitempty"`
	LastFailure          *time.Time   `json:"last_failure,omitempty"`
	LastSuccess          *time.Time   `json:"last_success,omitempty"`
	DisabledAt           *time.Time   `json:"disabled_at,omitempty"`
	RetryAfter           *time.Time   `json:"retry_after,omitempty"`
}

// NewHookState returns a fresh closed record for commandID.
func NewHookState(commandID string) HookState {
	return HookState{CommandID: commandID, State: StateClosed}
}

// GlobalStats aggregates counters across all commands.
type GlobalStats struct {
	TotalExecutions int64 `json:"total_executions"`
	TotalFailures   int64 `json:"total_failures"`
}

// Snapshot is the in-memory copy of the state file mutated inside the
// store's locked critical section.
type Snapshot struct {
	Commands map[string]HookState
	Global   GlobalStats
}

// Record returns the record for commandID, creating a fresh closed one when
// absent. Missing records are never an error.
func (s *Snapshot) Record(commandID string) HookState {
	if st, ok := s.Commands[commandID]; ok {
		return st
	}
	return NewHookState(commandID)
}

// SetRecord stores st under its command ID.
func (s *Snapshot) SetRecord(st HookState) {
	if s.Commands == nil {
		s.Commands = make(map[string]HookState)
	}
	s.Commands[st.CommandID] = st
}
