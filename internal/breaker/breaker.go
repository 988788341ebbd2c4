// Package breaker implements the closed/open/half-open circuit state machine
// that decides whether a monitored hook command may execute.
package breaker

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/state"
)

// maxErrorLength bounds last_error so one noisy failure can't bloat the
// state file.
const maxErrorLength = 500

// Decision is the outcome of a should-execute query.
type Decision struct {
	ShouldExecute bool               `json:"should_execute"`
	State         state.CircuitState `json:"state"`
	Message       string             `json:"message,omitempty"`
}

// Breaker evaluates and records command outcomes against the state store.
// All state access goes through the store's locked read-modify-write
// contract; the breaker itself holds no mutable state.
type Breaker struct {
	store *state.Store
	cfg   app.CircuitBreakerConfig
	now   func() time.Time
}

// New returns a breaker backed by store with the given thresholds.
func New(store *state.Store, cfg app.CircuitBreakerConfig) *Breaker {
	return &Breaker{store: store, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// excluded reports whether commandID matches any exclusion substring.
// Excluded commands are fully exempt from tracking.
func (b *Breaker) excluded(commandID string) bool {
	for _, substr := range b.cfg.Exclude {
		if substr != "" && strings.Contains(commandID, substr) {
			return true
		}
	}
	return false
}

// Decide reports whether commandID should execute. An open circuit whose
// cooldown has elapsed transitions to half-open here, as part of the
// decision: the call that observes the elapsed cooldown is the probe.
func (b *Breaker) Decide(commandID string) (Decision, error) {
	if !b.cfg.Enabled || b.excluded(commandID) {
		return Decision{ShouldExecute: true, State: state.StateClosed}, nil
	}

	decision := Decision{ShouldExecute: true, State: state.StateClosed}
	err := b.store.Mutate(func(snap *state.Snapshot) error {
		st := snap.Record(commandID)
		decision.State = st.State

		switch st.State {
		case state.StateOpen:
			now := b.now().UTC()
			if st.RetryAfter != nil && now.Before(*st.RetryAfter) {
				remaining := st.RetryAfter.Sub(now).Round(time.Second)
				decision.ShouldExecute = false
				decision.Message = fmt.Sprintf(
					"circuit open for %q: %d consecutive failures, retry in %s",
					commandID, st.ConsecutiveFailures, remaining)
				return nil
			}
			// Cooldown elapsed: probe.
			st.State = state.StateHalfOpen
			st.ConsecutiveSuccesses = 0
			snap.SetRecord(st)
			decision.State = state.StateHalfOpen
			decision.Message = fmt.Sprintf("circuit half-open for %q: probing", commandID)
		case state.StateHalfOpen:
			decision.Message = fmt.Sprintf("circuit half-open for %q: probing", commandID)
		case state.StateClosed:
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// RecordSuccess records a successful execution. Reports the updated record
// and whether a state transition occurred.
func (b *Breaker) RecordSuccess(commandID string) (state.HookState, bool, error) {
	if !b.cfg.Enabled || b.excluded(commandID) {
		return state.NewHookState(commandID), false, nil
	}

	var (
		updated state.HookState
		changed bool
	)
	err := b.store.Mutate(func(snap *state.Snapshot) error {
		st := snap.Record(commandID)
		now := b.now().UTC()

		st.ConsecutiveSuccesses++
		st.ConsecutiveFailures = 0
		st.LastSuccess = &now

		if st.State == state.StateHalfOpen && st.ConsecutiveSuccesses >= b.cfg.SuccessThreshold {
			st.State = state.StateClosed
			st.FailureCount = 0
			st.LastError = ""
			st.DisabledAt = nil
			st.RetryAfter = nil
			changed = true
		}

		snap.SetRecord(st)
		snap.Global.TotalExecutions++
		updated = st
		return nil
	})
	return updated, changed, err
}

// RecordFailure records a failed execution with its error message. A
// half-open circuit reopens immediately; a closed circuit opens once
// consecutive_failures reaches the threshold.
func (b *Breaker) RecordFailure(commandID, errMsg string) (state.HookState, bool, error) {
	if !b.cfg.Enabled || b.excluded(commandID) {
		return state.NewHookState(commandID), false, nil
	}

	var (
		updated state.HookState
		changed bool
	)
	err := b.store.Mutate(func(snap *state.Snapshot) error {
		st := snap.Record(commandID)
		now := b.now().UTC()

		st.FailureCount++
		st.ConsecutiveFailures++
		st.ConsecutiveSuccesses = 0
		st.LastFailure = &now
		st.LastError = truncateError(errMsg)

		open := func() {
			st.State = state.StateOpen
			st.DisabledAt = &now
			retryAfter := now.Add(b.cfg.Cooldown())
			st.RetryAfter = &retryAfter
			changed = true
		}

		switch {
		case st.State == state.StateHalfOpen:
			// Any half-open failure reopens.
			open()
		case st.State == state.StateClosed && st.ConsecutiveFailures >= b.cfg.FailureThreshold:
			open()
		}

		snap.SetRecord(st)
		snap.Global.TotalExecutions++
		snap.Global.TotalFailures++
		updated = st
		return nil
	})
	return updated, changed, err
}

// HalfOpen is the manual override used by operational tooling, independent
// of the lazy probe-on-decision path. No-op unless currently open.
func (b *Breaker) HalfOpen(commandID string) (bool, error) {
	transitioned := false
	err := b.store.Mutate(func(snap *state.Snapshot) error {
		st := snap.Record(commandID)
		if st.State != state.StateOpen {
			return nil
		}
		st.State = state.StateHalfOpen
		st.ConsecutiveSuccesses = 0
		snap.SetRecord(st)
		transitioned = true
		return nil
	})
	return transitioned, err
}

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
