package commands

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/guardrails/internal/models"
	"github.com/dotcommander/guardrails/internal/state"
)

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	_ = r.Close()
	return string(data)
}

// isolateEnv points HOME, the state file, and the audit database at temp
// directories so command tests never touch the real user config.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	stateFile := home + "/state.json"
	t.Setenv("GUARDRAILS_STATE_FILE", stateFile)
	t.Setenv("GUARDRAILS_AUDIT_DB", home+"/audit.db")
	return stateFile
}

func TestRunCmd_RequiresDashDash(t *testing.T) {
	isolateEnv(t)

	cmd := NewRunCmd()
	cmd.SetArgs([]string{"echo", "hi"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, models.ExitUsage, models.ExitCode(err))

	cmd = NewRunCmd()
	cmd.SetArgs([]string{"--"})
	err = cmd.Execute()
	require.Error(t, err)
	require.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestRunCmd_RelaysExitCode(t *testing.T) {
	isolateEnv(t)

	cmd := NewRunCmd()
	cmd.SetArgs([]string{"--", "true"})
	require.NoError(t, cmd.Execute())

	cmd = NewRunCmd()
	cmd.SetArgs([]string{"--", "false"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, 1, models.ExitCode(err))
}

func TestRunCmd_SkipsWhenCircuitOpen(t *testing.T) {
	stateFile := isolateEnv(t)

	retryAfter := time.Now().Add(time.Hour).UTC()
	disabledAt := time.Now().UTC()
	require.NoError(t, state.NewStore(stateFile).Put(state.HookState{
		CommandID:           "false",
		State:               state.StateOpen,
		FailureCount:        3,
		ConsecutiveFailures: 3,
		DisabledAt:          &disabledAt,
		RetryAfter:          &retryAfter,
	}))

	var execErr error
	out := captureStdout(t, func() {
		cmd := NewRunCmd()
		cmd.SetArgs([]string{"--", "false"})
		execErr = cmd.Execute()
	})

	// Skips exit 0 so the host keeps going even though the hook would fail.
	require.NoError(t, execErr)

	var skip map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &skip))
	require.Equal(t, true, skip["continue"])
	require.Equal(t, true, skip["skipped"])
	require.Equal(t, "open", skip["state"])
	require.Contains(t, skip["message"], "retry in")
}

func TestRunCmd_RecordsOutcomes(t *testing.T) {
	stateFile := isolateEnv(t)

	cmd := NewRunCmd()
	cmd.SetArgs([]string{"--", "false"})
	err := cmd.Execute()
	require.Error(t, err)

	st, ok, err := state.NewStore(stateFile).Get("false")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, st.ConsecutiveFailures)
	require.Equal(t, state.StateClosed, st.State)

	cmd = NewRunCmd()
	cmd.SetArgs([]string{"--", "true"})
	require.NoError(t, cmd.Execute())

	st, _, err = state.NewStore(stateFile).Get("true")
	require.NoError(t, err)
	require.Equal(t, 1, st.ConsecutiveSuccesses)
}

func TestExecuteCommand_ExitCodes(t *testing.T) {
	res := executeCommand([]string{"true"}, time.Minute)
	require.Equal(t, 0, res.exitCode)

	res = executeCommand([]string{"false"}, time.Minute)
	require.Equal(t, 1, res.exitCode)
	require.False(t, res.timedOut)

	res = executeCommand([]string{"guardrails-test-no-such-binary"}, time.Minute)
	require.Equal(t, exitCodeStartErr, res.exitCode)
	require.Error(t, res.startErr)
}

func TestExecuteCommand_Timeout(t *testing.T) {
	res := executeCommand([]string{"sleep", "5"}, 100*time.Millisecond)
	require.True(t, res.timedOut)
	require.Equal(t, exitCodeTimeout, res.exitCode)
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "command timed out after 1s",
		execResult{timedOut: true}.failureMessage(time.Second))
	require.Equal(t, "permission denied",
		execResult{startErr: os.ErrPermission, exitCode: 127}.failureMessage(time.Second))
	require.Equal(t, "assertion failed",
		execResult{exitCode: 1, stderrTail: "assertion failed\n"}.failureMessage(time.Second))
	require.Equal(t, "command exited with code 3",
		execResult{exitCode: 3}.failureMessage(time.Second))
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 5}
	n, err := b.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, len("hello world"), n)
	require.Equal(t, "hello", b.String())

	n, err = b.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "hello", b.String())
}
