package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/guardrails/internal/models"
)

func withCheckStdin(t *testing.T, payload string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = orig })

	_, err = w.WriteString(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func writeDamagePolicy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "damage-control.yaml")
	policy := `bashToolPatterns:
  - pattern: '\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+'
    reason: recursive rm is blocked
  - pattern: 'git\s+push\s+[^|;&]*--force([^-]|$)'
    reason: confirm force pushes
    ask: true
readOnlyPaths:
  - /etc/hosts
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))
	return path
}

func runCheck(t *testing.T, policyPath, payload string) (string, error) {
	t.Helper()
	withCheckStdin(t, payload)

	var execErr error
	out := captureStdout(t, func() {
		cmd := NewCheckCmd()
		cmd.SetArgs([]string{"--damage-config", policyPath})
		execErr = cmd.Execute()
	})
	return out, execErr
}

func TestCheckCmd_BlocksBashCommand(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	_, err := runCheck(t, policy, `{"tool_name":"Bash","tool_input":{"command":"rm -rf /tmp/x"}}`)
	require.Error(t, err)
	require.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestCheckCmd_AsksViaPermissionDecision(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	out, err := runCheck(t, policy, `{"tool_name":"Bash","tool_input":{"command":"git push --force"}}`)
	require.NoError(t, err)

	var resp struct {
		HookSpecificOutput struct {
			HookEventName            string `json:"hookEventName"`
			PermissionDecision       string `json:"permissionDecision"`
			PermissionDecisionReason string `json:"permissionDecisionReason"`
		} `json:"hookSpecificOutput"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "PreToolUse", resp.HookSpecificOutput.HookEventName)
	require.Equal(t, "ask", resp.HookSpecificOutput.PermissionDecision)
	require.Equal(t, "confirm force pushes", resp.HookSpecificOutput.PermissionDecisionReason)
}

func TestCheckCmd_AllowsHarmlessCommand(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	out, err := runCheck(t, policy, `{"tool_name":"Bash","tool_input":{"command":"ls -la"}}`)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCheckCmd_BlocksFileEdit(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	_, err := runCheck(t, policy, `{"tool_name":"Edit","tool_input":{"file_path":"/etc/hosts"}}`)
	require.Error(t, err)
	require.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestCheckCmd_IgnoresUnknownTools(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	out, err := runCheck(t, policy, `{"tool_name":"WebSearch","tool_input":{"command":"rm -rf /"}}`)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCheckCmd_MalformedStdinAllows(t *testing.T) {
	isolateEnv(t)
	policy := writeDamagePolicy(t)

	out, err := runCheck(t, policy, `this is not json`)
	require.NoError(t, err)
	require.Empty(t, out)
}
