package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDir_UsesHomeDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "guardrails"), dir)
}

func TestEnsureConfigDir_CreatesDefaultConfigOnlyWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	err := EnsureConfigDir()
	require.NoError(t, err)

	dir, err := ConfigDir()
	require.NoError(t, err)

	configFile := filepath.Join(dir, "config.yaml")
	b, err := os.ReadFile(configFile)
	require.NoError(t, err)
	require.Equal(t, defaultConfigYAML, string(b))

	custom := []byte("circuit_breaker:\n  failure_threshold: 9\n")
	require.NoError(t, os.WriteFile(configFile, custom, 0o600))

	err = EnsureConfigDir()
	require.NoError(t, err)

	b, err = os.ReadFile(configFile)
	require.NoError(t, err)
	require.Equal(t, string(custom), string(b))
}

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	require.True(t, cfg.CircuitBreaker.Enabled)
	require.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, 300, cfg.CircuitBreaker.CooldownSeconds)
	require.Equal(t, 2, cfg.CircuitBreaker.SuccessThreshold)
	require.Empty(t, cfg.CircuitBreaker.Exclude)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, filepath.Join(home, ".config", "guardrails", "state.json"), cfg.StateFile)
}

func TestLoadConfig_MergesFileOverDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `circuit_breaker:
  failure_threshold: 5
  cooldown_seconds: 60
  exclude:
    - lint
    - format
logging:
  level: debug
state_file: ` + filepath.Join(home, "state.json") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// File values win over defaults.
	require.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, 60, cfg.CircuitBreaker.CooldownSeconds)
	require.Equal(t, []string{"lint", "format"}, cfg.CircuitBreaker.Exclude)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, filepath.Join(home, "state.json"), cfg.StateFile)

	// Absent keys keep defaults.
	require.True(t, cfg.CircuitBreaker.Enabled)
	require.Equal(t, 2, cfg.CircuitBreaker.SuccessThreshold)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_MalformedFileFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("circuit_breaker:\n  failure_threshold: 5\n"), 0o600))

	stateFile := filepath.Join(t.TempDir(), "state.json")
	t.Setenv("GUARDRAILS_CIRCUIT_BREAKER_ENABLED", "false")
	t.Setenv("GUARDRAILS_CIRCUIT_BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("GUARDRAILS_CIRCUIT_BREAKER_EXCLUDE", "lint, ,format")
	t.Setenv("GUARDRAILS_STATE_FILE", stateFile)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.False(t, cfg.CircuitBreaker.Enabled)
	require.Equal(t, 7, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, []string{"lint", "format"}, cfg.CircuitBreaker.Exclude)
	require.Equal(t, stateFile, cfg.StateFile)
}

func TestLoadConfig_InvalidEnvFailsLoudly(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GUARDRAILS_CIRCUIT_BREAKER_FAILURE_THRESHOLD", "lots")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "GUARDRAILS_CIRCUIT_BREAKER_FAILURE_THRESHOLD")
}

func TestLoadConfig_RejectsInvalidThresholds(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("circuit_breaker:\n  failure_threshold: 0\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failure_threshold")
}

func TestLoadConfig_StateFileOverrideWins(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	override := filepath.Join(t.TempDir(), "override.json")
	SetStateFileOverride(override)
	defer SetStateFileOverride("")

	stateFile := filepath.Join(t.TempDir(), "env.json")
	t.Setenv("GUARDRAILS_STATE_FILE", stateFile)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, override, cfg.StateFile)
}

func TestExpandPath_Tilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/state.json")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "state.json"), got)

	got, err = ExpandPath("")
	require.NoError(t, err)
	require.Empty(t, got)
}
