package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ConfigDir returns ~/.config/guardrails/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "guardrails"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfigYAML), 0600)
	}
	return nil
}

const defaultConfigYAML = `# guardrails configuration
# Run: guardrails --help

circuit_breaker:
  enabled: true
  failure_threshold: 3
  cooldown_seconds: 300
  success_threshold: 2
  # Commands containing any of these substrings are never tracked.
  exclude: []

logging:
  # file: ~/.config/guardrails/guardrails.log
  level: info
  format: json

# Optional: override the circuit-breaker state file location.
# Can also be set via GUARDRAILS_STATE_FILE or --state-file.
# state_file: ~/.config/guardrails/state.json
`

// ExpandPath expands a leading ~ and resolves relative paths to absolute,
// so downstream components never re-resolve them.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// stateFileOverrideMu and stateFileOverride implement a mutex-protected
// process-wide override for CLI --state-file.
//
//nolint:gochecknoglobals // RWMutex override is intentional process-wide state
var (
	stateFileOverrideMu sync.RWMutex
	stateFileOverride   string
)

// SetStateFileOverride sets a process-wide state-file path override.
// Intended for CLI flag support (e.g. --state-file).
func SetStateFileOverride(path string) {
	stateFileOverrideMu.Lock()
	stateFileOverride = path
	stateFileOverrideMu.Unlock()
}

func getStateFileOverride() string {
	stateFileOverrideMu.RLock()
	v := stateFileOverride
	stateFileOverrideMu.RUnlock()
	return v
}

// GetAuditDBPath resolves the audit database path.
// Order of precedence:
// 1) Environment variable: GUARDRAILS_AUDIT_DB
// 2) Default: ~/.config/guardrails/audit.db
// Ensures the parent directory exists.
func GetAuditDBPath() (string, error) {
	if envPath := os.Getenv("GUARDRAILS_AUDIT_DB"); envPath != "" {
		return EnsureParentDir(envPath)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return EnsureParentDir(filepath.Join(dir, "audit.db"))
}

// EnsureParentDir expands path and creates its parent directory, including
// intermediate directories. Returns the expanded absolute path.
func EnsureParentDir(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(expanded); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return expanded, nil
}
