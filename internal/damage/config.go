// Package damage classifies shell commands and file paths against
// configured deny/ask lists. It is pure and stateless: one immutable config
// snapshot per invocation, no writes, and it never raises — a missing or
// malformed config degrades to allowing everything.
package damage

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PatternRule is one explicit command rule. Pattern is a regex tested
// case-insensitively against the raw command string.
type PatternRule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
	Ask     bool   `yaml:"ask"`
}

// Config is the damage-control policy. Path lists are graduated:
// zero-access forbids every operation, read-only blocks writes/edits/deletes,
// no-delete blocks deletion only.
type Config struct {
	BashToolPatterns []PatternRule `yaml:"bashToolPatterns"`
	ZeroAccessPaths  []string      `yaml:"zeroAccessPaths"`
	ReadOnlyPaths    []string      `yaml:"readOnlyPaths"`
	NoDeletePaths    []string      `yaml:"noDeletePaths"`
}

// DefaultConfigPath resolves the damage-control config location:
// GUARDRAILS_DAMAGE_CONFIG, else ~/.config/guardrails/damage-control.yaml.
func DefaultConfigPath() string {
	if env := os.Getenv("GUARDRAILS_DAMAGE_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "damage-control.yaml"
	}
	return filepath.Join(home, ".config", "guardrails", "damage-control.yaml")
}

// LoadConfig reads the policy at path (DefaultConfigPath when empty).
// Advisory protection fails open: any read or parse problem yields an empty
// config that allows everything, with a warning for the operator.
func LoadConfig(path string) Config {
	if path == "" {
		path = DefaultConfigPath()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Default().Warn("damage-control config unreadable, allowing everything", "path", path, "error", err)
		}
		return Config{}
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		slog.Default().Warn("damage-control config malformed, allowing everything", "path", path, "error", err)
		return Config{}
	}
	return cfg
}
