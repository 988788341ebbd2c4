// Package hookcmd provides hook installation and uninstallation commands.
// This package is separate from the main commands package to allow
// independent evolution of hook lifecycle management.
package hookcmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dotcommander/guardrails/internal/damage"
	"github.com/dotcommander/guardrails/internal/output"
	"github.com/spf13/cobra"
)

const guardrailsCommandFallback = "guardrails"

//nolint:gochecknoglobals // sync.Once singleton cache for hook definitions; required by the sync.Once pattern
var (
	guardrailsHooksOnce  sync.Once
	guardrailsHooksCache map[string]hookEntry
)

type hookHandler struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

type hookEntry struct {
	Matcher string        `json:"matcher"`
	Hooks   []hookHandler `json:"hooks"`
}

func claudeSettingsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "settings.json")
}

func projectClaudeSettingsPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".", ".claude", "settings.json")
	}
	return filepath.Join(wd, ".claude", "settings.json")
}

func resolveClaudeSettingsPath(projectScoped bool) string {
	if projectScoped {
		return projectClaudeSettingsPath()
	}
	return claudeSettingsPath()
}

func guardrailsExecutable() string {
	exe, err := os.Executable()
	if err != nil || strings.TrimSpace(exe) == "" {
		return guardrailsCommandFallback
	}
	return exe
}

func buildGuardrailsHookCommand(subcommand string) string {
	exe := guardrailsExecutable()
	if exe == guardrailsCommandFallback {
		return fmt.Sprintf("guardrails %s", subcommand)
	}
	return fmt.Sprintf("%q %s", exe, subcommand)
}

func guardrailsHooks() map[string]hookEntry {
	guardrailsHooksOnce.Do(func() {
		guardrailsHooksCache = buildGuardrailsHooks()
	})
	return guardrailsHooksCache
}

func buildGuardrailsHooks() map[string]hookEntry {
	return map[string]hookEntry{
		"PreToolUse": {
			Matcher: "Bash|Edit|Write|MultiEdit|NotebookEdit",
			Hooks: []hookHandler{{
				Type:    "command",
				Command: buildGuardrailsHookCommand("check"),
				Timeout: 5000,
			}},
		},
	}
}

func guardrailsHookEventNames() []string {
	events := make([]string, 0, len(guardrailsHooks()))
	for name := range guardrailsHooks() {
		events = append(events, name)
	}
	sort.Strings(events)
	return events
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// HasGuardrailsHook checks if a hooks array already contains a guardrails
// hook command.
func HasGuardrailsHook(entries []any) bool {
	for _, entry := range entries {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		hooks, ok := entryMap["hooks"].([]any)
		if !ok {
			continue
		}
		for _, h := range hooks {
			hMap, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := hMap["command"].(string)
			if IsGuardrailsHookCommand(cmd) {
				return true
			}
		}
	}
	return false
}

// IsGuardrailsHookCommand checks if a command string is a guardrails hook
// command. Accepts both the canonical binary name and the currently running
// executable, so a renamed or relocated binary can still manage its entries.
func IsGuardrailsHookCommand(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}
	parts := strings.Fields(cmd)
	if len(parts) < 2 {
		return false
	}

	execToken := strings.Trim(parts[0], "\"'")
	if filepath.Base(execToken) != guardrailsCommandFallback && execToken != guardrailsExecutable() {
		return false
	}

	switch parts[1] {
	case "check", "run":
		return true
	default:
		return false
	}
}

func hookEntryEqual(a, b map[string]any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

type installOutcome int

const (
	hookInstalled installOutcome = iota
	hookUpdated
	hookSkipped
)

func upsertGuardrailsHookEntry(existing []any, newEntry map[string]any) ([]any, installOutcome) {
	var kept []any
	hadGuardrails := false
	matchingGuardrails := false

	for _, currentEntry := range existing {
		entryObj, ok := currentEntry.(map[string]any)
		if !ok {
			kept = append(kept, currentEntry)
			continue
		}
		hooks, ok := entryObj["hooks"].([]any)
		if !ok {
			kept = append(kept, currentEntry)
			continue
		}
		isGuardrails := false
		for _, h := range hooks {
			hMap, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := hMap["command"].(string)
			if IsGuardrailsHookCommand(cmd) {
				isGuardrails = true
				break
			}
		}
		if isGuardrails {
			hadGuardrails = true
			if hookEntryEqual(entryObj, newEntry) {
				matchingGuardrails = true
			}
			continue
		}
		kept = append(kept, currentEntry)
	}

	kept = append(kept, newEntry)
	entries := kept
	if matchingGuardrails {
		return entries, hookSkipped
	}
	if hadGuardrails {
		return entries, hookUpdated
	}
	return entries, hookInstalled
}

// ensureDamageConfigBestEffort writes the starter damage-control policy if
// none exists yet. Install keeps going when this fails; check fails open
// without a policy anyway.
func ensureDamageConfigBestEffort() {
	path := damage.DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		slog.Default().Warn("hook install: create damage-control config dir failed", "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(defaultDamageConfigYAML), 0600); err != nil {
		slog.Default().Warn("hook install: write damage-control config failed", "error", err)
	}
}

const defaultDamageConfigYAML = `# guardrails damage-control policy
# Checked on every Bash/Edit/Write tool call via the PreToolUse hook.

bashToolPatterns:
  - pattern: '\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+'
    reason: "rm with recursive/force flags is blocked"
  - pattern: 'git\s+push\s+[^|;&]*--force([^-]|$)'
    reason: "force push rewrites remote history; use --force-with-lease"
    ask: true
  - pattern: '\bgit\s+reset\s+--hard'
    reason: "hard reset discards uncommitted work"
    ask: true

# No operation at all may touch these.
zeroAccessPaths:
  - ~/.ssh
  - ~/.aws
  - "*.pem"

# Reads allowed; writes, edits, and deletes blocked.
readOnlyPaths:
  - ~/.claude/settings.json

# Deletion blocked; everything else allowed.
noDeletePaths:
  - .git
`

// NewInstallCmd creates the hook install command.
func NewInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the guardrails PreToolUse hook for Claude Code",
		Long:  "Registers 'guardrails check' as a PreToolUse hook in Claude Code settings and writes a starter damage-control policy if none exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				Message   string   `json:"message"`
				Path      string   `json:"path"`
				Installed []string `json:"installed"`
				Updated   []string `json:"updated,omitempty"`
				Skipped   []string `json:"skipped"`
			}

			projectScoped, _ := cmd.Flags().GetBool("project")
			path := resolveClaudeSettingsPath(projectScoped)

			settings, err := readSettings(path)
			if err != nil {
				return err
			}

			hooksObj, _ := settings["hooks"].(map[string]any)
			if hooksObj == nil {
				hooksObj = map[string]any{}
			}

			var installed []string
			var updated []string
			var skipped []string

			for eventName, entry := range guardrailsHooks() {
				existing, _ := hooksObj[eventName].([]any)

				entryJSON, _ := json.Marshal(entry)
				var entryMap map[string]any
				_ = json.Unmarshal(entryJSON, &entryMap)

				entries, outcome := upsertGuardrailsHookEntry(existing, entryMap)
				hooksObj[eventName] = entries

				switch outcome {
				case hookInstalled:
					installed = append(installed, eventName)
				case hookUpdated:
					updated = append(updated, eventName)
				case hookSkipped:
					skipped = append(skipped, eventName)
				}
			}

			settings["hooks"] = hooksObj
			if err := writeSettings(path, settings); err != nil {
				return err
			}

			ensureDamageConfigBestEffort()

			sort.Strings(installed)
			sort.Strings(updated)
			sort.Strings(skipped)

			var parts []string
			if len(installed) > 0 {
				parts = append(parts, fmt.Sprintf("hooks installed (%s)", strings.Join(installed, ", ")))
			}
			if len(updated) > 0 {
				parts = append(parts, fmt.Sprintf("hooks updated (%s)", strings.Join(updated, ", ")))
			}
			if len(installed) == 0 && len(updated) == 0 {
				parts = append(parts, "hooks already installed")
			}

			return output.PrintSuccess(result{
				Message:   strings.Join(parts, "; ") + ". Run 'guardrails breaker status' to verify.",
				Path:      path,
				Installed: installed,
				Updated:   updated,
				Skipped:   skipped,
			})
		},
	}

	cmd.Flags().Bool("project", false, "Install hooks in ./.claude/settings.json")
	return cmd
}

// NewUninstallCmd creates the hook uninstall command.
//
//nolint:gocognit // settings traversal mirrors install; splitting it obscures the symmetry
func NewUninstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove guardrails hooks from Claude Code settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				Path    string   `json:"path"`
				Removed []string `json:"removed"`
			}

			projectScoped, _ := cmd.Flags().GetBool("project")
			path := resolveClaudeSettingsPath(projectScoped)

			settings, err := readSettings(path)
			if err != nil {
				return err
			}

			hooksObj, _ := settings["hooks"].(map[string]any)
			if hooksObj == nil {
				return output.PrintSuccess(result{Path: path, Removed: []string{}})
			}

			var removed []string

			for _, eventName := range guardrailsHookEventNames() {
				entries, ok := hooksObj[eventName].([]any)
				if !ok {
					continue
				}

				var kept []any
				for _, entry := range entries {
					entryMap, ok := entry.(map[string]any)
					if !ok {
						kept = append(kept, entry)
						continue
					}
					hooks, ok := entryMap["hooks"].([]any)
					if !ok {
						kept = append(kept, entry)
						continue
					}

					isGuardrails := false
					for _, h := range hooks {
						hMap, ok := h.(map[string]any)
						if !ok {
							continue
						}
						cmd, _ := hMap["command"].(string)
						if IsGuardrailsHookCommand(cmd) {
							isGuardrails = true
							break
						}
					}

					if !isGuardrails {
						kept = append(kept, entry)
					}
				}

				if len(kept) != len(entries) {
					removed = append(removed, eventName)
				}

				if len(kept) == 0 {
					delete(hooksObj, eventName)
				} else {
					hooksObj[eventName] = kept
				}
			}

			settings["hooks"] = hooksObj
			if err := writeSettings(path, settings); err != nil {
				return err
			}

			return output.PrintSuccess(result{Path: path, Removed: removed})
		},
	}

	cmd.Flags().Bool("project", false, "Uninstall hooks from ./.claude/settings.json")
	return cmd
}

// NewHookCmd creates the hook parent command with install and uninstall
// subcommands.
func NewHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Hook installation and management for Claude Code",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(NewInstallCmd())
	cmd.AddCommand(NewUninstallCmd())

	return cmd
}
