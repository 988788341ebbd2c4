package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotcommander/guardrails/internal/audit"
	"github.com/dotcommander/guardrails/internal/damage"
	"github.com/dotcommander/guardrails/internal/models"
)

// maxCheckStdinBytes caps stdin reads. Tool-call payloads are small JSON
// objects; 1 MB is generous headroom that prevents unbounded allocation.
const maxCheckStdinBytes = 1 << 20

// checkInput is the JSON the host sends on stdin for PreToolUse checks.
type checkInput struct {
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		Command  string `json:"command"`
		FilePath string `json:"file_path"`
	} `json:"tool_input"`
}

// permissionOutput is the JSON the host expects on stdout for an "ask"
// verdict.
type permissionOutput struct {
	HookSpecificOutput *permissionSpecific `json:"hookSpecificOutput,omitempty"`
}

type permissionSpecific struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// NewCheckCmd creates the damage-control PreToolUse check. Exit codes:
// 0 = allow (or ask, with a permission-decision object on stdout),
// 2 = block, with the reason on stderr.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Damage-control check for Bash/Edit/Write tool calls",
		Long: `Reads a tool-call JSON object from stdin and classifies it against the
damage-control policy (explicit command patterns plus zero-access, read-only,
and no-delete path lists). Blocks write exit 2 with a reason on stderr; asks
write a permission-decision object on stdout and exit 0.

Register via 'guardrails hook install'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			damagePath, _ := cmd.Flags().GetString("damage-config")
			cfg := damage.LoadConfig(damagePath)

			input := readCheckStdin()

			var (
				finding damage.Finding
				subject string
			)
			switch input.ToolName {
			case "Bash":
				subject = input.ToolInput.Command
				if subject == "" {
					return nil
				}
				finding = damage.CheckBashCommand(subject, cfg)
			case "Edit", "Write", "MultiEdit", "NotebookEdit":
				subject = input.ToolInput.FilePath
				if subject == "" {
					return nil
				}
				finding = damage.CheckFilePath(subject, cfg)
			default:
				// Unknown tools are none of our business.
				return nil
			}

			invocationID := uuid.NewString()
			record := func(decision string, exitCode int) {
				appendAuditBestEffort(audit.Decision{
					InvocationID: invocationID,
					Source:       "check",
					Subject:      subject,
					ToolName:     input.ToolName,
					Decision:     decision,
					Reason:       finding.Reason,
					ExitCode:     exitCode,
				})
			}

			switch {
			case finding.Blocked:
				record("block", models.ExitUsage)
				fmt.Fprintln(os.Stderr, finding.Reason)
				return models.NewExitCodeError(models.ExitUsage, nil)
			case finding.Ask:
				record("ask", 0)
				out := permissionOutput{
					HookSpecificOutput: &permissionSpecific{
						HookEventName:            "PreToolUse",
						PermissionDecision:       "ask",
						PermissionDecisionReason: finding.Reason,
					},
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			default:
				record("allow", 0)
				return nil
			}
		},
	}

	cmd.Flags().String("damage-config", "", "Override damage-control config path")
	return cmd
}

func readCheckStdin() checkInput {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxCheckStdinBytes))
	if err != nil {
		return checkInput{}
	}
	var input checkInput
	if err := json.Unmarshal(data, &input); err != nil {
		slog.Default().Warn("check stdin unmarshal failed", "error", err, "bytes", len(data))
	}
	return input
}
