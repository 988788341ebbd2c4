package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/audit"
	"github.com/dotcommander/guardrails/internal/output"
)

// NewAuditCmd creates the audit command: list recent guardrails decisions.
func NewAuditCmd() *cobra.Command {
	var (
		limit  int
		source string
	)

	cmd := &cobra.Command{
		Use:           "audit",
		Short:         "List recent guardrails decisions (newest first)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.GetAuditDBPath()
			if err != nil {
				return cmdErr(err)
			}
			db, err := audit.Open(path)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = db.Close() }()

			decisions, err := audit.List(db, audit.ListOptions{Source: source, Limit: limit})
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Decisions []audit.Decision `json:"decisions"`
				Count     int              `json:"count"`
			}
			return output.PrintSuccess(resp{Decisions: decisions, Count: len(decisions)})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source (run|check)")
	return cmd
}
