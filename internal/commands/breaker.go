package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/breaker"
	"github.com/dotcommander/guardrails/internal/models"
	"github.com/dotcommander/guardrails/internal/output"
	"github.com/dotcommander/guardrails/internal/state"
)

// NewBreakerCmd creates the breaker parent command with inspection and
// manual-override subcommands.
func NewBreakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and manage circuit-breaker state",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newBreakerStatusCmd())
	cmd.AddCommand(newBreakerResetCmd())
	cmd.AddCommand(newBreakerHalfOpenCmd())

	return cmd
}

func newBreakerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show every tracked command and the global stats",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return withStore(configPath, func(cfg app.Config, store *state.Store) error {
				commands, global, err := store.ListAll()
				if err != nil {
					return err
				}
				type resp struct {
					StateFile   string                     `json:"state_file"`
					Commands    map[string]state.HookState `json:"commands"`
					GlobalStats state.GlobalStats          `json:"global_stats"`
				}
				return output.PrintSuccess(resp{
					StateFile:   store.Path(),
					Commands:    commands,
					GlobalStats: global,
				})
			})
		},
	}
}

func newBreakerResetCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "reset [command_id]",
		Short:         "Reset one tracked command, or all with --all",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return models.NewUsageError("usage: guardrails breaker reset <command_id> | guardrails breaker reset --all")
			}

			configPath, _ := cmd.Flags().GetString("config")
			return withStore(configPath, func(cfg app.Config, store *state.Store) error {
				if all {
					removed, err := store.ResetAll()
					if err != nil {
						return err
					}
					type resp struct {
						Removed int `json:"removed"`
					}
					return output.PrintSuccess(resp{Removed: removed})
				}

				existed, err := store.Reset(args[0])
				if err != nil {
					return err
				}
				type resp struct {
					CommandID string `json:"command_id"`
					Removed   bool   `json:"removed"`
				}
				return output.PrintSuccess(resp{CommandID: args[0], Removed: existed})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reset every tracked command")
	return cmd
}

func newBreakerHalfOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "half-open <command_id>",
		Short:         "Force an open circuit into probation immediately",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return withStore(configPath, func(cfg app.Config, store *state.Store) error {
				br := breaker.New(store, cfg.CircuitBreaker)
				transitioned, err := br.HalfOpen(args[0])
				if err != nil {
					return err
				}
				type resp struct {
					CommandID    string `json:"command_id"`
					Transitioned bool   `json:"transitioned"`
				}
				return output.PrintSuccess(resp{CommandID: args[0], Transitioned: transitioned})
			})
		},
	}
}
