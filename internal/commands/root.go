package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/commands/hookcmd"
	"github.com/dotcommander/guardrails/internal/models"
	"github.com/dotcommander/guardrails/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "guardrails",
		Short:         "Circuit-breaker hook execution and damage-control checks for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}

			// Wire --state-file into app-level resolver.
			if stateFile, err := cmd.Flags().GetString("state-file"); err == nil && stateFile != "" {
				app.SetStateFileOverride(stateFile)
			}

			configureLogging(cmd)
			return nil
		},
	}

	root.PersistentFlags().String("config", "", "Override config file path")
	root.PersistentFlags().String("state-file", "", "Override circuit-breaker state file")
	root.Flags().BoolP("version", "v", false, "version for guardrails")

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewCheckCmd())
	root.AddCommand(NewBreakerCmd())
	root.AddCommand(NewAuditCmd())
	root.AddCommand(NewSchemaCmd())
	root.AddCommand(hookcmd.NewHookCmd())

	err := root.Execute()
	if err != nil {
		var ue *models.UsageError
		var ee *models.ExitCodeError
		var pe printedError
		switch {
		case errors.As(err, &ue):
			fmt.Fprintln(os.Stderr, ue.Msg)
		case errors.As(err, &ee), errors.As(err, &pe):
			// Already reported at the point of failure.
		default:
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}

// configureLogging applies the logging section of the config to the default
// slog logger. Best-effort: a broken logging config falls back to JSON on
// stderr rather than failing the command.
func configureLogging(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return
	}

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	w := os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: path validated by config loader
		if err == nil {
			w = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
