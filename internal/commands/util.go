package commands

import (
	"log/slog"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/audit"
	"github.com/dotcommander/guardrails/internal/state"
)

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("command error", "error", err.Error())
	return printedError{err: err}
}

// withStore loads the effective config and hands a state store (plus the
// config) to fn. Used by operational commands where config problems should
// fail loudly rather than degrade.
func withStore(configPath string, fn func(cfg app.Config, store *state.Store) error) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return cmdErr(err)
	}
	if err := fn(cfg, state.NewStore(cfg.StateFile)); err != nil {
		return cmdErr(err)
	}
	return nil
}

// appendAuditBestEffort records a decision in the audit log. Failures are
// logged and swallowed: auditing must never block the host's tool pipeline.
func appendAuditBestEffort(d audit.Decision) {
	path, err := app.GetAuditDBPath()
	if err != nil {
		slog.Default().Warn("audit: resolve db path failed", "error", err)
		return
	}
	db, err := audit.Open(path)
	if err != nil {
		slog.Default().Warn("audit: open db failed", "error", err)
		return
	}
	defer func() { _ = db.Close() }()

	if _, err := audit.Append(db, d); err != nil {
		slog.Default().Warn("audit: append failed", "error", err, "source", d.Source, "decision", d.Decision)
	}
}
