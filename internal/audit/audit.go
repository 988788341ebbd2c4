package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Subject length cap keeps one pathological command line from bloating the log.
const maxSubjectLength = 2048

// Decision is one audit row: a wrapper outcome or a damage-control verdict.
type Decision struct {
	ID           int64  `json:"id"`
	InvocationID string `json:"invocation_id"`
	Source       string `json:"source"`
	Subject      string `json:"subject"`
	ToolName     string `json:"tool_name,omitempty"`
	Decision     string `json:"decision"`
	Reason       string `json:"reason,omitempty"`
	ExitCode     int    `json:"exit_code"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    string `json:"created_at"`
}

// Append inserts a decision row. A missing invocation ID is filled with a
// fresh UUID so concurrent invocations remain distinguishable.
func Append(db *sql.DB, d Decision) (int64, error) {
	if d.InvocationID == "" {
		d.InvocationID = uuid.NewString()
	}
	if d.Source == "" {
		return 0, fmt.Errorf("audit decision requires a source")
	}
	if d.Decision == "" {
		return 0, fmt.Errorf("audit decision requires a decision")
	}
	if len(d.Subject) > maxSubjectLength {
		d.Subject = d.Subject[:maxSubjectLength]
	}

	var id int64
	err := RetryWithBackoff(func() error {
		result, err := db.ExecContext(context.Background(), `
			INSERT INTO decisions (invocation_id, source, subject, tool_name, decision, reason, exit_code, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, d.InvocationID, d.Source, d.Subject, d.ToolName, d.Decision, d.Reason, d.ExitCode, d.DurationMS)
		if err != nil {
			return fmt.Errorf("failed to insert decision: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		return nil
	})
	return id, err
}

// ListOptions filter List results.
type ListOptions struct {
	Source string
	Limit  int
}

// List returns the most recent decisions, newest first.
func List(db *sql.DB, opts ListOptions) ([]Decision, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		conds []string
		args  []any
	)
	if opts.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, opts.Source)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	rows, err := db.QueryContext(context.Background(), fmt.Sprintf(`
		SELECT id, invocation_id, source, subject, tool_name, decision, reason, exit_code, duration_ms, created_at
		FROM decisions
		%s
		ORDER BY id DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.InvocationID, &d.Source, &d.Subject, &d.ToolName,
			&d.Decision, &d.Reason, &d.ExitCode, &d.DurationMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
