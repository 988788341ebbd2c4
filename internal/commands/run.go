package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/audit"
	"github.com/dotcommander/guardrails/internal/breaker"
	"github.com/dotcommander/guardrails/internal/models"
	"github.com/dotcommander/guardrails/internal/state"
)

const (
	// defaultCommandTimeout bounds the wrapped command.
	defaultCommandTimeout = 300 * time.Second

	// maxCapturedStderr caps the stderr tail fed to the breaker as the
	// failure message. The breaker truncates further.
	maxCapturedStderr = 4096

	// Exit-code conventions for commands that never produced one:
	// 124 mirrors timeout(1), 127 the shell's command-not-found.
	exitCodeTimeout  = 124
	exitCodeStartErr = 127
)

const runUsage = "usage: guardrails run -- <command> [args...]"

// NewRunCmd creates the execution-wrapper command. Everything after -- is
// the command to execute verbatim; the circuit breaker decides whether it
// runs at all.
func NewRunCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Execute a hook command behind the circuit breaker",
		Long: `Runs the given command with circuit-breaker protection: repeated failures
open the circuit and subsequent invocations are skipped (exit 0, so the host
keeps going) until the cooldown elapses. The wrapped command's stdout, stderr,
and exit code are relayed unchanged.

Any internal failure of the tracking layer degrades to direct execution:
protecting the workflow must never break it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.ArgsLenAtDash() != 0 || len(args) == 0 {
				return models.NewUsageError(runUsage)
			}
			return runWrapped(cmd, args, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultCommandTimeout, "Wrapped command timeout")
	return cmd
}

func runWrapped(cmd *cobra.Command, args []string, timeout time.Duration) error {
	invocationID := uuid.NewString()
	commandID := strings.Join(args, " ")

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		// Fail open to pass-through: a broken tracking layer must never
		// break the workflow it protects.
		slog.Error("config load failed, executing unwrapped", "error", err)
		return relay(executeCommand(args, timeout))
	}

	if !cfg.CircuitBreaker.Enabled {
		return relay(executeCommand(args, timeout))
	}

	br := breaker.New(state.NewStore(cfg.StateFile), cfg.CircuitBreaker)

	decision, err := br.Decide(commandID)
	if err != nil {
		slog.Error("breaker decision failed, executing unwrapped", "error", err)
		return relay(executeCommand(args, timeout))
	}

	if !decision.ShouldExecute {
		appendAuditBestEffort(audit.Decision{
			InvocationID: invocationID,
			Source:       "run",
			Subject:      commandID,
			Decision:     "skip",
			Reason:       decision.Message,
		})
		// The host reads exit 0 as "continue": a disabled hook must never
		// itself block the session.
		skip := map[string]any{
			"continue": true,
			"skipped":  true,
			"state":    decision.State,
			"message":  decision.Message,
		}
		return json.NewEncoder(os.Stdout).Encode(skip)
	}

	res := executeCommand(args, timeout)

	if res.exitCode == 0 {
		if _, _, err := br.RecordSuccess(commandID); err != nil {
			slog.Default().Warn("record success failed", "error", err, "command", commandID)
		}
		appendAuditBestEffort(audit.Decision{
			InvocationID: invocationID,
			Source:       "run",
			Subject:      commandID,
			Decision:     "success",
			DurationMS:   res.duration.Milliseconds(),
		})
		return nil
	}

	msg := res.failureMessage(timeout)
	updated, changed, err := br.RecordFailure(commandID, msg)
	if err != nil {
		slog.Default().Warn("record failure failed", "error", err, "command", commandID)
	} else if changed {
		slog.Default().Warn("circuit opened",
			"command", commandID,
			"consecutive_failures", updated.ConsecutiveFailures,
			"retry_after", updated.RetryAfter)
	}
	appendAuditBestEffort(audit.Decision{
		InvocationID: invocationID,
		Source:       "run",
		Subject:      commandID,
		Decision:     "failure",
		Reason:       msg,
		ExitCode:     res.exitCode,
		DurationMS:   res.duration.Milliseconds(),
	})
	return relay(res)
}

// execResult captures one wrapped-command execution.
type execResult struct {
	exitCode   int
	stderrTail string
	timedOut   bool
	startErr   error
	duration   time.Duration
}

func (r execResult) failureMessage(timeout time.Duration) string {
	switch {
	case r.timedOut:
		return fmt.Sprintf("command timed out after %s", timeout)
	case r.startErr != nil:
		return r.startErr.Error()
	case strings.TrimSpace(r.stderrTail) != "":
		return strings.TrimSpace(r.stderrTail)
	default:
		return fmt.Sprintf("command exited with code %d", r.exitCode)
	}
}

// executeCommand runs args with a bounded timeout, relaying stdout/stderr
// while keeping a capped copy of stderr for the failure message.
func executeCommand(args []string, timeout time.Duration) execResult {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	capture := &cappedBuffer{max: maxCapturedStderr}
	c := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // G204: executing the caller's command is the point
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = io.MultiWriter(os.Stderr, capture)

	start := time.Now()
	err := c.Run()
	res := execResult{
		stderrTail: capture.String(),
		duration:   time.Since(start),
	}

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.timedOut = true
		res.exitCode = exitCodeTimeout
	case err == nil:
		res.exitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
		} else {
			res.startErr = err
			res.exitCode = exitCodeStartErr
		}
	}
	return res
}

// relay converts an execution result into the wrapper's own exit status,
// preserving the wrapped command's code.
func relay(res execResult) error {
	if res.startErr != nil {
		fmt.Fprintln(os.Stderr, res.startErr.Error())
	}
	if res.exitCode == 0 {
		return nil
	}
	return models.NewExitCodeError(res.exitCode, nil)
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
