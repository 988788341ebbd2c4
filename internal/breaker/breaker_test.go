package breaker

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/guardrails/internal/app"
	"github.com/dotcommander/guardrails/internal/state"
)

func testConfig() app.CircuitBreakerConfig {
	return app.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		CooldownSeconds:  300,
		SuccessThreshold: 2,
	}
}

func newTestBreaker(t *testing.T, cfg app.CircuitBreakerConfig, now time.Time) (*Breaker, *state.Store) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	return New(store, cfg).WithClock(func() time.Time { return now }), store
}

func TestDecide_UntrackedCommandExecutes(t *testing.T) {
	br, _ := newTestBreaker(t, testConfig(), time.Now())

	d, err := br.Decide("echo hello")
	require.NoError(t, err)
	require.True(t, d.ShouldExecute)
	require.Equal(t, state.StateClosed, d.State)
}

func TestRecordFailure_OpensAtThreshold(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	br, store := newTestBreaker(t, testConfig(), now)

	for i := 1; i <= 2; i++ {
		st, changed, err := br.RecordFailure("flaky-check", "exit status 1")
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, state.StateClosed, st.State)
		require.Equal(t, i, st.ConsecutiveFailures)
	}

	st, changed, err := br.RecordFailure("flaky-check", "exit status 1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, state.StateOpen, st.State)
	require.Equal(t, 3, st.ConsecutiveFailures)
	require.Equal(t, 3, st.FailureCount)
	require.NotNil(t, st.DisabledAt)
	require.True(t, st.DisabledAt.Equal(now))
	require.NotNil(t, st.RetryAfter)
	require.True(t, st.RetryAfter.Equal(now.Add(300*time.Second)))

	// Before retry_after the decision is a skip with a countdown message.
	d, err := br.Decide("flaky-check")
	require.NoError(t, err)
	require.False(t, d.ShouldExecute)
	require.Equal(t, state.StateOpen, d.State)
	require.Contains(t, d.Message, "retry in")

	_, global, err := store.ListAll()
	require.NoError(t, err)
	require.Equal(t, int64(3), global.TotalExecutions)
	require.Equal(t, int64(3), global.TotalFailures)
}

func TestDecide_ElapsedCooldownProbes(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	br, store := newTestBreaker(t, testConfig(), now)

	for i := 0; i < 3; i++ {
		_, _, err := br.RecordFailure("flaky-check", "boom")
		require.NoError(t, err)
	}

	// The first decision after retry_after is the probe and transitions the
	// record to half-open as a side effect.
	br.WithClock(func() time.Time { return now.Add(301 * time.Second) })
	d, err := br.Decide("flaky-check")
	require.NoError(t, err)
	require.True(t, d.ShouldExecute)
	require.Equal(t, state.StateHalfOpen, d.State)

	st, ok, err := store.Get("flaky-check")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.StateHalfOpen, st.State)
	require.Equal(t, 0, st.ConsecutiveSuccesses)
}

func TestRecordFailure_HalfOpenReopensImmediately(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	br, _ := newTestBreaker(t, testConfig(), now)

	for i := 0; i < 3; i++ {
		_, _, err := br.RecordFailure("flaky-check", "boom")
		require.NoError(t, err)
	}
	later := now.Add(301 * time.Second)
	br.WithClock(func() time.Time { return later })
	_, err := br.Decide("flaky-check")
	require.NoError(t, err)

	// One success inside the probation window is not enough to close.
	st, changed, err := br.RecordSuccess("flaky-check")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, state.StateHalfOpen, st.State)

	// A single failure reopens no matter how many successes preceded it.
	st, changed, err = br.RecordFailure("flaky-check", "boom again")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, state.StateOpen, st.State)
	require.NotNil(t, st.RetryAfter)
	require.True(t, st.RetryAfter.Equal(later.Add(300*time.Second)))
}

func TestRecordSuccess_ClosesAfterSuccessThreshold(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	br, _ := newTestBreaker(t, testConfig(), now)

	for i := 0; i < 3; i++ {
		_, _, err := br.RecordFailure("flaky-check", "boom")
		require.NoError(t, err)
	}
	br.WithClock(func() time.Time { return now.Add(301 * time.Second) })
	_, err := br.Decide("flaky-check")
	require.NoError(t, err)

	st, changed, err := br.RecordSuccess("flaky-check")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, state.StateHalfOpen, st.State)

	st, changed, err = br.RecordSuccess("flaky-check")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, state.StateClosed, st.State)
	require.Equal(t, 0, st.ConsecutiveFailures)
	require.Equal(t, 0, st.FailureCount)
	require.Empty(t, st.LastError)
	require.Nil(t, st.DisabledAt)
	require.Nil(t, st.RetryAfter)
}

func TestExcludedCommands_NeverTracked(t *testing.T) {
	cfg := testConfig()
	cfg.Exclude = []string{"lint"}
	br, store := newTestBreaker(t, cfg, time.Now())

	for i := 0; i < 10; i++ {
		st, changed, err := br.RecordFailure("npm run lint", "boom")
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, state.StateClosed, st.State)
	}

	d, err := br.Decide("npm run lint")
	require.NoError(t, err)
	require.True(t, d.ShouldExecute)

	_, ok, err := store.Get("npm run lint")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDisabledBreaker_AlwaysExecutes(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	br, store := newTestBreaker(t, cfg, time.Now())

	for i := 0; i < 5; i++ {
		_, _, err := br.RecordFailure("cmd", "boom")
		require.NoError(t, err)
	}

	d, err := br.Decide("cmd")
	require.NoError(t, err)
	require.True(t, d.ShouldExecute)

	commands, _, err := store.ListAll()
	require.NoError(t, err)
	require.Empty(t, commands)
}

func TestHalfOpen_ManualOverride(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	br, store := newTestBreaker(t, testConfig(), now)

	// No-op unless the circuit is open.
	transitioned, err := br.HalfOpen("cmd")
	require.NoError(t, err)
	require.False(t, transitioned)

	for i := 0; i < 3; i++ {
		_, _, err := br.RecordFailure("cmd", "boom")
		require.NoError(t, err)
	}

	transitioned, err = br.HalfOpen("cmd")
	require.NoError(t, err)
	require.True(t, transitioned)

	st, _, err := store.Get("cmd")
	require.NoError(t, err)
	require.Equal(t, state.StateHalfOpen, st.State)
}

func TestRecordFailure_ConcurrentInstancesNoUndercount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := testConfig()

	// Two independent store instances against the same file, as two
	// concurrent hook invocations would have.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			br := New(state.NewStore(path), cfg)
			_, _, err := br.RecordFailure("shared-cmd", "boom")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, ok, err := state.NewStore(path).Get("shared-cmd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, st.ConsecutiveFailures)
	require.Equal(t, 2, st.FailureCount)

	_, global, err := state.NewStore(path).ListAll()
	require.NoError(t, err)
	require.Equal(t, int64(2), global.TotalFailures)
}

func TestRecordFailure_TruncatesLastError(t *testing.T) {
	br, _ := newTestBreaker(t, testConfig(), time.Now())

	st, _, err := br.RecordFailure("cmd", strings.Repeat("x", 800))
	require.NoError(t, err)
	require.Len(t, st.LastError, 500)
}
