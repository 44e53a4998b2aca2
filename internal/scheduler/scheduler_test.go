package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRunner records RunJob calls and can block until released.
type mockRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (r *mockRunner) RunJob(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.calls = append(r.calls, job.Name)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingRecorder) JobTriggered(job, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, job+":"+outcome)
}

func newTestScheduler(runner Runner, clock *fakeClock, rec Recorder) *Scheduler {
	return NewScheduler(runner, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		TickInterval: 5 * time.Millisecond,
		Recorder:     rec,
		Now:          clock.Now,
	})
}

func startOfHour() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(&mockRunner{}, startOfHour(), nil)
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestAdd_Validation(t *testing.T) {
	sched := newTestScheduler(&mockRunner{}, startOfHour(), nil)

	require.NoError(t, sched.Add(Job{Name: "a", Cron: "*/5 * * * *", File: "a.yaml"}))
	err := sched.Add(Job{Name: "a", Cron: "* * * * *", File: "a.yaml"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	err = sched.Add(Job{Name: "b", Cron: "every minute", File: "b.yaml"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = sched.Add(Job{Cron: "* * * * *"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC), jobs[0].NextRunAt)
}

func TestTickRunsDueJobs(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{}
	rec := &recordingRecorder{}
	sched := newTestScheduler(runner, clock, rec)
	ctx := context.Background()

	require.NoError(t, sched.Add(Job{Name: "quarter", Cron: "*/15 * * * *", File: "q.yaml"}))
	require.NoError(t, sched.Add(Job{Name: "hourly", Cron: "0 * * * *", File: "h.yaml"}))

	sched.tick(ctx)
	sched.wg.Wait()
	assert.Equal(t, 0, runner.callCount(), "nothing due yet")

	clock.Advance(15 * time.Minute)
	sched.tick(ctx)
	sched.wg.Wait()
	assert.Equal(t, []string{"quarter"}, runner.calls)

	jobs := sched.Jobs()
	assert.Equal(t, "quarter", jobs[0].Job.Name)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC), jobs[0].NextRunAt)
	require.NotNil(t, jobs[0].LastRunAt)
	assert.Equal(t, OutcomeSucceeded, jobs[0].LastStatus)
	assert.Equal(t, []string{"quarter:" + OutcomeSucceeded}, rec.outcomes)
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{}
	sched := newTestScheduler(runner, clock, nil)

	require.NoError(t, sched.Add(Job{Name: "off", Cron: "* * * * *", File: "x.yaml", Disabled: true}))
	clock.Advance(time.Hour)
	sched.tick(context.Background())
	sched.wg.Wait()

	assert.Equal(t, 0, runner.callCount())
}

func TestTickRecordsFailure(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{err: errors.New("workflow failed")}
	rec := &recordingRecorder{}
	sched := newTestScheduler(runner, clock, rec)

	require.NoError(t, sched.Add(Job{Name: "flaky", Cron: "* * * * *", File: "x.yaml"}))
	clock.Advance(time.Minute)
	sched.tick(context.Background())
	sched.wg.Wait()

	jobs := sched.Jobs()
	assert.Equal(t, OutcomeFailed, jobs[0].LastStatus)
	assert.Equal(t, "workflow failed", jobs[0].LastError)
	assert.Equal(t, []string{"flaky:" + OutcomeFailed}, rec.outcomes)
}

func TestInFlightDedup(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{block: make(chan struct{})}
	rec := &recordingRecorder{}
	sched := newTestScheduler(runner, clock, rec)
	ctx := context.Background()

	require.NoError(t, sched.Add(Job{Name: "slow", Cron: "* * * * *", File: "x.yaml"}))

	clock.Advance(time.Minute)
	sched.tick(ctx)
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, sched.Jobs()[0].Running)

	clock.Advance(time.Minute)
	sched.tick(ctx)

	close(runner.block)
	sched.wg.Wait()

	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"slow:" + OutcomeInFlight, "slow:" + OutcomeSucceeded}, rec.outcomes)
	assert.False(t, sched.Jobs()[0].Running)
}

func TestStartStop(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{}
	sched := newTestScheduler(runner, clock, nil)
	require.NoError(t, sched.Add(Job{Name: "minutely", Cron: "* * * * *", File: "x.yaml"}))

	ctx := context.Background()
	require.NoError(t, sched.Start(ctx))
	assert.Error(t, sched.Start(ctx), "second start")

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())

	// Restartable after Stop.
	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Stop())
}

func TestStartStop_Immediate(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		sched := newTestScheduler(&mockRunner{}, startOfHour(), nil)
		require.NoError(t, sched.Start(ctx))
		require.NoError(t, sched.Stop())
	}

	sched := newTestScheduler(&mockRunner{}, startOfHour(), nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, sched.Start(ctx))
		require.NoError(t, sched.Stop())
	}
}

func TestStop_CancelsRunningJobs(t *testing.T) {
	clock := startOfHour()
	runner := &mockRunner{block: make(chan struct{})}
	sched := newTestScheduler(runner, clock, nil)
	require.NoError(t, sched.Add(Job{Name: "stuck", Cron: "* * * * *", File: "x.yaml"}))

	require.NoError(t, sched.Start(context.Background()))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, sched.Stop())
	assert.Equal(t, OutcomeFailed, sched.Jobs()[0].LastStatus)
}

func TestRemove(t *testing.T) {
	sched := newTestScheduler(&mockRunner{}, startOfHour(), nil)
	require.NoError(t, sched.Add(Job{Name: "a", Cron: "* * * * *", File: "a.yaml"}))
	assert.True(t, sched.Remove("a"))
	assert.False(t, sched.Remove("a"))
	assert.Empty(t, sched.Jobs())
}

func TestLoadJobs(t *testing.T) {
	jobs, err := LoadJobs("testdata/jobs.yaml")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "nightly-eval", jobs[0].Name)
	assert.Equal(t, filepath.Join("testdata", "workflows", "eval.yaml"), jobs[0].File)
	assert.Equal(t, "reviews", jobs[0].Inputs["dataset"])
	assert.Equal(t, "/etc/stepwise/ping.yaml", jobs[1].File)
	assert.True(t, jobs[1].Disabled)
}

func TestLoadJobs_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := LoadJobs(filepath.Join(dir, "missing.yaml"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = LoadJobs(write("unknown.yaml", "jobs:\n  - name: a\n    cron: '* * * * *'\n    file: a.yaml\n    every: 5m\n"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = LoadJobs(write("incomplete.yaml", "jobs:\n  - name: a\n"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = LoadJobs(write("dup.yaml", "jobs:\n  - {name: a, cron: '* * * * *', file: a.yaml}\n  - {name: a, cron: '* * * * *', file: b.yaml}\n"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	_, err = LoadJobs(write("empty.yaml", "jobs: []\n"))
	assert.Error(t, err)
}
