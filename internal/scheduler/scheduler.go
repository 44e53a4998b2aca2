package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepwise/pkg/schema"
)

// Runner executes the workflow behind a job.
type Runner interface {
	RunJob(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

// RunJob calls f(ctx, job).
func (f RunnerFunc) RunJob(ctx context.Context, job Job) error { return f(ctx, job) }

// Recorder observes trigger outcomes. Satisfied by metrics.Collector.
type Recorder interface {
	JobTriggered(job, outcome string)
}

// Trigger outcomes passed to Recorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeInFlight  = "skipped_in_flight"
)

// DefaultTickInterval is how often the loop checks for due jobs.
const DefaultTickInterval = time.Second

// JobStatus is a snapshot of a scheduled job.
type JobStatus struct {
	Job        Job        `json:"job"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Running    bool       `json:"running"`
}

type jobState struct {
	job        Job
	schedule   cron.Schedule
	next       time.Time
	lastRun    *time.Time
	lastStatus string
	lastError  string
}

// Options configures a Scheduler.
type Options struct {
	TickInterval time.Duration
	Recorder     Recorder
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler triggers jobs when their cron expression comes due. A job that is
// still running when it comes due again is skipped, not queued.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	opts   Options

	mu     sync.Mutex
	jobs   map[string]*jobState
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler. Jobs are added with Add.
func NewScheduler(runner Runner, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger.With(slog.String("component", "scheduler")),
		opts:     opts,
		jobs:     make(map[string]*jobState),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job and computes its first run time.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "job name is empty")
	}
	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %s: parse cron expression %q: %v", job.Name, job.Cron, err).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already scheduled", job.Name)
	}
	s.jobs[job.Name] = &jobState{
		job:      job,
		schedule: sched,
		next:     sched.Next(s.opts.Now().UTC()),
	}
	return nil
}

// Remove unschedules a job. A running trigger is not interrupted.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	return ok
}

// Jobs returns a snapshot of all jobs ordered by next run time.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, JobStatus{
			Job:        st.job,
			NextRunAt:  st.next,
			LastRunAt:  st.lastRun,
			LastStatus: st.lastStatus,
			LastError:  st.lastError,
			Running:    s.isInFlight(st.job.Name),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		return out[i].Job.Name < out[j].Job.Name
	})
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches every enabled job that is due and not already running.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.opts.Now().UTC()

	s.mu.Lock()
	var due []*jobState
	for _, st := range s.jobs {
		if st.job.Disabled || st.next.After(now) {
			continue
		}
		// Advance before running so a slow run does not retrigger every tick.
		st.next = st.schedule.Next(now)
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		job := st.job
		if !s.tryAcquire(job.Name) {
			s.logger.Warn("job still running, skipping trigger", slog.String("job", job.Name))
			s.record(job.Name, OutcomeInFlight)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.releaseJob(job.Name)
			s.runJob(ctx, st, now)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, st *jobState, now time.Time) {
	job := st.job
	s.logger.Info("running scheduled job", slog.String("job", job.Name), slog.String("file", job.File))

	err := s.runner.RunJob(ctx, job)
	status := OutcomeSucceeded
	if err != nil {
		status = OutcomeFailed
		s.logger.Error("scheduled job failed", slog.String("job", job.Name), slog.String("error", err.Error()))
	}
	s.record(job.Name, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.lastRun = &now
	st.lastStatus = status
	st.lastError = ""
	if err != nil {
		st.lastError = err.Error()
	}
}

func (s *Scheduler) record(job, outcome string) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.JobTriggered(job, outcome)
	}
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

func (s *Scheduler) isInFlight(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[name]
	return ok
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop halts the loop and waits for running jobs to return. Running jobs see
// their context cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	<-done
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}
