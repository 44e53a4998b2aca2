package engine

import (
	"context"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// Body is the unit of work a step runs. It may read earlier results through r
// and must honour ctx: an attempt whose deadline passes is counted as failed
// even if Invoke has not returned.
type Body interface {
	Invoke(ctx context.Context, r *Results) (any, error)
}

// StepFunc adapts an ordinary function to Body.
type StepFunc func(ctx context.Context, r *Results) (any, error)

// Invoke calls f(ctx, r).
func (f StepFunc) Invoke(ctx context.Context, r *Results) (any, error) {
	return f(ctx, r)
}

// Condition decides whether a pending step may run. An error is treated as false.
type Condition interface {
	Test(r *Results) (bool, error)
}

// ConditionFunc adapts an ordinary function to Condition.
type ConditionFunc func(r *Results) (bool, error)

// Test calls f(r).
func (f ConditionFunc) Test(r *Results) (bool, error) {
	return f(r)
}

// StepSpec is the registration form of a step.
// A zero Timeout takes the workflow default.
type StepSpec struct {
	Name       string
	Body       Body
	DependsOn  []string
	Condition  Condition
	Timeout    time.Duration
	MaxRetries int
	Critical   bool
	Parallel   bool
}

// StepOption customises a StepSpec during AddStep.
type StepOption func(*StepSpec)

// DependsOn adds dependencies by step name. Names may refer to steps registered later.
func DependsOn(names ...string) StepOption {
	return func(s *StepSpec) { s.DependsOn = append(s.DependsOn, names...) }
}

// When sets the run condition.
func When(c Condition) StepOption {
	return func(s *StepSpec) { s.Condition = c }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) StepOption {
	return func(s *StepSpec) { s.Timeout = d }
}

// WithRetries sets how many attempts follow a failed first attempt.
func WithRetries(n int) StepOption {
	return func(s *StepSpec) { s.MaxRetries = n }
}

// Critical marks the step so its exhaustion aborts the workflow.
func Critical() StepOption {
	return func(s *StepSpec) { s.Critical = true }
}

// Parallel lets the step run concurrently with other ready parallel steps.
func Parallel() StepOption {
	return func(s *StepSpec) { s.Parallel = true }
}

// step is the runtime record of a registered step. Mutable fields are guarded
// by the owning Workflow's mutex.
type step struct {
	name       string
	index      int
	deps       []string
	cond       Condition
	timeout    time.Duration
	maxRetries int
	critical   bool
	parallel   bool
	body       Body

	status    schema.StepStatus
	result    any
	err       error
	reason    string // why the step was skipped
	attempts  int
	startedAt time.Time
	endedAt   time.Time
}

func (s *step) duration() time.Duration {
	if s.startedAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.startedAt)
}
