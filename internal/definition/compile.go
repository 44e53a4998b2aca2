package definition

import (
	"context"
	"maps"
	"time"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/pkg/schema"
)

// ActionResolver finds the action bound to a step.
type ActionResolver interface {
	Get(name string) (actions.Action, error)
}

// CompileOptions configures Compile.
type CompileOptions struct {
	Actions     ActionResolver
	Expressions *expressions.Set
	// Engine is the base engine configuration. The definition's retry policy
	// and max_parallel override Backoff and MaxParallel when set.
	Engine engine.Options
	// Inputs override the definition's default inputs key by key.
	Inputs map[string]any
}

// Compile turns a definition into a runnable workflow. Each step's action
// becomes its body: params are interpolated against the results available
// when the step starts. Conditions are compiled up front and evaluated against
// {steps, inputs, workflow} every time the scheduler considers the step.
func Compile(def *schema.WorkflowDefinition, opts CompileOptions) (*engine.Workflow, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if opts.Actions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "compile requires an action resolver")
	}
	if opts.Expressions == nil {
		set, err := expressions.NewSet()
		if err != nil {
			return nil, err
		}
		opts.Expressions = set
	}

	engineOpts := opts.Engine
	if def.Retry != nil {
		backoff, err := engine.ParseBackoff(def.Retry)
		if err != nil {
			return nil, err
		}
		engineOpts.Backoff = backoff
	}
	if def.MaxParallel > 0 {
		engineOpts.MaxParallel = def.MaxParallel
	}

	w := engine.New(def.Name, engineOpts)

	inputs := maps.Clone(def.Inputs)
	if inputs == nil {
		inputs = make(map[string]any, len(opts.Inputs))
	}
	maps.Copy(inputs, opts.Inputs)

	c := &compiler{
		exprs:  opts.Expressions,
		interp: expressions.NewInterpolator(),
		inputs: inputs,
		meta:   map[string]any{"name": def.Name, "run_id": w.ID(), "description": def.Description},
	}

	for i := range def.Steps {
		sd := &def.Steps[i]
		action, err := opts.Actions.Get(sd.Action)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "step %s: %v", sd.ID, err).WithStep(sd.ID).WithCause(err)
		}

		stepOpts, err := stepOptions(sd)
		if err != nil {
			return nil, err
		}

		body := c.body(sd, action)
		if sd.Condition == "" {
			err = w.AddStep(sd.ID, body, stepOpts...)
		} else {
			var cond engine.Condition
			cond, err = c.condition(sd)
			if err != nil {
				return nil, err
			}
			err = w.AddConditionalStep(sd.ID, cond, body, stepOpts...)
		}
		if err != nil {
			return nil, err
		}
	}

	return w, nil
}

func stepOptions(sd *schema.StepDefinition) ([]engine.StepOption, error) {
	opts := []engine.StepOption{engine.DependsOn(sd.DependsOn...)}
	if sd.Timeout != "" {
		d, err := time.ParseDuration(sd.Timeout)
		if err != nil || d <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q", sd.Timeout).WithStep(sd.ID)
		}
		opts = append(opts, engine.WithTimeout(d))
	}
	if sd.Retries > 0 {
		opts = append(opts, engine.WithRetries(sd.Retries))
	}
	if sd.Critical {
		opts = append(opts, engine.Critical())
	}
	if sd.Parallel {
		opts = append(opts, engine.Parallel())
	}
	return opts, nil
}

type compiler struct {
	exprs  *expressions.Set
	interp *expressions.Interpolator
	inputs map[string]any
	meta   map[string]any
}

func (c *compiler) scope(r *engine.Results) expressions.Scope {
	return expressions.Scope{Steps: r.Snapshot(), Inputs: c.inputs, Workflow: c.meta}
}

func (c *compiler) body(sd *schema.StepDefinition, action actions.Action) engine.Body {
	params := sd.Params
	return engine.StepFunc(func(ctx context.Context, r *engine.Results) (any, error) {
		scope := c.scope(r)
		resolved, err := c.interp.Resolve(params, scope)
		if err != nil {
			// A missing reference will not appear on retry.
			return nil, schema.NonRetryable(err)
		}
		if resolved == nil {
			resolved = map[string]any{}
		}
		return action.Execute(ctx, actions.Input{Params: resolved, Scope: scope})
	})
}

func (c *compiler) condition(sd *schema.StepDefinition) (engine.Condition, error) {
	eng, err := c.exprs.Get(sd.ConditionLang)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s: %v", sd.ID, err).WithStep(sd.ID)
	}
	if comp, ok := eng.(expressions.Compiler); ok {
		if err := comp.Compile(sd.Condition); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s condition: %v", sd.ID, err).
				WithStep(sd.ID).WithCause(err)
		}
	}

	expression := sd.Condition
	return engine.ConditionFunc(func(r *engine.Results) (bool, error) {
		data, err := c.scope(r).Data()
		if err != nil {
			return false, err
		}
		return expressions.EvaluateBool(context.Background(), eng, expression, data)
	}), nil
}
