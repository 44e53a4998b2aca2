package actions

import (
	"context"
	"maps"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// --- noop ---

type noopAction struct{}

func (a *noopAction) Name() string { return "noop" }

func (a *noopAction) Schema() ActionSchema {
	return ActionSchema{Description: "Return the step params unchanged"}
}

func (a *noopAction) Validate(_ map[string]any) error { return nil }

func (a *noopAction) Execute(_ context.Context, input Input) (any, error) {
	return maps.Clone(input.Params), nil
}

// --- sleep ---

type sleepAction struct{}

func (a *sleepAction) Name() string { return "sleep" }

func (a *sleepAction) Schema() ActionSchema {
	return ActionSchema{Description: "Wait for a duration or until the step is cancelled"}
}

func (a *sleepAction) Validate(params map[string]any) error {
	if stringParam(params, "duration", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "sleep requires 'duration' parameter")
	}
	_, err := durationParam(params, "duration", 0)
	return err
}

func (a *sleepAction) Execute(ctx context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	d, _ := durationParam(input.Params, "duration", 0)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"slept": d.String()}, nil
	}
}
