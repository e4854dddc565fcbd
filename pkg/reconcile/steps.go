// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"errors"
)

// ErrSkipped marks a step that did not run because a step it depends on
// failed or had nothing to do.
var ErrSkipped = errors.New("step skipped")

// StepResult is the outcome of one step of an action.
type StepResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Skipped reports whether the step did not run.
func (r StepResult) Skipped() bool {
	return errors.Is(r.Err, ErrSkipped)
}

// OK reports whether the step ran and succeeded.
func (r StepResult) OK() bool {
	return r.Err == nil
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps runs every step in order regardless of earlier failures. Steps
// share state through their closures and return ErrSkipped when a
// prerequisite is missing. A panicking step is recorded as failed.
func (e *Engine) runSteps(ctx context.Context, action, handle string, steps []step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		err := e.runStep(ctx, s)
		switch {
		case err == nil:
		case errors.Is(err, ErrSkipped):
			e.log.Debug().Str("action", action).Str("step", s.name).Str("game_handle", handle).Msg("Step skipped")
		default:
			e.log.Warn().Err(err).Str("action", action).Str("step", s.name).Str("game_handle", handle).Msg("Step failed")
		}
		results = append(results, StepResult{Name: s.name, Err: err})
	}
	return results
}

func (e *Engine) runStep(ctx context.Context, s step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{step: s.name, value: p}
		}
	}()
	return s.run(ctx)
}

type panicError struct {
	step  string
	value any
}

func (p *panicError) Error() string {
	return "step " + p.step + " panicked"
}

func stepErr(results []StepResult, name string) error {
	for _, r := range results {
		if r.Name == name {
			return r.Err
		}
	}
	return ErrSkipped
}
