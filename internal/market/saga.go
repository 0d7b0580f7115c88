package market

import (
	"context"
	"errors"
	"fmt"

	"skillbay.org/internal/obs"
)

// SagaStep pairs a forward action with its undo. Compensate may be nil for
// steps that need no rollback.
type SagaStep struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga executes an ordered list of steps, standing in for a cross-table
// transaction the store cannot provide. When a step fails, the compensations
// of every previously completed step run in reverse order and the step's
// error is surfaced; the sequence is atomic from the caller's point of view.
type Saga struct {
	steps []SagaStep
}

// Add appends a step to the sequence.
func (s *Saga) Add(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. Compensation failures are logged and
// joined onto the step error; they never mask it for errors.Is checks.
func (s *Saga) Execute(ctx context.Context) error {
	completed := make([]SagaStep, 0, len(s.steps))
	for _, step := range s.steps {
		err := step.Run(ctx)
		if err == nil {
			completed = append(completed, step)
			continue
		}
		err = fmt.Errorf("saga step %s: %w", step.Name, err)
		for i := len(completed) - 1; i >= 0; i-- {
			comp := completed[i]
			if comp.Compensate == nil {
				continue
			}
			if cerr := comp.Compensate(ctx); cerr != nil {
				obs.LogError("saga", "compensation failed for step "+comp.Name, cerr)
				err = errors.Join(err, fmt.Errorf("compensate %s: %w", comp.Name, cerr))
			}
		}
		return err
	}
	return nil
}
