package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaRunsStepsInOrder(t *testing.T) {
	var order []string
	saga := new(Saga).
		Add(SagaStep{Name: "first", Run: func(context.Context) error {
			order = append(order, "first")
			return nil
		}}).
		Add(SagaStep{Name: "second", Run: func(context.Context) error {
			order = append(order, "second")
			return nil
		}})

	require.NoError(t, saga.Execute(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSagaCompensatesInReverseOnFailure(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	saga := new(Saga).
		Add(SagaStep{
			Name:       "a",
			Run:        func(context.Context) error { trace = append(trace, "run-a"); return nil },
			Compensate: func(context.Context) error { trace = append(trace, "undo-a"); return nil },
		}).
		Add(SagaStep{
			Name:       "b",
			Run:        func(context.Context) error { trace = append(trace, "run-b"); return nil },
			Compensate: func(context.Context) error { trace = append(trace, "undo-b"); return nil },
		}).
		Add(SagaStep{
			Name: "c",
			Run:  func(context.Context) error { return boom },
		})

	err := saga.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "saga step c")
	assert.Equal(t, []string{"run-a", "run-b", "undo-b", "undo-a"}, trace)
}

func TestSagaFailedStepIsNotCompensated(t *testing.T) {
	var undone bool
	saga := new(Saga).Add(SagaStep{
		Name:       "only",
		Run:        func(context.Context) error { return errors.New("nope") },
		Compensate: func(context.Context) error { undone = true; return nil },
	})

	require.Error(t, saga.Execute(context.Background()))
	assert.False(t, undone, "the failing step must not run its own compensation")
}

func TestSagaCompensationFailureDoesNotMaskStepError(t *testing.T) {
	boom := errors.New("step failed")
	saga := new(Saga).
		Add(SagaStep{
			Name:       "a",
			Run:        func(context.Context) error { return nil },
			Compensate: func(context.Context) error { return errors.New("undo failed") },
		}).
		Add(SagaStep{
			Name: "b",
			Run:  func(context.Context) error { return boom },
		})

	err := saga.Execute(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "undo failed")
}
