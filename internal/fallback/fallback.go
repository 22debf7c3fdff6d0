// Package fallback evaluates ordered strategies until one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when every step failed.
var ErrExhausted = errors.New("all fallback steps failed")

// Step is one named strategy in a chain.
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is the value of the first successful step.
type Result[T any] struct {
	Value T
	Step  string
	// Failed lists the errors of the steps tried before Step.
	Failed []error
}

// First runs steps in order and returns the first success. Context cancellation stops the chain.
func First[T any](ctx context.Context, steps ...Step[T]) (Result[T], error) {
	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Result[T]{}, errors.Join(append(errs, err)...)
		}
		if step.Run == nil {
			continue
		}
		val, err := step.Run(ctx)
		if err == nil {
			return Result[T]{Value: val, Step: step.Name, Failed: errs}, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
	}
	return Result[T]{}, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
