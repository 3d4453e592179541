package deploy

import (
	"context"
	"errors"
)

// Recorder receives the outcome of every deploy and scale run.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// NoOpRecorder discards outcomes.
type NoOpRecorder struct{}

// Record does nothing.
func (NoOpRecorder) Record(ctx context.Context, outcome Outcome) error {
	return nil
}

// MultiRecorder fans an outcome out to several recorders. Every recorder is
// called; their errors are joined.
type MultiRecorder []Recorder

// Record calls every recorder in order.
func (m MultiRecorder) Record(ctx context.Context, outcome Outcome) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
