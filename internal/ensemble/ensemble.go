// Package ensemble merges the outputs of two classifiers into one stage
// prediction.
package ensemble

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drawee/drawee-go/internal/classifier"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/stage"
)

// ShapeMismatchError reports output vectors that cannot be merged.
type ShapeMismatchError struct {
	ModelA   int
	ModelB   int
	Expected int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("model outputs have lengths %d and %d, expected %d", e.ModelA, e.ModelB, e.Expected)
}

// ErrorCategory lets the error builder pick the category up
func (e *ShapeMismatchError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryShapeMismatch
}

// Prediction is the merged result for one drawing.
type Prediction struct {
	Stage        stage.Stage
	Index        int
	Confidence   float64              // merged probability of Stage times 100
	Distribution []float64            // merged probabilities in stage order
	PerModel     map[string][]float64 // raw output of each model
}

// Ensemble averages two predictors.
type Ensemble struct {
	a, b     classifier.Predictor
	expected int
}

// Option configures an Ensemble
type Option func(*Ensemble)

// WithExpectedLength overrides the required output length
func WithExpectedLength(n int) Option {
	return func(e *Ensemble) {
		e.expected = n
	}
}

// New returns an ensemble of a and b. The names of a and b must differ.
func New(a, b classifier.Predictor, opts ...Option) *Ensemble {
	e := &Ensemble{a: a, b: b, expected: stage.Count}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Models returns the names of both predictors in order
func (e *Ensemble) Models() [2]string {
	return [2]string{e.a.Name(), e.b.Name()}
}

// Classify runs both models on t and merges their outputs. When both
// models fail the first model's error comes first.
func (e *Ensemble) Classify(ctx context.Context, t *imageprep.Tensor) (*Prediction, error) {
	start := time.Now()

	var outA, outB []float32
	var errA, errB error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outA, errA = e.a.Predict(gctx, t)
		return nil
	})
	g.Go(func() error {
		outB, errB = e.b.Predict(gctx, t)
		return nil
	})
	_ = g.Wait()

	if errA != nil || errB != nil {
		return nil, e.modelErrors(errA, errB)
	}

	merged, err := Merge(outA, outB, e.expected)
	if err != nil {
		return nil, errors.New(err).
			Component("ensemble").
			Category(errors.CategoryShapeMismatch).
			Context("model_a", e.a.Name()).
			Context("model_b", e.b.Name()).
			Build()
	}

	idx := ArgMax(merged)
	s, err := stage.FromIndex(idx)
	if err != nil {
		return nil, errors.New(err).
			Component("ensemble").
			Category(errors.CategoryShapeMismatch).
			Context("index", idx).
			Build()
	}

	p := &Prediction{
		Stage:        s,
		Index:        idx,
		Confidence:   merged[idx] * 100,
		Distribution: merged,
		PerModel: map[string][]float64{
			e.a.Name(): widen(outA),
			e.b.Name(): widen(outB),
		},
	}

	GetLogger().Debug("ensemble prediction",
		logger.String("stage", s.String()),
		logger.Float64("confidence", p.Confidence),
		logger.Duration("duration", time.Since(start)))

	return p, nil
}

// modelErrors labels each failure with its model, keeping the sentinel chain
func (e *Ensemble) modelErrors(errA, errB error) error {
	var errs []error
	if errA != nil {
		errs = append(errs, fmt.Errorf("model %q: %w", e.a.Name(), errA))
	}
	if errB != nil {
		errs = append(errs, fmt.Errorf("model %q: %w", e.b.Name(), errB))
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

// Merge averages a and b element-wise in float64. Both must have length expected.
func Merge(a, b []float32, expected int) ([]float64, error) {
	if len(a) != len(b) || len(a) != expected {
		return nil, &ShapeMismatchError{ModelA: len(a), ModelB: len(b), Expected: expected}
	}
	merged := make([]float64, len(a))
	for i := range a {
		merged[i] = (float64(a[i]) + float64(b[i])) / 2
	}
	return merged, nil
}

// ArgMax returns the index of the largest value. Ties go to the lowest
// index; an empty slice yields -1.
func ArgMax(v []float64) int {
	idx := -1
	for i, x := range v {
		if idx < 0 || x > v[idx] {
			idx = i
		}
	}
	return idx
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
