// Package classifier runs the drawing-stage models. Models are loaded on
// first use and inference on one model is serialized.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
)

var (
	// ErrModelUnavailable means weights could not be found, fetched or
	// loaded. A later request may succeed.
	ErrModelUnavailable = errors.NewStd("model unavailable")
	// ErrInference means the runtime failed or produced an invalid vector
	ErrInference = errors.NewStd("inference failed")
)

// sumTolerance bounds how far a softmax output may drift from 1
const sumTolerance = 1e-3

// Predictor produces a probability vector over the stages for one tensor.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, t *imageprep.Tensor) ([]float32, error)
}

// Session is a loaded model runtime. Implementations are not reentrant.
type Session interface {
	// Run feeds one NHWC tensor and returns a copy of the first output
	Run(input []float32, shape [4]int) ([]float32, error)
	Close() error
}

// Loader creates a Session from a weights file on disk.
type Loader interface {
	Backend() string
	Load(ctx context.Context, path string) (Session, error)
}

// validateOutput rejects vectors that are not a probability distribution.
func validateOutput(out []float32) error {
	if len(out) == 0 {
		return fmt.Errorf("%w: empty output vector", ErrInference)
	}
	var sum float64
	for i, v := range out {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite probability at index %d", ErrInference, i)
		}
		if f < 0 {
			return fmt.Errorf("%w: negative probability %g at index %d", ErrInference, f, i)
		}
		sum += f
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("%w: probabilities sum to %g", ErrInference, sum)
	}
	return nil
}

func inferenceError(name string, err error) error {
	if !errors.Is(err, ErrInference) {
		err = fmt.Errorf("%w: %w", ErrInference, err)
	}
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryInference).
		Context("model", name).
		Build()
}
