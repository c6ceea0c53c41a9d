package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/classifier"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/stage"
)

type stubPredictor struct {
	name string
	out  []float32
	err  error
}

func (s stubPredictor) Name() string { return s.name }

func (s stubPredictor) Predict(context.Context, *imageprep.Tensor) ([]float32, error) {
	return s.out, s.err
}

func tensor() *imageprep.Tensor {
	return &imageprep.Tensor{Data: make([]float32, 12), Shape: [4]int{1, 2, 2, 3}}
}

func TestClassifyMergesOutputs(t *testing.T) {
	t.Parallel()

	a := stubPredictor{name: "resnet", out: []float32{0.1, 0.2, 0.5, 0.1, 0.1}}
	b := stubPredictor{name: "xception", out: []float32{0.1, 0.6, 0.2, 0.05, 0.05}}

	p, err := New(a, b).Classify(context.Background(), tensor())
	require.NoError(t, err)

	// merged: 0.1, 0.4, 0.35, 0.075, 0.075
	assert.Equal(t, stage.PreSchematic, p.Stage)
	assert.Equal(t, 1, p.Index)
	assert.InDelta(t, 40, p.Confidence, 1e-5)
	require.Len(t, p.Distribution, stage.Count)
	assert.InDelta(t, 0.35, p.Distribution[2], 1e-6)
	assert.Len(t, p.PerModel, 2)
	assert.InDelta(t, 0.6, p.PerModel["xception"][1], 1e-6)
	assert.Equal(t, [2]string{"resnet", "xception"}, New(a, b).Models())
}

func TestMergeTwoClassExample(t *testing.T) {
	t.Parallel()

	merged, err := Merge([]float32{0.1, 0.9}, []float32{0.3, 0.7}, 2)
	require.NoError(t, err)
	idx := ArgMax(merged)
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 80, merged[idx]*100, 1e-5)
}

// randomDistribution returns a softmax-like vector normalized in float64
// and narrowed to float32, as a model would emit it.
func randomDistribution(r *rand.Rand, n int) []float32 {
	raw := make([]float64, n)
	var sum float64
	for i := range raw {
		raw[i] = r.ExpFloat64()
		sum += raw[i]
	}
	out := make([]float32, n)
	for i := range raw {
		out[i] = float32(raw[i] / sum)
	}
	return out
}

func distributionPairs(t *testing.T) [][2][]float32 {
	t.Helper()
	pairs := [][2][]float32{
		// exact tie after merging
		{{0.5, 0.5, 0, 0, 0}, {0.5, 0.5, 0, 0, 0}},
		{{0.6, 0.2, 0.2, 0, 0}, {0.2, 0.6, 0.2, 0, 0}},
		// near ties one float32 ulp apart
		{{0.4, math.Nextafter32(0.4, 1), 0.2, 0, 0}, {0.4, 0.4, 0.2, 0, 0}},
		{{0.2, 0.2, 0.2, 0.2, 0.2}, {0.2, 0.2, 0.2, 0.2, math.Nextafter32(0.2, 0)}},
		{{0, 0, 0, 0, 1}, {1, 0, 0, 0, 0}},
	}
	r := rand.New(rand.NewPCG(42, 1))
	for range 500 {
		pairs = append(pairs, [2][]float32{randomDistribution(r, stage.Count), randomDistribution(r, stage.Count)})
	}
	return pairs
}

func TestMergeIsCommutative(t *testing.T) {
	t.Parallel()

	for i, pair := range distributionPairs(t) {
		a, b := pair[0], pair[1]
		ab, err := Merge(a, b, stage.Count)
		require.NoError(t, err)
		ba, err := Merge(b, a, stage.Count)
		require.NoError(t, err)
		assert.Equal(t, ab, ba, "pair %d", i)
		assert.Equal(t, ArgMax(ab), ArgMax(ba), "pair %d", i)
	}
}

func TestMergeSumsToOne(t *testing.T) {
	t.Parallel()

	for i, pair := range distributionPairs(t) {
		merged, err := Merge(pair[0], pair[1], stage.Count)
		require.NoError(t, err)
		var sum float64
		for _, p := range merged {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "pair %d", i)
	}
}

func TestClassifyIgnoresModelOrder(t *testing.T) {
	t.Parallel()

	for i, pair := range distributionPairs(t) {
		ab, err := New(stubPredictor{name: "a", out: pair[0]}, stubPredictor{name: "b", out: pair[1]}).
			Classify(context.Background(), tensor())
		require.NoError(t, err)
		ba, err := New(stubPredictor{name: "b", out: pair[1]}, stubPredictor{name: "a", out: pair[0]}).
			Classify(context.Background(), tensor())
		require.NoError(t, err)
		assert.Equal(t, ab.Stage, ba.Stage, "pair %d", i)
		assert.Equal(t, ab.Confidence, ba.Confidence, "pair %d", i)
	}
}

func TestArgMaxTiesPickLowestIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ArgMax([]float64{0.1, 0.4, 0.4, 0.1}))
	assert.Equal(t, 0, ArgMax([]float64{0.2, 0.2, 0.2, 0.2, 0.2}))
	assert.Equal(t, -1, ArgMax(nil))
}

func TestShapeMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		a, b  []float32
		wantA int
		wantB int
	}{
		{"different lengths", []float32{0.5, 0.5, 0, 0, 0}, []float32{0.5, 0.5, 0, 0}, 5, 4},
		{"same length but not the stage count", []float32{0.5, 0.5}, []float32{0.5, 0.5}, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(stubPredictor{name: "a", out: tt.a}, stubPredictor{name: "b", out: tt.b}).
				Classify(context.Background(), tensor())

			var shapeErr *ShapeMismatchError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, tt.wantA, shapeErr.ModelA)
			assert.Equal(t, tt.wantB, shapeErr.ModelB)
			assert.Equal(t, stage.Count, shapeErr.Expected)
			assert.True(t, errors.IsCategory(err, errors.CategoryShapeMismatch))
		})
	}
}

func TestModelErrorsKeepSentinelAndOrder(t *testing.T) {
	t.Parallel()

	ok := stubPredictor{name: "xception", out: []float32{0.2, 0.2, 0.2, 0.2, 0.2}}
	unavailable := stubPredictor{name: "resnet", err: fmt.Errorf("%w: weights missing", classifier.ErrModelUnavailable)}
	broken := stubPredictor{name: "xception", err: fmt.Errorf("%w: invoke failed", classifier.ErrInference)}

	_, err := New(unavailable, ok).Classify(context.Background(), tensor())
	require.ErrorIs(t, err, classifier.ErrModelUnavailable)
	assert.Contains(t, err.Error(), `model "resnet"`)

	_, err = New(unavailable, broken).Classify(context.Background(), tensor())
	require.ErrorIs(t, err, classifier.ErrModelUnavailable)
	require.ErrorIs(t, err, classifier.ErrInference)
	msg := err.Error()
	assert.Less(t, strings.Index(msg, `model "resnet"`), strings.Index(msg, `model "xception"`))
}

func TestWithExpectedLength(t *testing.T) {
	t.Parallel()

	a := stubPredictor{name: "a", out: []float32{0.1, 0.9}}
	b := stubPredictor{name: "b", out: []float32{0.3, 0.7}}

	_, err := New(a, b, WithExpectedLength(2)).Classify(context.Background(), tensor())
	// index 1 maps to a stage, so the two-class vector classifies
	require.NoError(t, err)
}
