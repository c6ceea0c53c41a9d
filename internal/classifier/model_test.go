package classifier

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
)

type fakeSession struct {
	out    []float32
	err    error
	runs   atomic.Int32
	closed atomic.Bool
	active atomic.Int32
	maxPar atomic.Int32
}

func (s *fakeSession) Run(input []float32, _ [4]int) ([]float32, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		cur := s.maxPar.Load()
		if n <= cur || s.maxPar.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	s.runs.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float32, len(s.out))
	copy(out, s.out)
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeLoader hands out session; failures are consumed one per Load call
type fakeLoader struct {
	session  *fakeSession
	failures atomic.Int32
	loads    atomic.Int32
	gate     chan struct{} // when set, Load blocks until it is closed
	paths    chan string
}

func (l *fakeLoader) Backend() string { return "fake" }

func (l *fakeLoader) Load(_ context.Context, path string) (Session, error) {
	l.loads.Add(1)
	if l.paths != nil {
		l.paths <- path
	}
	if l.gate != nil {
		<-l.gate
	}
	if l.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("runtime refused %s", path)
	}
	return l.session, nil
}

func validOutput() []float32 {
	return []float32{0.1, 0.6, 0.1, 0.1, 0.1}
}

func testTensor() *imageprep.Tensor {
	return &imageprep.Tensor{Data: make([]float32, 4*4*3), Shape: [4]int{1, 4, 4, 3}}
}

func TestModelLoadsLazily(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loader := &fakeLoader{session: &fakeSession{out: validOutput()}}
	m := NewModel(ModelConfig{Name: "resnet", Path: "resnet.tflite"}, loader, nil, nil)

	assert.False(t, m.Loaded())
	assert.Equal(t, "resnet", m.Name())

	out, err := m.Predict(context.Background(), testTensor())
	require.NoError(t, err)
	assert.Equal(t, validOutput(), out)
	assert.True(t, m.Loaded())

	_, err = m.Predict(context.Background(), testTensor())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loads.Load())
	require.NoError(t, m.Close())
}

func TestConcurrentFirstCallsShareOneLoad(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	session := &fakeSession{out: validOutput()}
	loader := &fakeLoader{session: session, gate: make(chan struct{})}
	m := NewModel(ModelConfig{Name: "xception", Path: "x.tflite"}, loader, nil, nil)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Go(func() {
			_, err := m.Predict(context.Background(), testTensor())
			errs <- err
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Equal(t, int32(callers), session.runs.Load())
	assert.Equal(t, int32(1), session.maxPar.Load(), "inference must be serialized")
	require.NoError(t, m.Close())
}

func TestLoadFailureIsRetried(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loader := &fakeLoader{session: &fakeSession{out: validOutput()}}
	loader.failures.Store(1)
	m := NewModel(ModelConfig{Name: "resnet", Path: "resnet.tflite"}, loader, nil, nil)

	_, err := m.Predict(context.Background(), testTensor())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
	assert.False(t, m.Loaded())

	_, err = m.Predict(context.Background(), testTensor())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
	require.NoError(t, m.Close())
}

func TestCallerCancellationDoesNotAbortSharedLoad(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loader := &fakeLoader{session: &fakeSession{out: validOutput()}, gate: make(chan struct{})}
	m := NewModel(ModelConfig{Name: "resnet", Path: "resnet.tflite"}, loader, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Predict(ctx, testTensor())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Contains(t, err.Error(), `model "resnet": waiting for load`)

	close(loader.gate)
	_, err = m.Predict(context.Background(), testTensor())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loads.Load())
	require.NoError(t, m.Close())
}

func TestCanceledWaitNamesTheModel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loader := &fakeLoader{session: &fakeSession{out: validOutput()}, gate: make(chan struct{})}
	m := NewModel(ModelConfig{Name: "xception", Path: "xception.tflite"}, loader, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Predict(ctx, testTensor())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return loader.loads.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.Contains(t, err.Error(), `model "xception": waiting for load`)

	close(loader.gate)
	require.NoError(t, m.Warm(context.Background()))
	require.NoError(t, m.Close())
}

func TestPredictAfterClose(t *testing.T) {
	t.Parallel()

	session := &fakeSession{out: validOutput()}
	m := NewModel(ModelConfig{Name: "resnet"}, &fakeLoader{session: session}, nil, nil)
	require.NoError(t, m.Warm(context.Background()))
	require.NoError(t, m.Close())
	assert.True(t, session.closed.Load())

	_, err := m.Predict(context.Background(), testTensor())
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.NoError(t, m.Close())
}

func TestPredictRejectsInvalidOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  []float32
		err  error
	}{
		{"negative entry", []float32{-0.1, 1.1, 0, 0, 0}, nil},
		{"does not sum to one", []float32{0.1, 0.1, 0.1, 0.1, 0.1}, nil},
		{"empty", []float32{}, nil},
		{"runtime failure", nil, fmt.Errorf("invoke failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewModel(ModelConfig{Name: "resnet"}, &fakeLoader{session: &fakeSession{out: tt.out, err: tt.err}}, nil, nil)
			defer func() { _ = m.Close() }()

			_, err := m.Predict(context.Background(), testTensor())
			require.ErrorIs(t, err, ErrInference)
			assert.True(t, errors.IsCategory(err, errors.CategoryInference))
		})
	}
}

func TestPredictRejectsEmptyTensor(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{session: &fakeSession{out: validOutput()}}
	m := NewModel(ModelConfig{Name: "resnet"}, loader, nil, nil)

	_, err := m.Predict(context.Background(), nil)
	require.ErrorIs(t, err, ErrInference)
	_, err = m.Predict(context.Background(), &imageprep.Tensor{})
	require.ErrorIs(t, err, ErrInference)
	assert.Zero(t, loader.loads.Load())
}

func TestValidateOutputTolerance(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateOutput([]float32{0.2, 0.2, 0.2, 0.2, 0.2005}))
	require.NoError(t, validateOutput([]float32{1, 0, 0, 0, 0}))
	require.Error(t, validateOutput([]float32{0.2, 0.2, 0.2, 0.2, 0.21}))
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, threadCount(1))
	assert.Positive(t, threadCount(0))
	assert.Equal(t, runtime.NumCPU(), threadCount(100000))
}
