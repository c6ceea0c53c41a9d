package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

// ONNXOptions configures the ONNX Runtime backend.
type ONNXOptions struct {
	LibraryPath string // onnxruntime shared library
	Threads     int
}

// ONNXLoader loads .onnx weights into AdvancedSessions with pre-allocated tensors.
type ONNXLoader struct {
	opts ONNXOptions
}

// NewONNXLoader returns a loader using opts
func NewONNXLoader(opts ONNXOptions) *ONNXLoader {
	return &ONNXLoader{opts: opts}
}

// Backend returns "onnx"
func (l *ONNXLoader) Backend() string {
	return "onnx"
}

// The runtime environment is process-wide; sessions hold a reference.
var ortEnv struct {
	sync.Mutex
	refs int
}

func acquireEnvironment(libraryPath string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ortEnv.refs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	ortEnv.refs++
	return nil
}

func releaseEnvironment() {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	ortEnv.refs--
	if ortEnv.refs == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			GetLogger().Warn("failed to destroy ONNX environment", logger.Error(err))
		}
	}
}

// Load inspects the model's first input and output and binds fixed-size
// tensors to them. A dynamic batch dimension is pinned to 1.
func (l *ONNXLoader) Load(_ context.Context, path string) (s Session, err error) {
	if err := acquireEnvironment(l.opts.LibraryPath); err != nil {
		return nil, onnxInitError(path, err)
	}
	defer func() {
		if err != nil {
			releaseEnvironment()
		}
	}()

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, onnxInitError(path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, onnxInitError(path, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs)))
	}

	inputTensor, err := ort.NewEmptyTensor[float32](pinBatch(inputs[0].Dimensions))
	if err != nil {
		return nil, onnxInitError(path, fmt.Errorf("failed to create input tensor: %w", err))
	}

	outputTensor, err := ort.NewEmptyTensor[float32](pinBatch(outputs[0].Dimensions))
	if err != nil {
		_ = inputTensor.Destroy()
		return nil, onnxInitError(path, fmt.Errorf("failed to create output tensor: %w", err))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = inputTensor.Destroy()
		_ = outputTensor.Destroy()
		return nil, onnxInitError(path, err)
	}
	defer func() { _ = options.Destroy() }()
	if err := options.SetIntraOpNumThreads(threadCount(l.opts.Threads)); err != nil {
		GetLogger().Warn("cannot set ONNX thread count", logger.Error(err))
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		options)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = outputTensor.Destroy()
		return nil, onnxInitError(path, fmt.Errorf("failed to create ONNX session: %w", err))
	}

	GetLogger().Debug("onnx session ready",
		logger.String("path", path),
		logger.String("input", inputs[0].Name),
		logger.String("output", outputs[0].Name))

	return &onnxSession{session: session, input: inputTensor, output: outputTensor}, nil
}

func pinBatch(dims ort.Shape) ort.Shape {
	shape := dims.Clone()
	for i, d := range shape {
		if d < 1 {
			shape[i] = 1
		}
	}
	return shape
}

func onnxInitError(path string, err error) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelInit).
		FileContext(path, 0).
		Context("backend", "onnx").
		Build()
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) Run(input []float32, shape [4]int) ([]float32, error) {
	dst := s.input.GetData()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input tensor %v holds %d values, got %d for shape %v",
			s.input.GetShape(), len(dst), len(input), shape)
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("invoke failed: %w", err)
	}

	out := s.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *onnxSession) Close() error {
	err := errors.Join(s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
	releaseEnvironment()
	return err
}
