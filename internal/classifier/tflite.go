package classifier

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

// TFLiteOptions configures the TensorFlow Lite runtime.
type TFLiteOptions struct {
	Threads    int  // 0 derives a count from the CPU topology
	UseXNNPACK bool // try the XNNPACK delegate, falling back to the CPU kernels
}

// TFLiteLoader loads .tflite weights.
type TFLiteLoader struct {
	opts TFLiteOptions
}

// NewTFLiteLoader returns a loader using opts
func NewTFLiteLoader(opts TFLiteOptions) *TFLiteLoader {
	return &TFLiteLoader{opts: opts}
}

// Backend returns "tflite"
func (l *TFLiteLoader) Backend() string {
	return "tflite"
}

// Load creates an interpreter for path and allocates its tensors.
func (l *TFLiteLoader) Load(_ context.Context, path string) (Session, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}

	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			FileContext(path, info.Size()).
			Context("use_xnnpack", l.opts.UseXNNPACK).
			Build()
	}

	threads := threadCount(l.opts.Threads)

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	var delegate delegates.Delegater
	if l.opts.UseXNNPACK {
		delegate = xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			GetLogger().Warn("failed to create XNNPACK delegate, falling back to default CPU",
				logger.String("path", path))
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg), logger.String("path", path))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		deleteDelegate(delegate)
		return nil, errors.New(fmt.Errorf("cannot create interpreter")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			FileContext(path, info.Size()).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		deleteDelegate(delegate)
		return nil, errors.New(fmt.Errorf("tensor allocation failed: %v", status)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			FileContext(path, info.Size()).
			Build()
	}

	GetLogger().Debug("tflite interpreter ready",
		logger.String("path", path),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", delegate != nil))

	return &tfliteSession{model: model, interpreter: interpreter, delegate: delegate}, nil
}

func deleteDelegate(d delegates.Delegater) {
	if d != nil {
		d.Delete()
	}
}

type tfliteSession struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
	delegate    delegates.Delegater
}

func (s *tfliteSession) Run(input []float32, shape [4]int) ([]float32, error) {
	in := s.interpreter.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	dst := in.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input tensor holds %d values, got %d for shape %v", len(dst), len(input), shape)
	}
	copy(dst, input)

	if status := s.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := s.interpreter.GetOutputTensor(0)
	if out == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	result := make([]float32, len(out.Float32s()))
	copy(result, out.Float32s())
	return result, nil
}

func (s *tfliteSession) Close() error {
	s.interpreter.Delete()
	s.model.Delete()
	deleteDelegate(s.delegate)
	return nil
}
