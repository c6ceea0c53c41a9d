package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// Model is a lazily loaded Predictor. The first Predict resolves the
// weights and initializes the runtime; concurrent first calls share one
// load. A failed load is not remembered.
type Model struct {
	name     string
	path     string
	blobID   string
	loader   Loader
	resolver *WeightResolver
	metrics  *metrics.ClassifierMetrics

	mu      sync.Mutex // guards session and closed
	session Session
	closed  bool

	runMu sync.Mutex // serializes Session.Run
	group singleflight.Group
}

// ModelConfig describes one named model.
type ModelConfig struct {
	Name   string
	Path   string // local weights file
	BlobID string // fetched through the resolver when Path is missing
}

// NewModel creates an unloaded model. resolver and m may be nil.
func NewModel(cfg ModelConfig, loader Loader, resolver *WeightResolver, m *metrics.ClassifierMetrics) *Model {
	return &Model{
		name:     cfg.Name,
		path:     cfg.Path,
		blobID:   cfg.BlobID,
		loader:   loader,
		resolver: resolver,
		metrics:  m,
	}
}

// Name returns the model name used in errors and metrics
func (m *Model) Name() string {
	return m.name
}

// Loaded reports whether the runtime is initialized
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Predict runs the model on t and returns a validated probability vector.
func (m *Model) Predict(ctx context.Context, t *imageprep.Tensor) ([]float32, error) {
	if t == nil || len(t.Data) == 0 {
		return nil, inferenceError(m.name, fmt.Errorf("%w: empty input tensor", ErrInference))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := m.run(session, t)
	m.metrics.RecordPrediction(m.name, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	GetLogger().Debug("prediction complete",
		logger.String("model", m.name),
		logger.Duration("duration", time.Since(start)))

	return out, nil
}

func (m *Model) run(session Session, t *imageprep.Tensor) ([]float32, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	// Close may have released the session while we waited
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, m.unavailable(fmt.Errorf("model closed"), 0)
	}

	out, err := session.Run(t.Data, t.Shape)
	if err != nil {
		return nil, inferenceError(m.name, err)
	}
	if err := validateOutput(out); err != nil {
		return nil, inferenceError(m.name, err)
	}
	return out, nil
}

// Warm loads the model now instead of on the first prediction.
func (m *Model) Warm(ctx context.Context) error {
	_, err := m.load(ctx)
	return err
}

// load returns the session, initializing it once. The shared load is
// detached from the caller's cancellation; each caller stops waiting when
// its own context ends.
func (m *Model) load(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, m.unavailable(fmt.Errorf("model closed"), 0)
	}
	if m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("load", func() (any, error) {
		return m.initialize(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, m.abandoned(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Session), nil
	}
}

func (m *Model) initialize(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	log := GetLogger().With(logger.String("model", m.name), logger.String("backend", m.loader.Backend()))
	start := time.Now()

	path := m.path
	if m.resolver != nil {
		resolved, err := m.resolver.Ensure(ctx, m.path, m.blobID)
		if err != nil {
			m.metrics.RecordModelLoad(m.name, 0, err)
			log.Warn("model weights unavailable", logger.Error(err))
			return nil, m.unavailable(err, time.Since(start))
		}
		path = resolved
	}

	session, err := m.loader.Load(ctx, path)
	if err != nil {
		m.metrics.RecordModelLoad(m.name, 0, err)
		log.Warn("model load failed", logger.String("path", path), logger.Error(err))
		return nil, m.unavailable(err, time.Since(start))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = session.Close()
		return nil, m.unavailable(fmt.Errorf("model closed during load"), time.Since(start))
	}
	m.session = session

	m.metrics.RecordModelLoad(m.name, time.Since(start).Seconds(), nil)
	log.Info("model loaded", logger.String("path", path), logger.Duration("duration", time.Since(start)))
	return session, nil
}

// Close releases the runtime. Predictions after Close fail with ErrModelUnavailable.
func (m *Model) Close() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	m.metrics.RecordModelUnload(m.name)
	return err
}

// abandoned reports a caller that stopped waiting for the shared load
func (m *Model) abandoned(err error) error {
	category := errors.CategoryCancellation
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(fmt.Errorf("model %q: waiting for load: %w", m.name, err)).
		Component("classifier").
		Category(category).
		ModelContext(m.name, m.path).
		Build()
}

func (m *Model) unavailable(err error, elapsed time.Duration) error {
	if !errors.Is(err, ErrModelUnavailable) {
		err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		ModelContext(m.name, m.path).
		Timing("model-load", elapsed).
		Build()
}
