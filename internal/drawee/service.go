// Package drawee wires preprocessing, the model ensemble, storage and
// aggregation into the operations exposed to clients.
package drawee

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/drawee/drawee-go/internal/aggregate"
	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/ensemble"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/objectstore"
	"github.com/drawee/drawee-go/internal/observability/metrics"
	"github.com/drawee/drawee-go/internal/stage"
)

// publishTimeout bounds the best-effort event publish after a save
const publishTimeout = 5 * time.Second

// ErrInvalidRequest marks requests missing an owner, a child or an image
var ErrInvalidRequest = errors.NewStd("invalid request")

// Classifier produces a merged prediction for a tensor.
type Classifier interface {
	Classify(ctx context.Context, t *imageprep.Tensor) (*ensemble.Prediction, error)
}

// EventPublisher announces stored classifications.
type EventPublisher interface {
	PublishClassification(ctx context.Context, r *datastore.Result, imageURL string) error
}

// Deps are the collaborators of a Service. Events and Metrics are optional.
type Deps struct {
	Preprocessor *imageprep.Preprocessor
	Classifier   Classifier
	Results      datastore.ResultRepository
	Children     datastore.ChildRepository
	Store        objectstore.Store
	Aggregator   *aggregate.Aggregator
	Catalog      *stage.Catalog
	Events       EventPublisher
	Metrics      *metrics.PipelineMetrics
}

// Service implements the drawing classification operations.
type Service struct {
	prep       *imageprep.Preprocessor
	classifier Classifier
	results    datastore.ResultRepository
	children   datastore.ChildRepository
	store      objectstore.Store
	aggregator *aggregate.Aggregator
	catalog    *stage.Catalog
	events     EventPublisher
	metrics    *metrics.PipelineMetrics
}

// New validates deps and returns a Service.
func New(d Deps) (*Service, error) {
	switch {
	case d.Classifier == nil:
		return nil, missingDependency("classifier")
	case d.Results == nil:
		return nil, missingDependency("results repository")
	case d.Children == nil:
		return nil, missingDependency("children repository")
	case d.Store == nil:
		return nil, missingDependency("object store")
	}

	s := &Service{
		prep:       d.Preprocessor,
		classifier: d.Classifier,
		results:    d.Results,
		children:   d.Children,
		store:      d.Store,
		aggregator: d.Aggregator,
		catalog:    d.Catalog,
		events:     d.Events,
		metrics:    d.Metrics,
	}
	if s.prep == nil {
		s.prep = &imageprep.Preprocessor{}
	}
	if s.catalog == nil {
		catalog, err := stage.Default()
		if err != nil {
			return nil, err
		}
		s.catalog = catalog
	}
	if s.aggregator == nil {
		s.aggregator = aggregate.New(time.UTC, aggregate.WithCatalog(s.catalog))
	}
	return s, nil
}

func missingDependency(name string) error {
	return errors.Newf("drawee service: missing %s", name).
		Component("drawee").
		Category(errors.CategoryConfiguration).
		Build()
}

func invalidRequest(msg string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidRequest, msg)).
		Component("drawee").
		Category(errors.CategoryValidation).
		Priority(errors.PriorityLow).
		Build()
}

// ClassifyRequest is one uploaded drawing for an existing child.
type ClassifyRequest struct {
	OwnerID string
	ChildID string
	Image   []byte
}

// Classification is a stored result together with the data shown with it.
type Classification struct {
	Result     *datastore.Result
	ImageURL   string
	Prediction *ensemble.Prediction
	Details    stage.Info
}

// Classify runs the pipeline for one drawing and stores the result. Nothing
// is stored unless every step succeeds.
func (s *Service) Classify(ctx context.Context, req ClassifyRequest) (c *Classification, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			s.metrics.RecordError(string(errors.CategoryOf(err)))
		}
	}()

	if req.OwnerID == "" {
		return nil, invalidRequest("owner id is empty")
	}
	if req.ChildID == "" {
		return nil, invalidRequest("child id is empty")
	}
	if len(req.Image) == 0 {
		return nil, invalidRequest("image is empty")
	}

	if _, err := s.children.Get(ctx, req.OwnerID, req.ChildID); err != nil {
		return nil, err
	}

	stepStart := time.Now()
	img, format, err := s.prep.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	tensor := s.prep.Tensorize(img)
	s.metrics.RecordStep(metrics.StepPreprocess, time.Since(stepStart).Seconds())

	stepStart = time.Now()
	prediction, err := s.classifier.Classify(ctx, tensor)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStep(metrics.StepEnsemble, time.Since(stepStart).Seconds())

	details, err := s.catalog.Get(prediction.Stage)
	if err != nil {
		return nil, errors.New(err).
			Component("drawee").
			Category(errors.CategoryInference).
			Context("stage_index", prediction.Index).
			Build()
	}

	stepStart = time.Now()
	var encoded bytes.Buffer
	if err := imageprep.EncodePNG(&encoded, img); err != nil {
		return nil, err
	}
	objectPath := objectstore.ObjectPath()
	imageURL, err := s.store.Put(ctx, objectPath, encoded.Bytes(), objectstore.ContentTypePNG)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStep(metrics.StepStore, time.Since(stepStart).Seconds())

	stepStart = time.Now()
	result, err := s.results.Save(ctx, datastore.NewResult{
		OwnerID:    req.OwnerID,
		ChildID:    req.ChildID,
		ImagePath:  objectPath,
		Stage:      prediction.Stage,
		Confidence: prediction.Confidence,
	})
	if err != nil {
		s.removeObject(ctx, objectPath)
		return nil, err
	}
	s.metrics.RecordStep(metrics.StepSave, time.Since(stepStart).Seconds())
	s.metrics.RecordClassification(prediction.Stage.String(), prediction.Confidence)

	s.publish(ctx, result, imageURL)

	GetLogger().Info("drawing classified",
		logger.String("result_id", result.ID),
		logger.String("child_id", req.ChildID),
		logger.String("format", format),
		logger.String("stage", prediction.Stage.String()),
		logger.Float64("confidence", prediction.Confidence),
		logger.Duration("duration", time.Since(start)))

	return &Classification{
		Result:     result,
		ImageURL:   imageURL,
		Prediction: prediction,
		Details:    details,
	}, nil
}

// ClassifyForName classifies a drawing for the owner's child with the given
// name, creating the child on first use.
func (s *Service) ClassifyForName(ctx context.Context, ownerID, childName string, image []byte) (*Classification, error) {
	if ownerID == "" {
		return nil, invalidRequest("owner id is empty")
	}
	if len(image) == 0 {
		return nil, invalidRequest("image is empty")
	}
	child, err := s.children.GetOrCreate(ctx, ownerID, childName)
	if err != nil {
		return nil, err
	}
	return s.Classify(ctx, ClassifyRequest{OwnerID: ownerID, ChildID: child.ID, Image: image})
}

// publish sends the event on a detached context so a finished request does not cancel it
func (s *Service) publish(ctx context.Context, r *datastore.Result, imageURL string) {
	if s.events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.PublishClassification(pubCtx, r, imageURL); err != nil {
		GetLogger().Warn("failed to publish classification event",
			logger.String("result_id", r.ID),
			logger.Error(err))
	}
}

// removeObject deletes an object whose result could not be stored or was removed
func (s *Service) removeObject(ctx context.Context, p string) {
	if p == "" {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), p); err != nil {
		GetLogger().Warn("failed to remove stored drawing",
			logger.String("path", p),
			logger.Error(err))
	}
}

// ListHistory returns the child's results, newest first.
func (s *Service) ListHistory(ctx context.Context, ownerID, childID string) ([]datastore.Result, error) {
	if ownerID == "" {
		return nil, invalidRequest("owner id is empty")
	}
	if _, err := s.children.Get(ctx, ownerID, childID); err != nil {
		return nil, err
	}
	return s.results.ListByChild(ctx, childID)
}

// Summarize aggregates the child's results.
func (s *Service) Summarize(ctx context.Context, ownerID, childID string) (*aggregate.Summary, error) {
	history, err := s.ListHistory(ctx, ownerID, childID)
	if err != nil {
		return nil, err
	}
	summary := s.aggregator.Summarize(history)
	if summary.Skipped > 0 {
		GetLogger().Warn("stored results with unknown stage skipped",
			logger.String("child_id", childID),
			logger.Int("skipped", summary.Skipped))
	}
	return summary, nil
}

// DeleteResult removes one of the owner's results and its stored drawing.
func (s *Service) DeleteResult(ctx context.Context, ownerID, resultID string) error {
	if ownerID == "" {
		return invalidRequest("owner id is empty")
	}
	r, err := s.results.Get(ctx, resultID)
	if err != nil {
		return err
	}
	if r.OwnerID != ownerID {
		return errors.New(datastore.ErrResultNotFound).
			Component("drawee").
			Category(errors.CategoryNotFound).
			Priority(errors.PriorityLow).
			Context("id", resultID).
			Build()
	}
	if err := s.results.DeleteByID(ctx, resultID); err != nil {
		return err
	}
	s.removeObject(ctx, r.ImagePath)

	GetLogger().Info("result deleted", logger.String("result_id", resultID))
	return nil
}

// DeleteChild removes the owner's child, its results and their drawings.
func (s *Service) DeleteChild(ctx context.Context, ownerID, childID string) error {
	history, err := s.ListHistory(ctx, ownerID, childID)
	if err != nil {
		return err
	}
	removed, err := s.children.Delete(ctx, ownerID, childID)
	if err != nil {
		return err
	}
	for i := range history {
		s.removeObject(ctx, history[i].ImagePath)
	}

	GetLogger().Info("child deleted",
		logger.String("child_id", childID),
		logger.Int64("results_removed", removed))
	return nil
}

// ListChildren returns the owner's children with their result counts.
func (s *Service) ListChildren(ctx context.Context, ownerID string) ([]datastore.ChildSummary, error) {
	if ownerID == "" {
		return nil, invalidRequest("owner id is empty")
	}
	return s.children.List(ctx, ownerID)
}

// StageDetails returns the catalog content for st.
func (s *Service) StageDetails(st stage.Stage) (stage.Info, error) {
	return s.catalog.Get(st)
}

// Stages returns the catalog content for every stage.
func (s *Service) Stages() []stage.Info {
	return s.catalog.Entries()
}

// FormatTimestamp renders t in the reference timezone.
func (s *Service) FormatTimestamp(t time.Time) string {
	return s.aggregator.FormatTimestamp(t)
}
