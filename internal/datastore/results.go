package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/observability/metrics"
)

const resultsTable = "results"

// ResultRepository stores classification results.
type ResultRepository interface {
	// Save assigns an id and a UTC timestamp and inserts the result
	Save(ctx context.Context, r NewResult) (*Result, error)
	Get(ctx context.Context, id string) (*Result, error)
	// ListByChild returns results newest first
	ListByChild(ctx context.Context, childID string) ([]Result, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteAllForChild(ctx context.Context, childID string) (int64, error)
	CountByChild(ctx context.Context, childID string) (int64, error)
}

type resultRepository struct {
	db      *gorm.DB
	metrics *metrics.DatastoreMetrics
	now     func() time.Time
}

// NewResultRepository returns a repository over db. m may be nil.
func NewResultRepository(db *gorm.DB, m *metrics.DatastoreMetrics) ResultRepository {
	return &resultRepository{db: db, metrics: m, now: time.Now}
}

func (r *resultRepository) observe(op string, start time.Time, err error) {
	r.metrics.RecordDbOperation(op, resultsTable, time.Since(start).Seconds(), err)
}

func (r *resultRepository) Save(ctx context.Context, nr NewResult) (res *Result, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbInsert, start, err) }()

	if nr.OwnerID == "" || nr.ChildID == "" {
		return nil, invalidInput("result needs an owner and a child")
	}
	if !nr.Stage.Valid() {
		return nil, invalidInput("result stage is not a catalog member")
	}

	result := &Result{
		ID:         uuid.NewString(),
		OwnerID:    nr.OwnerID,
		ChildID:    nr.ChildID,
		ImagePath:  nr.ImagePath,
		Prediction: nr.Stage.String(),
		Confidence: nr.Confidence,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.db.WithContext(ctx).Omit("Child").Create(result).Error; err != nil {
		return nil, persistenceError(err, "save-result", resultsTable)
	}
	return result, nil
}

func (r *resultRepository) Get(ctx context.Context, id string) (res *Result, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbQuery, start, ignoreNotFound(err)) }()

	var result Result
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
		return nil, lookupError(err, ErrResultNotFound, id, "get-result", resultsTable)
	}
	return &result, nil
}

func (r *resultRepository) ListByChild(ctx context.Context, childID string) (list []Result, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbQuery, start, err) }()

	var results []Result
	err = r.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, persistenceError(err, "list-results", resultsTable)
	}
	return results, nil
}

func (r *resultRepository) DeleteByID(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbDelete, start, ignoreNotFound(err)) }()

	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Result{})
	if tx.Error != nil {
		return persistenceError(tx.Error, "delete-result", resultsTable)
	}
	if tx.RowsAffected == 0 {
		return notFoundError(ErrResultNotFound, id)
	}
	return nil
}

func (r *resultRepository) DeleteAllForChild(ctx context.Context, childID string) (n int64, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbDelete, start, err) }()

	tx := r.db.WithContext(ctx).Where("child_id = ?", childID).Delete(&Result{})
	if tx.Error != nil {
		return 0, persistenceError(tx.Error, "delete-child-results", resultsTable)
	}
	return tx.RowsAffected, nil
}

func (r *resultRepository) CountByChild(ctx context.Context, childID string) (n int64, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbQuery, start, err) }()

	var count int64
	if err := r.db.WithContext(ctx).Model(&Result{}).Where("child_id = ?", childID).Count(&count).Error; err != nil {
		return 0, persistenceError(err, "count-results", resultsTable)
	}
	return count, nil
}

// ignoreNotFound keeps expected misses out of the error metrics
func ignoreNotFound(err error) error {
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}
