package datastore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

const childrenTable = "children"

// MaxChildNameLength bounds child names in runes
const MaxChildNameLength = 255

// ChildRepository stores children. Every method is scoped to an owner; a
// child of another owner is reported as not found.
type ChildRepository interface {
	// GetOrCreate returns the owner's child with name, creating it if needed
	GetOrCreate(ctx context.Context, ownerID, name string) (*Child, error)
	Get(ctx context.Context, ownerID, id string) (*Child, error)
	// List returns the owner's children by name with their result counts
	List(ctx context.Context, ownerID string) ([]ChildSummary, error)
	// Delete removes the child's results and then the child in one transaction
	Delete(ctx context.Context, ownerID, id string) (int64, error)
}

type childRepository struct {
	db      *gorm.DB
	metrics *metrics.DatastoreMetrics
}

// NewChildRepository returns a repository over db. m may be nil.
func NewChildRepository(db *gorm.DB, m *metrics.DatastoreMetrics) ChildRepository {
	return &childRepository{db: db, metrics: m}
}

func (r *childRepository) observe(op string, start time.Time, err error) {
	r.metrics.RecordDbOperation(op, childrenTable, time.Since(start).Seconds(), err)
}

// NormalizeName trims a child name and converts it to NFC so that visually
// identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (r *childRepository) GetOrCreate(ctx context.Context, ownerID, name string) (c *Child, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbInsert, start, err) }()

	name = NormalizeName(name)
	switch {
	case ownerID == "":
		return nil, invalidInput("owner id is empty")
	case name == "":
		return nil, invalidInput("child name is empty")
	case len([]rune(name)) > MaxChildNameLength:
		return nil, invalidInput("child name is too long")
	}

	var child Child
	err = r.db.WithContext(ctx).Where("owner_id = ? AND name = ?", ownerID, name).First(&child).Error
	if err == nil {
		return &child, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistenceError(err, "get-child", childrenTable)
	}

	child = Child{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if createErr := r.db.WithContext(ctx).Create(&child).Error; createErr != nil {
		// another request may have created the same name first
		var existing Child
		findErr := r.db.WithContext(ctx).Where("owner_id = ? AND name = ?", ownerID, name).First(&existing).Error
		if findErr != nil {
			return nil, persistenceError(createErr, "create-child", childrenTable)
		}
		return &existing, nil
	}

	GetLogger().Debug("created child", logger.String("child_id", child.ID))
	return &child, nil
}

func (r *childRepository) Get(ctx context.Context, ownerID, id string) (c *Child, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbQuery, start, ignoreNotFound(err)) }()

	if ownerID == "" {
		return nil, invalidInput("owner id is empty")
	}
	var child Child
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&child).Error; err != nil {
		return nil, lookupError(err, ErrChildNotFound, id, "get-child", childrenTable)
	}
	return &child, nil
}

func (r *childRepository) List(ctx context.Context, ownerID string) (list []ChildSummary, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpDbQuery, start, err) }()

	if ownerID == "" {
		return nil, invalidInput("owner id is empty")
	}

	var children []Child
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name ASC").Find(&children).Error; err != nil {
		return nil, persistenceError(err, "list-children", childrenTable)
	}
	if len(children) == 0 {
		return []ChildSummary{}, nil
	}

	ids := make([]string, len(children))
	for i := range children {
		ids[i] = children[i].ID
	}

	var counts []struct {
		ChildID string
		N       int64
	}
	err = r.db.WithContext(ctx).Model(&Result{}).
		Select("child_id, COUNT(*) AS n").
		Where("child_id IN ?", ids).
		Group("child_id").
		Scan(&counts).Error
	if err != nil {
		return nil, persistenceError(err, "count-results", resultsTable)
	}

	byChild := make(map[string]int64, len(counts))
	for _, c := range counts {
		byChild[c.ChildID] = c.N
	}

	list = make([]ChildSummary, len(children))
	for i, c := range children {
		list[i] = ChildSummary{Child: c, ResultCount: byChild[c.ID]}
	}
	return list, nil
}

func (r *childRepository) Delete(ctx context.Context, ownerID, id string) (removed int64, err error) {
	start := time.Now()
	defer func() { r.observe(metrics.OpTxn, start, ignoreNotFound(err)) }()

	if ownerID == "" {
		return 0, invalidInput("owner id is empty")
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var child Child
		if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&child).Error; err != nil {
			return lookupError(err, ErrChildNotFound, id, "delete-child", childrenTable)
		}

		res := tx.Where("child_id = ?", id).Delete(&Result{})
		if res.Error != nil {
			return persistenceError(res.Error, "delete-child-results", resultsTable)
		}
		removed = res.RowsAffected

		if err := tx.Where("id = ?", id).Delete(&Child{}).Error; err != nil {
			return persistenceError(err, "delete-child", childrenTable)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	GetLogger().Info("deleted child",
		logger.String("child_id", id),
		logger.Int64("results_removed", removed))
	return removed, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrChildNotFound) || errors.Is(err, ErrResultNotFound)
}
