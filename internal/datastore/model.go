// Package datastore persists children and their classification results.
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/stage"
)

// Child is a named drawing subject owned by one owner. Names are unique per owner.
type Child struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_owner_name,priority:1" json:"owner_id"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_owner_name,priority:2" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the children table name
func (Child) TableName() string {
	return "children"
}

// AfterFind normalizes timestamps to UTC whatever the driver's location
func (c *Child) AfterFind(*gorm.DB) error {
	c.CreatedAt = c.CreatedAt.UTC()
	return nil
}

// ChildSummary is a child with the number of stored results
type ChildSummary struct {
	Child
	ResultCount int64 `json:"result_count"`
}

// Result is one stored classification.
type Result struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID    string    `gorm:"type:varchar(128);not null;index" json:"owner_id"`
	ChildID    string    `gorm:"type:varchar(36);not null;index:idx_results_child_created,priority:1" json:"child_id"`
	Child      *Child    `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE" json:"-"`
	ImagePath  string    `gorm:"type:varchar(512);not null" json:"image_path"`
	Prediction string    `gorm:"type:varchar(64);not null" json:"prediction"`
	Confidence float64   `gorm:"not null" json:"confidence"`
	CreatedAt  time.Time `gorm:"not null;index:idx_results_child_created,priority:2" json:"created_at"`
}

// TableName sets the results table name
func (Result) TableName() string {
	return "results"
}

// AfterFind normalizes timestamps to UTC whatever the driver's location
func (r *Result) AfterFind(*gorm.DB) error {
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

// Stage parses the stored prediction
func (r *Result) Stage() (stage.Stage, error) {
	return stage.Parse(r.Prediction)
}

// NewResult holds the fields supplied by the caller when saving a result.
type NewResult struct {
	OwnerID    string
	ChildID    string
	ImagePath  string
	Stage      stage.Stage
	Confidence float64
}
