package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/errors"
)

var (
	// ErrPersistence wraps any backend failure
	ErrPersistence = errors.NewStd("persistence failure")
	// ErrResultNotFound means no result has the requested id
	ErrResultNotFound = errors.NewStd("result not found")
	// ErrChildNotFound means no child with the id exists for the owner
	ErrChildNotFound = errors.NewStd("child not found")
	// ErrInvalidInput marks empty owners, names or ids
	ErrInvalidInput = errors.NewStd("invalid input")
)

func persistenceError(err error, operation, table string) error {
	return errors.New(fmt.Errorf("%w: %w", ErrPersistence, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("table", table).
		Build()
}

func notFoundError(sentinel error, id string) error {
	return errors.New(sentinel).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Priority(errors.PriorityLow).
		Context("id", id).
		Build()
}

func invalidInput(msg string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidInput, msg)).
		Component("datastore").
		Category(errors.CategoryValidation).
		Build()
}

// lookupError maps gorm.ErrRecordNotFound to the sentinel and everything
// else to ErrPersistence.
func lookupError(err error, sentinel error, id, operation, table string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError(sentinel, id)
	}
	return persistenceError(err, operation, table)
}
