// Package objectstore keeps uploaded drawings on a local disk or a remote
// SFTP or FTP server.
package objectstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/drawee/drawee-go/internal/errors"
)

// UploadDir is the directory every drawing is stored under
const UploadDir = "user_uploads"

// ContentTypePNG is the content type of stored drawings
const ContentTypePNG = "image/png"

const (
	permDir  = 0o750
	permFile = 0o640
)

var (
	// ErrStorage marks failures to write or remove an object
	ErrStorage = errors.NewStd("object storage failed")
	// ErrInvalidPath marks object paths that are empty, absolute or escape the store root
	ErrInvalidPath = errors.NewStd("invalid object path")
)

// Store persists objects under slash-separated relative paths.
type Store interface {
	Name() string
	// Put writes data at p, replacing any existing object, and returns its public URL
	Put(ctx context.Context, p string, data []byte, contentType string) (string, error)
	// Delete removes p. Deleting a missing object is not an error.
	Delete(ctx context.Context, p string) error
	// Validate checks that the store is reachable and writable
	Validate(ctx context.Context) error
}

// ObjectPath returns a fresh path for a stored drawing: user_uploads/<32 hex>.png
func ObjectPath() string {
	id := uuid.New()
	return path.Join(UploadDir, hex.EncodeToString(id[:])+".png")
}

// cleanPath validates p and returns it in canonical form. On error p is
// returned unchanged for reporting.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return p, fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return p, fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// publicURL joins the configured base URL and p. Without a base the path itself is returned.
func publicURL(base, p string) string {
	if base == "" {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + p
}

func storageError(err error, backend, operation, p string) error {
	if !errors.Is(err, ErrStorage) && !errors.Is(err, ErrInvalidPath) {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
	}
	category := errors.CategoryStorage
	if errors.Is(err, ErrInvalidPath) {
		category = errors.CategoryValidation
	}
	return errors.New(err).
		Component("objectstore").
		Category(category).
		Context("backend", backend).
		Context("operation", operation).
		Context("path", p).
		Build()
}
