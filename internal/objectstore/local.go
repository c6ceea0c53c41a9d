package objectstore

import (
	"context"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/drawee/drawee-go/internal/logger"
)

// LocalStore keeps objects in a directory tree.
type LocalStore struct {
	fs      afero.Fs
	baseURL string
}

// NewLocalStore stores objects under basePath on the local disk.
func NewLocalStore(basePath, publicBaseURL string) *LocalStore {
	return NewLocalStoreFs(afero.NewBasePathFs(afero.NewOsFs(), basePath), publicBaseURL)
}

// NewLocalStoreFs stores objects in fs, whose root is the store root.
func NewLocalStoreFs(fs afero.Fs, publicBaseURL string) *LocalStore {
	return &LocalStore{fs: fs, baseURL: publicBaseURL}
}

func (s *LocalStore) Name() string {
	return "local"
}

// Put writes data to a temporary file next to p and renames it into place.
func (s *LocalStore) Put(ctx context.Context, p string, data []byte, _ string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", storageError(err, s.Name(), "put", p)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.writeAtomic(p, data); err != nil {
		return "", storageError(err, s.Name(), "put", p)
	}

	GetLogger().Debug("stored object", logger.String("path", p), logger.Int("bytes", len(data)))
	return publicURL(s.baseURL, p), nil
}

func (s *LocalStore) writeAtomic(p string, data []byte) error {
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, permDir); err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.fs.Chmod(tmpName, permFile); err != nil {
		return err
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		return err
	}

	success = true
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return storageError(err, s.Name(), "delete", p)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return storageError(err, s.Name(), "delete", p)
	}
	return nil
}

// Validate writes and removes a probe file in the upload directory.
func (s *LocalStore) Validate(ctx context.Context) error {
	probe := path.Join(UploadDir, ".write_test")
	if _, err := s.Put(ctx, probe, []byte("ok"), "text/plain"); err != nil {
		return err
	}
	return s.Delete(ctx, probe)
}
