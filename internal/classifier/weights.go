package classifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// WeightSource downloads model weights by identifier.
type WeightSource interface {
	Name() string
	Fetch(ctx context.Context, id string, w io.Writer) error
}

// WeightResolver makes sure a weights file exists locally, downloading it
// from the source when it does not.
type WeightResolver struct {
	fs      afero.Fs
	source  WeightSource
	metrics *metrics.ClassifierMetrics
	group   singleflight.Group
}

// NewWeightResolver returns a resolver over the OS filesystem. source may be
// nil, in which case only existing files resolve.
func NewWeightResolver(source WeightSource, m *metrics.ClassifierMetrics) *WeightResolver {
	return &WeightResolver{fs: afero.NewOsFs(), source: source, metrics: m}
}

// Ensure returns localPath once the file exists there. Downloads go to a
// temporary file in the same directory and are renamed into place.
func (r *WeightResolver) Ensure(ctx context.Context, localPath, blobID string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("%w: no weights path configured", ErrModelUnavailable)
	}
	if r.exists(localPath) {
		return localPath, nil
	}
	if r.source == nil || blobID == "" {
		return "", fmt.Errorf("%w: weights %s not found and no source configured", ErrModelUnavailable, localPath)
	}

	_, err, _ := r.group.Do(localPath, func() (any, error) {
		if r.exists(localPath) {
			return nil, nil
		}
		return nil, r.download(ctx, localPath, blobID)
	})
	if err != nil {
		return "", err
	}
	return localPath, nil
}

func (r *WeightResolver) exists(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func (r *WeightResolver) download(ctx context.Context, localPath, blobID string) (err error) {
	start := time.Now()
	log := GetLogger().With(logger.String("source", r.source.Name()), logger.String("path", localPath))
	log.Info("downloading model weights", logger.String("blob_id", blobID))

	defer func() {
		r.metrics.RecordWeightFetch(r.source.Name(), err)
	}()

	dir := filepath.Dir(localPath)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return r.fetchError(err, localPath, blobID)
	}

	tmp, err := afero.TempFile(r.fs, dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return r.fetchError(err, localPath, blobID)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = r.fs.Remove(tmpName)
		}
	}()

	if err := r.source.Fetch(ctx, blobID, tmp); err != nil {
		_ = tmp.Close()
		return r.fetchError(err, localPath, blobID)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return r.fetchError(err, localPath, blobID)
	}
	if err := tmp.Close(); err != nil {
		return r.fetchError(err, localPath, blobID)
	}

	info, err := r.fs.Stat(tmpName)
	if err != nil {
		return r.fetchError(err, localPath, blobID)
	}
	if info.Size() == 0 {
		return r.fetchError(fmt.Errorf("source returned an empty file"), localPath, blobID)
	}

	if err := r.fs.Rename(tmpName, localPath); err != nil {
		return r.fetchError(err, localPath, blobID)
	}
	if err := r.fs.Chmod(localPath, 0o644); err != nil && !os.IsNotExist(err) {
		log.Warn("cannot set weights file mode", logger.Error(err))
	}

	log.Info("model weights downloaded",
		logger.Int64("bytes", info.Size()),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func (r *WeightResolver) fetchError(err error, localPath, blobID string) error {
	return errors.New(fmt.Errorf("%w: fetching weights: %w", ErrModelUnavailable, err)).
		Component("classifier").
		Category(errors.CategoryModelFetch).
		Context("source", r.source.Name()).
		Context("blob_id", blobID).
		Context("path", localPath).
		Build()
}
