package objectstore

import (
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

// New returns the store selected by settings.Type.
func New(settings *conf.StorageSettings) (Store, error) {
	var (
		store Store
		err   error
	)

	switch settings.Type {
	case conf.StorageLocal, "":
		store = NewLocalStore(settings.BasePath, settings.PublicBaseURL)
	case conf.StorageSFTP:
		store, err = NewSFTPStore(&settings.SFTP, settings.PublicBaseURL)
	case conf.StorageFTP:
		store, err = NewFTPStore(&settings.FTP, settings.PublicBaseURL)
	default:
		return nil, errors.Newf("unknown storage type %q", settings.Type).
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	GetLogger().Info("object store configured", logger.String("backend", store.Name()))
	return store, nil
}
