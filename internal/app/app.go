// Package app assembles the drawee components from settings.
package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/drawee/drawee-go/internal/aggregate"
	"github.com/drawee/drawee-go/internal/classifier"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/drawee"
	"github.com/drawee/drawee-go/internal/ensemble"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/mqtt"
	"github.com/drawee/drawee-go/internal/objectstore"
	"github.com/drawee/drawee-go/internal/observability"
	"github.com/drawee/drawee-go/internal/stage"
)

// mqttConnectTimeout bounds the initial broker connection at startup
const mqttConnectTimeout = 10 * time.Second

var (
	loggerOnce sync.Once
	appLogger  logger.Logger
)

// GetLogger returns the app module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		appLogger = logger.Global().Module("app")
	})
	return appLogger
}

// SetupLogging replaces the global logger with one built from settings.
func SetupLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(cl)
	return cl, nil
}

// OpenDatastore opens the configured database and migrates its schema.
func OpenDatastore(ctx context.Context, settings *conf.Settings, m *observability.Metrics) (datastore.Manager, error) {
	db, err := datastore.Open(&settings.Datastore, metricsOrNil(m).Datastore)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// App holds the running components. Close releases them in reverse order.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	DB        datastore.Manager
	Store     objectstore.Store
	ModelA    *classifier.Model
	ModelB    *classifier.Model
	Ensemble  *ensemble.Ensemble
	Publisher *mqtt.Publisher
	Service   *drawee.Service
}

// Options tunes Build
type Options struct {
	// WarmModels loads both models before returning
	WarmModels bool
	// SkipEvents leaves MQTT publishing off even when enabled in settings
	SkipEvents bool
}

// Build creates every component needed by the drawee service. m may be nil.
func Build(ctx context.Context, settings *conf.Settings, m *observability.Metrics, opts Options) (_ *App, err error) {
	a := &App{Settings: settings, Metrics: m}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loc, err := settings.Location()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("timezone", settings.Main.Timezone).
			Build()
	}

	catalog, err := stage.Default()
	if err != nil {
		return nil, err
	}

	if a.DB, err = OpenDatastore(ctx, settings, m); err != nil {
		return nil, err
	}

	if a.Store, err = objectstore.New(&settings.Storage); err != nil {
		return nil, err
	}

	mm := metricsOrNil(m)
	if a.ModelA, a.ModelB, err = classifier.NewModels(ctx, settings, mm.Classifier); err != nil {
		return nil, err
	}
	a.Ensemble = ensemble.New(a.ModelA, a.ModelB)

	if opts.WarmModels {
		// failures are retried on the first request
		for _, model := range []*classifier.Model{a.ModelA, a.ModelB} {
			if werr := model.Warm(ctx); werr != nil {
				GetLogger().Warn("model not loaded at startup",
					logger.String("model", model.Name()),
					logger.Error(werr))
			}
		}
	}

	var events drawee.EventPublisher
	if settings.MQTT.Enabled && !opts.SkipEvents {
		a.Publisher = mqtt.NewPublisher(settings, mm.MQTT)
		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		if cerr := a.Publisher.Connect(connectCtx); cerr != nil {
			// publishing retries the connection
			GetLogger().Warn("MQTT broker not reachable at startup",
				logger.String("broker", settings.MQTT.Broker),
				logger.Error(cerr))
		}
		cancel()
		events = a.Publisher
	}

	a.Service, err = drawee.New(drawee.Deps{
		Preprocessor: imageprep.New(settings.Upload.ImageSize),
		Classifier:   a.Ensemble,
		Results:      datastore.NewResultRepository(a.DB.DB(), mm.Datastore),
		Children:     datastore.NewChildRepository(a.DB.DB(), mm.Datastore),
		Store:        a.Store,
		Aggregator:   aggregate.New(loc, aggregate.WithCatalog(catalog)),
		Catalog:      catalog,
		Events:       events,
		Metrics:      mm.Pipeline,
	})
	if err != nil {
		return nil, err
	}

	GetLogger().Info("drawee service ready",
		logger.String("datastore", a.DB.Dialect()),
		logger.String("storage", a.Store.Name()),
		logger.String("backend", settings.Classifier.Backend),
		logger.String("timezone", loc.String()))
	return a, nil
}

// Close releases models, connections and the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	for _, model := range []*classifier.Model{a.ModelA, a.ModelB} {
		if model == nil {
			continue
		}
		if err := model.Close(); err != nil {
			GetLogger().Warn("error closing model", logger.String("model", model.Name()), logger.Error(err))
		}
	}
	if closer, ok := a.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			GetLogger().Warn("error closing object store", logger.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			GetLogger().Warn("error closing database", logger.Error(err))
		}
	}
}

// metricsOrNil lets callers pass a nil *observability.Metrics
func metricsOrNil(m *observability.Metrics) *observability.Metrics {
	if m == nil {
		return &observability.Metrics{}
	}
	return m
}
