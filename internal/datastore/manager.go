package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// slowQueryThreshold is the duration above which queries are logged at WARN
const slowQueryThreshold = 200 * time.Millisecond

// Manager owns a database connection and its schema.
type Manager interface {
	DB() *gorm.DB
	Initialize(ctx context.Context) error
	Close() error
	Dialect() string
	Ping(ctx context.Context) error
}

type gormManager struct {
	db      *gorm.DB
	dialect string
	metrics *metrics.DatastoreMetrics
}

// Open connects to the backend selected by settings.Type.
func Open(settings *conf.DatastoreSettings, m *metrics.DatastoreMetrics) (Manager, error) {
	switch settings.Type {
	case conf.DatastoreSQLite, "":
		return OpenSQLite(settings.SQLite.Path, m)
	case conf.DatastoreMySQL:
		return OpenMySQL(&settings.MySQL, m)
	case conf.DatastorePostgres:
		return OpenPostgres(settings.Postgres.DSN, m)
	default:
		return nil, errors.Newf("unknown datastore type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenSQLite opens a SQLite database in WAL mode, creating its directory.
// The path may also be a "file:" URI such as an in-memory database.
func OpenSQLite(path string, m *metrics.DatastoreMetrics) (Manager, error) {
	if path == "" {
		return nil, invalidInput("sqlite path is empty")
	}
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					FileContext(path, 0).
					Build()
			}
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path, sep)

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, openError(err, conf.DatastoreSQLite)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between pool members
	sqlDB, err := db.DB()
	if err != nil {
		return nil, openError(err, conf.DatastoreSQLite)
	}
	sqlDB.SetMaxOpenConns(1)

	GetLogger().Info("opened SQLite database", logger.String("path", path))
	return &gormManager{db: db, dialect: conf.DatastoreSQLite, metrics: m}, nil
}

// OpenMySQL connects to MySQL with utf8mb4 and parsed timestamps.
func OpenMySQL(cfg *conf.MySQLSettings, m *metrics.DatastoreMetrics) (Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return nil, openError(err, conf.DatastoreMySQL)
	}
	configurePool(db)

	GetLogger().Info("connected to MySQL",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return &gormManager{db: db, dialect: conf.DatastoreMySQL, metrics: m}, nil
}

// OpenPostgres connects to PostgreSQL through pgx.
func OpenPostgres(dsn string, m *metrics.DatastoreMetrics) (Manager, error) {
	if dsn == "" {
		return nil, invalidInput("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), gormConfig())
	if err != nil {
		GetLogger().Error("failed to open PostgreSQL database", logger.Error(err))
		return nil, openError(err, conf.DatastorePostgres)
	}
	configurePool(db)

	GetLogger().Info("connected to PostgreSQL")
	return &gormManager{db: db, dialect: conf.DatastorePostgres, metrics: m}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func configurePool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

func openError(err error, dialect string) error {
	return errors.New(fmt.Errorf("%w: %w", ErrPersistence, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "open").
		Context("dialect", dialect).
		Build()
}

func (g *gormManager) DB() *gorm.DB {
	return g.db
}

func (g *gormManager) Dialect() string {
	return g.dialect
}

// Initialize creates or migrates the children and results tables.
func (g *gormManager) Initialize(ctx context.Context) error {
	start := time.Now()
	if err := g.db.WithContext(ctx).AutoMigrate(&Child{}, &Result{}); err != nil {
		return errors.New(fmt.Errorf("%w: %w", ErrPersistence, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto-migrate").
			Context("dialect", g.dialect).
			Timing("migrate", time.Since(start)).
			Build()
	}
	GetLogger().Info("database schema ready",
		logger.String("dialect", g.dialect),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// Ping checks connectivity and refreshes the pool gauges.
func (g *gormManager) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return persistenceError(err, "ping", "")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistenceError(err, "ping", "")
	}
	stats := sqlDB.Stats()
	g.metrics.UpdateConnectionMetrics(stats.OpenConnections, stats.InUse)
	return nil
}

func (g *gormManager) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return persistenceError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return persistenceError(err, "close", "")
	}
	return nil
}
