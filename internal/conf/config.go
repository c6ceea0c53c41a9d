// config.go: settings struct for the drawee service and functions to load it.
package conf

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings holds service identity and the reference timezone
type MainSettings struct {
	Name     string // instance name, reported in events and health
	Timezone string // IANA zone used for summary dates and timestamps
}

// UploadSettings limits accepted drawings
type UploadSettings struct {
	MaxBytes  int64 // maximum request body size for uploads
	ImageSize int   // square input size expected by the models
}

// ModelSettings describes one ensemble member
type ModelSettings struct {
	Name   string // name reported in errors and metrics
	Path   string // local weights file
	BlobID string // identifier at the weight source, used when Path is missing
}

// ClassifierSettings configures inference
type ClassifierSettings struct {
	Backend     string // "tflite" or "onnx"
	Threads     int    // 0 picks a value from the CPU topology
	UseXNNPACK  bool   // enable the XNNPACK delegate for tflite
	CacheDir    string // where fetched weights are stored
	ONNXLibrary string // path to the onnxruntime shared library
	ModelA      ModelSettings
	ModelB      ModelSettings
}

// WeightSourceSettings configures where missing weights are fetched from
type WeightSourceSettings struct {
	Type            string        // "drive", "http" or "none"
	APIKey          string        // Google API key for public Drive files
	CredentialsFile string        // service account JSON for private Drive files
	URLTemplate     string        // http source, "{id}" is replaced by the blob id
	Timeout         time.Duration // per-fetch timeout
}

// SQLiteSettings configures the SQLite backend
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures the MySQL backend
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// PostgresSettings configures the PostgreSQL backend
type PostgresSettings struct {
	DSN string
}

// DatastoreSettings selects and configures the result store
type DatastoreSettings struct {
	Type     string // "sqlite", "mysql" or "postgres"
	SQLite   SQLiteSettings
	MySQL    MySQLSettings
	Postgres PostgresSettings
}

// SFTPSettings configures the SFTP object store
type SFTPSettings struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string // private key, preferred over password
	KnownHostsFile string // empty disables host key checking
	Path           string // remote base directory
	Timeout        time.Duration
}

// FTPSettings configures the FTP object store
type FTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

// StorageSettings selects where uploaded drawings are kept
type StorageSettings struct {
	Type          string // "local", "sftp" or "ftp"
	BasePath      string // root directory for the local store
	PublicBaseURL string // prefix for public URLs returned to clients
	SFTP          SFTPSettings
	FTP           FTPSettings
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Listen          string
	RateLimit       float64 // requests per second per client, 0 disables
	RateBurst       int
	ShutdownTimeout time.Duration
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings configures optional error telemetry
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Debug       bool
	Environment string
	SampleRate  float64
}

// MQTTSettings configures classification event publishing
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:port
	Topic    string // base topic, events go to <topic>/classifications
	Username string
	Password string
	ClientID string
	Retain   bool
}

// Settings is the root configuration
type Settings struct {
	Debug bool

	Main         MainSettings
	Logging      logger.LoggingConfig
	Upload       UploadSettings
	Classifier   ClassifierSettings
	WeightSource WeightSourceSettings
	Datastore    DatastoreSettings
	Storage      StorageSettings
	WebServer    WebServerSettings
	Metrics      MetricsSettings
	Sentry       SentrySettings
	MQTT         MQTTSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFileFlag   string
)

// SetConfigFile pins the configuration file instead of searching the default paths.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFileFlag = path
}

// Load reads configuration from file, .env and environment, validates it
// and stores it as the current settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper points viper at the config file, applies defaults and binds the environment.
func initViper() error {
	if err := loadDotEnv(); err != nil {
		GetLogger().Warn("ignoring unreadable .env file", logger.Error(err))
	}

	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Invalid values still bind; validation reports the fatal ones
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFileFlag != "" {
		viper.SetConfigFile(configFileFlag)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFileFlag, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded template to dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o600); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			FileContext(configPath, 0).
			Context("operation", "write-default-config").
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded config.yaml template
func getDefaultConfig() string {
	data, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		// embedded at build time, cannot be missing
		panic(fmt.Sprintf("embedded config.yaml missing: %v", err))
	}
	return string(data)
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Location resolves Main.Timezone, falling back to Asia/Manila.
func (s *Settings) Location() (*time.Location, error) {
	name := s.Main.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
