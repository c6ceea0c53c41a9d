// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly named environment variables.
// Any other key is reachable as DRAWEE_<SECTION>_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DRAWEE_DEBUG", validateEnvBool},
		{"main.timezone", "DRAWEE_TIMEZONE", validateEnvTimezone},
		{"logging.default_level", "DRAWEE_LOG_LEVEL", validateEnvLogLevel},

		// Classifier
		{"classifier.backend", "DRAWEE_CLASSIFIER_BACKEND", oneOf(BackendTFLite, BackendONNX)},
		{"classifier.threads", "DRAWEE_CLASSIFIER_THREADS", validateEnvThreads},
		{"classifier.usexnnpack", "DRAWEE_CLASSIFIER_USEXNNPACK", validateEnvBool},
		{"classifier.cachedir", "DRAWEE_MODEL_CACHE_DIR", nil},
		{"classifier.onnxlibrary", "DRAWEE_ONNX_LIBRARY", nil},
		{"classifier.modela.path", "DRAWEE_MODELA_PATH", nil},
		{"classifier.modela.blobid", "DRAWEE_MODELA_BLOB_ID", nil},
		{"classifier.modelb.path", "DRAWEE_MODELB_PATH", nil},
		{"classifier.modelb.blobid", "DRAWEE_MODELB_BLOB_ID", nil},

		// Weight source
		{"weightsource.type", "DRAWEE_WEIGHT_SOURCE", oneOf(WeightSourceNone, WeightSourceDrive, WeightSourceHTTP)},
		{"weightsource.apikey", "DRAWEE_DRIVE_API_KEY", nil},
		{"weightsource.credentialsfile", "DRAWEE_DRIVE_CREDENTIALS_FILE", nil},
		{"weightsource.urltemplate", "DRAWEE_WEIGHT_URL_TEMPLATE", nil},
		{"weightsource.timeout", "DRAWEE_WEIGHT_TIMEOUT", validateEnvDuration},

		// Datastore
		{"datastore.type", "DRAWEE_DATASTORE_TYPE", oneOf(DatastoreSQLite, DatastoreMySQL, DatastorePostgres)},
		{"datastore.sqlite.path", "DRAWEE_SQLITE_PATH", nil},
		{"datastore.mysql.host", "DRAWEE_MYSQL_HOST", nil},
		{"datastore.mysql.port", "DRAWEE_MYSQL_PORT", validateEnvPort},
		{"datastore.mysql.username", "DRAWEE_MYSQL_USERNAME", nil},
		{"datastore.mysql.password", "DRAWEE_MYSQL_PASSWORD", nil},
		{"datastore.mysql.database", "DRAWEE_MYSQL_DATABASE", nil},
		{"datastore.postgres.dsn", "DRAWEE_POSTGRES_DSN", nil},

		// Object storage
		{"storage.type", "DRAWEE_STORAGE_TYPE", oneOf(StorageLocal, StorageSFTP, StorageFTP)},
		{"storage.basepath", "DRAWEE_STORAGE_BASE_PATH", nil},
		{"storage.publicbaseurl", "DRAWEE_PUBLIC_BASE_URL", nil},
		{"storage.sftp.host", "DRAWEE_SFTP_HOST", nil},
		{"storage.sftp.username", "DRAWEE_SFTP_USERNAME", nil},
		{"storage.sftp.password", "DRAWEE_SFTP_PASSWORD", nil},
		{"storage.sftp.keyfile", "DRAWEE_SFTP_KEY_FILE", nil},
		{"storage.ftp.host", "DRAWEE_FTP_HOST", nil},
		{"storage.ftp.username", "DRAWEE_FTP_USERNAME", nil},
		{"storage.ftp.password", "DRAWEE_FTP_PASSWORD", nil},

		// Surfaces
		{"webserver.listen", "DRAWEE_LISTEN", nil},
		{"metrics.enabled", "DRAWEE_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "DRAWEE_METRICS_LISTEN", nil},
		{"sentry.enabled", "DRAWEE_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "DRAWEE_SENTRY_DSN", nil},
		{"mqtt.enabled", "DRAWEE_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "DRAWEE_MQTT_BROKER", nil},
		{"mqtt.username", "DRAWEE_MQTT_USERNAME", nil},
		{"mqtt.password", "DRAWEE_MQTT_PASSWORD", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("DRAWEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}

// loadDotEnv loads ./.env into the process environment. Variables already set
// win over the file, and a missing file is not an error.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port: %s", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %s", value)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %s", value)
	}
	return nil
}

func validateEnvTimezone(value string) error {
	if _, err := time.LoadLocation(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("unknown timezone: %s", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	return oneOf("trace", "debug", "info", "warn", "error")(strings.ToLower(strings.TrimSpace(value)))
}

// oneOf returns a validator accepting only the listed values
func oneOf(allowed ...string) func(string) error {
	return func(value string) error {
		if slices.Contains(allowed, strings.TrimSpace(value)) {
			return nil
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}
