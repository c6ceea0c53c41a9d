// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and reports every
// problem at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateMainSettings,
		validateUploadSettings,
		validateClassifierSettings,
		validateWeightSourceSettings,
		validateDatastoreSettings,
		validateStorageSettings,
		validateWebServerSettings,
		validateMetricsSettings,
		validateSentrySettings,
		validateMQTTSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(s *Settings) []string {
	if s.Main.Timezone == "" {
		return nil
	}
	if _, err := time.LoadLocation(s.Main.Timezone); err != nil {
		return []string{fmt.Sprintf("main.timezone %q is not a known IANA zone", s.Main.Timezone)}
	}
	return nil
}

func validateUploadSettings(s *Settings) []string {
	var errs []string
	if s.Upload.MaxBytes <= 0 {
		errs = append(errs, "upload.maxbytes must be positive")
	}
	if s.Upload.ImageSize <= 0 {
		errs = append(errs, "upload.imagesize must be positive")
	}
	return errs
}

func validateClassifierSettings(s *Settings) []string {
	var errs []string
	c := &s.Classifier

	switch c.Backend {
	case BackendTFLite:
	case BackendONNX:
		if c.ONNXLibrary == "" {
			errs = append(errs, "classifier.onnxlibrary is required for the onnx backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("classifier.backend %q must be tflite or onnx", c.Backend))
	}

	if c.Threads < 0 {
		errs = append(errs, "classifier.threads must be >= 0")
	}

	models := []struct {
		label string
		m     ModelSettings
	}{{"modela", c.ModelA}, {"modelb", c.ModelB}}
	for _, entry := range models {
		if entry.m.Name == "" {
			errs = append(errs, fmt.Sprintf("classifier.%s.name is required", entry.label))
		}
		if entry.m.Path == "" {
			errs = append(errs, fmt.Sprintf("classifier.%s.path is required", entry.label))
		}
	}
	if c.ModelA.Name != "" && c.ModelA.Name == c.ModelB.Name {
		errs = append(errs, "classifier.modela.name and classifier.modelb.name must differ")
	}

	return errs
}

func validateWeightSourceSettings(s *Settings) []string {
	w := &s.WeightSource
	switch w.Type {
	case "", WeightSourceNone:
		return nil
	case WeightSourceDrive:
		return nil
	case WeightSourceHTTP:
		if !strings.Contains(w.URLTemplate, URLTemplatePlaceholder) {
			return []string{fmt.Sprintf("weightsource.urltemplate must contain %s", URLTemplatePlaceholder)}
		}
		if _, err := url.Parse(strings.ReplaceAll(w.URLTemplate, URLTemplatePlaceholder, "x")); err != nil {
			return []string{fmt.Sprintf("weightsource.urltemplate is not a valid URL: %v", err)}
		}
		return nil
	default:
		return []string{fmt.Sprintf("weightsource.type %q must be none, drive or http", w.Type)}
	}
}

func validateDatastoreSettings(s *Settings) []string {
	d := &s.Datastore
	switch d.Type {
	case DatastoreSQLite:
		if d.SQLite.Path == "" {
			return []string{"datastore.sqlite.path is required"}
		}
	case DatastoreMySQL:
		var errs []string
		if d.MySQL.Host == "" {
			errs = append(errs, "datastore.mysql.host is required")
		}
		if d.MySQL.Database == "" {
			errs = append(errs, "datastore.mysql.database is required")
		}
		if d.MySQL.Username == "" {
			errs = append(errs, "datastore.mysql.username is required")
		}
		return errs
	case DatastorePostgres:
		if d.Postgres.DSN == "" {
			return []string{"datastore.postgres.dsn is required"}
		}
	default:
		return []string{fmt.Sprintf("datastore.type %q must be sqlite, mysql or postgres", d.Type)}
	}
	return nil
}

func validateStorageSettings(s *Settings) []string {
	st := &s.Storage
	var errs []string

	if st.PublicBaseURL != "" {
		if u, err := url.Parse(st.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("storage.publicbaseurl %q must be an absolute URL", st.PublicBaseURL))
		}
	}

	switch st.Type {
	case StorageLocal:
		if st.BasePath == "" {
			errs = append(errs, "storage.basepath is required for local storage")
		}
	case StorageSFTP:
		if st.SFTP.Host == "" {
			errs = append(errs, "storage.sftp.host is required")
		}
		if st.SFTP.Username == "" {
			errs = append(errs, "storage.sftp.username is required")
		}
		if st.SFTP.Password == "" && st.SFTP.KeyFile == "" {
			errs = append(errs, "storage.sftp requires a password or keyfile")
		}
	case StorageFTP:
		if st.FTP.Host == "" {
			errs = append(errs, "storage.ftp.host is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type %q must be local, sftp or ftp", st.Type))
	}

	return errs
}

func validateWebServerSettings(s *Settings) []string {
	var errs []string
	if err := validateListenAddress(s.WebServer.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("webserver.listen: %v", err))
	}
	if s.WebServer.RateLimit < 0 {
		errs = append(errs, "webserver.ratelimit must be >= 0")
	}
	if s.WebServer.RateLimit > 0 && s.WebServer.RateBurst <= 0 {
		errs = append(errs, "webserver.rateburst must be positive when rate limiting is enabled")
	}
	return errs
}

func validateMetricsSettings(s *Settings) []string {
	if !s.Metrics.Enabled {
		return nil
	}
	if err := validateListenAddress(s.Metrics.Listen); err != nil {
		return []string{fmt.Sprintf("metrics.listen: %v", err)}
	}
	if s.Metrics.Listen == s.WebServer.Listen {
		return []string{"metrics.listen must differ from webserver.listen"}
	}
	return nil
}

func validateSentrySettings(s *Settings) []string {
	if !s.Sentry.Enabled {
		return nil
	}
	var errs []string
	if s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.Sentry.SampleRate < 0 || s.Sentry.SampleRate > 1 {
		errs = append(errs, "sentry.samplerate must be between 0 and 1")
	}
	return errs
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if u, err := url.Parse(s.MQTT.Broker); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a URL such as tcp://host:1883", s.MQTT.Broker))
	}
	if s.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	return errs
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
