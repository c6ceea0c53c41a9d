// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages
const (
	DefaultTimezone  = "Asia/Manila"
	DefaultImageSize = 256
	DefaultMaxBytes  = 10 << 20
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "drawee")
	viper.SetDefault("main.timezone", DefaultTimezone)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/drawee.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("upload.maxbytes", DefaultMaxBytes)
	viper.SetDefault("upload.imagesize", DefaultImageSize)

	viper.SetDefault("classifier.backend", BackendTFLite)
	viper.SetDefault("classifier.threads", 0)
	viper.SetDefault("classifier.usexnnpack", true)
	viper.SetDefault("classifier.cachedir", "models")
	viper.SetDefault("classifier.modela.name", "resnet")
	viper.SetDefault("classifier.modela.path", "resnet.tflite")
	viper.SetDefault("classifier.modelb.name", "xception")
	viper.SetDefault("classifier.modelb.path", "xception.tflite")

	viper.SetDefault("weightsource.type", WeightSourceNone)
	viper.SetDefault("weightsource.timeout", 5*time.Minute)

	viper.SetDefault("datastore.type", DatastoreSQLite)
	viper.SetDefault("datastore.sqlite.path", "drawee.db")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.database", "drawee")

	viper.SetDefault("storage.type", StorageLocal)
	viper.SetDefault("storage.basepath", "uploads")
	viper.SetDefault("storage.publicbaseurl", "http://localhost:8080/files")
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.path", "/drawings")
	viper.SetDefault("storage.sftp.timeout", 30*time.Second)
	viper.SetDefault("storage.ftp.port", 21)
	viper.SetDefault("storage.ftp.path", "/drawings")
	viper.SetDefault("storage.ftp.timeout", 30*time.Second)

	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.ratelimit", 5.0)
	viper.SetDefault("webserver.rateburst", 10)
	viper.SetDefault("webserver.shutdowntimeout", 10*time.Second)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", ":9090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "drawee")
	viper.SetDefault("mqtt.clientid", "drawee")
}
