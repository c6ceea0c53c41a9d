package conf

// Classifier backends
const (
	BackendTFLite = "tflite"
	BackendONNX   = "onnx"
)

// Weight sources
const (
	WeightSourceNone  = "none"
	WeightSourceDrive = "drive"
	WeightSourceHTTP  = "http"
)

// Datastore backends
const (
	DatastoreSQLite   = "sqlite"
	DatastoreMySQL    = "mysql"
	DatastorePostgres = "postgres"
)

// Object storage backends
const (
	StorageLocal = "local"
	StorageSFTP  = "sftp"
	StorageFTP   = "ftp"
)

// URLTemplatePlaceholder is replaced by the blob id in http weight source URLs
const URLTemplatePlaceholder = "{id}"
