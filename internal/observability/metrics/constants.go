// Package metrics provides the Prometheus collectors for drawee.
package metrics

import "time"

// Pipeline step labels
const (
	StepPreprocess = "preprocess"
	StepEnsemble   = "ensemble"
	StepStore      = "store"
	StepSave       = "save"
)

// Datastore operation labels
const (
	OpDbQuery  = "db_query"
	OpDbInsert = "db_insert"
	OpDbDelete = "db_delete"
	OpTxn      = "transaction"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration
const (
	BucketStart1ms   = 0.001
	BucketStart100us = 0.0001
	BucketStart10ms  = 0.01
	BucketFactor2    = 2
	BucketCount10    = 10
	BucketCount12    = 12
)

// ShutdownTimeout bounds the metrics server shutdown
const ShutdownTimeout = 5 * time.Second
