// Package logger provides module-aware structured logging built on log/slog.
//
// A single CentralLogger is created from LoggingConfig at startup and
// installed with SetGlobal. Packages obtain a scoped Logger through
// Global().Module("name"); nested scopes are joined with a dot, so
// Module("datastore").Module("sqlite") logs with module="datastore.sqlite".
//
// Console output is human-readable text. File output is JSON, one record per
// line, suitable for log shippers. Individual modules can be routed to their
// own files through the modules section of the configuration:
//
//	logging:
//	  default_level: info
//	  timezone: Asia/Manila
//	  console:
//	    enabled: true
//	    level: info
//	  file_output:
//	    enabled: true
//	    path: logs/drawee.log
//	    level: debug
//	  module_levels:
//	    datastore: trace
//	  modules:
//	    api:
//	      enabled: true
//	      file_path: logs/access.log
//
// Fields are built with the typed constructors (String, Int, Error, ...).
// Values under keys that look like credentials are redacted before they
// reach any handler.
//
// Tests can build a logger directly on a buffer:
//
//	buf := &bytes.Buffer{}
//	log := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field.
// Keys are interned with unique.Make so repeated keys share one allocation.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var errorKey = internKey("error")

// Logger is the logging interface injected into components
type Logger interface {
	// Module returns a logger scoped to a sub-module
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every record
	With(fields ...Field) Logger
	// WithContext attaches the trace ID carried by ctx, if any
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field, e.g. byte counts or row counts.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates an unsigned 64-bit integer field.
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float32 creates a float field. Output is rounded to three decimals.
func Float32(key string, value float32) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float field. Output is rounded to three decimals.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error".
//
//	if err := repo.Save(ctx, r); err != nil {
//	    log.Error("failed to save result",
//	        logger.Error(err),
//	        logger.String("child_id", r.ChildID))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a string such as "1.5s".
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value.String()}
}

// Time creates a time field.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field holding an arbitrary value. Prefer the typed constructors.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
