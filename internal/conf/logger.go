// Package conf provides configuration management for drawee.
package conf

import "github.com/drawee/drawee-go/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on every call because settings load before the logger is configured.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
