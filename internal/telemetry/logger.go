package telemetry

import (
	"github.com/drawee/drawee-go/internal/logger"
)

// GetLogger returns the telemetry package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
