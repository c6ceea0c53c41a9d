package ensemble

import "github.com/drawee/drawee-go/internal/logger"

// GetLogger returns the ensemble package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("ensemble")
}
