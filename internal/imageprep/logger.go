package imageprep

import "github.com/drawee/drawee-go/internal/logger"

// GetLogger returns the imageprep package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("imageprep")
}
