package objectstore

import (
	"sync"

	"github.com/drawee/drawee-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the objectstore package logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("objectstore")
	})
	return serviceLogger
}
