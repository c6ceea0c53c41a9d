package drawee

import (
	"sync"

	"github.com/drawee/drawee-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the drawee package logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("drawee")
	})
	return serviceLogger
}
