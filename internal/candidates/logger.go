package candidates

import (
	"sync"

	"github.com/tphakala/threatlink/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the candidates package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("candidates")
	})
	return serviceLogger
}
