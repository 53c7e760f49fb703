package campaign

import (
	"sync"

	"github.com/tphakala/threatlink/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the campaign package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("campaign")
	})
	return serviceLogger
}
